package config

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"marketgate.dev/pkg/logger"
)

// LoadAndWatch reads {service}.yaml, with environment variables prefixed by
// the upper-cased service name (MARKETGATE_* for the gateway) overriding it,
// into out and keeps out in sync with on-disk edits for the life of the
// process.
func LoadAndWatch(service string, out interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix(strings.ToUpper(service))
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, err
		}
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := v.Unmarshal(out); err != nil {
			logger.Error(nil, "config reload failed", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info(nil, "config reloaded", zap.String("file", e.Name))
	})

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bind_addr", "0.0.0.0:8080")
	v.SetDefault("exchanges", "binance,bybit")
	v.SetDefault("book_depth_default", 50)
	v.SetDefault("log_level", "info")
	v.SetDefault("subscriber_queue_capacity", 1024)
	v.SetDefault("topic_grace_ms", 5000)
	v.SetDefault("degradation_ms", 10000)
	v.SetDefault("nats_url", "")
}
