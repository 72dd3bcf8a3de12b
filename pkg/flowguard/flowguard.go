// Package flowguard wraps alibaba/sentinel-golang flow rules around a named
// resource so a burst of client requests (subscribe storms, reconnect
// thundering herds) gets rejected at the edge instead of reaching the hub.
package flowguard

import (
	"fmt"
	"strings"

	sentinel "github.com/alibaba/sentinel-golang/api"
	"github.com/alibaba/sentinel-golang/core/base"
	"github.com/alibaba/sentinel-golang/core/flow"
	"marketgate.dev/pkg/metrics"
	"marketgate.dev/pkg/xerr"
)

// Rule describes one resource's flow-control threshold, in requests per
// StatIntervalMs (direct, reject-on-exceed strategy — the gateway never
// queues a subscribe burst, it sheds it).
type Rule struct {
	Resource       string
	Threshold      float64
	StatIntervalMs uint32
}

var initialized bool

// Init loads the gateway's flow rules. Safe to call once at startup; a
// zero-value rules slice disables flow control entirely.
func Init(rules []Rule) error {
	if len(rules) == 0 {
		return nil
	}
	if err := sentinel.InitDefault(); err != nil {
		return fmt.Errorf("flowguard: init sentinel: %w", err)
	}
	var frules []*flow.Rule
	for _, r := range rules {
		interval := r.StatIntervalMs
		if interval == 0 {
			interval = 1000
		}
		frules = append(frules, &flow.Rule{
			Resource:               r.Resource,
			Threshold:              r.Threshold,
			StatIntervalInMs:       interval,
			TokenCalculateStrategy: flow.Direct,
			ControlBehavior:        flow.Reject,
		})
	}
	if _, err := flow.LoadRules(frules); err != nil {
		return fmt.Errorf("flowguard: load rules: %w", err)
	}
	initialized = true
	return nil
}

// Allow checks resource against its configured flow rule. When flowguard was
// never initialized (no rules configured) every resource is allowed.
func Allow(resource string) error {
	if !initialized {
		return nil
	}
	entry, blockErr := sentinel.Entry(resource, sentinel.WithTrafficType(base.Inbound))
	if blockErr != nil {
		metrics.RateLimitBlockTotal.WithLabelValues(scopeOf(resource)).Inc()
		return xerr.New(xerr.ValidationFailure, "too many subscribe operations")
	}
	entry.Exit()
	return nil
}

func scopeOf(resource string) string {
	if i := strings.IndexByte(resource, '.'); i >= 0 {
		return resource[:i]
	}
	return resource
}
