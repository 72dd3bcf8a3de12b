package safe

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
	"marketgate.dev/pkg/logger"
)

// Go starts fn in a goroutine that recovers panics and logs them instead of
// crashing the process. Use for any loop that must keep the gateway alive
// even if a single venue adapter or session misbehaves.
func Go(fn func()) {
	go func() {
		defer recoverAndLog(context.Background())
		fn()
	}()
}

// GoCtx is Go with a context carried through for trace correlation.
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer recoverAndLog(ctx)
		fn(ctx)
	}()
}

func recoverAndLog(ctx context.Context) {
	if r := recover(); r != nil {
		if logger.Log != nil {
			logger.Error(ctx, "goroutine panic recovered",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
		}
	}
}
