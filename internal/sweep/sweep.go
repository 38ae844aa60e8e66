// Package sweep runs periodic maintenance passes.
package sweep

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Sweeper interface {
	Sweep(now time.Time)
}

// Func adapts a plain function to Sweeper.
type Func func(now time.Time)

func (f Func) Sweep(now time.Time) { f(now) }

// Run calls s.Sweep every interval until ctx is done. It returns at once; the
// returned channel closes when the loop has stopped.
func Run(ctx context.Context, name string, every time.Duration, s Sweeper) <-chan struct{} {
	done := make(chan struct{})
	tk := time.NewTicker(every)
	go func() {
		defer close(done)
		defer tk.Stop()
		zap.L().Debug("sweep.start", zap.String("name", name), zap.Duration("every", every))
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-tk.C:
				runOnce(name, s, now)
			}
		}
	}()
	return done
}

func runOnce(name string, s Sweeper, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("sweep.panic", zap.String("name", name), zap.Any("panic", r))
		}
	}()
	s.Sweep(now)
}
