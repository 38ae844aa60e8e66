package events

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const recordTimeout = 2 * time.Second

// Async queues events for a single background worker. Publish never blocks;
// when the queue is full the event is dropped and counted.
type Async struct {
	rec     Recorder
	queue   chan Event
	dropped atomic.Uint64
	done    chan struct{}
}

func NewAsync(rec Recorder, size int) *Async {
	if size <= 0 {
		size = 1
	}
	return &Async{
		rec:   rec,
		queue: make(chan Event, size),
		done:  make(chan struct{}),
	}
}

func (a *Async) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	select {
	case a.queue <- e:
	default:
		n := a.dropped.Add(1)
		zap.L().Debug("events.dropped", zap.String("kind", string(e.Kind)), zap.Uint64("total", n))
	}
}

// Dropped is the number of events refused because the queue was full.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Run drains the queue until ctx is done, then flushes what is left.
func (a *Async) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			a.flush()
			return
		case e := <-a.queue:
			a.record(e)
		}
	}
}

// Wait blocks until Run has returned.
func (a *Async) Wait() { <-a.done }

func (a *Async) flush() {
	for {
		select {
		case e := <-a.queue:
			a.record(e)
		default:
			return
		}
	}
}

func (a *Async) record(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := a.rec.Record(ctx, e); err != nil {
		zap.L().Warn("events.record_failed",
			zap.String("kind", string(e.Kind)),
			zap.String("room_id", e.RoomID),
			zap.Error(err))
	}
}
