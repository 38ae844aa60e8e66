// Package redisstream appends room events to a capped Redis stream.
package redisstream

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"syncstart/internal/events"
)

const DefaultStream = "syncstart:events"

type Recorder struct {
	rdc    redis.Cmdable
	stream string
	maxLen int64
}

var _ events.Recorder = (*Recorder)(nil)

// New returns a recorder that trims the stream to roughly maxLen entries.
// maxLen <= 0 leaves the stream uncapped.
func New(rdc redis.Cmdable, stream string, maxLen int64) *Recorder {
	if stream == "" {
		stream = DefaultStream
	}
	return &Recorder{rdc: rdc, stream: stream, maxLen: maxLen}
}

func (r *Recorder) Record(ctx context.Context, e events.Event) error {
	if err := r.rdc.XAdd(ctx, r.args(e)).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", r.stream, err)
	}
	return nil
}

func (r *Recorder) args(e events.Event) *redis.XAddArgs {
	a := &redis.XAddArgs{
		Stream: r.stream,
		Values: fields(e),
	}
	if r.maxLen > 0 {
		a.MaxLen = r.maxLen
		a.Approx = true
	}
	return a
}

// fields keeps a stable field order so entries read the same in redis-cli.
func fields(e events.Event) []any {
	return []any{
		"kind", string(e.Kind),
		"room_id", e.RoomID,
		"room_created_at", strconv.FormatInt(e.RoomCreatedAt.UnixMilli(), 10),
		"master_id", e.MasterID,
		"client_id", e.ClientID,
		"clients", strconv.Itoa(e.Clients),
		"server_time", strconv.FormatInt(e.ServerTime, 10),
		"recipients", strconv.Itoa(e.Recipients),
		"reason", e.Reason,
		"at", e.At.UTC().Format(time.RFC3339Nano),
	}
}
