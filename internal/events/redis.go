package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
	"github.com/procurelabs/vendorgate-backend/internal/utils"
)

// RedisStreams backs both sides of the pipeline: Bus for producers and
// Consumer for the processor. Streams are capped (approximate trim) because
// this is a display/audit feed, not a durable ledger.
type RedisStreams struct {
	log    *logger.Logger
	rdb    *goredis.Client
	maxLen int64

	mu     sync.Mutex
	lastTS time.Time
}

var _ Bus = (*RedisStreams)(nil)
var _ Consumer = (*RedisStreams)(nil)

func NewRedisStreams(log *logger.Logger) (*RedisStreams, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(utils.GetEnv("REDIS_ADDR", "", log))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	maxLen := int64(utils.GetEnvAsInt("EVENT_STREAM_MAX_LEN", 10000, log))

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStreams{
		log:    log.With("service", "RedisStreams"),
		rdb:    rdb,
		maxLen: maxLen,
	}, nil
}

func (s *RedisStreams) Publish(ctx context.Context, stream string, ev *Event) error {
	if s == nil || s.rdb == nil {
		return fmt.Errorf("redis streams not initialized")
	}
	ev.Timestamp = s.stampMonotonic()
	values, err := EncodeWire(ev)
	if err != nil {
		s.log.Warn("event encode failed, dropping", "stream", stream, "event_type", ev.Type, "error", err)
		return err
	}
	err = s.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: toAnyMap(values),
	}).Err()
	if err != nil {
		s.log.Warn("event publish failed", "stream", stream, "event_type", ev.Type, "error", err)
	}
	return err
}

// stampMonotonic assigns the publish timestamp, nudged forward when the
// clock has not advanced so derived idempotency keys never collide within
// one publisher.
func (s *RedisStreams) stampMonotonic() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if !now.After(s.lastTS) {
		now = s.lastTS.Add(time.Nanosecond)
	}
	s.lastTS = now
	return now
}

func (s *RedisStreams) EnsureGroup(ctx context.Context, stream, group string, start time.Time) error {
	// Seeding the cursor at "start" bounds cold-start replay to the lookback
	// window instead of the whole retained stream.
	startID := fmt.Sprintf("%d-0", start.UnixMilli())
	err := s.rdb.XGroupCreateMkStream(ctx, stream, group, startID).Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

func (s *RedisStreams) ReadGroup(ctx context.Context, group, consumer string, streams []string, count int64, block time.Duration) ([]StreamMessage, error) {
	args := make([]string, 0, len(streams)*2)
	args = append(args, streams...)
	for range streams {
		args = append(args, ">")
	}
	res, err := s.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  args,
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var out []StreamMessage
	for _, sr := range res {
		for _, msg := range sr.Messages {
			out = append(out, StreamMessage{
				Stream: sr.Stream,
				ID:     msg.ID,
				Values: toStringMap(msg.Values),
			})
		}
	}
	return out, nil
}

func (s *RedisStreams) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]StreamMessage, error) {
	msgs, _, err := s.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xautoclaim %s: %w", stream, err)
	}
	out := make([]StreamMessage, 0, len(msgs))
	for _, msg := range msgs {
		// Entries deleted from the stream while pending come back as empty
		// tombstones.
		if len(msg.Values) == 0 {
			continue
		}
		out = append(out, StreamMessage{
			Stream: stream,
			ID:     msg.ID,
			Values: toStringMap(msg.Values),
		})
	}
	return out, nil
}

func (s *RedisStreams) AckAndDelete(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.rdb.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", stream, err)
	}
	if err := s.rdb.XDel(ctx, stream, ids...).Err(); err != nil {
		return fmt.Errorf("xdel %s: %w", stream, err)
	}
	return nil
}

func (s *RedisStreams) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func toAnyMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func toStringMap(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
