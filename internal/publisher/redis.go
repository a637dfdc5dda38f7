package publisher

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/ricirt/queue-system/internal/domain"
)

// RedisSink appends every event to a Redis stream and broadcasts it on the
// queue's pub/sub channel.
type RedisSink struct {
	rdb    *redis.Client
	stream string
}

func NewRedisSink(rdb *redis.Client, stream string) *RedisSink {
	return &RedisSink{rdb: rdb, stream: stream}
}

// DialRedis parses a redis:// or rediss:// URL and verifies connectivity.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, ev domain.Event) error {
	body, err := encode(ev)
	if err != nil {
		return err
	}
	payload := string(body)

	err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: []any{
			"queue_id", ev.QueueID,
			"seq", strconv.FormatUint(ev.Seq, 10),
			"event", string(ev.Type),
			"payload", payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}

	if err := s.rdb.Publish(ctx, ChannelName(ev.QueueID), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ChannelName(ev.QueueID), err)
	}
	return nil
}

var _ Sink = (*RedisSink)(nil)
