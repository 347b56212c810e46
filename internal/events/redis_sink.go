package events

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes every bus event to a Redis Pub/Sub channel, for
// cross-pod event distribution when a mesh node runs as more than one
// process behind a shared Redis instance. Registered on an EventBus via
// AddSink, grounded on the teacher's internal/fabric.RedisEventBus (Redis
// Pub/Sub fan-out, falling back to local-only delivery on a publish
// error) adapted from a typed Event/EventType pair to CloudEvent.
type RedisSink struct {
	client  *redis.Client
	channel string
	logger  *log.Logger
}

// NewRedisSink connects to addr and publishes on the given channel.
func NewRedisSink(addr, channel string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisSink{
		client:  client,
		channel: channel,
		logger:  log.New(log.Writer(), "[events.redis] ", log.LstdFlags),
	}, nil
}

// Publish implements Sink. Publish errors are logged, never returned —
// a Redis outage must not block the in-process fan-out path.
func (s *RedisSink) Publish(event *CloudEvent) {
	payload, err := event.JSON()
	if err != nil {
		s.logger.Printf("marshal failed for %s: %v", event.ID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.logger.Printf("publish failed for %s: %v", event.ID, err)
	}
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
