// Package events publishes gateway activity (completed requests, health
// summaries) to an external stream for offline analysis.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quirck3n/refugio-gateway/pkg/redis"
)

const (
	TypeRequest = "request"
	TypeHealth  = "health"
)

type Event struct {
	Type      string
	Source    string
	Message   string
	Fields    map[string]interface{}
	Timestamp time.Time
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// streamAppender is the subset of *redis.Client used by RedisPublisher.
type streamAppender interface {
	AppendStream(ctx context.Context, stream string, maxLen int64, data map[string]interface{}) error
}

// RedisPublisher appends events to a capped Redis stream.
type RedisPublisher struct {
	client streamAppender
	stream string
	maxLen int64
}

var _ streamAppender = (*redis.Client)(nil)

func NewRedisPublisher(client *redis.Client, stream string) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream, maxLen: 100000}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	data := map[string]interface{}{
		"type":      ev.Type,
		"source":    ev.Source,
		"message":   ev.Message,
		"timestamp": ev.Timestamp.Unix(),
	}
	if len(ev.Fields) > 0 {
		fields, err := json.Marshal(ev.Fields)
		if err != nil {
			return fmt.Errorf("marshal event fields: %w", err)
		}
		data["fields"] = string(fields)
	}

	if err := p.client.AppendStream(ctx, p.stream, p.maxLen, data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}
