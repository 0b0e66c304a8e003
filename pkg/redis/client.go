package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the connection settings for the optional Redis backend.
type Config struct {
	URL      string
	Password string
	DB       int
}

func (c Config) Enabled() bool {
	return c.URL != ""
}

type Client struct {
	*redis.Client
}

func NewClient(cfg Config) (*Client, error) {
	// Parse Redis URL
	options, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Override with config values
	if cfg.Password != "" {
		options.Password = cfg.Password
	}
	if cfg.DB != 0 {
		options.DB = cfg.DB
	}

	client := redis.NewClient(options)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{Client: client}, nil
}

// AppendStream adds one entry to a Redis stream, capping its length
// approximately at maxLen entries.
func (c *Client) AppendStream(ctx context.Context, stream string, maxLen int64, data map[string]interface{}) error {
	return c.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: data,
	}).Err()
}

// ParseURL converts a redis:// or rediss:// URL to client options. Username,
// TLS and query options such as dial_timeout or pool_size are honoured;
// timeouts the URL leaves unset get gateway defaults.
func ParseURL(redisURL string) (*redis.Options, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	// Default timeouts
	if options.DialTimeout == 0 {
		options.DialTimeout = 5 * time.Second
	}
	if options.ReadTimeout == 0 {
		options.ReadTimeout = 3 * time.Second
	}
	if options.WriteTimeout == 0 {
		options.WriteTimeout = 3 * time.Second
	}

	return options, nil
}
