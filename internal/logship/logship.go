// Package logship ships structured log lines to a capped Redis list so an
// aggregation pipeline can pick them up. The Writer slots into a zerolog
// multi-writer next to the console writer.
package logship

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKey is the list log lines land on.
	DefaultKey = "twchat:logs"
	// DefaultCap bounds the list length; older lines are trimmed away.
	DefaultCap = 10000

	writeTimeout = 2 * time.Second
)

// Options tune a Writer. Zero values take the defaults above.
type Options struct {
	// Key is the Redis list key.
	Key string
	// Cap is the maximum list length.
	Cap int64
	// TTL, when positive, refreshes an expiry on the list with every write.
	TTL time.Duration
}

// Writer is an io.Writer pushing each write as one list entry. Writes never
// block the logging path on Redis problems; failures are counted and the
// line is dropped.
type Writer struct {
	client *redis.Client
	key    string
	cap    int64
	ttl    time.Duration

	// id distinguishes writer instances sharing one list.
	id string

	dropped atomic.Int64
}

// New connects to the Redis URL and verifies it with a ping.
func New(ctx context.Context, rawURL string, opts Options) (*Writer, error) {
	parsed, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse log ship URL: %w", err)
	}
	client := redis.NewClient(parsed)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping log ship redis: %w", err)
	}
	return NewWithClient(client, opts), nil
}

// NewWithClient wraps an existing client. The writer owns the client and
// closes it with Close.
func NewWithClient(client *redis.Client, opts Options) *Writer {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Cap <= 0 {
		opts.Cap = DefaultCap
	}
	return &Writer{
		client: client,
		key:    opts.Key,
		cap:    opts.Cap,
		ttl:    opts.TTL,
		id:     uuid.NewString(),
	}
}

// ID returns this writer instance's id.
func (w *Writer) ID() string {
	return w.id
}

// Dropped returns how many lines were lost to Redis failures.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// Write pushes one log line and trims the list to its cap. It always reports
// the full length as written so zerolog never sees a short write.
func (w *Writer) Write(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	line := make([]byte, len(p))
	copy(line, p)

	pipe := w.client.Pipeline()
	pipe.RPush(ctx, w.key, line)
	pipe.LTrim(ctx, w.key, -w.cap, -1)
	if w.ttl > 0 {
		pipe.Expire(ctx, w.key, w.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.dropped.Add(1)
	}
	return len(p), nil
}

// Close releases the Redis connection.
func (w *Writer) Close() error {
	return w.client.Close()
}
