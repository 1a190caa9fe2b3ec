// Package pulse is a thin gateway-specific wrapper around Pulse streams,
// providing the narrow surface the Event Bus's cross-process fan-out needs:
// open a named stream, append entries, and read them back through a
// consumer-group sink. Callers build a Redis connection, pass it to New, and
// hand the resulting Client to eventbus.NewPulseBroadcaster.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// Options configures the Pulse client.
	Options struct {
		// Redis is the Redis connection backing Pulse streams. Required.
		Redis *redis.Client
		// StreamMaxLen bounds the number of entries kept per stream. Zero uses
		// Pulse's defaults.
		StreamMaxLen int
		// OperationTimeout bounds individual Add calls. Zero means no timeout.
		OperationTimeout time.Duration
	}

	// Client exposes the subset of the Pulse API the event bus fan-out needs.
	Client interface {
		// Stream returns a handle to the named stream, creating it if absent.
		Stream(name string) (Stream, error)
		// Close releases client-owned resources. Callers typically own the
		// Redis connection's lifecycle separately.
		Close(ctx context.Context) error
	}

	// Stream exposes append and consumer-group subscription on one Pulse
	// stream.
	Stream interface {
		// Add publishes an entry and returns the Redis-assigned entry ID.
		Add(ctx context.Context, event string, payload []byte) (string, error)
		// NewSink opens a consumer group for reading entries back.
		NewSink(ctx context.Context, name string) (Sink, error)
	}

	// Sink is a consumer group reading from one Stream.
	Sink interface {
		// Subscribe returns a channel emitting entries as they arrive.
		Subscribe() <-chan *streaming.Event
		// Ack acknowledges successful processing, removing the entry from the
		// pending list.
		Ack(ctx context.Context, ev *streaming.Event) error
		// Close stops the sink and releases its resources.
		Close(ctx context.Context)
	}
)

type client struct {
	redis   *redis.Client
	maxLen  int
	timeout time.Duration
}

// New constructs a Pulse client backed by the provided Redis connection.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	return &client{redis: opts.Redis, maxLen: opts.StreamMaxLen, timeout: opts.OperationTimeout}, nil
}

func (c *client) Stream(name string) (Stream, error) {
	if name == "" {
		return nil, errors.New("stream name is required")
	}
	var streamOptions []streamopts.Stream
	if c.maxLen > 0 {
		streamOptions = append(streamOptions, streamopts.WithStreamMaxLen(c.maxLen))
	}
	str, err := streaming.NewStream(name, c.redis, streamOptions...)
	if err != nil {
		return nil, fmt.Errorf("open pulse stream %q: %w", name, err)
	}
	return &handle{stream: str, timeout: c.timeout}, nil
}

func (c *client) Close(ctx context.Context) error { return nil }

type handle struct {
	stream  *streaming.Stream
	timeout time.Duration
}

func (h *handle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if event == "" {
		return "", errors.New("event name is required")
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulse add: %w", err)
	}
	return id, nil
}

func (h *handle) NewSink(ctx context.Context, name string) (Sink, error) {
	sink, err := h.stream.NewSink(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("pulse new sink: %w", err)
	}
	return &sinkAdapter{Sink: sink}, nil
}

type sinkAdapter struct {
	*streaming.Sink
}

func (s sinkAdapter) Close(ctx context.Context) { s.Sink.Close(ctx) }
