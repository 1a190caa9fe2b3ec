package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pulseclient "github.com/pml-run/gateway/internal/clients/pulse"
)

// Broadcaster publishes Events to a named, OS/process-external channel and
// relays peer-published events back into a local Bus. Per spec.md §9's
// design note, the contract does not depend on the transport primitive — a
// small relay subprocess could substitute for the broadcast channel without
// changing this interface.
type Broadcaster interface {
	// Publish sends ev to every peer process subscribed to the broadcast
	// channel. It does not deliver to the local process (the Bus already
	// did that before calling Publish).
	Publish(ev Event)
	// Close stops the broadcaster and any relay goroutines it owns.
	Close(ctx context.Context) error
}

// PulseBroadcaster fans events out across processes using a Redis-streams
// Pulse stream, grounded on features/stream/pulse/sink.go: it derives a
// fixed stream name, marshals events as JSON, and relays inbound entries
// back into the local Bus via InjectPeerEvent.
type PulseBroadcaster struct {
	client     pulseclient.Client
	streamName string
	bus        *Bus
	cancel     context.CancelFunc
}

// NewPulseBroadcaster constructs a Broadcaster backed by the given Pulse
// client. It opens streamName (creating it if absent), starts a background
// relay that re-injects every entry it did not itself publish into bus, and
// returns once the relay goroutine is running.
func NewPulseBroadcaster(ctx context.Context, client pulseclient.Client, streamName string, bus *Bus) (*PulseBroadcaster, error) {
	if client == nil {
		return nil, fmt.Errorf("eventbus: pulse client is required")
	}
	if streamName == "" {
		streamName = "pml/gateway/events"
	}
	stream, err := client.Stream(streamName)
	if err != nil {
		return nil, fmt.Errorf("eventbus: open pulse stream: %w", err)
	}
	sinkName := fmt.Sprintf("gateway-relay-%d", time.Now().UnixNano())
	sink, err := stream.NewSink(ctx, sinkName)
	if err != nil {
		return nil, fmt.Errorf("eventbus: create pulse sink: %w", err)
	}
	relayCtx, cancel := context.WithCancel(ctx)
	pb := &PulseBroadcaster{client: client, streamName: streamName, bus: bus, cancel: cancel}
	go pb.relay(relayCtx, stream, sink)
	return pb, nil
}

func (p *PulseBroadcaster) relay(ctx context.Context, stream pulseclient.Stream, sink pulseclient.Sink) {
	defer sink.Close(context.Background())
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sink.Subscribe():
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err == nil {
				p.bus.InjectPeerEvent(ev)
			}
			_ = sink.Ack(ctx, msg)
		}
	}
}

// Publish marshals ev to JSON and appends it to the shared Pulse stream.
func (p *PulseBroadcaster) Publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	stream, err := p.client.Stream(p.streamName)
	if err != nil {
		return
	}
	_, _ = stream.Add(context.Background(), string(ev.Kind), payload)
}

// Close stops the relay goroutine and closes the underlying Pulse client.
func (p *PulseBroadcaster) Close(ctx context.Context) error {
	p.cancel()
	return p.client.Close(ctx)
}
