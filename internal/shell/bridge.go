package shell

import (
	"context"
	"sync"

	"github.com/dverbeek/palaver/internal/call"
)

// RoomBridge implements call.RoomProvider by delegating the actual media
// work to the UI renderer: Connect publishes the room credentials on the
// event stream and the renderer reports progress back through the room
// events endpoint.
type RoomBridge struct {
	broker *Broker

	mu     sync.Mutex
	roomID string
}

func NewRoomBridge(broker *Broker) *RoomBridge {
	return &RoomBridge{broker: broker}
}

func (b *RoomBridge) Connect(_ context.Context, creds *call.Credentials) error {
	b.mu.Lock()
	b.roomID = creds.RoomID
	b.mu.Unlock()
	b.broker.Publish("room.connect", creds)
	return nil
}

func (b *RoomBridge) Disconnect() {
	b.mu.Lock()
	roomID := b.roomID
	b.roomID = ""
	b.mu.Unlock()
	if roomID == "" {
		return
	}
	b.broker.Publish("room.disconnect", map[string]string{"room_id": roomID})
}

// RingBridge implements call.RingTone; the renderer owns the audio device,
// so ringing is just another stream event pair.
type RingBridge struct {
	broker *Broker
}

func NewRingBridge(broker *Broker) *RingBridge {
	return &RingBridge{broker: broker}
}

func (b *RingBridge) Start() {
	b.broker.Publish("ring.start", nil)
}

func (b *RingBridge) Stop() {
	b.broker.Publish("ring.stop", nil)
}

// BridgeDevices reports media devices as available; real probing happens in
// the renderer, which surfaces its own permission prompts. Availability
// failures there arrive as room events, never as call-aborting errors.
type BridgeDevices struct{}

func (BridgeDevices) CheckAvailability(context.Context, bool) error { return nil }
