package shell

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event is one frame on the UI event stream.
type Event struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Broker fans call-state events out to every connected UI stream. Slow
// subscribers lose events rather than block the publisher.
type Broker struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}

	logger *slog.Logger
}

func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{subs: make(map[chan Event]struct{}), logger: logger}
}

// Subscribe returns a stream of events and a cancel func that must be called
// when the consumer goes away.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish marshals the payload and delivers it to every subscriber.
func (b *Broker) Publish(name string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			b.logger.Error("cannot marshal event payload", "event", name, "error", err)
			return
		}
		raw = data
	}
	ev := Event{Name: name, Payload: raw}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("event dropped for slow subscriber", "event", name)
		}
	}
}
