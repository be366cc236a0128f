package notify

import (
	"context"
	"errors"
	"sync"
)

// Delivery is one recorded notification.
type Delivery struct {
	SquadID      string
	Notification Notification
}

// Memory is an in-process Sink that records deliveries. It backs tests.
type Memory struct {
	mu         sync.Mutex
	deliveries []Delivery
	// FailWith, when set, makes Notify return this error.
	FailWith error
}

// NewMemory creates an empty recording sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Notify records the delivery.
func (m *Memory) Notify(_ context.Context, squadID string, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.deliveries = append(m.deliveries, Delivery{SquadID: squadID, Notification: n})
	return nil
}

// Deliveries returns the recorded deliveries in order.
func (m *Memory) Deliveries() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Delivery(nil), m.deliveries...)
}

// ByEvent returns recorded deliveries with the given event.
func (m *Memory) ByEvent(event Event) []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Delivery
	for _, d := range m.deliveries {
		if d.Notification.Event == event {
			out = append(out, d)
		}
	}
	return out
}

// ErrDeliveryFailed is a ready-made failure for tests.
var ErrDeliveryFailed = errors.New("notification delivery failed")
