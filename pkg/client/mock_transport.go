package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockTransport is a test implementation of Transport.
// Open only records the sink; tests drive the outcome with the Simulate helpers.
type MockTransport struct {
	mu sync.RWMutex

	sink    TransportSink
	open    bool
	openErr error
	sendErr error

	// Counters and sent events for verification
	Opens      int
	Closes     int
	SentEvents []MockSentEvent
}

// MockSentEvent tracks events sent via Send
type MockSentEvent struct {
	Event   string
	Payload json.RawMessage
}

// NewMockTransport creates a new mock transport
func NewMockTransport() *MockTransport {
	return &MockTransport{
		SentEvents: make([]MockSentEvent, 0),
	}
}

// Open records the sink of the new attempt
func (t *MockTransport) Open(ctx context.Context, sink TransportSink) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Opens++
	if t.openErr != nil {
		return t.openErr
	}
	t.sink = sink
	return nil
}

// Send records an outbound event
func (t *MockTransport) Send(event string, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sendErr != nil {
		return t.sendErr
	}
	if !t.open {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}
	t.SentEvents = append(t.SentEvents, MockSentEvent{Event: event, Payload: data})
	return nil
}

// Close drops the current attempt
func (t *MockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closes++
	t.open = false
	t.sink = nil
	return nil
}

// Test helper methods

// SetOpenError makes Open fail synchronously
func (t *MockTransport) SetOpenError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.openErr = err
}

// SetSendError makes Send fail
func (t *MockTransport) SetSendError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

// currentSink returns the sink of the pending or open attempt
func (t *MockTransport) currentSink() TransportSink {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sink
}

// SimulateOpen completes the handshake of the current attempt
func (t *MockTransport) SimulateOpen() {
	t.mu.Lock()
	sink := t.sink
	if sink != nil {
		t.open = true
	}
	t.mu.Unlock()

	if sink != nil {
		sink.Opened()
	}
}

// SimulateClose reports that the open connection went away
func (t *MockTransport) SimulateClose(reason string) {
	t.mu.Lock()
	sink := t.sink
	t.open = false
	t.mu.Unlock()

	if sink != nil {
		sink.Closed(reason)
	}
}

// SimulateError fails the current attempt
func (t *MockTransport) SimulateError(err error) {
	t.mu.Lock()
	sink := t.sink
	t.open = false
	t.mu.Unlock()

	if sink != nil {
		sink.Failed(err)
	}
}

// SimulateMessage delivers an inbound event; payload is JSON encoded
func (t *MockTransport) SimulateMessage(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	sink := t.currentSink()
	if sink == nil {
		return ErrNotConnected
	}
	sink.Message(event, data)
	return nil
}

// IsOpen reports whether the simulated connection is open
func (t *MockTransport) IsOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.open
}

// Sent returns a copy of the sent events
func (t *MockTransport) Sent() []MockSentEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]MockSentEvent, len(t.SentEvents))
	copy(out, t.SentEvents)
	return out
}

// SentNamed returns the sent events with the given name
func (t *MockTransport) SentNamed(event string) []MockSentEvent {
	var out []MockSentEvent
	for _, e := range t.Sent() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// ClearSent forgets the recorded events
func (t *MockTransport) ClearSent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.SentEvents = t.SentEvents[:0]
}

var _ Transport = (*MockTransport)(nil)
