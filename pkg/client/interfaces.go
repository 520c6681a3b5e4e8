package client

import (
	"context"
	"encoding/json"
	"time"
)

// Transport is the duplex connection the Manager drives.
// Open starts an attempt and reports its outcome asynchronously through the
// sink; a returned error means the attempt could not even be started.
// Implementations must tolerate Close being called at any time, repeatedly.
type Transport interface {
	Open(ctx context.Context, sink TransportSink) error
	Send(event string, payload any) error
	Close() error
}

// TransportSink receives the events of one transport attempt.
// Methods may be called from any goroutine.
type TransportSink interface {
	// Opened reports that the handshake completed
	Opened()
	// Closed reports that an open connection went away
	Closed(reason string)
	// Failed reports that the attempt failed before or during the handshake
	Failed(err error)
	// Message delivers one inbound application event
	Message(event string, payload json.RawMessage)
}

// StateInterface defines the interface for client state persistence
// This allows for mocking in tests while the real State implements all these methods
type StateInterface interface {
	// Configuration
	GetConfig(key string) (string, error)
	SetConfig(key, value string) error

	// Connection history
	GetLastConnection(serverURL string) (time.Time, error)
	SaveSuccessfulConnection(serverURL string, transport string) error

	// Notification watermark (unix milliseconds of the newest seen notification)
	GetNotificationWatermark(channel string) (int64, error)
	SetNotificationWatermark(channel string, timestamp int64) error

	// State directory
	GetStateDir() string

	// Close the state
	Close() error
}
