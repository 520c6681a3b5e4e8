package client

import (
	"encoding/json"
	"fmt"

	"github.com/wisdm-app/threadsync/pkg/protocol"
)

// ConnectionState is the lifecycle state of the Manager
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// StateChange describes one connection state transition.
// Attempt is the reconnect attempt number at the time of the transition
// (0 for manual connects), Err the cause of a failure if any.
type StateChange struct {
	From    ConnectionState
	To      ConnectionState
	Attempt int
	Err     error
}

// MessageKind is one of the inbound application message kinds
type MessageKind string

const (
	MessageNewComment     MessageKind = protocol.EventReceiveComment
	MessageCommentUpdated MessageKind = protocol.EventReceiveCommentUpdate
	MessageVoteChanged    MessageKind = protocol.EventReceiveVoteUpdate
	MessageNotification   MessageKind = protocol.EventReceiveNotificationUpdate
)

// MessageKinds lists every kind a listener can be registered for
var MessageKinds = []MessageKind{
	MessageNewComment,
	MessageCommentUpdated,
	MessageVoteChanged,
	MessageNotification,
}

// Valid reports whether k is a known inbound kind
func (k MessageKind) Valid() bool {
	for _, known := range MessageKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Handler receives the raw payload of an inbound message
type Handler func(payload json.RawMessage)

// ListenerID identifies a registered handler for Off
type ListenerID uint64

type listener struct {
	id      ListenerID
	handler Handler
}
