package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names (Server → Client)
const (
	EventReceiveComment            = "receive_comment"
	EventReceiveCommentUpdate      = "receive_comment_update"
	EventReceiveVoteUpdate         = "receive_vote_update"
	EventReceiveNotificationUpdate = "receive_notification_update"
)

// Event names (Client → Server)
const (
	EventJoinRoom       = "join_room"
	EventLeaveRoom      = "leave_room"
	EventSendVoteUpdate = "send_vote_update"
)

// OpenMessage is the Engine.IO handshake sent by the server in the open packet
type OpenMessage struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"` // milliseconds
	PingTimeout  int      `json:"pingTimeout"`  // milliseconds
	MaxPayload   int      `json:"maxPayload"`
}

// PingDeadline is how long the client waits for a server ping before
// declaring the connection dead
func (m *OpenMessage) PingDeadline() time.Duration {
	return time.Duration(m.PingInterval+m.PingTimeout) * time.Millisecond
}

// ConnectMessage is the payload of a Socket.IO CONNECT acknowledgement
type ConnectMessage struct {
	SID string `json:"sid"`
}

// ConnectErrorMessage is the payload of a Socket.IO CONNECT_ERROR packet
type ConnectErrorMessage struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// RoomMessage is the payload of join_room and leave_room
type RoomMessage struct {
	Room string `json:"room"`
}

// VoteUpdateMessage is the payload of send_vote_update.
// Vote is true for an upvote, false for a downvote and nil to clear the vote.
type VoteUpdateMessage struct {
	Room    string `json:"room"`
	Vote    *bool  `json:"vote"`
	Comment any    `json:"comment"`
	Path    string `json:"path"`
	Token   string `json:"token"`
}

// DecodeOpen parses the data of an Engine.IO open packet
func DecodeOpen(data []byte) (*OpenMessage, error) {
	m := &OpenMessage{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to decode open packet: %w", err)
	}
	if m.SID == "" {
		return nil, fmt.Errorf("open packet missing sid")
	}
	return m, nil
}

// EncodeConnect builds the Engine.IO message that connects to the default namespace
func EncodeConnect() ([]byte, error) {
	inner, err := EncodeSocketPacket(&SocketPacket{Type: SocketConnect})
	if err != nil {
		return nil, err
	}
	return EncodePacket(&Packet{Type: PacketMessage, Data: inner})
}

// EncodeEvent builds the Engine.IO message carrying a Socket.IO event
func EncodeEvent(name string, payload any) ([]byte, error) {
	if name == "" {
		return nil, ErrInvalidEventFormat
	}

	args := []any{name}
	if payload != nil {
		args = append(args, payload)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %q: %w", name, err)
	}

	inner, err := EncodeSocketPacket(&SocketPacket{Type: SocketEvent, Data: data})
	if err != nil {
		return nil, err
	}
	return EncodePacket(&Packet{Type: PacketMessage, Data: inner})
}

// DecodeEvent splits the data of an EVENT packet into the event name and its
// first argument. Payload is nil when the event carries no argument.
func DecodeEvent(data json.RawMessage) (string, json.RawMessage, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(data, &args); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidEventFormat, err)
	}
	if len(args) == 0 {
		return "", nil, ErrInvalidEventFormat
	}

	var name string
	if err := json.Unmarshal(args[0], &name); err != nil || name == "" {
		return "", nil, ErrInvalidEventFormat
	}

	if len(args) < 2 {
		return name, nil, nil
	}
	return name, args[1], nil
}
