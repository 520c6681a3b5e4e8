package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

const (
	// EngineVersion is the Engine.IO protocol revision spoken by the transport
	EngineVersion = 4

	// MaxPacketSize is the largest text packet accepted (Engine.IO maxPayload default)
	MaxPacketSize = 1_000_000

	// DefaultNamespace is the only Socket.IO namespace used by the client
	DefaultNamespace = "/"
)

// PacketType is the Engine.IO packet type, sent as a single ASCII digit
type PacketType byte

const (
	PacketOpen    PacketType = '0'
	PacketClose   PacketType = '1'
	PacketPing    PacketType = '2'
	PacketPong    PacketType = '3'
	PacketMessage PacketType = '4'
	PacketUpgrade PacketType = '5'
	PacketNoop    PacketType = '6'
)

// SocketPacketType is the Socket.IO packet type carried inside an Engine.IO message
type SocketPacketType byte

const (
	SocketConnect      SocketPacketType = '0'
	SocketDisconnect   SocketPacketType = '1'
	SocketEvent        SocketPacketType = '2'
	SocketAck          SocketPacketType = '3'
	SocketConnectError SocketPacketType = '4'
	SocketBinaryEvent  SocketPacketType = '5'
	SocketBinaryAck    SocketPacketType = '6'
)

var (
	ErrEmptyPacket        = errors.New("empty packet")
	ErrPacketTooLarge     = errors.New("packet exceeds maximum size")
	ErrInvalidPacketType  = errors.New("invalid packet type")
	ErrBinaryUnsupported  = errors.New("binary socket packets are not supported")
	ErrInvalidEventFormat = errors.New("invalid event format")
)

// Packet is one Engine.IO packet
// Format: [Type (1 ASCII digit)][Data (N bytes)]
type Packet struct {
	Type PacketType
	Data []byte
}

// SocketPacket is one Socket.IO packet
// Format: [Type][Namespace ","]?[AckID]?[JSON data]?
type SocketPacket struct {
	Type      SocketPacketType
	Namespace string
	AckID     *uint64
	Data      json.RawMessage
}

func (t PacketType) valid() bool {
	return t >= PacketOpen && t <= PacketNoop
}

func (t SocketPacketType) valid() bool {
	return t >= SocketConnect && t <= SocketBinaryAck
}

// String returns the Engine.IO name of the packet type
func (t PacketType) String() string {
	switch t {
	case PacketOpen:
		return "open"
	case PacketClose:
		return "close"
	case PacketPing:
		return "ping"
	case PacketPong:
		return "pong"
	case PacketMessage:
		return "message"
	case PacketUpgrade:
		return "upgrade"
	case PacketNoop:
		return "noop"
	}
	return fmt.Sprintf("unknown(%q)", byte(t))
}

// EncodePacket serializes an Engine.IO packet
func EncodePacket(p *Packet) ([]byte, error) {
	if !p.Type.valid() {
		return nil, ErrInvalidPacketType
	}
	if 1+len(p.Data) > MaxPacketSize {
		return nil, ErrPacketTooLarge
	}

	buf := make([]byte, 0, 1+len(p.Data))
	buf = append(buf, byte(p.Type))
	buf = append(buf, p.Data...)
	return buf, nil
}

// DecodePacket parses an Engine.IO packet
func DecodePacket(raw []byte) (*Packet, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyPacket
	}
	if len(raw) > MaxPacketSize {
		return nil, ErrPacketTooLarge
	}

	t := PacketType(raw[0])
	if !t.valid() {
		return nil, ErrInvalidPacketType
	}

	// Copy so callers may reuse the read buffer
	data := make([]byte, len(raw)-1)
	copy(data, raw[1:])

	return &Packet{Type: t, Data: data}, nil
}

// EncodeSocketPacket serializes a Socket.IO packet (without the Engine.IO message prefix)
func EncodeSocketPacket(sp *SocketPacket) ([]byte, error) {
	if !sp.Type.valid() {
		return nil, ErrInvalidPacketType
	}
	if sp.Type == SocketBinaryEvent || sp.Type == SocketBinaryAck {
		return nil, ErrBinaryUnsupported
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(sp.Type))

	if sp.Namespace != "" && sp.Namespace != DefaultNamespace {
		buf.WriteString(sp.Namespace)
		buf.WriteByte(',')
	}

	if sp.AckID != nil {
		buf.WriteString(strconv.FormatUint(*sp.AckID, 10))
	}

	if len(sp.Data) > 0 {
		buf.Write(sp.Data)
	}

	return buf.Bytes(), nil
}

// DecodeSocketPacket parses a Socket.IO packet (the data of an Engine.IO message)
func DecodeSocketPacket(raw []byte) (*SocketPacket, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyPacket
	}

	sp := &SocketPacket{
		Type:      SocketPacketType(raw[0]),
		Namespace: DefaultNamespace,
	}
	if !sp.Type.valid() {
		return nil, ErrInvalidPacketType
	}
	if sp.Type == SocketBinaryEvent || sp.Type == SocketBinaryAck {
		return nil, ErrBinaryUnsupported
	}

	rest := raw[1:]

	// Namespace is present when the remainder starts with '/'
	if len(rest) > 0 && rest[0] == '/' {
		end := bytes.IndexByte(rest, ',')
		if end < 0 {
			sp.Namespace = string(rest)
			return sp, nil
		}
		sp.Namespace = string(rest[:end])
		rest = rest[end+1:]
	}

	// Ack id is a run of digits before the JSON data
	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.ParseUint(string(rest[:digits]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ack id: %w", err)
		}
		sp.AckID = &id
		rest = rest[digits:]
	}

	if len(rest) > 0 {
		if !json.Valid(rest) {
			return nil, fmt.Errorf("invalid packet data: %w", ErrInvalidEventFormat)
		}
		data := make([]byte, len(rest))
		copy(data, rest)
		sp.Data = data
	}

	return sp, nil
}
