package protocol

import (
	"encoding/json"
	"testing"

	"pgregory.net/rapid"
)

// TestPacketRoundTrip tests that any valid packet can be encoded and decoded
func TestPacketRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		packetType := PacketType(rapid.ByteRange(byte(PacketOpen), byte(PacketNoop)).Draw(t, "type"))
		data := rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(t, "data")

		encoded, err := EncodePacket(&Packet{Type: packetType, Data: data})
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		decoded, err := DecodePacket(encoded)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		if decoded.Type != packetType {
			t.Fatalf("type mismatch: got %v, want %v", decoded.Type, packetType)
		}
		if string(decoded.Data) != string(data) {
			t.Fatalf("data mismatch")
		}
	})
}

// TestEventRoundTrip tests that events survive the full engine+socket encoding
func TestEventRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringMatching(`[a-z_]{1,24}`).Draw(t, "name")
		room := rapid.String().Draw(t, "room")

		encoded, err := EncodeEvent(name, RoomMessage{Room: room})
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		packet, err := DecodePacket(encoded)
		if err != nil {
			t.Fatalf("decode packet failed: %v", err)
		}
		if packet.Type != PacketMessage {
			t.Fatalf("expected message packet, got %v", packet.Type)
		}

		sp, err := DecodeSocketPacket(packet.Data)
		if err != nil {
			t.Fatalf("decode socket packet failed: %v", err)
		}
		if sp.Type != SocketEvent || sp.AckID != nil {
			t.Fatalf("unexpected socket packet: %+v", sp)
		}

		gotName, payload, err := DecodeEvent(sp.Data)
		if err != nil {
			t.Fatalf("decode event failed: %v", err)
		}
		if gotName != name {
			t.Fatalf("name mismatch: got %q, want %q", gotName, name)
		}

		var msg RoomMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("payload decode failed: %v", err)
		}
		if msg.Room != room {
			t.Fatalf("room mismatch: got %q, want %q", msg.Room, room)
		}
	})
}
