package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeConnect(t *testing.T) {
	out, err := EncodeConnect()
	require.NoError(t, err)
	assert.Equal(t, "40", string(out))
}

func TestEncodeEvent(t *testing.T) {
	out, err := EncodeEvent(EventJoinRoom, RoomMessage{Room: "thread-42"})
	require.NoError(t, err)
	assert.Equal(t, `42["join_room",{"room":"thread-42"}]`, string(out))

	out, err = EncodeEvent("ping_me", nil)
	require.NoError(t, err)
	assert.Equal(t, `42["ping_me"]`, string(out))

	_, err = EncodeEvent("", nil)
	assert.ErrorIs(t, err, ErrInvalidEventFormat)
}

func TestEncodeVoteUpdate(t *testing.T) {
	up := true
	out, err := EncodeEvent(EventSendVoteUpdate, VoteUpdateMessage{
		Room:    "t1",
		Vote:    &up,
		Comment: map[string]string{"id": "c1"},
		Path:    "/timeline",
		Token:   "tok",
	})
	require.NoError(t, err)
	assert.Equal(t, `42["send_vote_update",{"room":"t1","vote":true,"comment":{"id":"c1"},"path":"/timeline","token":"tok"}]`, string(out))

	out, err = EncodeEvent(EventSendVoteUpdate, VoteUpdateMessage{Room: "t1"})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"vote":null`)
}

func TestDecodeEvent(t *testing.T) {
	t.Run("name and payload", func(t *testing.T) {
		name, payload, err := DecodeEvent([]byte(`["receive_comment",{"comment":{"id":"c1"}},"extra"]`))
		require.NoError(t, err)
		assert.Equal(t, EventReceiveComment, name)
		assert.JSONEq(t, `{"comment":{"id":"c1"}}`, string(payload))
	})

	t.Run("name only", func(t *testing.T) {
		name, payload, err := DecodeEvent([]byte(`["heartbeat"]`))
		require.NoError(t, err)
		assert.Equal(t, "heartbeat", name)
		assert.Nil(t, payload)
	})

	for _, raw := range []string{`[]`, `{}`, `[1,2]`, `[""]`} {
		t.Run("invalid "+raw, func(t *testing.T) {
			_, _, err := DecodeEvent([]byte(raw))
			assert.ErrorIs(t, err, ErrInvalidEventFormat)
		})
	}
}

func TestDecodeOpen(t *testing.T) {
	m, err := DecodeOpen([]byte(`{"sid":"lv_VI97HAXpY6yYWAAAC","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`))
	require.NoError(t, err)
	assert.Equal(t, "lv_VI97HAXpY6yYWAAAC", m.SID)
	assert.Equal(t, 1000000, m.MaxPayload)
	assert.Equal(t, int64(45000), m.PingDeadline().Milliseconds())

	_, err = DecodeOpen([]byte(`{"upgrades":[]}`))
	assert.Error(t, err)

	_, err = DecodeOpen([]byte(`not json`))
	assert.Error(t, err)
}
