package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndependentRegistries(t *testing.T) {
	// Two instances must not collide on registration
	a := NewMetrics()
	b := NewMetrics()

	a.RecordStateTransition("connected")
	a.RecordStateTransition("connected")
	b.RecordStateTransition("connected")

	assert.Equal(t, 2.0, testutil.ToFloat64(a.stateTransitions.WithLabelValues("connected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.stateTransitions.WithLabelValues("connected")))
}

func TestRecorders(t *testing.T) {
	m := NewMetrics()

	m.RecordReconnectAttempt()
	m.RecordEmit("join_room", "sent")
	m.RecordEmit("send_vote_update", "dropped")
	m.RecordInbound("receive_comment", "dispatched")
	m.RecordThreadEvent("new_comment", "applied")
	m.RecordFetchedPage("stale")
	m.RecordNotification()
	m.SetRooms(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnectAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.emits.WithLabelValues("send_vote_update", "dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inboundMessages.WithLabelValues("receive_comment", "dispatched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.threadEvents.WithLabelValues("new_comment", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchedPages.WithLabelValues("stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeRooms))
}

func TestHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordEmit("join_room", "sent")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `wisdm_connection_emits_total{event="join_room",result="sent"} 1`))
}
