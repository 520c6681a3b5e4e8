package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/wisdm-app/threadsync/pkg/client"
	"github.com/wisdm-app/threadsync/pkg/metrics"
)

// ChannelConn is the part of the connection manager a feed uses
type ChannelConn interface {
	JoinRoom(name string)
	LeaveRoom(name string)
	On(kind client.MessageKind, handler client.Handler) (client.ListenerID, error)
	Off(kind client.MessageKind, id client.ListenerID)
}

// Watermarks persists the newest notification time a user has seen
type Watermarks interface {
	GetNotificationWatermark(channel string) (int64, error)
	SetNotificationWatermark(channel string, timestamp int64) error
}

// Feed keeps the notifications of one personal channel, deduplicated by id
// and ordered newest first
type Feed struct {
	channel string
	conn    ChannelConn
	marks   Watermarks

	mu        sync.Mutex
	byID      map[string]*Notification
	watermark int64
	listener  client.ListenerID
	started   bool
	callbacks []func(Notification)

	logger  *log.Logger
	metrics *metrics.Metrics
}

// NewFeed creates a feed for channel; call Start to begin receiving
func NewFeed(channel string, conn ChannelConn, marks Watermarks) *Feed {
	return &Feed{
		channel: channel,
		conn:    conn,
		marks:   marks,
		byID:    make(map[string]*Notification),
	}
}

// SetLogger sets a logger for feed events
func (f *Feed) SetLogger(logger *log.Logger) {
	f.logger = logger
}

// SetMetrics enables Prometheus instrumentation
func (f *Feed) SetMetrics(m *metrics.Metrics) {
	f.metrics = m
}

func (f *Feed) logf(format string, args ...interface{}) {
	if f.logger != nil {
		f.logger.Printf(format, args...)
	}
}

// Channel returns the personal channel the feed listens on
func (f *Feed) Channel() string {
	return f.channel
}

// OnUpdate registers a callback fired for every received notification
func (f *Feed) OnUpdate(fn func(Notification)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, fn)
}

// Start loads the watermark, starts listening and joins the channel
func (f *Feed) Start() error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	watermark, err := f.marks.GetNotificationWatermark(f.channel)
	if err != nil {
		return fmt.Errorf("failed to load notification watermark: %w", err)
	}

	id, err := f.conn.On(client.MessageNotification, f.Handle)
	if err != nil {
		return fmt.Errorf("failed to listen for notifications: %w", err)
	}

	f.mu.Lock()
	f.watermark = watermark
	f.listener = id
	f.started = true
	for _, n := range f.byID {
		f.applyWatermark(n)
	}
	f.mu.Unlock()

	f.conn.JoinRoom(f.channel)
	return nil
}

// Stop leaves the channel and stops listening. Received notifications stay.
func (f *Feed) Stop() {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return
	}
	f.started = false
	id := f.listener
	f.mu.Unlock()

	f.conn.Off(client.MessageNotification, id)
	f.conn.LeaveRoom(f.channel)
}

// Seed merges notifications loaded over HTTP
func (f *Feed) Seed(notifications []Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range notifications {
		f.merge(notifications[i])
	}
}

// Handle decodes a receive_notification_update payload. The record may be
// bare or wrapped in a notification key.
func (f *Feed) Handle(payload json.RawMessage) {
	var envelope struct {
		Notification *Notification `json:"notification"`
	}
	var n Notification
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Notification != nil {
		n = *envelope.Notification
	} else if err := json.Unmarshal(payload, &n); err != nil {
		f.logf("Ignoring malformed notification: %v", err)
		return
	}

	f.mu.Lock()
	merged := f.merge(n)
	callbacks := make([]func(Notification), len(f.callbacks))
	copy(callbacks, f.callbacks)
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.RecordNotification()
	}
	for _, cb := range callbacks {
		cb(merged)
	}
}

// merge stores n, replacing any record with the same id. A record without
// a count adds one to the existing aggregate.
func (f *Feed) merge(n Notification) Notification {
	if n.Count <= 0 {
		n.Count = 1
		if existing, ok := f.byID[n.ID]; ok {
			n.Count = existing.Count + 1
		}
	}
	stored := n
	f.applyWatermark(&stored)
	f.byID[n.ID] = &stored
	return stored
}

func (f *Feed) applyWatermark(n *Notification) {
	if f.watermark > 0 && !n.CreatedAt.IsZero() && n.CreatedAt.UnixMilli() <= f.watermark {
		n.IsRead = true
	}
}

// List returns the notifications newest first
func (f *Feed) List() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Notification, 0, len(f.byID))
	for _, n := range f.byID {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Unread returns the number of unread notifications
func (f *Feed) Unread() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, item := range f.byID {
		if !item.IsRead {
			n++
		}
	}
	return n
}

// MarkAllRead marks every notification read and persists the newest
// creation time as the channel's watermark
func (f *Feed) MarkAllRead() error {
	f.mu.Lock()
	newest := f.watermark
	for _, n := range f.byID {
		if ms := n.CreatedAt.UnixMilli(); !n.CreatedAt.IsZero() && ms > newest {
			newest = ms
		}
	}
	f.mu.Unlock()

	if err := f.marks.SetNotificationWatermark(f.channel, newest); err != nil {
		return fmt.Errorf("failed to save notification watermark: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if newest > f.watermark {
		f.watermark = newest
	}
	for _, n := range f.byID {
		n.IsRead = true
	}
	return nil
}
