package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wisdm-app/threadsync/pkg/thread"
)

var ErrMissingID = errors.New("notification missing id")

// Notification is one entry of a user's notification channel. Count is the
// number of events the server aggregated into it.
type Notification struct {
	ID            string
	ReferenceID   string
	ReferenceType string
	Action        string
	Path          string
	Username      string
	IsRead        bool
	CreatedAt     time.Time
	Count         int
	Message       string
}

type wireNotification struct {
	ID            json.RawMessage `json:"id"`
	ReferenceID   json.RawMessage `json:"reference_id"`
	ReferenceType string          `json:"reference_type,omitempty"`
	Action        string          `json:"action"`
	Path          string          `json:"path"`
	Username      string          `json:"username"`
	IsRead        bool            `json:"is_read"`
	CreatedAt     string          `json:"created_at,omitempty"`
	Count         int             `json:"count,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// UnmarshalJSON decodes the wire record; ids may be strings or numbers
func (n *Notification) UnmarshalJSON(data []byte) error {
	var w wireNotification
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*n = Notification{
		ID:            decodeID(w.ID),
		ReferenceID:   decodeID(w.ReferenceID),
		ReferenceType: w.ReferenceType,
		Action:        w.Action,
		Path:          w.Path,
		Username:      w.Username,
		IsRead:        w.IsRead,
		Count:         w.Count,
		Message:       w.Message,
	}
	if n.ID == "" {
		return ErrMissingID
	}
	if w.CreatedAt != "" {
		t, err := thread.ParseTimestamp(w.CreatedAt)
		if err != nil {
			return fmt.Errorf("notification %s: %w", n.ID, err)
		}
		n.CreatedAt = t
	}
	return nil
}

// MarshalJSON encodes the wire record
func (n Notification) MarshalJSON() ([]byte, error) {
	w := wireNotification{
		ID:            quote(n.ID),
		ReferenceID:   quote(n.ReferenceID),
		ReferenceType: n.ReferenceType,
		Action:        n.Action,
		Path:          n.Path,
		Username:      n.Username,
		IsRead:        n.IsRead,
		Count:         n.Count,
		Message:       n.Message,
	}
	if !n.CreatedAt.IsZero() {
		w.CreatedAt = n.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(w)
}

func quote(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func decodeID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	return ""
}

// Text renders a one-line description
func (n *Notification) Text() string {
	if n.Message != "" {
		return n.Message
	}
	if n.Count > 1 {
		return fmt.Sprintf("%s %s (%d)", n.Username, n.Action, n.Count)
	}
	return n.Username + " " + n.Action
}
