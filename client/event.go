// Package client is a Go consumer of the Gatherly API that keeps a
// local, identity-normalized mirror of fetched events, so multiple
// views observe a consistent picture without redundant fetches. RSVP
// mutations apply optimistically and reconcile against the server's
// authoritative response; the server always wins for membership and
// counts.
package client

import (
	"time"

	"github.com/google/uuid"
	"github.com/joshua-takyi/gatherly/internal/identity"
)

// Event mirrors the API wire shape of an event.
type Event struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Slug           string         `json:"slug,omitempty"`
	Description    string         `json:"description"`
	Category       string         `json:"category"`
	Tags           []string       `json:"tags,omitempty"`
	Date           time.Time      `json:"date"`
	StartTime      string         `json:"start_time,omitempty"`
	EventType      string         `json:"event_type"`
	Location       string         `json:"location,omitempty"`
	Capacity       int            `json:"capacity"`
	ImageURL       string         `json:"image_url,omitempty"`
	Owner          identity.Ref   `json:"owner"`
	Rsvps          []identity.Ref `json:"rsvps"`
	AttendingCount int            `json:"attending_count"`
	AverageRating  float64        `json:"average_rating"`
	ReviewCount    int            `json:"review_count"`
	Views          int64          `json:"views"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// IsMember reports whether userID holds one of the event's slots,
// normalizing across raw-id and populated-object reference shapes.
func IsMember(e Event, userID string) bool {
	return identity.Contains(e.Rsvps, userID)
}

func IsFull(e Event) bool {
	return len(e.Rsvps) >= e.Capacity
}

func AvailableSpots(e Event) int {
	if spots := e.Capacity - len(e.Rsvps); spots > 0 {
		return spots
	}
	return 0
}

// Normalize assigns the canonical local identifier derived from the
// server id. A missing id gets a generated fallback so the entry is
// still addressable, but that is a data-quality defect the caller
// should treat as such, which is why it is counted.
func Normalize(e Event) (Event, bool) {
	id := identity.Canonicalize(e.ID)
	if id == "" {
		e.ID = "malformed-" + uuid.New().String()
		return e, false
	}
	e.ID = id
	return e, true
}
