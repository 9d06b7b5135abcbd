package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/joshua-takyi/gatherly/internal/identity"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	EventsDbName  = "gatherly"
	EventsColName = "events"
)

type EventType string

const (
	EventTypeOnline   EventType = "online"
	EventTypeInPerson EventType = "in_person"
)

// Event categories accepted on create/update.
var EventCategories = []string{
	"music", "tech", "sports", "arts", "food", "business", "education", "social", "other",
}

// OnlineDetails describes where an online event is hosted.
type OnlineDetails struct {
	Platform string `bson:"platform,omitempty" json:"platform,omitempty"`
	Link     string `bson:"link,omitempty" json:"link,omitempty"`
	Password string `bson:"password,omitempty" json:"password,omitempty"`
}

// Event is the aggregate root. Rsvps is a membership set, not a
// multiset: every identity appears at most once and the repository's
// conditional update keeps len(Rsvps) <= Capacity. AttendingCount
// mirrors len(Rsvps) and is written by the same atomic update so
// popularity sorting stays indexable.
type Event struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title       string             `bson:"title" json:"title" validate:"required,min=3,max=120"`
	Slug        string             `bson:"slug" json:"slug"`
	Description string             `bson:"description" json:"description" validate:"required,min=10"`
	Category    string             `bson:"category" json:"category" validate:"required"`
	Tags        []string           `bson:"tags,omitempty" json:"tags,omitempty"`

	Date      time.Time `bson:"date" json:"date" validate:"required"`
	StartTime string    `bson:"start_time,omitempty" json:"start_time,omitempty"`

	EventType EventType      `bson:"event_type" json:"event_type" validate:"required,oneof=online in_person"`
	Location  string         `bson:"location,omitempty" json:"location,omitempty"`
	Online    *OnlineDetails `bson:"online,omitempty" json:"online,omitempty"`

	Capacity int    `bson:"capacity" json:"capacity" validate:"required,gt=0"`
	ImageURL string `bson:"image_url,omitempty" json:"image_url,omitempty"`

	Owner          identity.Ref   `bson:"owner" json:"owner"`
	Rsvps          []identity.Ref `bson:"rsvps" json:"rsvps"`
	AttendingCount int            `bson:"attending_count" json:"attending_count"`

	AverageRating float64 `bson:"average_rating" json:"average_rating"`
	ReviewCount   int     `bson:"review_count" json:"review_count"`
	Views         int64   `bson:"views" json:"views"`

	IsDeleted bool       `bson:"is_deleted" json:"-"`
	DeletedAt *time.Time `bson:"deleted_at,omitempty" json:"-"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
}

// IsMember reports whether the given identity holds one of the event's
// capacity slots. Ownership is deliberately not implied: the owner is
// never auto-added to the membership set.
func (e *Event) IsMember(userID string) bool {
	return identity.Contains(e.Rsvps, userID)
}

func (e *Event) IsOwner(userID string) bool {
	return e.Owner.Canonical() == identity.Canonicalize(userID) && !e.Owner.IsZero()
}

func (e *Event) IsFull() bool {
	return len(e.Rsvps) >= e.Capacity
}

func (e *Event) AvailableSpots() int {
	if spots := e.Capacity - len(e.Rsvps); spots > 0 {
		return spots
	}
	return 0
}

// ValidateLocality enforces the cross-field locality rules: online
// events must carry a platform and a link, in-person events must carry
// a location. Called at create and again at update time.
func (e *Event) ValidateLocality() error {
	switch e.EventType {
	case EventTypeOnline:
		if e.Online == nil || strings.TrimSpace(e.Online.Platform) == "" || strings.TrimSpace(e.Online.Link) == "" {
			return fmt.Errorf("%w: online events require a platform and a link", ErrValidation)
		}
	case EventTypeInPerson:
		if strings.TrimSpace(e.Location) == "" {
			return fmt.Errorf("%w: in-person events require a location", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unsupported event type %q", ErrValidation, e.EventType)
	}
	return nil
}

func (e *Event) ValidateCategory() error {
	for _, c := range EventCategories {
		if e.Category == c {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown category %q", ErrValidation, e.Category)
}

// EventSort selects the List/Search ordering.
type EventSort string

const (
	SortByDate       EventSort = "date"
	SortByPopularity EventSort = "popularity"
	SortByRating     EventSort = "rating"
)

// EventFilter captures the discovery query surface. Soft-deleted events
// are excluded unconditionally regardless of the filter.
type EventFilter struct {
	Query     string
	Category  string
	EventType EventType
	Location  string
	Tags      []string
	DateFrom  *time.Time
	DateTo    *time.Time
	Owner     string
	Attendee  string
	Sort      EventSort
}
