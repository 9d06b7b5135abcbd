package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/joshua-takyi/gatherly/internal/cache"
	"github.com/joshua-takyi/gatherly/internal/identity"
	"github.com/joshua-takyi/gatherly/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fakeEventsRepo mirrors the MongoDB repository's contract, including
// the conditional RSVP update: membership and capacity are checked and
// applied under one lock, the way the real store evaluates its guarded
// filter.
type fakeEventsRepo struct {
	mu       sync.Mutex
	events   map[string]*models.Event
	getCalls int
}

func newFakeEventsRepo() *fakeEventsRepo {
	return &fakeEventsRepo{events: map[string]*models.Event{}}
}

func copyEvent(e *models.Event) *models.Event {
	out := *e
	out.Rsvps = append([]identity.Ref{}, e.Rsvps...)
	out.Tags = append([]string{}, e.Tags...)
	return &out
}

func (f *fakeEventsRepo) CreateEvent(_ context.Context, event *models.Event) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if event.ID.IsZero() {
		event.ID = primitive.NewObjectID()
	}
	f.events[event.ID.Hex()] = copyEvent(event)
	return copyEvent(event), nil
}

func (f *fakeEventsRepo) GetEventByID(_ context.Context, id string) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	return f.liveEvent(id)
}

func (f *fakeEventsRepo) liveEvent(id string) (*models.Event, error) {
	event, ok := f.events[id]
	if !ok || event.IsDeleted {
		return nil, fmt.Errorf("%w: event %s", models.ErrNotFound, id)
	}
	return copyEvent(event), nil
}

func (f *fakeEventsRepo) UpdateEvent(_ context.Context, id string, set map[string]interface{}, unset []string) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[id]
	if !ok || event.IsDeleted {
		return nil, fmt.Errorf("%w: event %s", models.ErrNotFound, id)
	}
	for k, v := range set {
		switch k {
		case "title":
			event.Title = v.(string)
		case "slug":
			event.Slug = v.(string)
		case "description":
			event.Description = v.(string)
		case "category":
			event.Category = v.(string)
		case "location":
			event.Location = v.(string)
		case "capacity":
			event.Capacity = v.(int)
		case "tags":
			event.Tags = v.([]string)
		case "start_time":
			event.StartTime = v.(string)
		case "image_url":
			event.ImageURL = v.(string)
		}
	}
	for _, k := range unset {
		switch k {
		case "tags":
			event.Tags = nil
		case "start_time":
			event.StartTime = ""
		case "image_url":
			event.ImageURL = ""
		case "location":
			event.Location = ""
		case "online":
			event.Online = nil
		}
	}
	event.UpdatedAt = time.Now()
	return copyEvent(event), nil
}

func (f *fakeEventsRepo) SoftDeleteEvent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[id]
	if !ok || event.IsDeleted {
		return fmt.Errorf("%w: event %s", models.ErrNotFound, id)
	}
	now := time.Now()
	event.IsDeleted = true
	event.DeletedAt = &now
	return nil
}

func (f *fakeEventsRepo) Rsvp(_ context.Context, eventID, userID string) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[eventID]
	if !ok || event.IsDeleted {
		return nil, fmt.Errorf("%w: event %s", models.ErrNotFound, eventID)
	}
	if event.IsMember(userID) {
		return copyEvent(event), nil
	}
	if len(event.Rsvps) >= event.Capacity {
		return nil, fmt.Errorf("%w: capacity %d reached", models.ErrCapacityExceeded, event.Capacity)
	}
	event.Rsvps = append(event.Rsvps, identity.NewRef(userID))
	event.AttendingCount = len(event.Rsvps)
	return copyEvent(event), nil
}

func (f *fakeEventsRepo) CancelRsvp(_ context.Context, eventID, userID string) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[eventID]
	if !ok || event.IsDeleted {
		return nil, fmt.Errorf("%w: event %s", models.ErrNotFound, eventID)
	}
	kept := make([]identity.Ref, 0, len(event.Rsvps))
	for _, r := range event.Rsvps {
		if r.Canonical() != identity.Canonicalize(userID) {
			kept = append(kept, r)
		}
	}
	event.Rsvps = kept
	event.AttendingCount = len(event.Rsvps)
	return copyEvent(event), nil
}

func (f *fakeEventsRepo) SearchEvents(_ context.Context, filter models.EventFilter, page, limit int) ([]*models.Event, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matched := []*models.Event{}
	for _, e := range f.events {
		if e.IsDeleted {
			continue
		}
		if filter.Owner != "" && !e.IsOwner(filter.Owner) {
			continue
		}
		if filter.Attendee != "" && !e.IsMember(filter.Attendee) {
			continue
		}
		matched = append(matched, copyEvent(e))
	}
	return matched, int64(len(matched)), nil
}

func (f *fakeEventsRepo) IncrementViews(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if event, ok := f.events[id]; ok && !event.IsDeleted {
		event.Views++
	}
	return nil
}

func (f *fakeEventsRepo) EnsureEventIndexes(_ context.Context) error { return nil }

type fakeViewsRepo struct {
	tracked chan *models.EventView
}

func newFakeViewsRepo() *fakeViewsRepo {
	return &fakeViewsRepo{tracked: make(chan *models.EventView, 8)}
}

func (f *fakeViewsRepo) TrackEventView(_ context.Context, view *models.EventView) error {
	f.tracked <- view
	return nil
}

func (f *fakeViewsRepo) GetEventViewStats(_ context.Context, eventID string) (*models.EventViewStats, error) {
	return &models.EventViewStats{EventID: eventID, TotalViews: 42}, nil
}

func (f *fakeViewsRepo) EnsureViewIndexes(_ context.Context) error { return nil }

func newTestService(t *testing.T) (*EventService, *fakeEventsRepo, *fakeViewsRepo) {
	t.Helper()
	repo := newFakeEventsRepo()
	views := newFakeViewsRepo()
	mem := cache.NewMemory()
	t.Cleanup(mem.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEventService(repo, views, mem, time.Minute, nil, logger), repo, views
}

func validEvent(capacity int) *models.Event {
	return &models.Event{
		Title:       "Go Accra Meetup",
		Description: "Monthly meetup for Go developers in Accra",
		Category:    "tech",
		Date:        time.Now().Add(48 * time.Hour),
		EventType:   models.EventTypeInPerson,
		Location:    "Accra Digital Centre",
		Capacity:    capacity,
	}
}

func TestCreateEventSetsOwnerAndDefaults(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateEvent(ctx, validEvent(10), " owner-1 ")
	if err != nil {
		t.Fatal(err)
	}
	if !created.IsOwner("owner-1") {
		t.Error("owner not set from the canonicalized requester id")
	}
	if created.IsMember("owner-1") {
		t.Error("creating an event must not auto-join the owner")
	}
	if len(created.Rsvps) != 0 || created.AttendingCount != 0 {
		t.Error("a new event starts with an empty membership set")
	}
	if created.ID.IsZero() {
		t.Error("created event has no id")
	}
	if created.Slug != "go-accra-meetup" {
		t.Errorf("Slug = %q, want go-accra-meetup", created.Slug)
	}
}

func TestCreateEventValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		event   *models.Event
		ownerID string
		wantErr error
	}{
		{"no requester", validEvent(10), "  ", models.ErrUnauthenticated},
		{"short title", func() *models.Event {
			e := validEvent(10)
			e.Title = "go"
			return e
		}(), "owner-1", models.ErrValidation},
		{"zero capacity", func() *models.Event {
			e := validEvent(10)
			e.Capacity = 0
			return e
		}(), "owner-1", models.ErrValidation},
		{"unknown category", func() *models.Event {
			e := validEvent(10)
			e.Category = "nope"
			return e
		}(), "owner-1", models.ErrValidation},
		{"online without link", func() *models.Event {
			e := validEvent(10)
			e.EventType = models.EventTypeOnline
			e.Online = &models.OnlineDetails{Platform: "meet"}
			return e
		}(), "owner-1", models.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateEvent(ctx, tt.event, tt.ownerID)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateEvent() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetEventServesFromCache(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateEvent(ctx, validEvent(10), "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	id := created.ID.Hex()

	if _, err := svc.GetEvent(ctx, id, nil); err != nil {
		t.Fatal(err)
	}
	before := repo.getCalls
	if _, err := svc.GetEvent(ctx, id, nil); err != nil {
		t.Fatal(err)
	}
	if repo.getCalls != before {
		t.Errorf("second read hit the repository %d extra time(s), want cache hit", repo.getCalls-before)
	}
}

func TestGetEventTracksView(t *testing.T) {
	svc, _, views := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateEvent(ctx, validEvent(10), "owner-1")
	if err != nil {
		t.Fatal(err)
	}

	viewer := &models.EventView{SessionID: "session-1", IPAddress: "10.0.0.1"}
	if _, err := svc.GetEvent(ctx, created.ID.Hex(), viewer); err != nil {
		t.Fatal(err)
	}

	select {
	case tracked := <-views.tracked:
		if tracked.EventID != created.ID.Hex() {
			t.Errorf("tracked view for event %q, want %q", tracked.EventID, created.ID.Hex())
		}
		if tracked.OwnerID != "owner-1" {
			t.Errorf("tracked view owner %q, want owner-1", tracked.OwnerID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("view was never tracked")
	}
}

func TestGetEventNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.GetEvent(context.Background(), primitive.NewObjectID().Hex(), nil)
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("GetEvent(unknown) = %v, want ErrNotFound", err)
	}
}

func TestUpdateEventOwnerOnly(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateEvent(ctx, validEvent(10), "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	title := "Renamed Meetup"
	_, err = svc.UpdateEvent(ctx, created.ID.Hex(), "intruder", &EventPatch{Title: &title})
	if !errors.Is(err, models.ErrForbidden) {
		t.Errorf("UpdateEvent by non-owner = %v, want ErrForbidden", err)
	}

	updated, err := svc.UpdateEvent(ctx, created.ID.Hex(), "owner-1", &EventPatch{Title: &title})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Title != title {
		t.Errorf("Title = %q, want %q", updated.Title, title)
	}
	if updated.Slug != "renamed-meetup" {
		t.Errorf("Slug = %q, want renamed-meetup (regenerated with the title)", updated.Slug)
	}
}

func TestUpdateEventCapacityCannotShrinkBelowAttendance(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateEvent(ctx, validEvent(5), "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	id := created.ID.Hex()
	for _, u := range []string{"a", "b", "c"} {
		if _, err := svc.Rsvp(ctx, id, u); err != nil {
			t.Fatal(err)
		}
	}

	two := 2
	_, err = svc.UpdateEvent(ctx, id, "owner-1", &EventPatch{Capacity: &two})
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("shrinking capacity below attendance = %v, want ErrValidation", err)
	}

	three := 3
	if _, err := svc.UpdateEvent(ctx, id, "owner-1", &EventPatch{Capacity: &three}); err != nil {
		t.Errorf("shrinking capacity to exactly the attendance should pass, got %v", err)
	}
}

func TestUpdateEventRejectsUnknownClearField(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateEvent(ctx, validEvent(10), "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	_, err = svc.UpdateEvent(ctx, created.ID.Hex(), "owner-1", &EventPatch{Clear: []string{"owner"}})
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("clearing a protected field = %v, want ErrValidation", err)
	}
}

func TestUpdateEventLocalityRevalidatedOnMergedResult(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateEvent(ctx, validEvent(10), "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	// Switching an in-person event online without supplying the online
	// details must fail against the merged document.
	online := models.EventTypeOnline
	_, err = svc.UpdateEvent(ctx, created.ID.Hex(), "owner-1", &EventPatch{EventType: &online})
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("merged locality violation = %v, want ErrValidation", err)
	}
}

func TestDeleteEvent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateEvent(ctx, validEvent(10), "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	id := created.ID.Hex()

	if err := svc.DeleteEvent(ctx, id, "intruder"); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("DeleteEvent by non-owner = %v, want ErrForbidden", err)
	}
	if err := svc.DeleteEvent(ctx, id, "owner-1"); err != nil {
		t.Fatal(err)
	}

	// The event is gone from every read path.
	if _, err := svc.GetEvent(ctx, id, nil); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("GetEvent after delete = %v, want ErrNotFound", err)
	}
	if _, err := svc.Rsvp(ctx, id, "user-1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Rsvp after delete = %v, want ErrNotFound", err)
	}

	// Deleting again reads the same as deleting an id that never was.
	if err := svc.DeleteEvent(ctx, id, "owner-1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("second DeleteEvent = %v, want ErrNotFound", err)
	}
}

func TestRsvpLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateEvent(ctx, validEvent(2), "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	id := created.ID.Hex()

	event, err := svc.Rsvp(ctx, id, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !event.IsMember("alice") || event.AttendingCount != 1 {
		t.Errorf("alice should hold 1 of 2 slots, got count %d", event.AttendingCount)
	}

	// Joining twice is a success and does not consume a second slot.
	event, err = svc.Rsvp(ctx, id, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if event.AttendingCount != 1 {
		t.Errorf("repeat join changed attending count to %d", event.AttendingCount)
	}

	if _, err := svc.Rsvp(ctx, id, "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Rsvp(ctx, id, "carol"); !errors.Is(err, models.ErrCapacityExceeded) {
		t.Errorf("join on a full event = %v, want ErrCapacityExceeded", err)
	}

	// A slot freed by a cancellation is immediately claimable.
	if _, err := svc.CancelRsvp(ctx, id, "bob"); err != nil {
		t.Fatal(err)
	}
	event, err = svc.Rsvp(ctx, id, "carol")
	if err != nil {
		t.Fatalf("join after a slot was freed: %v", err)
	}
	if !event.IsMember("carol") || event.IsMember("bob") {
		t.Error("membership set did not reflect the swap")
	}
}

func TestCancelRsvpNonMemberIsNoop(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateEvent(ctx, validEvent(5), "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Rsvp(ctx, created.ID.Hex(), "alice"); err != nil {
		t.Fatal(err)
	}

	event, err := svc.CancelRsvp(ctx, created.ID.Hex(), "stranger")
	if err != nil {
		t.Errorf("cancelling without a slot = %v, want no-op success", err)
	}
	if event.AttendingCount != 1 {
		t.Errorf("no-op cancel changed attending count to %d", event.AttendingCount)
	}
}

// Two dozen joiners race for the single remaining slot; exactly one may
// win it and everyone else must see the capacity failure.
func TestConcurrentRsvpLastSlot(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateEvent(ctx, validEvent(3), "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	id := created.ID.Hex()
	if _, err := svc.Rsvp(ctx, id, "early-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Rsvp(ctx, id, "early-2"); err != nil {
		t.Fatal(err)
	}

	const racers = 24
	errs := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Rsvp(ctx, id, fmt.Sprintf("racer-%d", n))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var wins, capacityFailures int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, models.ErrCapacityExceeded):
			capacityFailures++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("%d racers won the last slot, want exactly 1", wins)
	}
	if capacityFailures != racers-1 {
		t.Errorf("%d capacity failures, want %d", capacityFailures, racers-1)
	}

	final, err := svc.GetEvent(ctx, id, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(final.Rsvps) != final.Capacity {
		t.Errorf("membership %d exceeds capacity %d", len(final.Rsvps), final.Capacity)
	}
	if final.AttendingCount != len(final.Rsvps) {
		t.Errorf("attending_count %d out of step with membership %d", final.AttendingCount, len(final.Rsvps))
	}
}

func TestViewStatsOwnerOnly(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateEvent(ctx, validEvent(10), "owner-1")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.ViewStats(ctx, created.ID.Hex(), "stranger"); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("ViewStats by non-owner = %v, want ErrForbidden", err)
	}

	stats, err := svc.ViewStats(ctx, created.ID.Hex(), "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalViews != 42 {
		t.Errorf("TotalViews = %d, want 42", stats.TotalViews)
	}
}

func TestListAttending(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateEvent(ctx, validEvent(10), "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateEvent(ctx, validEvent(10), "owner-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Rsvp(ctx, first.ID.Hex(), "alice"); err != nil {
		t.Fatal(err)
	}

	events, total, err := svc.ListAttending(ctx, "alice", 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(events) != 1 {
		t.Fatalf("ListAttending returned %d/%d events, want 1", len(events), total)
	}
	if events[0].ID != first.ID {
		t.Error("ListAttending returned the wrong event")
	}
}
