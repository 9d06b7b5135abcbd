package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const mutationTimeout = 15 * time.Second

// Result is the structured outcome of an RSVP mutation. Expected
// failures (capacity full, event gone, not signed in) come back here
// instead of as errors so the caller can render them.
type Result struct {
	Success bool
	Error   string
	Event   *Event
}

type envelope struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	Pagination *struct {
		CurrentPage int   `json:"current_page"`
		TotalPages  int   `json:"total_pages"`
		TotalEvents int64 `json:"total_events"`
		HasMore     bool  `json:"has_more"`
	} `json:"pagination"`
}

// Client talks to the events API and keeps the shared Store in sync.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	store   *Store
	logger  *slog.Logger
}

type Option func(*Client)

// WithToken sets the bearer token sent on authenticated requests.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(baseURL string, store *Store, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		store:   store,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Store() *Store {
	return c.store
}

// FetchEvent loads one event into the store. A fetch that resolves
// after a newer local change is dropped by the store, not by us.
func (c *Client) FetchEvent(ctx context.Context, eventID string) (Event, error) {
	seq := c.store.NextSeq()
	env, err := c.do(ctx, http.MethodGet, "/api/v1/events/"+url.PathEscape(eventID), nil)
	if err != nil {
		return Event{}, err
	}
	var event Event
	if err := json.Unmarshal(env.Data, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	c.store.Dispatch(PutEvent{Event: event, Seq: seq})
	return event, nil
}

// ListEvents runs a search and caches every returned event.
func (c *Client) ListEvents(ctx context.Context, query url.Values) ([]Event, error) {
	seq := c.store.NextSeq()
	path := "/api/v1/events"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	env, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var events []Event
	if err := json.Unmarshal(env.Data, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	for _, e := range events {
		c.store.Dispatch(PutEvent{Event: e, Seq: seq})
	}
	return events, nil
}

// Rsvp joins the event. The store is updated optimistically before the
// request goes out; the server's answer reconciles it, and any failure
// rolls the entry back to what it was.
func (c *Client) Rsvp(ctx context.Context, eventID, userID string) Result {
	return c.mutate(ctx, eventID, http.MethodPost,
		OptimisticJoin{EventID: eventID, UserID: userID})
}

// CancelRsvp releases the user's slot, with the same optimistic
// apply / reconcile / rollback cycle as Rsvp.
func (c *Client) CancelRsvp(ctx context.Context, eventID, userID string) Result {
	return c.mutate(ctx, eventID, http.MethodDelete,
		OptimisticLeave{EventID: eventID, UserID: userID})
}

func (c *Client) mutate(ctx context.Context, eventID, method string, cmd Command) Result {
	seq := c.store.NextSeq()
	switch v := cmd.(type) {
	case OptimisticJoin:
		v.Seq = seq
		c.store.Dispatch(v)
	case OptimisticLeave:
		v.Seq = seq
		c.store.Dispatch(v)
	}

	// The mutation must finish even if the caller navigates away and
	// cancels its context; otherwise the server and the local store
	// disagree about a slot.
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mutationTimeout)
	defer cancel()

	env, err := c.do(reqCtx, method, "/api/v1/events/"+url.PathEscape(eventID)+"/rsvp", nil)
	if err != nil {
		c.store.Dispatch(Rollback{EventID: eventID, Seq: seq})
		c.logger.Warn("rsvp mutation failed, rolled back", "event_id", eventID, "error", err)
		return Result{Error: err.Error()}
	}

	var event Event
	if err := json.Unmarshal(env.Data, &event); err != nil {
		c.store.Dispatch(Rollback{EventID: eventID, Seq: seq})
		return Result{Error: fmt.Sprintf("decode event: %v", err)}
	}
	c.store.Dispatch(Reconcile{Event: event, Seq: seq})
	return Result{Success: true, Event: &event}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%s %s: status %d with unreadable body", method, path, resp.StatusCode)
	}
	if resp.StatusCode >= 400 || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%s %s: %s", method, path, msg)
	}
	return &env, nil
}
