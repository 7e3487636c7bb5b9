package queue

import (
	"time"
)

// Status is the lifecycle state of a print request
type Status string

const (
	StatusPending Status = "pending"
	StatusPrinted Status = "printed"
	StatusError   Status = "error"
)

// Terminal reports whether no further transitions are allowed
func (s Status) Terminal() bool {
	return s == StatusPrinted || s == StatusError
}

// Request is a unit of work for a print station
type Request struct {
	ID             string                 `json:"id"`
	NoteID         string                 `json:"note_id"`
	Payload        map[string]interface{} `json:"payload"`
	Status         Status                 `json:"status"`
	CreatedAt      time.Time              `json:"created_at"`
	PrintedAt      *time.Time             `json:"printed_at,omitempty"`
	ErrorAt        *time.Time             `json:"error_at,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	ClaimedBy      string                 `json:"claimed_by,omitempty"`
	LeaseExpiresAt *time.Time             `json:"lease_expires_at,omitempty"`
}

// Claimed reports whether a station holds an unexpired lease at now
func (r Request) Claimed(now time.Time) bool {
	return r.ClaimedBy != "" && r.LeaseExpiresAt != nil && now.Before(*r.LeaseExpiresAt)
}

// clone copies the request so callers never share state with the queue.
// The payload is copied one level deep; nested values are treated as read-only.
func (r Request) clone() Request {
	c := r
	if r.Payload != nil {
		c.Payload = make(map[string]interface{}, len(r.Payload))
		for k, v := range r.Payload {
			c.Payload[k] = v
		}
	}
	c.PrintedAt = cloneTime(r.PrintedAt)
	c.ErrorAt = cloneTime(r.ErrorAt)
	c.LeaseExpiresAt = cloneTime(r.LeaseExpiresAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Lease is an exclusive, time-bounded right to process one request
type Lease struct {
	RequestID string    `json:"request_id"`
	Station   string    `json:"station"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EventType identifies a queue notification
type EventType string

const (
	EventSubmitted EventType = "submitted"
	EventReleased  EventType = "released"
	EventPrinted   EventType = "printed"
	EventFailed    EventType = "failed"
)

// Event is delivered to subscribers on every queue change
type Event struct {
	Type    EventType `json:"type"`
	Request Request   `json:"request"`
	At      time.Time `json:"at"`
}
