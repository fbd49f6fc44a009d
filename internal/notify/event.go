// Package notify delivers lifecycle events to users.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// SubjectKind tags what a notification is about.
type SubjectKind string

const (
	SubjectIncident SubjectKind = "incident"
	SubjectSOS      SubjectKind = "sos"
	SubjectPost     SubjectKind = "post"
)

// Subject is a typed reference to the entity an event concerns.
type Subject struct {
	Kind SubjectKind `json:"kind"`
	ID   uuid.UUID   `json:"id"`
}

// Path is the in-app link for the subject.
func (s Subject) Path() string {
	switch s.Kind {
	case SubjectIncident:
		return "/incidents/" + s.ID.String()
	case SubjectSOS:
		return "/sos/" + s.ID.String()
	case SubjectPost:
		return "/posts/" + s.ID.String()
	}
	return "/"
}

// EventType names a lifecycle event.
type EventType string

const (
	EventIncidentCreated       EventType = "incident_created"
	EventIncidentStatusChanged EventType = "incident_status_changed"
	EventIncidentVerified      EventType = "incident_verified"
	EventSOSCreated            EventType = "sos_created"
	EventSOSStatusChanged      EventType = "sos_status_changed"
	EventPostReaction          EventType = "post_reaction"
	EventPostComment           EventType = "post_comment"
	EventPostModerated         EventType = "post_moderated"
)

// Priority of a notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Event is what the domain emits.
type Event struct {
	Type     EventType         `json:"type"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Subject  Subject           `json:"subject"`
	Priority Priority          `json:"priority"`
	SenderID *uuid.UUID        `json:"sender_id,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
}

// Notifier delivers an event to each recipient. Callers treat delivery as fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, recipients []uuid.UUID, e Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, []uuid.UUID, Event) error { return nil }

// Multi fans an event out to several notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, recipients []uuid.UUID, e Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, recipients, e); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}

func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	return fmt.Errorf("%d notifiers failed: %w", len(errs), errors.Join(errs...))
}
