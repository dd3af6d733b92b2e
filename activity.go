package identity

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventAvailabilityChanged    ActivityEventType = "user.availability.changed"
	ActivityEventRoleChanged            ActivityEventType = "user.role.changed"
	ActivityEventEmailConfirmed         ActivityEventType = "user.email.confirmed"
	ActivityEventPasswordResetRequested ActivityEventType = "user.password_reset.requested"
	ActivityEventPasswordResetCompleted ActivityEventType = "user.password_reset.completed"
)

// ActorRef identifies who/what triggered a transition.
type ActorRef struct {
	ID   string
	Type string
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType        ActivityEventType
	Actor            ActorRef
	UserID           string
	FromAvailability Availability
	ToAvailability   Availability
	Metadata         map[string]any
	OccurredAt       time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
