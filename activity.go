package users

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventExternalIDRemapped ActivityEventType = "user.external_id.remapped"
	ActivityEventUserProvisioned    ActivityEventType = "user.provisioned"
	ActivityEventTenantPromoted     ActivityEventType = "user.tenant.promoted"
)

// ActivityEvent captures information about a user lifecycle change.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     int64
	OldID      string
	NewID      string
	Email      string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events, e.g. to broadcast them to other services.
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
