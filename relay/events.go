package relay

import (
	"context"

	users "github.com/homeharmony/go-users"
	"github.com/homeharmony/go-users/bus"
)

// IdentityEvents is an ActivitySink broadcasting external id remaps on
// the user-id-update topic. Other event types are ignored.
type IdentityEvents struct {
	publisher bus.Publisher
	logger    users.Logger
}

var _ users.ActivitySink = (*IdentityEvents)(nil)

// NewIdentityEvents returns a sink publishing through publisher.
func NewIdentityEvents(publisher bus.Publisher) *IdentityEvents {
	return &IdentityEvents{
		publisher: publisher,
		logger:    users.NewZapLoggerNamed(nil, "relay.events"),
	}
}

// WithLogger sets the sink logger.
func (e *IdentityEvents) WithLogger(logger users.Logger) *IdentityEvents {
	if logger != nil {
		e.logger = logger
	}
	return e
}

// Record implements users.ActivitySink.
func (e *IdentityEvents) Record(ctx context.Context, event users.ActivityEvent) error {
	if event.EventType != users.ActivityEventExternalIDRemapped {
		return nil
	}

	update := IDUpdate{OldID: event.OldID, NewID: event.NewID}
	if err := bus.PublishJSON(ctx, e.publisher, TopicIDUpdate, []byte(event.NewID), update); err != nil {
		return err
	}

	e.logger.Info("published id update", "old_id", event.OldID, "new_id", event.NewID)
	return nil
}
