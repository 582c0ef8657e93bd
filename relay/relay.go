package relay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	users "github.com/homeharmony/go-users"
	"github.com/homeharmony/go-users/bus"
	"golang.org/x/sync/errgroup"
)

// TenantProvisioner promotes or creates tenant users.
type TenantProvisioner interface {
	PromoteTenant(ctx context.Context, name, email string) (*users.User, error)
}

// TenantDirectory resolves users by external id.
type TenantDirectory interface {
	ListByExternalIDs(ctx context.Context, externalIDs []string) ([]*users.User, error)
}

// Handler processes one inbound message and returns the response payload.
// A nil response publishes nothing.
type Handler func(ctx context.Context, msg bus.Message) (any, error)

// Route binds an inbound topic to its handler and response topic.
type Route struct {
	Name    string
	Inbound string
	Reply   string
	Handle  Handler
}

// Relay runs one consumer loop per route. Within a loop messages are handled
// strictly in order and committed once handled, dead lettered or not.
type Relay struct {
	subscriber   bus.Subscriber
	publisher    bus.Publisher
	verifier     users.TokenVerifier
	provisioner  TenantProvisioner
	directory    TenantDirectory
	logger       users.Logger
	timeout      time.Duration
	retryBackoff time.Duration
	routes       []Route
}

// Option configures a Relay
type Option func(*Relay)

// WithLogger sets the relay logger
func WithLogger(logger users.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithHandlerTimeout bounds the processing of a single message.
// Default: 30s.
func WithHandlerTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRetryBackoff sets the pause after a failed fetch. Default: 1s.
func WithRetryBackoff(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.retryBackoff = d
		}
	}
}

// New builds a relay with the validate_token, create_user and
// get_tenants_data loops.
func New(
	subscriber bus.Subscriber,
	publisher bus.Publisher,
	verifier users.TokenVerifier,
	provisioner TenantProvisioner,
	directory TenantDirectory,
	opts ...Option,
) *Relay {
	r := &Relay{
		subscriber:   subscriber,
		publisher:    publisher,
		verifier:     verifier,
		provisioner:  provisioner,
		directory:    directory,
		logger:       users.NewZapLoggerNamed(nil, "relay"),
		timeout:      30 * time.Second,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	r.routes = []Route{
		{Name: "validate_token", Inbound: TopicValidationRequest, Reply: TopicValidationResponse, Handle: r.validateToken},
		{Name: "create_user", Inbound: TopicCreationRequest, Reply: TopicCreationResponse, Handle: r.createUser},
		{Name: "get_tenants_data", Inbound: TopicTenantInfoRequest, Reply: TopicTenantInfoResponse, Handle: r.getTenantsData},
	}

	return r
}

// Routes returns the configured consumer loops.
func (r *Relay) Routes() []Route {
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// Run subscribes every route and blocks until ctx is cancelled or a loop
// fails to subscribe. The message in flight when ctx is cancelled is
// still handled and committed.
func (r *Relay) Run(ctx context.Context) error {
	subs := make([]bus.Subscription, 0, len(r.routes))
	for _, route := range r.routes {
		sub, err := r.subscriber.Subscribe(route.Inbound)
		if err != nil {
			for _, s := range subs {
				_ = s.Close()
			}
			return fmt.Errorf("relay: subscribe %s: %w", route.Inbound, err)
		}
		subs = append(subs, sub)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, route := range r.routes {
		sub := subs[i]
		g.Go(func() error {
			defer sub.Close()
			return r.consume(gctx, route, sub)
		})
	}

	r.logger.Info("relay started", "loops", len(r.routes))
	err := g.Wait()
	r.logger.Info("relay stopped")
	return err
}

func (r *Relay) consume(ctx context.Context, route Route, sub bus.Subscription) error {
	for {
		msg, err := sub.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, bus.ErrClosed) {
				return nil
			}
			r.logger.Error("relay fetch failed", "loop", route.Name, "topic", route.Inbound, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.retryBackoff):
			}
			continue
		}

		r.process(ctx, route, sub, msg)
	}
}

func (r *Relay) process(ctx context.Context, route Route, sub bus.Subscription, msg bus.Message) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	result, err := r.handle(pctx, route, msg)
	if err != nil {
		r.logger.Error("relay message failed",
			"loop", route.Name,
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		r.deadLetter(pctx, msg, err)
	} else if result != nil {
		if err := bus.PublishJSON(pctx, r.publisher, route.Reply, msg.Key, result); err != nil {
			r.logger.Error("relay publish failed", "loop", route.Name, "topic", route.Reply, "error", err)
			r.deadLetter(pctx, msg, err)
		}
	}

	if err := sub.Commit(pctx, msg); err != nil {
		r.logger.Error("relay commit failed", "loop", route.Name, "offset", msg.Offset, "error", err)
	}
}

func (r *Relay) handle(ctx context.Context, route Route, msg bus.Message) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("relay handler panic", "loop", route.Name, "panic", rec, "stack", string(debug.Stack()))
			result, err = nil, fmt.Errorf("panic: %v", rec)
		}
	}()
	return route.Handle(ctx, msg)
}

func (r *Relay) deadLetter(ctx context.Context, msg bus.Message, cause error) {
	letter := DeadLetter{
		Topic:   msg.Topic,
		Key:     string(msg.Key),
		Payload: string(msg.Value),
		Error:   cause.Error(),
	}
	if err := bus.PublishJSON(ctx, r.publisher, TopicDeadLetter, msg.Key, letter); err != nil {
		r.logger.Error("relay dead letter failed", "topic", msg.Topic, "offset", msg.Offset, "error", err)
	}
}
