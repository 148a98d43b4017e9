// Package coordinator manages module registration and request/response
// correlation over the bus.
//
// The coordinator is the sole writer of module active/inactive status. It
// publishes lifecycle events on reserved topics so components interested in
// module comings and goings subscribe to those instead of every module
// implementing every lifecycle hook. Deregistering a module purges its bus
// subscriptions and cancels its in-flight requests.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nfrund/modlink/internal/bus"
	"github.com/nfrund/modlink/internal/envelope"
	"github.com/nfrund/modlink/internal/payload"
	"github.com/nfrund/modlink/internal/topics"
)

// Registration tracks one module known to the coordinator.
type Registration struct {
	ModuleID     string
	RegisteredAt time.Time
	Active       bool
}

// Response is the resolved result of SendRequest.
type Response struct {
	// From is the module that replied.
	From string
	// Payload is the reply body.
	Payload payload.Value
}

// Config holds coordinator tuning knobs.
type Config struct {
	// DefaultTimeout applies to SendRequest calls that pass no timeout.
	// Defaults to 5s.
	DefaultTimeout time.Duration
}

type outcome struct {
	resp Response
	err  error
}

type pendingRequest struct {
	from string
	done chan outcome
}

// Coordinator tracks module registrations and correlates request/reply
// envelopes. All methods are safe for concurrent use.
type Coordinator struct {
	bus            *bus.Bus
	defaultTimeout time.Duration

	mu      sync.Mutex
	modules map[string]*Registration
	pending map[string]*pendingRequest

	replyHandle bus.Handle
}

// New creates a coordinator and subscribes it to the reply pattern so it can
// resolve pending requests.
func New(b *bus.Bus, cfg Config) (*Coordinator, error) {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	c := &Coordinator{
		bus:            b,
		defaultTimeout: timeout,
		modules:        make(map[string]*Registration),
		pending:        make(map[string]*pendingRequest),
	}

	handle, err := b.Subscribe(topics.ReplyPattern, topics.CoordinatorModule, c.handleReply)
	if err != nil {
		return nil, fmt.Errorf("coordinator: subscribe replies: %w", err)
	}
	c.replyHandle = handle
	return c, nil
}

// RegisterModule creates an active registration for a module. Registering a
// live module twice fails with KindAlreadyRegistered; re-registering a
// deregistered module reactivates it.
func (c *Coordinator) RegisterModule(ctx context.Context, moduleID string) error {
	if moduleID == "" {
		return fmt.Errorf("coordinator: empty module id")
	}

	c.mu.Lock()
	if reg, ok := c.modules[moduleID]; ok && reg.Active {
		c.mu.Unlock()
		return &Error{
			Kind:    KindAlreadyRegistered,
			Module:  moduleID,
			Message: "module already registered: " + moduleID,
		}
	}
	reg := &Registration{ModuleID: moduleID, RegisteredAt: time.Now(), Active: true}
	c.modules[moduleID] = reg
	c.mu.Unlock()

	slog.Info("Module registered", "module", moduleID)
	c.publishLifecycle(ctx, topics.ModuleRegistered, moduleID, reg.RegisteredAt)
	return nil
}

// DeregisterModule marks a module inactive, cancels its pending requests and
// purges its bus subscriptions. Deregistering an unknown or already-inactive
// module is a no-op.
func (c *Coordinator) DeregisterModule(ctx context.Context, moduleID string) {
	c.mu.Lock()
	reg, ok := c.modules[moduleID]
	if !ok || !reg.Active {
		c.mu.Unlock()
		return
	}
	reg.Active = false

	var cancelled []*pendingRequest
	for corrID, p := range c.pending {
		if p.from == moduleID {
			delete(c.pending, corrID)
			cancelled = append(cancelled, p)
		}
	}
	c.mu.Unlock()

	for _, p := range cancelled {
		p.done <- outcome{err: &Error{
			Kind:    KindCancelled,
			Module:  moduleID,
			Message: "request cancelled: module deregistered",
		}}
	}

	c.bus.UnsubscribeModule(moduleID)

	slog.Info("Module deregistered", "module", moduleID, "cancelled_requests", len(cancelled))
	c.publishLifecycle(ctx, topics.ModuleDeregistered, moduleID, time.Time{})
}

// IsActive reports whether a module is currently registered and active.
func (c *Coordinator) IsActive(moduleID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	reg, ok := c.modules[moduleID]
	return ok && reg.Active
}

// Registrations returns a snapshot of all known registrations.
func (c *Coordinator) Registrations() []Registration {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Registration, 0, len(c.modules))
	for _, reg := range c.modules {
		out = append(out, *reg)
	}
	return out
}

// PendingRequests returns the number of requests awaiting a reply.
func (c *Coordinator) PendingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// SendRequest publishes a correlation-tagged request to a module and waits
// for the matching reply. It fails immediately with KindTargetNotRegistered
// when the target is not active, with KindRequestTimeout when the timeout
// elapses, and with KindCancelled when the caller's context ends or the
// requesting module deregisters. Pass timeout <= 0 for the default.
func (c *Coordinator) SendRequest(ctx context.Context, from, to string, p payload.Value, timeout time.Duration) (Response, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	c.mu.Lock()
	reg, ok := c.modules[to]
	if !ok || !reg.Active {
		c.mu.Unlock()
		return Response{}, &Error{
			Kind:    KindTargetNotRegistered,
			Module:  to,
			Message: "request target not registered: " + to,
		}
	}
	corrID := uuid.NewString()
	req := &pendingRequest{from: from, done: make(chan outcome, 1)}
	c.pending[corrID] = req
	c.mu.Unlock()

	env := envelope.New(topics.Request(to), from, p).WithTarget(to)
	env.CorrelationID = corrID
	if err := c.bus.Publish(ctx, env); err != nil {
		c.removePending(corrID)
		return Response{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-req.done:
		return out.resp, out.err
	case <-timer.C:
		c.removePending(corrID)
		// The reply may have been resolved between the timer firing and the
		// removal; prefer it over reporting a timeout.
		select {
		case out := <-req.done:
			return out.resp, out.err
		default:
		}
		return Response{}, &Error{
			Kind:    KindRequestTimeout,
			Module:  to,
			Message: fmt.Sprintf("no reply from %s within %s", to, timeout),
		}
	case <-ctx.Done():
		c.removePending(corrID)
		return Response{}, &Error{
			Kind:    KindCancelled,
			Module:  from,
			Message: "request cancelled",
			Cause:   ctx.Err(),
		}
	}
}

// Reply publishes the response to a request envelope, echoing its
// correlation id on the requester's reply topic.
func (c *Coordinator) Reply(ctx context.Context, from string, req envelope.Envelope, p payload.Value) error {
	if req.CorrelationID == "" {
		return fmt.Errorf("coordinator: envelope %s carries no correlation id", req.ID)
	}
	env := envelope.New(topics.Reply(req.Sender), from, p)
	env.CorrelationID = req.CorrelationID
	return c.bus.Publish(ctx, env)
}

// Close cancels every pending request and drops the reply subscription.
func (c *Coordinator) Close() {
	c.mu.Lock()
	cancelled := make([]*pendingRequest, 0, len(c.pending))
	for corrID, p := range c.pending {
		delete(c.pending, corrID)
		cancelled = append(cancelled, p)
	}
	c.mu.Unlock()

	for _, p := range cancelled {
		p.done <- outcome{err: &Error{Kind: KindCancelled, Message: "coordinator shut down"}}
	}
	c.bus.Unsubscribe(c.replyHandle)
}

// removePending drops a pending request that will never resolve.
func (c *Coordinator) removePending(corrID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, corrID)
}

// handleReply resolves the pending request matching a reply's correlation
// id. Replies for unknown or already-resolved correlation ids are ignored.
func (c *Coordinator) handleReply(ctx context.Context, env envelope.Envelope) error {
	if env.CorrelationID == "" {
		return nil
	}

	c.mu.Lock()
	req, ok := c.pending[env.CorrelationID]
	if ok {
		delete(c.pending, env.CorrelationID)
	}
	c.mu.Unlock()

	if !ok {
		slog.Debug("Ignoring reply with no pending request",
			"correlation_id", env.CorrelationID, "sender", env.Sender)
		return nil
	}

	req.done <- outcome{resp: Response{From: env.Sender, Payload: env.Payload}}
	return nil
}

// publishLifecycle emits a module lifecycle event on a reserved topic.
func (c *Coordinator) publishLifecycle(ctx context.Context, topic, moduleID string, at time.Time) {
	fields := map[string]payload.Value{
		"module": payload.String(moduleID),
	}
	if !at.IsZero() {
		fields["registered_at"] = payload.String(at.Format(time.RFC3339Nano))
	}
	env := envelope.New(topic, topics.CoordinatorModule, payload.Map(fields))
	if err := c.bus.Publish(ctx, env); err != nil {
		slog.Error("Failed to publish lifecycle event", "topic", topic, "module", moduleID, "error", err)
	}
}
