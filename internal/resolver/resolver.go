// Package resolver settles edit conflicts with a user-chosen policy.
//
// Resolution is not lock-gated: two resolutions of the same task race at the store
// and the last write wins.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Nash0810/kollab-board/internal/apperr"
	"github.com/Nash0810/kollab-board/internal/logging"
	"github.com/Nash0810/kollab-board/pkg/board"
)

// Store is the persistence the resolver needs.
type Store interface {
	GetTask(ctx context.Context, taskID string) (*board.Task, error)
	WriteTask(ctx context.Context, taskID string, fields board.TaskFields, now time.Time) (*board.Task, error)
	AppendActivity(ctx context.Context, a *board.Activity) error
}

// Publisher delivers events to realtime clients.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any, scope board.Scope) error
}

// Metrics observes resolutions.
type Metrics interface {
	ConflictResolved(policy string)
}

type noopMetrics struct{}

func (noopMetrics) ConflictResolved(string) {}

// Request is one resolution call.
type Request struct {
	TaskID   string
	Policy   string
	Proposal Proposal
	UserID   string
	UserName string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logging.Component(logger, "resolver") }
}

// WithMetrics sets the resolver's metrics observer.
func WithMetrics(m Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// Resolver applies resolution policies against the stored record.
type Resolver struct {
	store   Store
	pub     Publisher
	rule    MergeRule
	now     func() time.Time
	logger  *slog.Logger
	metrics Metrics
}

// New creates a resolver.
func New(store Store, pub Publisher, rule MergeRule, opts ...Option) *Resolver {
	r := &Resolver{
		store:   store,
		pub:     pub,
		rule:    rule,
		now:     time.Now,
		logger:  logging.Component(nil, "resolver"),
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rule returns the merge rule in use.
func (r *Resolver) Rule() MergeRule {
	return r.rule
}

// Resolve settles a conflict on req.TaskID and returns the stored record.
//
// An unknown policy or bad proposal fails with InvalidArgument before anything is
// read or written; a missing task fails with NotFound. Store errors are returned
// wrapped, never swallowed.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*board.Task, error) {
	policy, err := ParsePolicy(req.Policy)
	if err != nil {
		return nil, err
	}
	if req.TaskID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "taskId is required")
	}
	if policy != Discard {
		if err := req.Proposal.Validate(); err != nil {
			return nil, err
		}
	}

	current, err := r.store.GetTask(ctx, req.TaskID)
	if err != nil {
		if board.IsNotFound(err) {
			return nil, apperr.New(apperr.NotFound, "task not found")
		}
		return nil, fmt.Errorf("failed to load task for resolution: %w", err)
	}

	now := r.now()
	resolved := Apply(*current, policy, req.Proposal, r.rule, now)

	written, err := r.store.WriteTask(ctx, req.TaskID, board.FieldsFromTask(&resolved), now)
	if err != nil {
		switch {
		case board.IsNotFound(err):
			return nil, apperr.New(apperr.NotFound, "task not found")
		case errors.Is(err, board.ErrDuplicateTitle):
			return nil, apperr.Wrap(apperr.Duplicate, "task title must be unique", err)
		}
		return nil, fmt.Errorf("failed to write resolved task: %w", err)
	}

	r.publish(ctx, board.EventTaskUpdated, written)

	activity := board.NewActivity(board.ActivityConflictResolved, written.ID, req.UserID, map[string]any{
		"resolution": string(policy),
		"title":      written.Title,
		"userName":   req.UserName,
	}, now)
	if err := r.store.AppendActivity(ctx, activity); err != nil {
		return nil, fmt.Errorf("failed to record conflict resolution: %w", err)
	}
	r.publish(ctx, board.EventActivityAdded, activity)

	r.metrics.ConflictResolved(string(policy))
	r.logger.Info("conflict_resolved", "task_id", written.ID, "user_id", req.UserID, "policy", string(policy))

	return written, nil
}

func (r *Resolver) publish(ctx context.Context, event string, payload any) {
	if r.pub == nil {
		return
	}
	if err := r.pub.Publish(ctx, event, payload, board.ScopeAll()); err != nil {
		r.logger.Warn("publish_failed", "event", event, "error", err)
	}
}
