// Package coordinator drives the per-task edit lock state machine.
//
// Every task is implicitly Unlocked. BeginEdit moves it to Locked(U); EndEdit by U,
// the loss of U's last connection (after a grace window), the stale sweep or task
// deletion move it back. Each transition runs as one critical section and publishes
// its events before the section ends, so observers see them in transition order.
//
// Locks are advisory. The coordinator informs clients and answers CheckWrite; it
// never touches storage.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Nash0810/kollab-board/internal/apperr"
	"github.com/Nash0810/kollab-board/internal/locktable"
	"github.com/Nash0810/kollab-board/internal/logging"
	"github.com/Nash0810/kollab-board/internal/presence"
	"github.com/Nash0810/kollab-board/pkg/board"
)

// Unlock reasons carried by task-unlocked.
const (
	ReasonReleased   = "released"
	ReasonDisconnect = "disconnect"
	ReasonStale      = "stale"
	ReasonDeleted    = "deleted"
)

// timerPublishTimeout bounds publishing from timer and sweeper goroutines.
const timerPublishTimeout = 5 * time.Second

// Publisher delivers events to realtime clients.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any, scope board.Scope) error
}

// Metrics observes lock activity.
type Metrics interface {
	LockAcquired()
	LockConflict()
	LockReleased(reason string)
	LocksHeld(n int)
	ConnectionsOpen(n int)
}

type noopMetrics struct{}

func (noopMetrics) LockAcquired()       {}
func (noopMetrics) LockConflict()       {}
func (noopMetrics) LockReleased(string) {}
func (noopMetrics) LocksHeld(int)       {}
func (noopMetrics) ConnectionsOpen(int) {}

// Config holds lock lifecycle timings. Zero values disable the feature.
type Config struct {
	// GracePeriod delays disconnect-triggered release so a quick reconnect keeps its locks.
	GracePeriod time.Duration
	// StaleAfter is the age past which the sweep force-releases a lock.
	StaleAfter time.Duration
	// SweepInterval is how often RunSweeper checks for stale locks.
	SweepInterval time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logging.Component(logger, "coordinator") }
}

// WithMetrics sets the coordinator's metrics observer.
func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// pendingRelease is a scheduled disconnect release for one user.
type pendingRelease struct {
	generation uint64
	timer      *time.Timer
}

// Coordinator owns the lock table and the connection registry.
type Coordinator struct {
	mu       sync.Mutex
	locks    *locktable.Table
	registry *presence.Registry
	pub      Publisher
	cfg      Config

	pending    map[string]*pendingRelease // userID -> scheduled release
	generation uint64

	now     func() time.Time
	logger  *slog.Logger
	metrics Metrics
}

// New creates a coordinator. registry is shared with the broadcast hub for scoped
// delivery; only the coordinator writes to it.
func New(registry *presence.Registry, pub Publisher, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		locks:    locktable.New(),
		registry: registry,
		pub:      pub,
		cfg:      cfg,
		pending:  make(map[string]*pendingRelease),
		now:      time.Now,
		logger:   logging.Component(nil, "coordinator"),
		metrics:  noopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect binds a connection to a user. A pending disconnect release for the user
// is cancelled.
func (c *Coordinator) Connect(ctx context.Context, connectionID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.registry.Register(connectionID, userID); err != nil {
		return apperr.Wrap(apperr.InvalidArgument, "cannot identify connection", err)
	}

	if p, ok := c.pending[userID]; ok {
		p.timer.Stop()
		delete(c.pending, userID)
		c.logger.Info("disconnect_release_cancelled", "user_id", userID, "connection_id", connectionID)
	}

	c.metrics.ConnectionsOpen(c.registry.Len())
	c.logger.Debug("connection_identified", "user_id", userID, "connection_id", connectionID)
	return nil
}

// BeginEdit requests the edit lock on taskID for the connection's user.
//
// A free task is locked and task-locked goes to everyone but the holder's
// connections. A repeated request by the holder changes nothing. A request against
// another user's lock leaves it in place and sends edit-conflict to the requesting
// connection only. Lock contention is reported through the Result, not as an error.
func (c *Coordinator) BeginEdit(ctx context.Context, connectionID, taskID string) (locktable.Result, error) {
	if taskID == "" {
		return locktable.Result{}, apperr.New(apperr.InvalidArgument, "taskId is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	userID, ok := c.registry.Resolve(connectionID)
	if !ok {
		return locktable.Result{}, apperr.New(apperr.Unidentified, "connection has not identified")
	}

	res := c.locks.TryAcquire(taskID, userID, c.now())

	switch res.Outcome {
	case locktable.Acquired:
		c.metrics.LockAcquired()
		c.metrics.LocksHeld(c.locks.Len())
		c.logger.Info("lock_granted", "task_id", taskID, "user_id", userID)
		c.publish(ctx, board.EventTaskLocked, board.LockPayload{
			TaskID:   taskID,
			EditorID: userID,
			Since:    res.Lock.AcquiredAt,
		}, board.ScopeAllExceptUser(userID))

	case locktable.AlreadyHeld:
		c.logger.Debug("lock_reacquired", "task_id", taskID, "user_id", userID)

	case locktable.Conflict:
		c.metrics.LockConflict()
		c.logger.Info("lock_conflict", "task_id", taskID, "user_id", userID, "holder_id", res.Lock.HolderID)
		c.publish(ctx, board.EventEditConflict, board.ConflictPayload{
			TaskID:        taskID,
			CurrentEditor: res.Lock.HolderID,
			Since:         res.Lock.AcquiredAt,
		}, board.ScopeConnection(connectionID))
	}

	return res, nil
}

// EndEdit releases the lock on taskID if the connection's user holds it.
// It returns false, and publishes nothing, when someone else holds it.
func (c *Coordinator) EndEdit(ctx context.Context, connectionID, taskID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	userID, ok := c.registry.Resolve(connectionID)
	if !ok {
		return false, apperr.New(apperr.Unidentified, "connection has not identified")
	}

	if !c.locks.Release(taskID, userID) {
		c.logger.Debug("release_ignored", "task_id", taskID, "user_id", userID)
		return false, nil
	}

	c.unlocked(ctx, taskID, userID, ReasonReleased)
	return true, nil
}

// Disconnect forgets a connection. When it was the user's last one, the user's locks
// are released after the grace period, or immediately if there is none.
// Unknown connections are ignored.
func (c *Coordinator) Disconnect(ctx context.Context, connectionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	userID, remaining, ok := c.registry.Unregister(connectionID)
	if !ok {
		return
	}
	c.metrics.ConnectionsOpen(c.registry.Len())

	if remaining > 0 {
		c.logger.Debug("connection_closed", "user_id", userID, "connection_id", connectionID, "remaining", remaining)
		return
	}

	if c.cfg.GracePeriod <= 0 {
		c.releaseUser(ctx, userID)
		return
	}

	if len(c.locks.HeldBy(userID)) == 0 {
		return
	}

	if p, ok := c.pending[userID]; ok {
		p.timer.Stop()
	}
	c.generation++
	gen := c.generation
	c.pending[userID] = &pendingRelease{
		generation: gen,
		timer: time.AfterFunc(c.cfg.GracePeriod, func() {
			c.expire(userID, gen)
		}),
	}
	c.logger.Info("disconnect_release_scheduled", "user_id", userID, "grace_period", c.cfg.GracePeriod)
}

// expire runs when a grace timer fires. A timer whose generation no longer matches
// was superseded and does nothing.
func (c *Coordinator) expire(userID string, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[userID]
	if !ok || p.generation != gen {
		return
	}
	delete(c.pending, userID)

	if c.registry.Count(userID) > 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timerPublishTimeout)
	defer cancel()
	c.releaseUser(ctx, userID)
}

// releaseUser must be called with c.mu held.
func (c *Coordinator) releaseUser(ctx context.Context, userID string) {
	for _, taskID := range c.locks.ReleaseAllFor(userID) {
		c.unlocked(ctx, taskID, userID, ReasonDisconnect)
	}
}

// Sweep force-releases every lock older than StaleAfter and returns them.
func (c *Coordinator) Sweep(ctx context.Context) []locktable.EditLock {
	if c.cfg.StaleAfter <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stale := c.locks.StaleLocks(c.now(), c.cfg.StaleAfter)
	for _, lock := range stale {
		c.locks.ForceRelease(lock.TaskID)
		c.unlocked(ctx, lock.TaskID, lock.HolderID, ReasonStale)
	}
	return stale
}

// RunSweeper calls Sweep every SweepInterval until ctx is cancelled.
// It returns immediately if sweeping is disabled.
func (c *Coordinator) RunSweeper(ctx context.Context) error {
	if c.cfg.SweepInterval <= 0 || c.cfg.StaleAfter <= 0 {
		c.logger.Info("stale_sweep_disabled")
		return nil
	}

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, timerPublishTimeout)
			if released := c.Sweep(sweepCtx); len(released) > 0 {
				c.logger.Info("stale_locks_released", "count", len(released))
			}
			cancel()
		}
	}
}

// Forget drops the lock on a deleted task, whoever holds it.
func (c *Coordinator) Forget(ctx context.Context, taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, ok := c.locks.ForceRelease(taskID)
	if !ok {
		return false
	}
	c.unlocked(ctx, taskID, lock.HolderID, ReasonDeleted)
	return true
}

// CheckWrite returns a Locked error if someone other than userID holds taskID.
func (c *Coordinator) CheckWrite(userID, taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, ok := c.locks.Get(taskID)
	if !ok || lock.HolderID == userID {
		return nil
	}
	return apperr.Newf(apperr.Locked, "task is being edited by %s", lock.HolderID)
}

// Holder returns the current lock on taskID.
func (c *Coordinator) Holder(taskID string) (locktable.EditLock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locks.Get(taskID)
}

// Locks returns every held lock, oldest first.
func (c *Coordinator) Locks() []locktable.EditLock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locks.Snapshot()
}

// UserOf returns the user a connection identified as.
func (c *Coordinator) UserOf(connectionID string) (string, bool) {
	return c.registry.Resolve(connectionID)
}

// PendingReleases returns the number of scheduled disconnect releases.
func (c *Coordinator) PendingReleases() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close stops every pending grace timer. Locks stay in place.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for userID, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, userID)
	}
}

// unlocked records a release and announces it. Must be called with c.mu held.
func (c *Coordinator) unlocked(ctx context.Context, taskID, holderID, reason string) {
	c.metrics.LockReleased(reason)
	c.metrics.LocksHeld(c.locks.Len())
	c.logger.Info("lock_released", "task_id", taskID, "user_id", holderID, "reason", reason)
	c.publish(ctx, board.EventTaskUnlocked, board.UnlockPayload{TaskID: taskID, Reason: reason}, board.ScopeAll())
}

// publish never fails a transition; delivery problems are logged only.
func (c *Coordinator) publish(ctx context.Context, event string, payload any, scope board.Scope) {
	if c.pub == nil {
		return
	}
	if err := c.pub.Publish(ctx, event, payload, scope); err != nil {
		c.logger.Warn("publish_failed", "event", event, "error", fmt.Sprint(err))
	}
}
