// Package locktable holds the advisory edit locks of a board.
//
// A Table is a partial function taskID -> EditLock. It performs no I/O and has no
// internal synchronization: the edit coordinator owns it and serializes every call.
package locktable

import (
	"sort"
	"time"
)

// EditLock records who is editing a task and since when. Locks are never
// updated in place; a new holder needs a release followed by a fresh acquire.
type EditLock struct {
	TaskID     string    `json:"taskId"`
	HolderID   string    `json:"holderId"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Age returns how long the lock has been held at now.
func (l EditLock) Age(now time.Time) time.Duration {
	return now.Sub(l.AcquiredAt)
}

// Outcome is the result kind of TryAcquire.
type Outcome int

const (
	// Acquired means the task was free and now belongs to the requester.
	Acquired Outcome = iota
	// AlreadyHeld means the requester already held the lock; nothing changed.
	AlreadyHeld
	// Conflict means another user holds the lock.
	Conflict
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case AlreadyHeld:
		return "already_held"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Result carries the outcome and the lock now in the table for the task.
// For Conflict, Lock is the other user's lock.
type Result struct {
	Outcome Outcome
	Lock    EditLock
}

// Granted reports whether the requester holds the lock after the call.
func (r Result) Granted() bool {
	return r.Outcome == Acquired || r.Outcome == AlreadyHeld
}

// Table maps task IDs to their current edit lock.
type Table struct {
	locks map[string]EditLock
}

// New creates an empty table.
func New() *Table {
	return &Table{locks: make(map[string]EditLock)}
}

// TryAcquire grants the lock on taskID to userID if it is free. A holder asking
// again gets AlreadyHeld with the original AcquiredAt.
func (t *Table) TryAcquire(taskID, userID string, now time.Time) Result {
	if existing, ok := t.locks[taskID]; ok {
		if existing.HolderID == userID {
			return Result{Outcome: AlreadyHeld, Lock: existing}
		}
		return Result{Outcome: Conflict, Lock: existing}
	}

	lock := EditLock{TaskID: taskID, HolderID: userID, AcquiredAt: now}
	t.locks[taskID] = lock
	return Result{Outcome: Acquired, Lock: lock}
}

// Release removes the lock on taskID only if userID holds it.
func (t *Table) Release(taskID, userID string) bool {
	existing, ok := t.locks[taskID]
	if !ok || existing.HolderID != userID {
		return false
	}
	delete(t.locks, taskID)
	return true
}

// ReleaseAllFor removes every lock held by userID and returns the released task IDs, sorted.
func (t *Table) ReleaseAllFor(userID string) []string {
	var released []string
	for taskID, lock := range t.locks {
		if lock.HolderID == userID {
			delete(t.locks, taskID)
			released = append(released, taskID)
		}
	}
	sort.Strings(released)
	return released
}

// ForceRelease removes the lock on taskID regardless of holder.
// Reserved for the stale sweep and task deletion.
func (t *Table) ForceRelease(taskID string) (EditLock, bool) {
	lock, ok := t.locks[taskID]
	if ok {
		delete(t.locks, taskID)
	}
	return lock, ok
}

// IsStale reports whether the lock on taskID is older than maxAge at now.
// A missing lock or a non-positive maxAge is never stale.
func (t *Table) IsStale(taskID string, now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	lock, ok := t.locks[taskID]
	return ok && lock.Age(now) > maxAge
}

// StaleLocks returns the locks older than maxAge at now, ordered by task ID.
func (t *Table) StaleLocks(now time.Time, maxAge time.Duration) []EditLock {
	var stale []EditLock
	for taskID, lock := range t.locks {
		if t.IsStale(taskID, now, maxAge) {
			stale = append(stale, lock)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].TaskID < stale[j].TaskID })
	return stale
}

// Get returns the lock on taskID.
func (t *Table) Get(taskID string) (EditLock, bool) {
	lock, ok := t.locks[taskID]
	return lock, ok
}

// HeldBy returns the task IDs userID holds, sorted.
func (t *Table) HeldBy(userID string) []string {
	var held []string
	for taskID, lock := range t.locks {
		if lock.HolderID == userID {
			held = append(held, taskID)
		}
	}
	sort.Strings(held)
	return held
}

// Snapshot copies every lock, oldest first.
func (t *Table) Snapshot() []EditLock {
	out := make([]EditLock, 0, len(t.locks))
	for _, lock := range t.locks {
		out = append(out, lock)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AcquiredAt.Equal(out[j].AcquiredAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].AcquiredAt.Before(out[j].AcquiredAt)
	})
	return out
}

// Len returns the number of held locks.
func (t *Table) Len() int {
	return len(t.locks)
}
