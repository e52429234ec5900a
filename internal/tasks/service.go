// Package tasks is the request/response layer over the board store: task CRUD,
// smart assignment, comments, the activity log and the user directory.
//
// Every accepted mutation publishes task-updated and, when it changed something
// worth auditing, appends an activity and publishes activity-added.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Nash0810/kollab-board/internal/apperr"
	"github.com/Nash0810/kollab-board/internal/logging"
	"github.com/Nash0810/kollab-board/pkg/board"
)

// DefaultActivityLimit is used when a caller asks for no specific page size.
const DefaultActivityLimit = 20

// MaxActivityLimit caps a single activity page.
const MaxActivityLimit = 200

// Store is the persistence the service needs.
type Store interface {
	CreateTask(ctx context.Context, t *board.Task) error
	GetTask(ctx context.Context, taskID string) (*board.Task, error)
	TaskExists(ctx context.Context, taskID string) (bool, error)
	WriteTask(ctx context.Context, taskID string, fields board.TaskFields, now time.Time) (*board.Task, error)
	DeleteTask(ctx context.Context, taskID string) error
	ListTasks(ctx context.Context) ([]*board.Task, error)
	AppendActivity(ctx context.Context, a *board.Activity) error
	ListActivities(ctx context.Context, taskID string, limit int64) ([]*board.Activity, error)
	AddComment(ctx context.Context, c *board.Comment) error
	ListComments(ctx context.Context, taskID string) ([]*board.Comment, error)
	SaveUser(ctx context.Context, u *board.User) error
	GetUser(ctx context.Context, userID string) (*board.User, error)
	ListUsers(ctx context.Context) ([]*board.User, error)
}

// Publisher delivers events to realtime clients.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any, scope board.Scope) error
}

// Locks is the view of the edit coordinator the service needs.
type Locks interface {
	CheckWrite(userID, taskID string) error
	Forget(ctx context.Context, taskID string) bool
}

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Name string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logging.Component(logger, "tasks") }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocks makes the service consult the edit coordinator. With enforce set,
// writes to a task another user is editing fail with Locked.
func WithLocks(locks Locks, enforce bool) Option {
	return func(s *Service) {
		s.locks = locks
		s.enforce = enforce
	}
}

// Service implements the board's CRUD operations.
type Service struct {
	store   Store
	pub     Publisher
	locks   Locks
	enforce bool
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a service.
func New(store Store, pub Publisher, opts ...Option) *Service {
	s := &Service{
		store:  store,
		pub:    pub,
		now:    time.Now,
		logger: logging.Component(nil, "tasks"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput is a new task as submitted by a client.
type CreateInput struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Priority    board.Priority `json:"priority"`
	AssignedTo  []string       `json:"assignedTo"`
	DueDate     *time.Time     `json:"dueDate"`
}

// Create adds a task in the Todo column.
func (s *Service) Create(ctx context.Context, actor Actor, in CreateInput) (*board.Task, error) {
	if actor.ID == "" {
		return nil, apperr.New(apperr.Unidentified, "user identity is required")
	}

	title := strings.TrimSpace(in.Title)
	if err := checkTitle(title); err != nil {
		return nil, err
	}

	priority := in.Priority
	if priority == "" {
		priority = board.PriorityMedium
	}
	if err := priority.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, "invalid priority", err)
	}

	now := s.now()
	task := &board.Task{
		ID:           uuid.New().String(),
		Title:        title,
		Description:  strings.TrimSpace(in.Description),
		Priority:     priority,
		Status:       board.StatusTodo,
		AssignedTo:   append([]string{}, in.AssignedTo...),
		CreatedBy:    actor.ID,
		CreatedAt:    now,
		LastModified: now,
	}
	if in.DueDate != nil {
		d := in.DueDate.UTC()
		task.DueDate = &d
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, storeError(err, "failed to create task")
	}

	s.publish(ctx, board.EventTaskUpdated, task)
	s.record(ctx, board.NewActivity(board.ActivityTaskCreated, task.ID, actor.ID, map[string]any{
		"title":    task.Title,
		"userName": actor.Name,
	}, now))

	s.logger.Info("task_created", "task_id", task.ID, "user_id", actor.ID)
	return task, nil
}

// Get returns one task.
func (s *Service) Get(ctx context.Context, taskID string) (*board.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, storeError(err, "failed to load task")
	}
	return task, nil
}

// Exists reports whether a task is stored.
func (s *Service) Exists(ctx context.Context, taskID string) (bool, error) {
	ok, err := s.store.TaskExists(ctx, taskID)
	if err != nil {
		return false, fmt.Errorf("failed to check task: %w", err)
	}
	return ok, nil
}

// Update applies a partial update. An activity is logged only when a tracked field
// changed; its type follows the most significant change.
func (s *Service) Update(ctx context.Context, actor Actor, taskID string, fields board.TaskFields) (*board.Task, error) {
	if fields.IsEmpty() {
		return nil, apperr.New(apperr.InvalidArgument, "no fields to update")
	}
	if err := fields.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, "invalid task fields", err)
	}
	if fields.Title != nil {
		if err := checkTitle(strings.TrimSpace(*fields.Title)); err != nil {
			return nil, err
		}
	}
	if err := s.checkLock(actor, taskID); err != nil {
		return nil, err
	}

	before, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, storeError(err, "failed to load task")
	}

	now := s.now()
	after, err := s.store.WriteTask(ctx, taskID, fields, now)
	if err != nil {
		return nil, storeError(err, "failed to update task")
	}

	s.publish(ctx, board.EventTaskUpdated, after)

	changes := s.diff(ctx, before, after)
	if len(changes) > 0 {
		details := map[string]any{"userName": actor.Name}
		for field, change := range changes {
			details[field] = change
		}
		s.record(ctx, board.NewActivity(changeActivityType(changes), taskID, actor.ID, details, now))
	}

	s.logger.Info("task_updated", "task_id", taskID, "user_id", actor.ID, "changes", len(changes))
	return after, nil
}

// Delete removes a task and drops any edit lock on it.
func (s *Service) Delete(ctx context.Context, actor Actor, taskID string) error {
	if err := s.checkLock(actor, taskID); err != nil {
		return err
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return storeError(err, "failed to load task")
	}

	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return storeError(err, "failed to delete task")
	}

	if s.locks != nil {
		s.locks.Forget(ctx, taskID)
	}

	s.publish(ctx, board.EventTaskUpdated, board.DeletedPayload{ID: taskID, Deleted: true})
	s.record(ctx, board.NewActivity(board.ActivityTaskDeleted, taskID, actor.ID, map[string]any{
		"title":    task.Title,
		"userName": actor.Name,
	}, s.now()))

	s.logger.Info("task_deleted", "task_id", taskID, "user_id", actor.ID)
	return nil
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Status     board.Status
	AssignedTo string
	Priority   board.Priority
	// Search matches title or description, case-insensitively.
	Search string
}

func (f Filter) matches(t *board.Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.AssignedTo != "" && !contains(t.AssignedTo, f.AssignedTo) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(t.Title), q) && !strings.Contains(strings.ToLower(t.Description), q) {
			return false
		}
	}
	return true
}

// List returns matching tasks, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]*board.Task, error) {
	all, err := s.store.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	out := make([]*board.Task, 0, len(all))
	for _, t := range all {
		if f.matches(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// SmartAssign gives the task to the registered user with the fewest open tasks.
// Ties go to the lowest user ID. It returns the updated task and a readable reason.
func (s *Service) SmartAssign(ctx context.Context, actor Actor, taskID string) (*board.Task, string, error) {
	if err := s.checkLock(actor, taskID); err != nil {
		return nil, "", err
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, "", storeError(err, "failed to load task")
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list users: %w", err)
	}
	if len(users) == 0 {
		return nil, "", apperr.New(apperr.InvalidArgument, "no users available for assignment")
	}

	all, err := s.store.ListTasks(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list tasks: %w", err)
	}

	best := pickLeastLoaded(users, all)
	assignees := []string{best.ID}

	now := s.now()
	updated, err := s.store.WriteTask(ctx, taskID, board.TaskFields{AssignedTo: &assignees}, now)
	if err != nil {
		return nil, "", storeError(err, "failed to assign task")
	}

	s.publish(ctx, board.EventTaskUpdated, updated)
	s.record(ctx, board.NewActivity(board.ActivityTaskAssignedSmart, taskID, actor.ID, map[string]any{
		"title":      task.Title,
		"assignedTo": best.ID,
		"reason":     "Auto-assigned to " + best.DisplayName(),
		"userName":   actor.Name,
	}, now))

	s.logger.Info("task_smart_assigned", "task_id", taskID, "assignee", best.ID)
	return updated, "Assigned to " + best.DisplayName(), nil
}

// pickLeastLoaded expects users sorted by ID.
func pickLeastLoaded(users []*board.User, tasks []*board.Task) *board.User {
	open := make(map[string]int, len(users))
	for _, t := range tasks {
		if !t.Status.IsOpen() {
			continue
		}
		for _, id := range t.AssignedTo {
			open[id]++
		}
	}

	best := users[0]
	for _, u := range users[1:] {
		if open[u.ID] < open[best.ID] {
			best = u
		}
	}
	return best
}

// AddComment attaches a comment and announces it to the task's room.
func (s *Service) AddComment(ctx context.Context, actor Actor, taskID, content string) (*board.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.New(apperr.InvalidArgument, "comment content is required")
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, storeError(err, "failed to load task")
	}

	now := s.now()
	comment := &board.Comment{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		UserID:    actor.ID,
		Content:   content,
		CreatedAt: now,
	}
	if err := s.store.AddComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("failed to add comment: %w", err)
	}

	if s.pub != nil {
		if err := s.pub.Publish(ctx, board.EventCommentAdded, comment, board.ScopeTaskRoom(taskID)); err != nil {
			s.logger.Warn("publish_failed", "event", board.EventCommentAdded, "error", err)
		}
	}
	s.record(ctx, board.NewActivity(board.ActivityCommentAdded, taskID, actor.ID, map[string]any{
		"title":    task.Title,
		"userName": actor.Name,
	}, now))

	return comment, nil
}

// Comments returns a task's comments, oldest first.
func (s *Service) Comments(ctx context.Context, taskID string) ([]*board.Comment, error) {
	comments, err := s.store.ListComments(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	return comments, nil
}

// Activities returns the newest entries of the board log, or of one task's log.
func (s *Service) Activities(ctx context.Context, taskID string, limit int) ([]*board.Activity, error) {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	if limit > MaxActivityLimit {
		limit = MaxActivityLimit
	}

	activities, err := s.store.ListActivities(ctx, taskID, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	return activities, nil
}

// RegisterUser stores the caller's display data.
func (s *Service) RegisterUser(ctx context.Context, u board.User) (*board.User, error) {
	u.ID = strings.TrimSpace(u.ID)
	if u.ID == "" {
		return nil, apperr.New(apperr.Unidentified, "user identity is required")
	}
	u.Name = strings.TrimSpace(u.Name)
	u.Email = strings.TrimSpace(u.Email)

	if err := s.store.SaveUser(ctx, &u); err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}
	return &u, nil
}

// Users lists the user directory ordered by ID.
func (s *Service) Users(ctx context.Context) ([]*board.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *Service) checkLock(actor Actor, taskID string) error {
	if !s.enforce || s.locks == nil {
		return nil
	}
	return s.locks.CheckWrite(actor.ID, taskID)
}

func (s *Service) publish(ctx context.Context, event string, payload any) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, event, payload, board.ScopeAll()); err != nil {
		s.logger.Warn("publish_failed", "event", event, "error", err)
	}
}

// record appends an activity and announces it. The mutation it describes has already
// been stored, so a failure here is logged rather than returned.
func (s *Service) record(ctx context.Context, a *board.Activity) {
	if err := s.store.AppendActivity(ctx, a); err != nil {
		s.logger.Error("activity_append_failed", "type", string(a.Type), "task_id", a.TaskID, "error", err)
		return
	}
	s.publish(ctx, board.EventActivityAdded, a)
}

// checkTitle enforces the rules the store cannot: a title is required and may not
// be confused with a column name.
func checkTitle(title string) error {
	if title == "" {
		return apperr.New(apperr.InvalidArgument, "title is required")
	}
	if board.IsColumnName(title) {
		return apperr.New(apperr.InvalidArgument, "task title cannot match column names")
	}
	return nil
}

// storeError maps store failures to coded errors.
func storeError(err error, msg string) error {
	switch {
	case board.IsNotFound(err):
		return apperr.New(apperr.NotFound, "task not found")
	case errors.Is(err, board.ErrDuplicateTitle):
		return apperr.Wrap(apperr.Duplicate, "task title must be unique", err)
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
