package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrDuplicateTitle is returned by CreateTask and WriteTask when another task
// already uses the title.
var ErrDuplicateTitle = errors.New("task title must be unique")

// Client provides board-scoped Redis operations.
// All keys and channels are automatically namespaced with the board name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb       *redis.Client
	boardName string
}

// NewClient creates a new board client for the specified board.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - boardName: board identifier used to namespace keys (must not be empty)
//
// Returns an error if boardName is empty.
func NewClient(redisOpts *redis.Options, boardName string) (*Client, error) {
	if boardName == "" {
		return nil, fmt.Errorf("board name cannot be empty")
	}

	return &Client{
		rdb:       redis.NewClient(redisOpts),
		boardName: boardName,
	}, nil
}

// BoardName returns the namespace this client writes to.
func (c *Client) BoardName() string {
	return c.boardName
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// CreateTask stores a new task and reserves its title.
// Returns ErrDuplicateTitle if the title is taken.
func (c *Client) CreateTask(ctx context.Context, t *Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	t.CreatedAt = t.CreatedAt.UTC().Truncate(time.Millisecond)
	t.LastModified = t.LastModified.UTC().Truncate(time.Millisecond)

	hash, err := TaskToHash(t)
	if err != nil {
		return fmt.Errorf("failed to serialize task: %w", err)
	}

	reserved, err := c.rdb.HSetNX(ctx, TaskTitlesKey(c.boardName), t.Title, t.ID).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve task title: %w", err)
	}
	if !reserved {
		return ErrDuplicateTitle
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, TaskKey(c.boardName, t.ID), hash)
		pipe.ZAdd(ctx, TaskIndexKey(c.boardName), redis.Z{
			Score:  float64(t.CreatedAt.UnixMilli()),
			Member: t.ID,
		})
		return nil
	})
	if err != nil {
		c.rdb.HDel(ctx, TaskTitlesKey(c.boardName), t.Title)
		return fmt.Errorf("failed to write task to Redis: %w", err)
	}

	return nil
}

// GetTask retrieves a task by ID.
// Returns (nil, redis.Nil) if the task doesn't exist.
// Use IsNotFound() to check for not-found errors.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	hashData, err := c.rdb.HGetAll(ctx, TaskKey(c.boardName, taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read task from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	task, err := HashToTask(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize task: %w", err)
	}

	return task, nil
}

// TaskExists checks if a task exists without fetching it.
func (c *Client) TaskExists(ctx context.Context, taskID string) (bool, error) {
	exists, err := c.rdb.Exists(ctx, TaskKey(c.boardName, taskID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check task existence: %w", err)
	}
	return exists > 0, nil
}

// maxTxRetries bounds optimistic retries when a watched key changes under a transaction.
const maxTxRetries = 100

// WriteTask applies fields to the stored task, stamps LastModified with now and
// returns the updated record. Returns (nil, redis.Nil) if the task doesn't exist and
// ErrDuplicateTitle if another task holds the new title.
//
// The read, the title check and the write run under WATCH on the task and the title
// index, so a concurrent rename or delete forces a retry instead of being overwritten.
func (c *Client) WriteTask(ctx context.Context, taskID string, fields TaskFields, now time.Time) (*Task, error) {
	if err := fields.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task fields: %w", err)
	}

	taskKey := TaskKey(c.boardName, taskID)
	titlesKey := TaskTitlesKey(c.boardName)

	var updated *Task
	txf := func(tx *redis.Tx) error {
		hashData, err := tx.HGetAll(ctx, taskKey).Result()
		if err != nil {
			return fmt.Errorf("failed to read task from Redis: %w", err)
		}
		if len(hashData) == 0 {
			return redis.Nil
		}
		task, err := HashToTask(hashData)
		if err != nil {
			return fmt.Errorf("failed to deserialize task: %w", err)
		}

		oldTitle := task.Title
		fields.ApplyTo(task)
		task.LastModified = now.UTC().Truncate(time.Millisecond)
		renamed := task.Title != oldTitle

		if renamed {
			owner, err := tx.HGet(ctx, titlesKey, task.Title).Result()
			if err != nil && !IsNotFound(err) {
				return fmt.Errorf("failed to check task title: %w", err)
			}
			if err == nil && owner != task.ID {
				return ErrDuplicateTitle
			}
		}

		hash, err := TaskToHash(task)
		if err != nil {
			return fmt.Errorf("failed to serialize task: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, taskKey, hash)
			if renamed {
				pipe.HDel(ctx, titlesKey, oldTitle)
				pipe.HSet(ctx, titlesKey, task.Title, task.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}

		updated = task
		return nil
	}

	if err := c.watchRetry(ctx, txf, taskKey, titlesKey); err != nil {
		if IsNotFound(err) || errors.Is(err, ErrDuplicateTitle) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update task in Redis: %w", err)
	}
	return updated, nil
}

// DeleteTask removes a task, its title reservation and its comments.
// The activity log is kept. Returns redis.Nil if the task doesn't exist.
func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	taskKey := TaskKey(c.boardName, taskID)

	txf := func(tx *redis.Tx) error {
		title, err := tx.HGet(ctx, taskKey, "title").Result()
		if err != nil {
			if IsNotFound(err) {
				return redis.Nil
			}
			return fmt.Errorf("failed to read task from Redis: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, taskKey, CommentsKey(c.boardName, taskID))
			pipe.ZRem(ctx, TaskIndexKey(c.boardName), taskID)
			pipe.HDel(ctx, TaskTitlesKey(c.boardName), title)
			return nil
		})
		return err
	}

	if err := c.watchRetry(ctx, txf, taskKey); err != nil {
		if IsNotFound(err) {
			return err
		}
		return fmt.Errorf("failed to delete task from Redis: %w", err)
	}
	return nil
}

// watchRetry runs txf under WATCH on keys, retrying while another client changes them.
func (c *Client) watchRetry(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := c.rdb.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("transaction on %v did not commit after %d attempts", keys, maxTxRetries)
}

// ListTasks returns every task, newest first.
func (c *Client) ListTasks(ctx context.Context) ([]*Task, error) {
	ids, err := c.rdb.ZRevRange(ctx, TaskIndexKey(c.boardName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read task index: %w", err)
	}
	if len(ids) == 0 {
		return []*Task{}, nil
	}

	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, TaskKey(c.boardName, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read tasks from Redis: %w", err)
	}

	tasks := make([]*Task, 0, len(ids))
	for _, cmd := range cmds {
		hashData := cmd.Val()
		if len(hashData) == 0 {
			// Index entry outlived its task; skip it.
			continue
		}
		task, err := HashToTask(hashData)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize task: %w", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}

// AppendActivity adds an entry to the board log and to its task's log.
func (c *Client) AppendActivity(ctx context.Context, a *Activity) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid activity: %w", err)
	}
	a.Timestamp = a.Timestamp.UTC().Truncate(time.Millisecond)

	activityJSON, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	z := redis.Z{Score: ActivityScore(a.Timestamp), Member: string(activityJSON)}
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, ActivitiesKey(c.boardName), z)
		pipe.ZAdd(ctx, TaskActivitiesKey(c.boardName, a.TaskID), z)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write activity to Redis: %w", err)
	}

	return nil
}

// ListActivities returns up to limit activities, newest first. An empty taskID
// reads the board-wide log. limit <= 0 means no limit.
func (c *Client) ListActivities(ctx context.Context, taskID string, limit int64) ([]*Activity, error) {
	key := ActivitiesKey(c.boardName)
	if taskID != "" {
		key = TaskActivitiesKey(c.boardName, taskID)
	}

	stop := int64(-1)
	if limit > 0 {
		stop = limit - 1
	}

	raw, err := c.rdb.ZRevRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read activities: %w", err)
	}

	activities := make([]*Activity, 0, len(raw))
	for _, member := range raw {
		var a Activity
		if err := json.Unmarshal([]byte(member), &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal activity: %w", err)
		}
		activities = append(activities, &a)
	}

	return activities, nil
}

// AddComment appends a comment to its task's list.
func (c *Client) AddComment(ctx context.Context, comment *Comment) error {
	if err := comment.Validate(); err != nil {
		return fmt.Errorf("invalid comment: %w", err)
	}
	comment.CreatedAt = comment.CreatedAt.UTC().Truncate(time.Millisecond)

	commentJSON, err := json.Marshal(comment)
	if err != nil {
		return fmt.Errorf("failed to marshal comment: %w", err)
	}

	if err := c.rdb.RPush(ctx, CommentsKey(c.boardName, comment.TaskID), string(commentJSON)).Err(); err != nil {
		return fmt.Errorf("failed to write comment to Redis: %w", err)
	}

	return nil
}

// ListComments returns a task's comments, oldest first.
func (c *Client) ListComments(ctx context.Context, taskID string) ([]*Comment, error) {
	raw, err := c.rdb.LRange(ctx, CommentsKey(c.boardName, taskID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read comments: %w", err)
	}

	comments := make([]*Comment, 0, len(raw))
	for _, item := range raw {
		var comment Comment
		if err := json.Unmarshal([]byte(item), &comment); err != nil {
			return nil, fmt.Errorf("failed to unmarshal comment: %w", err)
		}
		comments = append(comments, &comment)
	}

	return comments, nil
}

// SaveUser creates or replaces a user's display data.
func (c *Client) SaveUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		return fmt.Errorf("user ID cannot be empty")
	}

	userJSON, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	if err := c.rdb.HSet(ctx, UsersKey(c.boardName), u.ID, string(userJSON)).Err(); err != nil {
		return fmt.Errorf("failed to write user to Redis: %w", err)
	}

	return nil
}

// GetUser retrieves a user by ID.
// Returns (nil, redis.Nil) if the user is unknown.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	raw, err := c.rdb.HGet(ctx, UsersKey(c.boardName), userID).Result()
	if err != nil {
		if IsNotFound(err) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("failed to read user from Redis: %w", err)
	}

	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &u, nil
}

// ListUsers returns every registered user ordered by ID.
func (c *Client) ListUsers(ctx context.Context) ([]*User, error) {
	raw, err := c.rdb.HGetAll(ctx, UsersKey(c.boardName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read users from Redis: %w", err)
	}

	users := make([]*User, 0, len(raw))
	for _, item := range raw {
		var u User
		if err := json.Unmarshal([]byte(item), &u); err != nil {
			return nil, fmt.Errorf("failed to unmarshal user: %w", err)
		}
		users = append(users, &u)
	}

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// PublishEvent publishes an envelope on the board's event channel.
func (c *Client) PublishEvent(ctx context.Context, env *Envelope) error {
	if err := env.Scope.Validate(); err != nil {
		return fmt.Errorf("invalid envelope scope: %w", err)
	}

	envJSON, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := c.rdb.Publish(ctx, EventsChannel(c.boardName), envJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish board event: %w", err)
	}

	return nil
}

// EventSubscription represents an active Pub/Sub subscription to board events.
// Caller must call Close() when done to clean up resources.
type EventSubscription struct {
	events <-chan *Envelope
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of envelopes.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *EventSubscription) Events() <-chan *Envelope {
	return s.events
}

// Errors returns the channel of subscription errors.
// The subscription continues after errors - malformed messages are skipped.
func (s *EventSubscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *EventSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeEvents subscribes to the board's event channel.
// The subscription is confirmed by Redis before this returns, so nothing
// published afterwards is missed.
//
// Events are delivered on a buffered channel (size 64). Redis Pub/Sub is
// at-most-once: a subscriber that falls too far behind loses messages.
func (c *Client) SubscribeEvents(ctx context.Context) (*EventSubscription, error) {
	pubsub := c.rdb.Subscribe(ctx, EventsChannel(c.boardName))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to board events: %w", err)
	}

	eventsChan := make(chan *Envelope, 64)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal board event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &env:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &EventSubscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
