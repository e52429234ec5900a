package board

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and the Pub/Sub channel are namespaced by board name so several
// boards can share one Redis server.
//
// Key pattern: kollab:{board_name}:{entity}[:{id}]
// Channel pattern: kollab:{board_name}:events

// TaskKey returns the Redis key for a task hash.
// Pattern: kollab:{board_name}:task:{task_id}
func TaskKey(boardName, taskID string) string {
	return fmt.Sprintf("kollab:%s:task:%s", boardName, taskID)
}

// TaskIndexKey returns the Redis key for the zset of all task IDs scored by creation time.
// Pattern: kollab:{board_name}:tasks
func TaskIndexKey(boardName string) string {
	return fmt.Sprintf("kollab:%s:tasks", boardName)
}

// TaskTitlesKey returns the Redis key for the title -> task ID uniqueness index.
// Pattern: kollab:{board_name}:task_titles
func TaskTitlesKey(boardName string) string {
	return fmt.Sprintf("kollab:%s:task_titles", boardName)
}

// ActivitiesKey returns the Redis key for the board-wide activity log.
// Pattern: kollab:{board_name}:activities
func ActivitiesKey(boardName string) string {
	return fmt.Sprintf("kollab:%s:activities", boardName)
}

// TaskActivitiesKey returns the Redis key for one task's activity log.
// Pattern: kollab:{board_name}:task:{task_id}:activities
func TaskActivitiesKey(boardName, taskID string) string {
	return fmt.Sprintf("kollab:%s:task:%s:activities", boardName, taskID)
}

// CommentsKey returns the Redis key for one task's comment list.
// Pattern: kollab:{board_name}:task:{task_id}:comments
func CommentsKey(boardName, taskID string) string {
	return fmt.Sprintf("kollab:%s:task:%s:comments", boardName, taskID)
}

// UsersKey returns the Redis key for the user directory hash.
// Pattern: kollab:{board_name}:users
func UsersKey(boardName string) string {
	return fmt.Sprintf("kollab:%s:users", boardName)
}

// EventsChannel returns the Pub/Sub channel carrying realtime envelopes.
// Pattern: kollab:{board_name}:events
func EventsChannel(boardName string) string {
	return fmt.Sprintf("kollab:%s:events", boardName)
}
