// Package board provides type-safe Go definitions and the Redis schema for the
// kollab task board.
//
// # Overview
//
// The board is the shared state every kollab component reads and writes: tasks,
// the append-only activity log, per-task comments and the registered users. It
// also owns the board's Pub/Sub event channel, which carries every realtime
// envelope (task-updated, task-locked, edit-conflict, ...) so that each server
// process and each `kollab watch` observer sees the same ordered stream.
//
// Edit locks are deliberately absent from this package. They live in memory in
// the edit coordinator and are never persisted.
//
// # Core Concepts
//
// Tasks are mutable records. Every accepted write goes through WriteTask, which
// stamps LastModified with the mutation time; clients use that field to detect
// that their local copy is stale.
//
// Activities are immutable audit entries, one per mutating operation.
//
// Envelopes wrap a single realtime event together with its delivery scope
// (everyone, everyone but one connection or user, one connection, one user, or
// the members of a task room).
//
// # Usage Example
//
//	client, err := board.NewClient(&redis.Options{Addr: "localhost:6379"}, "main")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	task, err := client.GetTask(ctx, taskID)
//	if board.IsNotFound(err) {
//		// no such task
//	}
//
// # Redis Schema
//
// All Redis keys follow the pattern: kollab:{board_name}:{entity}[:{id}]
//
// Tasks: kollab:{board_name}:task:{task_id} (hash)
// Task index: kollab:{board_name}:tasks (zset, score = created_at_ms)
// Title index: kollab:{board_name}:task_titles (hash, title -> task_id)
// Activity log: kollab:{board_name}:activities (zset of JSON, score = timestamp ms)
// Task activity log: kollab:{board_name}:task:{task_id}:activities
// Comments: kollab:{board_name}:task:{task_id}:comments (list of JSON)
// Users: kollab:{board_name}:users (hash, user_id -> JSON)
//
// Pub/Sub channel: kollab:{board_name}:events
package board
