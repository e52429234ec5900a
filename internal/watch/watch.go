// Package watch streams board events for the `kollab watch` command.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/Nash0810/kollab-board/pkg/board"
)

// OutputFormat selects how events are rendered.
type OutputFormat string

const (
	OutputFormatDefault OutputFormat = "default"
	OutputFormatJSON    OutputFormat = "json"
)

// ParseOutputFormat validates a --output value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatDefault, OutputFormatJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format: %q", s)
	}
}

// Subscriber opens a stream of board events.
type Subscriber interface {
	SubscribeEvents(ctx context.Context) (*board.EventSubscription, error)
}

// Options narrows the stream.
type Options struct {
	// Events keeps only the named events. Empty keeps everything.
	Events []string
	// TaskID keeps only events about one task.
	TaskID string
}

func (o Options) matches(env *board.Envelope) bool {
	if len(o.Events) > 0 {
		found := false
		for _, e := range o.Events {
			if e == env.Event {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if o.TaskID != "" && taskIDOf(env) != o.TaskID {
		return false
	}
	return true
}

// StreamEvents renders every board event to w until ctx is cancelled.
func StreamEvents(ctx context.Context, sub Subscriber, format OutputFormat, opts Options, w io.Writer) error {
	f, err := newFormatter(format, w)
	if err != nil {
		return err
	}

	subscription, err := sub.SubscribeEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to board events: %w", err)
	}
	defer subscription.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case env, ok := <-subscription.Events():
			if !ok {
				return nil
			}
			if !opts.matches(env) {
				continue
			}
			if err := f.FormatEnvelope(env); err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}

		case subErr, ok := <-subscription.Errors():
			if !ok {
				continue
			}
			if err := f.FormatError(subErr); err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}
		}
	}
}

// formatter renders envelopes.
type formatter interface {
	FormatEnvelope(env *board.Envelope) error
	FormatError(err error) error
}

func newFormatter(format OutputFormat, w io.Writer) (formatter, error) {
	switch format {
	case OutputFormatDefault, "":
		return &defaultFormatter{writer: w}, nil
	case OutputFormatJSON:
		return &jsonFormatter{writer: w}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %q", format)
	}
}

var (
	lockColor     = color.New(color.FgYellow)
	unlockColor   = color.New(color.FgGreen)
	conflictColor = color.New(color.FgRed, color.Bold)
	updateColor   = color.New(color.FgCyan)
	deleteColor   = color.New(color.FgMagenta)
)

// defaultFormatter writes one human-readable line per event.
type defaultFormatter struct {
	writer io.Writer
}

func (f *defaultFormatter) FormatEnvelope(env *board.Envelope) error {
	line, c := describe(env)
	ts := env.SentAt
	if ts.IsZero() {
		ts = time.Now()
	}
	prefix := fmt.Sprintf("[%s] ", ts.Local().Format("15:04:05"))
	if c == nil {
		_, err := fmt.Fprintf(f.writer, "%s%s\n", prefix, line)
		return err
	}
	_, err := fmt.Fprintf(f.writer, "%s%s\n", prefix, c.Sprint(line))
	return err
}

func (f *defaultFormatter) FormatError(err error) error {
	_, werr := fmt.Fprintf(f.writer, "⚠️  %v\n", err)
	return werr
}

// describe turns an envelope into a line of text and the color to print it in.
func describe(env *board.Envelope) (string, *color.Color) {
	switch env.Event {
	case board.EventTaskLocked:
		var p board.LockPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return fmt.Sprintf("🔒 Task locked: task=%s, editor=%s", p.TaskID, p.EditorID), lockColor
		}

	case board.EventTaskUnlocked:
		var p board.UnlockPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return fmt.Sprintf("🔓 Task unlocked: task=%s, reason=%s", p.TaskID, p.Reason), unlockColor
		}

	case board.EventEditConflict:
		var p board.ConflictPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return fmt.Sprintf("⚔️  Edit conflict: task=%s, held by=%s", p.TaskID, p.CurrentEditor), conflictColor
		}

	case board.EventTaskUpdated:
		var deleted board.DeletedPayload
		if json.Unmarshal(env.Payload, &deleted) == nil && deleted.Deleted {
			return fmt.Sprintf("🗑️  Task deleted: id=%s", deleted.ID), deleteColor
		}
		var t board.Task
		if json.Unmarshal(env.Payload, &t) == nil {
			return fmt.Sprintf("📝 Task updated: title=%q, status=%s, priority=%s, id=%s", t.Title, t.Status, t.Priority, t.ID), updateColor
		}

	case board.EventActivityAdded:
		var a board.Activity
		if json.Unmarshal(env.Payload, &a) == nil {
			return fmt.Sprintf("📋 %s: task=%s, by=%s", a.Type, a.TaskID, a.UserID), nil
		}

	case board.EventCommentAdded:
		var c board.Comment
		if json.Unmarshal(env.Payload, &c) == nil {
			return fmt.Sprintf("💬 Comment added: task=%s, by=%s: %s", c.TaskID, c.UserID, c.Content), nil
		}
	}
	return fmt.Sprintf("• %s %s", env.Event, string(env.Payload)), nil
}

// taskIDOf extracts the task an event is about, if any.
func taskIDOf(env *board.Envelope) string {
	var probe struct {
		ID     string `json:"id"`
		TaskID string `json:"taskId"`
	}
	if json.Unmarshal(env.Payload, &probe) != nil {
		return ""
	}
	if env.Event == board.EventTaskUpdated {
		return probe.ID
	}
	return probe.TaskID
}

// jsonFormatter writes line-delimited JSON.
type jsonFormatter struct {
	writer io.Writer
}

type jsonLine struct {
	Event  string          `json:"event"`
	Scope  board.Scope     `json:"scope"`
	Data   json.RawMessage `json:"data,omitempty"`
	SentAt time.Time       `json:"sentAt"`
	Origin string          `json:"origin,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (f *jsonFormatter) FormatEnvelope(env *board.Envelope) error {
	return f.write(jsonLine{
		Event:  env.Event,
		Scope:  env.Scope,
		Data:   env.Payload,
		SentAt: env.SentAt,
		Origin: env.Origin,
	})
}

func (f *jsonFormatter) FormatError(err error) error {
	return f.write(jsonLine{Event: "error", Error: err.Error(), SentAt: time.Now().UTC()})
}

func (f *jsonFormatter) write(line jsonLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = f.writer.Write(data)
	return err
}
