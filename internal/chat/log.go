// Package chat owns the set of conversation sessions and the active
// transcript. Local updates are optimistic; the server's reply (or an error
// stand-in) only ever follows the user's turn, never replaces it.
package chat

import (
	"fmt"
	"sync/atomic"
	"time"

	"kbchat/internal/api"
)

// EventKind enumerates transcript events.
type EventKind int

const (
	// EventAppendUser appends an optimistic user turn.
	EventAppendUser EventKind = iota
	// EventAppendAssistant appends a confirmed assistant turn.
	EventAppendAssistant
	// EventAppendError appends a synthetic assistant-role failure entry.
	EventAppendError
	// EventReplaceAll swaps the whole transcript (session select).
	EventReplaceAll
	// EventClear empties the transcript.
	EventClear
)

// Event is one transition of the transcript log.
type Event struct {
	Kind     EventKind
	Message  api.Message
	Messages []api.Message
}

// MessageLog is an append-only transcript. Apply never mutates its input,
// so snapshots handed to consumers stay stable.
type MessageLog []api.Message

// Apply reduces an event onto the log and returns the next log.
func Apply(log MessageLog, ev Event) MessageLog {
	switch ev.Kind {
	case EventAppendUser, EventAppendAssistant, EventAppendError:
		next := make(MessageLog, len(log), len(log)+1)
		copy(next, log)
		return append(next, ev.Message)
	case EventReplaceAll:
		next := make(MessageLog, len(ev.Messages))
		copy(next, ev.Messages)
		return next
	case EventClear:
		return MessageLog{}
	default:
		return log
	}
}

// localSeq feeds client-generated message ids. Seeded with wall-clock
// milliseconds so ids stay unique across process restarts within a session's
// lifetime, then strictly monotonic within the process.
var localSeq atomic.Int64

func init() {
	localSeq.Store(time.Now().UnixMilli())
}

// NextLocalID returns a fresh client-generated message id.
func NextLocalID() string {
	return fmt.Sprintf("local-%d", localSeq.Add(1))
}

// ErrorMessage builds the synthetic assistant entry that stands in for a
// failed reply. The user's own turn stays in the transcript untouched.
func ErrorMessage(reason error) api.Message {
	return api.Message{
		ID:        NextLocalID(),
		Role:      api.RoleAssistant,
		Content:   fmt.Sprintf("Sorry, something went wrong: %v", reason),
		CreatedAt: time.Now(),
	}
}
