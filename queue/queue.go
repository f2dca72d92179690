// Package queue implements the event queue: a strict-FIFO work queue
// shared between the transport ingress hook and the worker pool,
// instrumented for depth and stuck-consumer detection.
//
// The buffering and the blocking wait are collapsed into one
// mutex/condition-variable guarded slice rather than a channel, since
// the watchdog needs to inspect "oldest waiting item" state that a
// channel cannot expose.
package queue

import (
	"time"

	"github.com/vbohinc/sipcore/sip"
)

// Kind discriminates the two WorkItem variants.
type Kind int

const (
	// KindMessage carries a cloned, already-parsed SIP message.
	KindMessage Kind = iota
	// KindCallback carries a deferred action.
	KindCallback
)

// WorkItem is the unit the queue transports: either a cloned SIP
// message with its arrival stopwatch, or a deferred callback.
//
// Ownership is exclusive: once popped, the item belongs to the
// draining worker alone.
type WorkItem struct {
	Kind Kind

	// Message is set when Kind == KindMessage.
	Message sip.Message
	// ArrivedAt records when the item was pushed, for latency
	// accounting once the worker finishes processing it.
	ArrivedAt time.Time

	// Run is set when Kind == KindCallback; invoked once by the
	// worker, then discarded.
	Run func()
}

// NewMessageItem builds a Message-variant work item, stamping its
// arrival time now.
func NewMessageItem(msg sip.Message) WorkItem {
	return WorkItem{Kind: KindMessage, Message: msg, ArrivedAt: time.Now()}
}

// NewCallbackItem builds a Callback-variant work item.
func NewCallbackItem(run func()) WorkItem {
	return WorkItem{Kind: KindCallback, Run: run, ArrivedAt: time.Now()}
}
