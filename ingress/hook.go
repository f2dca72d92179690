// Package ingress implements the transport ingress hook: the entry
// point the SIP transport calls on every received message,
// responsible for cloning it onto the event queue and telling the
// transport the message has been absorbed.
package ingress

import (
	"context"
	"log/slog"

	"github.com/vbohinc/sipcore/internal/randutils"
	"github.com/vbohinc/sipcore/queue"
	"github.com/vbohinc/sipcore/sip"
)

// Aborter terminates the process when the queue watchdog trips. In
// production this is os.Exit; tests inject a recording stub.
type Aborter func()

// Responder emits a stateless response without going through the
// queue — used here only for the backpressure 503.
type Responder interface {
	SendStateless(ctx context.Context, rsp *sip.Response, forReq *sip.Request)
}

// Histogram is the minimal sink the queue-depth table needs to satisfy.
type Histogram interface {
	Observe(value float64)
}

// Hook is registered with the SIP engine at a priority placing it
// immediately after initial parsing but before any routing logic.
type Hook struct {
	Queue     *queue.Queue
	Responder Responder
	QueueSize Histogram
	Logger    *slog.Logger
	Abort     Aborter
}

// Receive traces, clones and enqueues one received message. It always
// returns true ("absorbed"): the transport must not attempt its own
// dispatch of msg regardless of whether this hook enqueued it.
func (h *Hook) Receive(ctx context.Context, msg sip.Message) bool {
	logger := h.logger()

	if msg.Trail() == "" {
		msg.SetTrail(sip.TrailID(randutils.RandString(16)))
	}
	logger.Debug("message received", "trail", string(msg.Trail()), "call_id", msg.CallID())

	if h.Queue.IsDeadlocked() {
		logger.Error("queue watchdog tripped, aborting process", "trail", string(msg.Trail()))
		if h.Abort != nil {
			h.Abort()
		}
		return true
	}

	clone, err := h.clone(msg)
	if err != nil {
		logger.Error("message clone failed, dropping", "error", err, "trail", string(msg.Trail()))
		return true
	}
	clone.SetTrail(msg.Trail())

	if h.QueueSize != nil {
		h.QueueSize.Observe(float64(h.Queue.Size()))
	}

	item := queue.NewMessageItem(clone)
	if !h.Queue.Push(item) {
		logger.Warn("queue at high watermark, rejecting with 503", "trail", string(msg.Trail()))
		h.reject503(ctx, clone)
		return true
	}
	return true
}

func (h *Hook) clone(msg sip.Message) (msgClone sip.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			msgClone = nil
			err = cloneFailure{r}
		}
	}()
	return msg.Clone(), nil
}

type cloneFailure struct{ reason any }

func (e cloneFailure) Error() string { return "clone failed" }

func (h *Hook) reject503(ctx context.Context, msg sip.Message) {
	req, ok := msg.(*sip.Request)
	if !ok || req.IsACK() || h.Responder == nil {
		return
	}
	rsp := sip.NewResponse(sip.StatusServiceUnavailable, "Service Unavailable")
	rsp.SetTrail(msg.Trail())
	h.Responder.SendStateless(ctx, rsp, req)
}

func (h *Hook) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
