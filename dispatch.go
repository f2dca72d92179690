package sipcore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vbohinc/sipcore/appserver"
	"github.com/vbohinc/sipcore/log"
	"github.com/vbohinc/sipcore/sip"
	"github.com/vbohinc/sipcore/worker"
)

// Router is the worker Dispatcher that drives the application-server
// framework: in-dialog requests go to whichever service bound their
// dialog, initial requests to the service iFC routing resolved, and
// everything else to Fallback (the engine's default routing).
type Router struct {
	Registry *appserver.Registry
	// ResolveService maps an initial request to the ServiceName its
	// iFC evaluation produced ("<service>.<home_domain>"), or "" when
	// no filter criteria matched.
	ResolveService func(req *sip.Request) string
	// Fallback handles messages no service claimed. Nil means drop
	// with a debug log.
	Fallback worker.Dispatcher
	Logger   *slog.Logger
}

// Dispatch implements worker.Dispatcher.
func (r *Router) Dispatch(ctx context.Context, msg sip.Message) {
	req, ok := msg.(*sip.Request)
	if !ok {
		r.fallback(ctx, msg)
		return
	}
	logger := r.logger().With("trail", string(req.Trail()), "method", string(req.Method))

	dialogID := appserver.DeriveDialogID(req)
	_, err := r.Registry.DispatchInDialog(ctx, dialogID, req)
	if err == nil {
		return
	}
	if !errors.Is(err, appserver.ErrServiceDeclined) {
		logger.Error("in-dialog dispatch failed", "dialog", dialogID, "error", err)
		return
	}

	if r.ResolveService != nil {
		if name := r.ResolveService(req); name != "" {
			_, err := r.Registry.DispatchInitial(ctx, name, req)
			if err == nil {
				return
			}
			if !errors.Is(err, appserver.ErrServiceDeclined) {
				logger.Error("service dispatch failed", "service", name, "error", err)
				return
			}
			logger.Debug("service declined, falling through to default routing", "service", name)
		}
	}

	r.fallback(ctx, msg)
}

func (r *Router) fallback(ctx context.Context, msg sip.Message) {
	if r.Fallback != nil {
		r.Fallback(ctx, msg)
		return
	}
	r.logger().Debug("no route for message, dropping", "call_id", msg.CallID())
}

func (r *Router) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}
