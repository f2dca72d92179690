package appserver

import (
	"context"
	"strings"
	"sync"

	"github.com/vbohinc/sipcore/internal/errorutil"
	"github.com/vbohinc/sipcore/sip"
)

// ErrServiceDeclined is returned by the dispatch entry points when no
// registered service's factory produced a handler for the request;
// the caller lets the request pass through to default routing.
const ErrServiceDeclined errorutil.Error = "appserver: service declined"

// Registry holds the named service implementations registered at
// startup, and the live dialog -> service bindings created by
// ServiceContext.AddToDialog.
type Registry struct {
	HomeDomain string
	Transport  Transport
	Responder  Responder
	// Resolver, when set, maps fork target URIs to concrete
	// destinations before they are handed to Transport.
	Resolver Resolver

	mu        sync.Mutex
	factories map[string]Factory
	dialogs   map[string]string // dialogID -> service name
}

// NewRegistry returns an empty Registry for the given home domain.
func NewRegistry(homeDomain string, transport Transport, responder Responder) *Registry {
	return &Registry{
		HomeDomain: homeDomain,
		Transport:  transport,
		Responder:  responder,
		factories:  make(map[string]Factory),
		dialogs:    make(map[string]string),
	}
}

// Register adds a named service factory. serviceName is the bare
// service name; it is matched against ServiceName values of the form
// "<service_name>.<home_domain>".
func (r *Registry) Register(serviceName string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[serviceName] = f
}

func (r *Registry) factoryFor(serviceName string) (Factory, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.factories[serviceName]
	return f, ok
}

func (r *Registry) bindDialog(dialogID, serviceName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialogs[dialogID] = serviceName
}

func (r *Registry) serviceForDialog(dialogID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.dialogs[dialogID]
	return name, ok
}

// bareServiceName strips ".<home_domain>" from a full ServiceName of
// the form "<service_name>.<home_domain>" iFC routing resolved to.
func (r *Registry) bareServiceName(serviceName string) string {
	suffix := "." + r.HomeDomain
	return strings.TrimSuffix(serviceName, suffix)
}

// DispatchInitial handles an initial request routed (by iFC) to
// serviceName. It instantiates the named service's handler and
// invokes OnInitialRequest; on return, unless the handler rejected
// the transaction or already answered it, the request is forwarded to
// every target added via AddTarget, or to its original Request-URI if
// none were added.
func (r *Registry) DispatchInitial(ctx context.Context, serviceName string, req *sip.Request) (*TxContext, error) {
	factory, ok := r.factoryFor(r.bareServiceName(serviceName))
	if !ok {
		return nil, ErrServiceDeclined
	}

	svc := newServiceContext(req, r, r.bareServiceName(serviceName))
	handler := factory(svc, req)
	if handler == nil {
		return nil, ErrServiceDeclined
	}

	tx := &TxContext{Service: svc, Handler: handler}
	handler.OnInitialRequest(ctx, tx, req)

	if err := r.forwardIfUnanswered(ctx, svc, req); err != nil {
		return tx, err
	}
	return tx, nil
}

// DispatchInDialog routes an in-dialog request to whichever service
// previously bound dialogID via AddToDialog. The service's factory is
// re-invoked for the new transaction, with the dialog identifier
// inherited; forwarding semantics match DispatchInitial.
func (r *Registry) DispatchInDialog(ctx context.Context, dialogID string, req *sip.Request) (*TxContext, error) {
	serviceName, ok := r.serviceForDialog(dialogID)
	if !ok {
		return nil, ErrServiceDeclined
	}
	factory, ok := r.factoryFor(serviceName)
	if !ok {
		return nil, ErrServiceDeclined
	}

	svc := newServiceContext(req, r, serviceName)
	svc.dialogID = dialogID
	handler := factory(svc, req)
	if handler == nil {
		return nil, ErrServiceDeclined
	}

	tx := &TxContext{Service: svc, Handler: handler}
	if h, ok := handler.(InDialogHandler); ok {
		h.OnInDialogRequest(ctx, tx, req)
	}

	if err := r.forwardIfUnanswered(ctx, svc, req); err != nil {
		return tx, err
	}
	return tx, nil
}

func (r *Registry) forwardIfUnanswered(ctx context.Context, svc *ServiceContext, req *sip.Request) error {
	svc.mu.Lock()
	answered := svc.rejected || svc.finalSent
	forked := len(svc.forks) > 0
	svc.mu.Unlock()

	if answered || forked {
		return nil
	}
	_, err := svc.AddTarget(ctx, req.RequestURI, nil)
	return err
}

// HandleForkResponse delivers a downstream fork's response to the
// handler's optional OnResponse callback, implementing the
// forward/drop consolidation rule: a forwarded final response goes
// upstream after best-response selection across forks; a dropped one
// either leaves newly added forks in flight or is discarded.
func (r *Registry) HandleForkResponse(ctx context.Context, tx *TxContext, rsp *sip.Response, forkID int) {
	svc := tx.Service

	svc.mu.Lock()
	f, ok := svc.forks[forkID]
	if ok && rsp.StatusCode.Final() {
		f.final = rsp
	}
	forksBefore := len(svc.forks)
	svc.mu.Unlock()

	forward := true
	if rh, ok := tx.Handler.(ResponseHandler); ok {
		forward = rh.OnResponse(ctx, tx, rsp, forkID)
	}

	if forward {
		if rsp.StatusCode.Final() {
			best := svc.bestFinalResponse()
			svc.SendResponse(ctx, best)
		} else {
			svc.SendResponse(ctx, rsp)
		}
		return
	}

	svc.mu.Lock()
	forksAfter := len(svc.forks)
	svc.mu.Unlock()
	if forksAfter > forksBefore {
		// The handler added new targets while deciding to drop this
		// response: those new forks were already sent by AddTarget,
		// nothing further to do here.
		return
	}
	// Otherwise the response is simply discarded.
}

// HandleForkError surfaces a transport error or transaction timeout
// on forkID to the service as a synthesized 408, then runs the normal
// consolidation path.
func (r *Registry) HandleForkError(ctx context.Context, tx *TxContext, forkID int) {
	rsp := sip.NewResponse(sip.StatusRequestTimeout, "Request Timeout")
	rsp.SetTrail(tx.Service.Trail())
	r.HandleForkResponse(ctx, tx, rsp, forkID)
}

// HandleCancel reacts to the inbound leg terminating: 487 for a
// received CANCEL, 408 for a transport error. The handler's optional
// OnCancel runs first; outstanding downstream forks are then canceled
// unconditionally.
func (r *Registry) HandleCancel(ctx context.Context, tx *TxContext, code sip.StatusCode) {
	if ch, ok := tx.Handler.(CancelHandler); ok {
		ch.OnCancel(ctx, tx, code)
	}
	tx.Service.CancelOutstanding(ctx)
}

// bestFinalResponse selects the best final response across all forks
// per standard SIP forking rules: the lowest 2xx if any fork
// succeeded, else the numerically lowest non-2xx final response, else
// a synthesized 480.
func (c *ServiceContext) bestFinalResponse() *sip.Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	var best *sip.Response
	for _, f := range c.forks {
		if f.final == nil || !f.final.StatusCode.Final() {
			continue
		}
		switch {
		case best == nil:
			best = f.final
		case f.final.StatusCode.Success() && !best.StatusCode.Success():
			best = f.final
		case f.final.StatusCode.Success() == best.StatusCode.Success() && f.final.StatusCode < best.StatusCode:
			best = f.final
		}
	}
	if best == nil {
		best = sip.NewResponse(sip.StatusTemporarilyUnavail, "Temporarily Unavailable")
	}
	return best
}
