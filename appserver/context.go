// Package appserver implements the service-transaction context and
// application-server framework: the primitive operations a pluggable
// service invokes on its transaction, and the registry that
// instantiates services and consolidates their downstream fork
// responses.
package appserver

import (
	"context"
	"sync"

	"github.com/vbohinc/sipcore/header"
	"github.com/vbohinc/sipcore/sip"
)

// Transport is the stateful downstream collaborator a ServiceContext
// forks requests through. dest is a resolved destination in
// "host:port/transport" form, or the raw target URI when no resolver
// is configured.
type Transport interface {
	SendRequest(ctx context.Context, dest string, req *sip.Request) error
	CancelRequest(ctx context.Context, dest string, req *sip.Request) error
}

// Responder emits a response on the inbound transport the original
// request arrived on — used for stateless rejects and for forwarding
// the winning final response upstream.
type Responder interface {
	SendStateless(ctx context.Context, rsp *sip.Response, forReq *sip.Request)
}

// fork is the per-fork state a ServiceContext owns: the target, the
// resolved destination, the (possibly diverged) request sent to it,
// and whatever final response has come back so far.
type fork struct {
	id       int
	target   string
	dest     string
	request  *sip.Request
	final    *sip.Response
	canceled bool
}

// ServiceContext is a per-transaction object whose lifetime equals
// the SIP transaction it serves. It owns the original request, its
// fork table, the dialog binding, and the correlation trail id.
// Ownership is exclusive: no service-layer code retains a reference
// past transaction termination.
type ServiceContext struct {
	mu sync.Mutex

	request  *sip.Request
	trail    sip.TrailID
	dialogID string

	forks      map[int]*fork
	nextForkID int

	rejected  bool
	finalSent bool

	transport Transport
	responder Responder
	resolver  Resolver

	registry    *Registry
	serviceName string
}

func newServiceContext(req *sip.Request, reg *Registry, serviceName string) *ServiceContext {
	c := &ServiceContext{
		request:     req,
		trail:       req.Trail(),
		forks:       make(map[int]*fork),
		registry:    reg,
		serviceName: serviceName,
	}
	if reg != nil {
		c.transport = reg.Transport
		c.responder = reg.Responder
		c.resolver = reg.Resolver
	}
	return c
}

// Trail returns the correlation identifier to use for any diagnostic
// event derived from this transaction.
func (c *ServiceContext) Trail() sip.TrailID { return c.trail }

// DialogID returns the established or inherited dialog identifier, or
// "" if none has been set.
func (c *ServiceContext) DialogID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialogID
}

// AddToDialog registers this service as associated with dialogID, so
// that subsequent in-dialog requests on it re-invoke this service's
// factory. If dialogID is "", one is deterministically derived from
// the request's Call-ID and From tag.
func (c *ServiceContext) AddToDialog(dialogID string) {
	c.mu.Lock()
	if dialogID == "" {
		dialogID = DeriveDialogID(c.request)
	}
	c.dialogID = dialogID
	serviceName := c.serviceName
	registry := c.registry
	c.mu.Unlock()

	if registry != nil {
		registry.bindDialog(dialogID, serviceName)
	}
}

// DeriveDialogID deterministically derives a dialog identifier from a
// request's Call-ID and From tag.
func DeriveDialogID(req *sip.Request) string {
	callID := req.CallID()
	fromTag := ""
	if h, ok := req.Header("From"); ok {
		if from, ok := h.(*header.From); ok {
			fromTag = from.Tag
		}
	}
	return callID + "|" + fromTag
}

// CloneRequest produces a deep, independently owned copy of msg, used
// to diverge per fork before AddTarget sends it downstream.
func (c *ServiceContext) CloneRequest(msg *sip.Request) *sip.Request {
	return msg.Clone().(*sip.Request) //nolint:forcetypeassert
}

// AddTarget adds a downstream target, returning a unique,
// monotonically increasing fork id within this transaction. If req is
// nil, the original request is used (cloned, so the original stays
// immutable across forks). The target URI's host is resolved to a
// concrete destination before the request is handed to the transport.
func (c *ServiceContext) AddTarget(ctx context.Context, target string, req *sip.Request) (int, error) {
	dest, err := c.resolveTarget(ctx, target)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	if req == nil {
		req = c.CloneRequest(c.request)
	}
	id := c.nextForkID
	c.nextForkID++
	c.forks[id] = &fork{id: id, target: target, dest: dest, request: req}
	c.mu.Unlock()

	if err := c.transport.SendRequest(ctx, dest, req); err != nil {
		return id, err
	}
	return id, nil
}

// Reject short-circuits the transaction: a stateless final response
// with the given status is sent immediately and forking is disabled.
// Valid only while handling the initial request, before any
// SendResponse.
func (c *ServiceContext) Reject(ctx context.Context, code sip.StatusCode, text string) {
	c.mu.Lock()
	c.rejected = true
	c.finalSent = true
	c.mu.Unlock()

	rsp := sip.NewResponse(code, text)
	rsp.SetTrail(c.trail)
	c.responder.SendStateless(ctx, rsp, c.request)
}

// Rejected reports whether Reject has been called on this context.
func (c *ServiceContext) Rejected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejected
}

// FinalSent reports whether a final response has gone upstream, via
// either Reject or SendResponse.
func (c *ServiceContext) FinalSent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalSent
}

// SendResponse sends a provisional or final response upstream. If msg
// is a final response to a forked INVITE, all outstanding forks
// without a final response yet are canceled. Only one final goes
// upstream per transaction; later finals are dropped.
func (c *ServiceContext) SendResponse(ctx context.Context, msg *sip.Response) {
	final := msg.StatusCode.Final()
	if final {
		c.mu.Lock()
		already := c.finalSent
		c.finalSent = true
		c.mu.Unlock()
		if already {
			return
		}
	}

	msg.SetTrail(c.trail)
	c.responder.SendStateless(ctx, msg, c.request)

	if final && c.request.Method == sip.INVITE {
		c.CancelOutstanding(ctx)
	}
}

// CancelOutstanding cancels every fork that has neither returned a
// final response nor already been canceled.
func (c *ServiceContext) CancelOutstanding(ctx context.Context) {
	c.mu.Lock()
	toCancel := make([]*fork, 0, len(c.forks))
	for _, f := range c.forks {
		if f.final == nil && !f.canceled {
			f.canceled = true
			toCancel = append(toCancel, f)
		}
	}
	c.mu.Unlock()

	for _, f := range toCancel {
		_ = c.transport.CancelRequest(ctx, f.dest, f.request)
	}
}
