package appserver

import (
	"context"

	"github.com/vbohinc/sipcore/sip"
)

// Handler is the per-transaction polymorphic contract a service
// factory produces. OnInitialRequest is mandatory; the rest are
// optional capabilities a concrete handler may additionally
// implement, checked with a type assertion at the call site.
type Handler interface {
	// OnInitialRequest handles the request that created this
	// transaction. On return, unless Reject was called or a final
	// response was already sent, the request is forwarded to all added
	// targets (or the original Request-URI if none were added).
	OnInitialRequest(ctx context.Context, tx *TxContext, req *sip.Request)
}

// InDialogHandler is implemented by a Handler that wants in-dialog
// requests on its bound dialog.
type InDialogHandler interface {
	OnInDialogRequest(ctx context.Context, tx *TxContext, req *sip.Request)
}

// ResponseHandler is implemented by a Handler that wants to inspect
// (and possibly drop) a downstream fork's response before it is
// forwarded upstream. The default, for a Handler that does not
// implement this, is to forward.
type ResponseHandler interface {
	// OnResponse returns true to forward rsp upstream (after standard
	// best-response selection across forks for final responses), or
	// false to drop it. A drop, if the handler has since added new
	// targets, leaves those new forks in flight instead of discarding
	// the transaction.
	OnResponse(ctx context.Context, tx *TxContext, rsp *sip.Response, forkID int) (forward bool)
}

// CancelHandler is implemented by a Handler that wants to react when
// the upstream leg is canceled (487 for a received CANCEL, 408 for a
// transport error). On return, the framework automatically cancels
// outstanding downstream forks.
type CancelHandler interface {
	OnCancel(ctx context.Context, tx *TxContext, code sip.StatusCode)
}

// TxContext is a thin polymorphic object created by a service's
// factory for each incoming initial request. It holds a non-owning
// reference to its ServiceContext and is dropped when the transaction
// completes.
type TxContext struct {
	Service *ServiceContext
	Handler Handler
}

// Factory inspects an initial request and either declines (returns
// nil, for "request passes through to default routing") or produces a
// per-transaction Handler.
type Factory func(svc *ServiceContext, req *sip.Request) Handler
