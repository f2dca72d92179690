// Package worker implements the fixed-size pool that drains the event
// queue: one goroutine per configured slot, each looping
// pop -> dispatch, with panics trapped at the processing boundary
// (recover in a deferred closure) so a single fault never escapes the
// loop.
package worker

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbohinc/sipcore/header"
	"github.com/vbohinc/sipcore/queue"
	"github.com/vbohinc/sipcore/sip"
)

// DefaultRetryAfter is the Retry-After value synthesized on a worker
// fault processing a non-ACK request.
const DefaultRetryAfter = 600 * time.Second

// ExceptionHandler is notified of a trapped fault before any recovery
// response is sent. Implementations must tolerate missing
// correlation fields.
type ExceptionHandler interface {
	Handle(ctx context.Context, fault any, fields map[string]any)
}

// LoadMonitor feeds the admission-control collaborator with per-item
// processing latency.
type LoadMonitor interface {
	RequestComplete(latency time.Duration)
}

// Histogram is the minimal sink a latency table needs to satisfy.
type Histogram interface {
	Observe(value float64)
}

// Gauge is the minimal sink the active-worker count needs to satisfy.
type Gauge interface {
	Set(value float64)
}

// Responder emits a stateless response for a request that faulted
// mid-processing.
type Responder interface {
	SendStateless(ctx context.Context, rsp *sip.Response, forReq *sip.Request)
}

// Dispatcher is the SIP processing entry point a worker invokes for
// every Message-variant work item.
type Dispatcher func(ctx context.Context, msg sip.Message)

// Pool is a fixed-size set of goroutines draining a *queue.Queue.
type Pool struct {
	Queue     *queue.Queue
	Size      int
	Dispatch  Dispatcher
	Responder Responder
	Exception ExceptionHandler
	LoadMon   LoadMonitor
	Latency   Histogram
	// ActiveWorkers, if set, is kept at the count of workers currently
	// processing a work item (as opposed to blocked in Pop).
	ActiveWorkers Gauge
	Logger        *slog.Logger

	// Exit is called to abort the process when a single-worker pool
	// cannot safely continue after a trapped fault. Defaults to
	// os.Exit; overridable so tests can observe the would-be abort
	// without killing the test binary.
	Exit func(code int)

	wg     sync.WaitGroup
	active atomic.Int64
}

// Start launches Size goroutines, each draining Queue until ctx is
// done or the queue is terminated.
func (p *Pool) Start(ctx context.Context) {
	if p.Exit == nil {
		p.Exit = os.Exit
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	for i := 0; i < p.Size; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Wait blocks until every worker goroutine has returned, i.e. after
// the queue has been terminated or ctx cancelled.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		item, ok := p.Queue.Pop(ctx)
		if !ok {
			return
		}
		p.process(ctx, id, item)
	}
}

func (p *Pool) process(ctx context.Context, workerID int, item queue.WorkItem) {
	start := item.ArrivedAt
	if start.IsZero() {
		start = time.Now()
	}

	if p.ActiveWorkers != nil {
		p.ActiveWorkers.Set(float64(p.active.Add(1)))
		defer func() { p.ActiveWorkers.Set(float64(p.active.Add(-1))) }()
	}

	switch item.Kind {
	case queue.KindCallback:
		p.runWithRecover(ctx, workerID, nil, func() { item.Run() })
	case queue.KindMessage:
		p.runWithRecover(ctx, workerID, item.Message, func() { p.Dispatch(ctx, item.Message) })
	}

	latency := time.Since(start)
	if p.Latency != nil {
		p.Latency.Observe(float64(latency.Microseconds()))
	}
	if p.LoadMon != nil {
		p.LoadMon.RequestComplete(latency)
	}
}

// runWithRecover invokes fn, trapping any panic the way a CW_TRY/
// CW_EXCEPT boundary would: the fault never escapes the worker loop.
// For a non-ACK request in flight at trap time, a 500 + Retry-After
// is synthesized and sent statelessly. If the pool has exactly one
// worker, the process aborts after that — there is no redundancy left
// to quarantine the fault, so a clean restart is preferred to limping
// on in unknown state.
func (p *Pool) runWithRecover(ctx context.Context, workerID int, msg sip.Message, fn func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		fields := correlationFields(msg)
		fields["worker"] = workerID
		if p.Exception != nil {
			p.Exception.Handle(ctx, r, fields)
		} else {
			p.Logger.Error("worker fault trapped", "fault", r, "fields", fields)
		}

		if req, isReq := msg.(*sip.Request); isReq && !req.IsACK() && p.Responder != nil {
			rsp := sip.NewResponse(sip.StatusServerInternalError, "Internal Server Error")
			rsp.SetHeader(header.RetryAfter(uint32(DefaultRetryAfter / time.Second)))
			rsp.SetTrail(req.Trail())
			p.Responder.SendStateless(ctx, rsp, req)
		}

		if p.Size == 1 {
			p.Logger.Error("aborting process: single-worker pool cannot continue after trapped fault")
			p.Exit(1)
		}
	}()

	fn()
}

// correlationFields extracts trail id, Call-ID and CSeq from msg,
// tolerating any of them being absent.
func correlationFields(msg sip.Message) map[string]any {
	fields := map[string]any{}
	if msg == nil {
		return fields
	}
	if trail := msg.Trail(); trail != "" {
		fields["trail"] = string(trail)
	}
	if cid := msg.CallID(); cid != "" {
		fields["call_id"] = cid
	}
	if h, ok := msg.Header("CSeq"); ok {
		fields["cseq"] = h.String()
	}
	return fields
}
