// Package sipcore wires the event queue, worker pool, and ingress
// hook into one running node: a cancelFunc plus a WaitGroup-joined
// worker set, torn down by terminating the queue and waiting for
// drain.
package sipcore

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/vbohinc/sipcore/ingress"
	"github.com/vbohinc/sipcore/internal/types"
	"github.com/vbohinc/sipcore/log"
	"github.com/vbohinc/sipcore/metrics"
	"github.com/vbohinc/sipcore/queue"
	"github.com/vbohinc/sipcore/sip"
	"github.com/vbohinc/sipcore/worker"
)

// Responder is the combined stateless-response surface the queue's
// collaborators need; one concrete type implementing SendStateless
// satisfies ingress.Responder, worker.Responder and
// appserver.Responder alike.
type Responder interface {
	SendStateless(ctx context.Context, rsp *sip.Response, forReq *sip.Request)
}

// Config is the init-time configuration for a Node. Collaborator
// fields left nil are simply not fed; the node runs without them.
type Config struct {
	// NumWorkerThreads is the fixed worker pool size. Must be >= 1.
	NumWorkerThreads int
	// DeadlockThresholdMs is the queue watchdog timeout; defaults to
	// 4000 if zero.
	DeadlockThresholdMs int
	// QueueHighWatermark is the soft backpressure bound; 0 disables it.
	QueueHighWatermark int

	LatencyTable      metrics.Histogram
	QueueSizeTable    metrics.Histogram
	ActiveWorkerGauge metrics.Gauge
	LoadMonitor       worker.LoadMonitor
	ExceptionHandler  worker.ExceptionHandler

	Dispatch  worker.Dispatcher
	Responder Responder

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.NumWorkerThreads < 1 {
		c.NumWorkerThreads = 1
	}
	if c.DeadlockThresholdMs <= 0 {
		c.DeadlockThresholdMs = int(queue.DefaultDeadlockThreshold / time.Millisecond)
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// Node is one running instance of the dispatch engine: one event
// queue, one ingress hook, and one worker pool.
type Node struct {
	cfg   Config
	queue *queue.Queue
	pool  *worker.Pool
	hook  *ingress.Hook

	cancel        context.CancelFunc
	shutdownHooks types.CallbackManager[func()]
}

// OnShutdown registers fn to run during Shutdown, after the queue has
// been terminated and every worker has drained. Returns a function
// that unregisters fn.
func (n *Node) OnShutdown(fn func()) (remove func()) {
	return n.shutdownHooks.Add(fn)
}

// New assembles a Node from cfg. It does not start any goroutines;
// call Run for that.
func New(cfg Config) *Node {
	cfg = cfg.withDefaults()

	q := queue.New()
	q.SetDeadlockThreshold(time.Duration(cfg.DeadlockThresholdMs) * time.Millisecond)
	q.HighWatermark = cfg.QueueHighWatermark

	pool := &worker.Pool{
		Queue:         q,
		Size:          cfg.NumWorkerThreads,
		Dispatch:      cfg.Dispatch,
		Responder:     cfg.Responder,
		Exception:     cfg.ExceptionHandler,
		LoadMon:       cfg.LoadMonitor,
		Latency:       cfg.LatencyTable,
		ActiveWorkers: cfg.ActiveWorkerGauge,
		Logger:        cfg.Logger,
	}

	hook := &ingress.Hook{
		Queue:     q,
		Responder: cfg.Responder,
		QueueSize: cfg.QueueSizeTable,
		Logger:    cfg.Logger,
	}

	return &Node{cfg: cfg, queue: q, pool: pool, hook: hook}
}

// Hook returns the ingress hook the SIP transport should register.
func (n *Node) Hook() *ingress.Hook { return n.hook }

// Defer enqueues fn as a callback work item, to run on a worker
// thread behind whatever messages are already queued. It reports
// false if the queue refused the item (terminated or at its
// watermark).
func (n *Node) Defer(fn func()) bool {
	return n.queue.Push(queue.NewCallbackItem(fn))
}

// Queue returns the underlying event queue, mainly for observability
// and tests.
func (n *Node) Queue() *queue.Queue { return n.queue }

// Run starts the worker pool and wires the watchdog-triggered process
// abort. It returns immediately; workers run until Shutdown or ctx is
// canceled.
func (n *Node) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	n.hook.Abort = func() {
		n.cfg.Logger.Error("process abort requested by queue watchdog")
		os.Exit(1)
	}

	n.pool.Start(ctx)
}

// Shutdown terminates the queue and waits for every worker to drain,
// or for ctx to end first.
func (n *Node) Shutdown(ctx context.Context) {
	n.queue.Terminate()
	if n.cancel != nil {
		n.cancel()
	}

	done := make(chan struct{})
	go func() {
		n.pool.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	n.shutdownHooks.Range(func(fn func()) { fn() })
}
