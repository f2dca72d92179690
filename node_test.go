package sipcore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/vbohinc/sipcore/appserver"
	"github.com/vbohinc/sipcore/header"
	"github.com/vbohinc/sipcore/log"
	"github.com/vbohinc/sipcore/registrar"
	"github.com/vbohinc/sipcore/registration"
	"github.com/vbohinc/sipcore/sip"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestNodeProcessesMessagesAndShutsDownClean(t *testing.T) {
	var processed atomic.Int64
	node := New(Config{
		NumWorkerThreads: 2,
		Dispatch: func(context.Context, sip.Message) {
			processed.Add(1)
		},
		Logger: log.Noop(),
	})

	node.Run(context.Background())

	hook := node.Hook()
	for i := 0; i < 5; i++ {
		req := sip.NewRequest(sip.OPTIONS, "sip:ping@example.com")
		if !hook.Receive(context.Background(), req) {
			t.Fatal("Receive must report absorbed")
		}
	}

	waitFor(t, func() bool { return processed.Load() == 5 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	node.Shutdown(ctx)
}

func TestNodeDeferRunsCallbackOnWorker(t *testing.T) {
	node := New(Config{NumWorkerThreads: 1, Logger: log.Noop()})
	node.Run(context.Background())

	var ran atomic.Bool
	if !node.Defer(func() { ran.Store(true) }) {
		t.Fatal("Defer refused by an empty running queue")
	}
	waitFor(t, ran.Load)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	node.Shutdown(ctx)
}

func TestNodeShutdownRunsHooks(t *testing.T) {
	node := New(Config{NumWorkerThreads: 1, Logger: log.Noop()})
	node.Run(context.Background())

	var mu sync.Mutex
	var order []string
	node.OnShutdown(func() { mu.Lock(); order = append(order, "a"); mu.Unlock() })
	remove := node.OnShutdown(func() { mu.Lock(); order = append(order, "b"); mu.Unlock() })
	remove()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	node.Shutdown(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 1 || order[0] != "a" {
		t.Fatalf("want only hook a to run, got %v", order)
	}
}

type sinkResponder struct {
	mu   sync.Mutex
	sent []*sip.Response
}

func (r *sinkResponder) SendStateless(_ context.Context, rsp *sip.Response, _ *sip.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, rsp)
}

func (r *sinkResponder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type sinkTransport struct{}

func (sinkTransport) SendRequest(context.Context, string, *sip.Request) error   { return nil }
func (sinkTransport) CancelRequest(context.Context, string, *sip.Request) error { return nil }

// TestNodeRegistrarEndToEnd drives a REGISTER from the ingress hook
// through the worker pool, the service router, the registration
// service and the in-memory store, and reads the binding back.
func TestNodeRegistrarEndToEnd(t *testing.T) {
	responder := &sinkResponder{}
	engine := registrar.NewEngine(registrar.NewMemoryStore())

	registry := appserver.NewRegistry("example.com", sinkTransport{}, responder)
	regService := &registration.Service{Engine: engine, Logger: log.Noop()}
	regService.Register(registry)

	router := &Router{
		Registry: registry,
		ResolveService: func(req *sip.Request) string {
			if req.Method == sip.REGISTER {
				return "registrar.example.com"
			}
			return ""
		},
		Logger: log.Noop(),
	}

	node := New(Config{
		NumWorkerThreads: 2,
		Dispatch:         router.Dispatch,
		Responder:        responder,
		Logger:           log.Noop(),
	})
	node.Run(context.Background())

	req := sip.NewRequest(sip.REGISTER, "sip:alice@example.com")
	req.SetHeader(header.CallID("e2e-call-1"))
	req.SetHeader(&header.To{URI: "sip:alice@example.com"})
	req.SetHeader(&header.CSeq{Seq: 1, Method: "REGISTER"})
	req.SetHeader(&header.Contact{Addrs: []header.ContactAddr{{URI: "sip:alice@1.2.3.4;transport=tcp"}}})
	req.SetHeader(header.Expires(3600))

	if !node.Hook().Receive(context.Background(), req) {
		t.Fatal("Receive must report absorbed")
	}

	waitFor(t, func() bool { return responder.count() == 1 })
	responder.mu.Lock()
	status := responder.sent[0].StatusCode
	responder.mu.Unlock()
	if status != sip.StatusOK {
		t.Fatalf("want 200 OK, got %v", status)
	}

	aor, err := engine.GetAoR(context.Background(), "sip:alice@example.com")
	if err != nil {
		t.Fatalf("GetAoR: %v", err)
	}
	if len(aor.Bindings) != 1 {
		t.Fatalf("want 1 binding registered end to end, got %d", len(aor.Bindings))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	node.Shutdown(ctx)
}
