package appserver

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/vbohinc/sipcore/dns"
	"github.com/vbohinc/sipcore/header"
	"github.com/vbohinc/sipcore/sip"
)

type fakeTransport struct {
	mu      sync.Mutex
	sent    []string
	cancels []string
}

func (f *fakeTransport) SendRequest(_ context.Context, dest string, _ *sip.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, dest)
	return nil
}

func (f *fakeTransport) CancelRequest(_ context.Context, dest string, _ *sip.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, dest)
	return nil
}

type fakeResponder struct {
	mu   sync.Mutex
	sent []*sip.Response
}

func (f *fakeResponder) SendStateless(_ context.Context, rsp *sip.Response, _ *sip.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, rsp)
}

type staticResolver struct {
	targets []dns.Target
	queried []string
}

func (r *staticResolver) ResolveTarget(_ context.Context, host, transport string, defaultPort uint16) ([]dns.Target, error) {
	r.queried = append(r.queried, host)
	if len(r.targets) > 0 {
		return r.targets, nil
	}
	return []dns.Target{{IP: net.IPv4(10, 0, 0, 1), Port: defaultPort, Transport: transport}}, nil
}

func newTestContext(req *sip.Request, transport Transport, responder Responder) *ServiceContext {
	reg := NewRegistry("example.com", transport, responder)
	return newServiceContext(req, reg, "")
}

// TestForkIDUniqueness: within one transaction context, AddTarget
// returns strictly increasing, unique fork ids.
func TestForkIDUniqueness(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, "sip:bob@example.com")
	transport := &fakeTransport{}
	svc := newTestContext(req, transport, &fakeResponder{})

	const n = 10
	seen := make(map[int]bool)
	last := -1
	for i := 0; i < n; i++ {
		id, err := svc.AddTarget(context.Background(), "sip:target@example.com", nil)
		if err != nil {
			t.Fatalf("AddTarget: %v", err)
		}
		if seen[id] {
			t.Fatalf("fork id %d returned more than once", id)
		}
		seen[id] = true
		if id <= last {
			t.Fatalf("fork id %d is not strictly greater than previous %d", id, last)
		}
		last = id
	}
	if len(transport.sent) != n {
		t.Fatalf("want %d forked requests sent, got %d", n, len(transport.sent))
	}
}

func TestAddTargetResolvesHostThroughResolver(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, "sip:bob@example.com")
	transport := &fakeTransport{}
	reg := NewRegistry("example.com", transport, &fakeResponder{})
	resolver := &staticResolver{}
	reg.Resolver = resolver
	svc := newServiceContext(req, reg, "")

	if _, err := svc.AddTarget(context.Background(), "sip:bob@example.com;transport=tcp", nil); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	if len(resolver.queried) != 1 || resolver.queried[0] != "example.com" {
		t.Fatalf("want one resolver query for example.com, got %v", resolver.queried)
	}
	if len(transport.sent) != 1 || transport.sent[0] != "10.0.0.1:5060/tcp" {
		t.Fatalf("want resolved destination 10.0.0.1:5060/tcp, got %v", transport.sent)
	}
}

func TestAddTargetSkipsLookupForIPLiteral(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, "sip:bob@example.com")
	transport := &fakeTransport{}
	reg := NewRegistry("example.com", transport, &fakeResponder{})
	resolver := &staticResolver{}
	reg.Resolver = resolver
	svc := newServiceContext(req, reg, "")

	if _, err := svc.AddTarget(context.Background(), "sip:alice@1.2.3.4:5070", nil); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	if len(resolver.queried) != 0 {
		t.Fatalf("IP-literal host must not hit the resolver, queried %v", resolver.queried)
	}
	if transport.sent[0] != "1.2.3.4:5070/udp" {
		t.Fatalf("want 1.2.3.4:5070/udp, got %q", transport.sent[0])
	}
}

func TestRejectSendsStatelessAndDisablesForward(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, "sip:bob@example.com")
	responder := &fakeResponder{}
	svc := newTestContext(req, &fakeTransport{}, responder)

	svc.Reject(context.Background(), sip.StatusNotFound, "Not Found")

	if !svc.Rejected() {
		t.Fatal("want Rejected() true after Reject")
	}
	if len(responder.sent) != 1 {
		t.Fatalf("want one stateless response, got %d", len(responder.sent))
	}
	if responder.sent[0].StatusCode != sip.StatusNotFound {
		t.Fatalf("want 404, got %v", responder.sent[0].StatusCode)
	}
}

func TestSendFinalResponseCancelsOutstandingForks(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, "sip:bob@example.com")
	transport := &fakeTransport{}
	svc := newTestContext(req, transport, &fakeResponder{})

	f1, _ := svc.AddTarget(context.Background(), "sip:t1@example.com", nil)
	_, _ = svc.AddTarget(context.Background(), "sip:t2@example.com", nil)

	svc.forks[f1].final = sip.NewResponse(sip.StatusOK, "OK")

	final := sip.NewResponse(sip.StatusOK, "OK")
	svc.SendResponse(context.Background(), final)

	if len(transport.cancels) != 1 {
		t.Fatalf("want exactly one outstanding fork canceled, got %d", len(transport.cancels))
	}
}

// TestSendFinalResponseDoesNotCancelForksOnNonINVITE: SIP CANCEL is
// only defined for INVITE transactions, so a final response closing a
// forked non-INVITE transaction (e.g. MESSAGE) must leave any other
// outstanding forks alone rather than emitting a protocol-invalid
// cancel.
func TestSendFinalResponseDoesNotCancelForksOnNonINVITE(t *testing.T) {
	req := sip.NewRequest(sip.MESSAGE, "sip:bob@example.com")
	transport := &fakeTransport{}
	svc := newTestContext(req, transport, &fakeResponder{})

	f1, _ := svc.AddTarget(context.Background(), "sip:t1@example.com", nil)
	_, _ = svc.AddTarget(context.Background(), "sip:t2@example.com", nil)

	svc.forks[f1].final = sip.NewResponse(sip.StatusOK, "OK")

	final := sip.NewResponse(sip.StatusOK, "OK")
	svc.SendResponse(context.Background(), final)

	if len(transport.cancels) != 0 {
		t.Fatalf("want no forks canceled for a non-INVITE final response, got %d", len(transport.cancels))
	}
}

func TestSecondFinalResponseSuppressed(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, "sip:bob@example.com")
	responder := &fakeResponder{}
	svc := newTestContext(req, &fakeTransport{}, responder)

	svc.SendResponse(context.Background(), sip.NewResponse(sip.StatusRinging, "Ringing"))
	svc.SendResponse(context.Background(), sip.NewResponse(sip.StatusOK, "OK"))
	svc.SendResponse(context.Background(), sip.NewResponse(sip.StatusNotFound, "Not Found"))

	if len(responder.sent) != 2 {
		t.Fatalf("want provisional plus one final upstream, got %d responses", len(responder.sent))
	}
	if responder.sent[1].StatusCode != sip.StatusOK {
		t.Fatalf("want the first final to win, got %v", responder.sent[1].StatusCode)
	}
}

func TestAddToDialogDerivesIDFromCallIDAndFromTag(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, "sip:bob@example.com")
	req.SetHeader(header.CallID("call-123"))

	svc := newTestContext(req, &fakeTransport{}, &fakeResponder{})
	svc.AddToDialog("")

	if svc.DialogID() == "" {
		t.Fatal("want a non-empty derived dialog id")
	}
}
