package registrar

import (
	"context"
	"testing"
	"time"
)

func TestExpireBindingsPurgesExpired(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	aor := &AoR{
		ID: "sip:alice@example.com",
		Bindings: map[string]*Binding{
			"b1": {ID: "b1", Expires: uint32(now.Unix()) - 1},
			"b2": {ID: "b2", Expires: uint32(now.Unix()) + 600},
		},
	}

	maxExpires := ExpireBindings(aor, now)

	if _, ok := aor.Bindings["b1"]; ok {
		t.Fatal("b1 should have been purged")
	}
	if _, ok := aor.Bindings["b2"]; !ok {
		t.Fatal("b2 should remain")
	}
	if want := now.Add(600 * time.Second).Unix(); maxExpires.Unix() != want {
		t.Fatalf("max expires = %d, want %d", maxExpires.Unix(), want)
	}
}

func TestExpireBindingsIdempotent(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	aor := &AoR{
		ID: "sip:alice@example.com",
		Bindings: map[string]*Binding{
			"b1": {ID: "b1", Expires: uint32(now.Unix()) + 600},
		},
	}

	first := ExpireBindings(aor, now)
	second := ExpireBindings(aor, now)

	if first != second {
		t.Fatalf("expire_bindings not idempotent: %v != %v", first, second)
	}
	if len(aor.Bindings) != 1 {
		t.Fatalf("second call changed binding count: %d", len(aor.Bindings))
	}
}

// TestRegistrarHappyPath is scenario S1.
func TestRegistrarHappyPath(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(NewMemoryStore())
	now := time.Now()
	engine.Now = func() time.Time { return now }

	aor, err := engine.GetAoR(ctx, "sip:alice@example.com")
	if err != nil {
		t.Fatalf("GetAoR: %v", err)
	}
	if aor.CAS != 0 || len(aor.Bindings) != 0 {
		t.Fatalf("want empty AoR with CAS=0, got %+v", aor)
	}

	aor.Bindings["b1"] = &Binding{
		ID:         "b1",
		ContactURI: "sip:alice@1.2.3.4;transport=tcp",
		Expires:    uint32(now.Unix()) + 3600,
	}

	ok, err := engine.SetAoR(ctx, aor)
	if err != nil {
		t.Fatalf("SetAoR: %v", err)
	}
	if !ok {
		t.Fatal("SetAoR should have succeeded against an uncontended CAS=0")
	}

	aor2, err := engine.GetAoR(ctx, "sip:alice@example.com")
	if err != nil {
		t.Fatalf("GetAoR after set: %v", err)
	}
	if len(aor2.Bindings) != 1 {
		t.Fatalf("want exactly one binding, got %d", len(aor2.Bindings))
	}
	b := aor2.Bindings["b1"]
	if b == nil {
		t.Fatal("missing binding b1")
	}
	if want := uint32(now.Unix()) + 3600; b.Expires != want {
		t.Fatalf("expires = %d, want %d", b.Expires, want)
	}
}

func TestCASGrowsAcrossWrites(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(NewMemoryStore())
	now := time.Now()
	engine.Now = func() time.Time { return now }

	var last uint64
	for i := 0; i < 3; i++ {
		aor, err := engine.GetAoR(ctx, "sip:alice@example.com")
		if err != nil {
			t.Fatalf("GetAoR: %v", err)
		}
		if aor.CAS < last {
			t.Fatalf("CAS went backwards: %d after %d", aor.CAS, last)
		}
		last = aor.CAS
		aor.Bindings["b1"] = &Binding{ID: "b1", Expires: uint32(now.Unix()) + 3600}
		if ok, err := engine.SetAoR(ctx, aor); err != nil || !ok {
			t.Fatalf("write %d: ok=%v err=%v", i, ok, err)
		}
	}

	aor, err := engine.GetAoR(ctx, "sip:alice@example.com")
	if err != nil {
		t.Fatalf("final GetAoR: %v", err)
	}
	if aor.CAS < last {
		t.Fatalf("final CAS %d below last observed %d", aor.CAS, last)
	}
}

// TestCASContention is scenario S3.
func TestCASContention(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	engineA := NewEngine(store)
	engineA.Now = func() time.Time { return now }
	engineB := NewEngine(store)
	engineB.Now = func() time.Time { return now }

	seed, _ := engineA.GetAoR(ctx, "sip:alice@example.com")
	seed.Bindings["seed"] = &Binding{ID: "seed", Expires: uint32(now.Unix()) + 3600}
	if ok, err := engineA.SetAoR(ctx, seed); err != nil || !ok {
		t.Fatalf("seed write failed: ok=%v err=%v", ok, err)
	}

	aorA, _ := engineA.GetAoR(ctx, "sip:alice@example.com")
	aorB, _ := engineB.GetAoR(ctx, "sip:alice@example.com")
	if aorA.CAS != aorB.CAS {
		t.Fatalf("both readers should observe the same CAS, got %d and %d", aorA.CAS, aorB.CAS)
	}

	aorB.Bindings["b-from-B"] = &Binding{ID: "b-from-B", Expires: uint32(now.Unix()) + 3600}
	okB, err := engineB.SetAoR(ctx, aorB)
	if err != nil || !okB {
		t.Fatalf("B's write should succeed first: ok=%v err=%v", okB, err)
	}

	aorA.Bindings["b-from-A"] = &Binding{ID: "b-from-A", Expires: uint32(now.Unix()) + 3600}
	okA, err := engineA.SetAoR(ctx, aorA)
	if err != nil {
		t.Fatalf("A's write should report contention, not an error: %v", err)
	}
	if okA {
		t.Fatal("A's stale-CAS write should have been rejected")
	}

	aorA2, err := engineA.GetAoR(ctx, "sip:alice@example.com")
	if err != nil {
		t.Fatalf("A's re-read: %v", err)
	}
	aorA2.Bindings["b-from-A"] = &Binding{ID: "b-from-A", Expires: uint32(now.Unix()) + 3600}
	okA2, err := engineA.SetAoR(ctx, aorA2)
	if err != nil || !okA2 {
		t.Fatalf("A's retry after re-read should succeed: ok=%v err=%v", okA2, err)
	}
}
