package registrar

import (
	"context"
	"errors"
	"time"

	"braces.dev/errtrace"
)

// Engine wraps a Store with the read-modify-write AoR contract:
// GetAoR always materializes a usable record, SetAoR expires, encodes
// and conditionally writes one.
type Engine struct {
	Store Store
	// Now returns the current time; overridable so expiry tests don't
	// race a real clock.
	Now func() time.Time
}

// NewEngine returns an Engine backed by store.
func NewEngine(store Store) *Engine {
	return &Engine{Store: store, Now: time.Now}
}

// GetAoR returns either the materialized stored record (with its CAS
// token set to whatever the store returned), or a freshly fabricated
// empty AoR with CAS token 0 if the store has nothing for id. A
// corrupt stored record also yields the empty AoR, together with the
// ErrCorrupt error. Any other store error returns a nil AoR.
func (e *Engine) GetAoR(ctx context.Context, id string) (*AoR, error) {
	data, cas, err := e.Store.Get(ctx, RegistrationNamespace, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return newEmptyAoR(id), nil
		}
		return nil, errtrace.Wrap(err)
	}

	aor, err := Decode(id, data)
	if err != nil {
		// Corrupt record: policy is log-and-treat-as-empty, leaving
		// decode-failure logging to the caller (it has the logger).
		return newEmptyAoR(id), errtrace.Wrap(err)
	}
	aor.CAS = cas
	return aor, nil
}

// SetAoR expires aor's bindings, serializes the result, and submits
// it to the backing store conditioned on aor's current CAS token,
// with a TTL computed from the latest remaining binding expiry.
// It returns (true, nil) iff the store acknowledged the write. A store
// ErrContention is returned as (false, nil): the caller must re-read
// via GetAoR and retry (bounded by MaxSetRetries). Any other failure
// is returned as an error.
func (e *Engine) SetAoR(ctx context.Context, aor *AoR) (bool, error) {
	now := e.now()
	maxExpires := ExpireBindings(aor, now)

	data, err := Encode(aor)
	if err != nil {
		return false, errtrace.Wrap(err)
	}

	ttl := maxExpires.Sub(now)
	if ttl < 0 {
		ttl = 0
	}

	err = e.Store.Set(ctx, RegistrationNamespace, aor.ID, data, aor.CAS, ttl)
	if err != nil {
		if errors.Is(err, ErrContention) {
			return false, nil
		}
		return false, errtrace.Wrap(err)
	}
	aor.CAS++
	return true, nil
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ExpireBindings removes every binding whose Expires has reached or
// passed now (epoch seconds), returning the latest remaining
// binding's expiry as a time.Time (or now itself if no bindings
// remain). It is idempotent: calling it again immediately afterward
// with the same now is a no-op.
func ExpireBindings(aor *AoR, now time.Time) time.Time {
	nowEpoch := uint32(now.Unix())
	maxExpires := nowEpoch

	for id, b := range aor.Bindings {
		if b.Expires <= nowEpoch {
			delete(aor.Bindings, id)
			continue
		}
		if b.Expires > maxExpires {
			maxExpires = b.Expires
		}
	}

	return time.Unix(int64(maxExpires), 0)
}
