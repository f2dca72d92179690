package registrar

import (
	"context"
	"time"
)

// RegistrationNamespace is the backing-store namespace under which
// all AoR records are keyed.
const RegistrationNamespace = "reg"

// Store is the AoR backing-store contract. No delete operation
// exists: a binding set shrinking to zero is still written, with a
// TTL that expires it almost immediately, because the store does not
// guarantee CAS semantics on delete.
type Store interface {
	// Get returns the stored bytes and CAS token for key, or
	// ErrNotFound if absent.
	Get(ctx context.Context, namespace, key string) (data []byte, cas uint64, err error)
	// Set writes data under key conditioned on cas matching the
	// store's current token for key (0 meaning "key must not exist
	// yet, or may be freely overwritten if it has no CAS concept").
	// Returns ErrContention if the token is stale.
	Set(ctx context.Context, namespace, key string, data []byte, cas uint64, ttl time.Duration) error
}
