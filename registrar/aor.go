// Package registrar implements the registration store: the
// Address-of-Record data model, its compact binary codec, and the
// compare-and-swap update protocol with in-line binding expiry.
package registrar

import "github.com/vbohinc/sipcore/internal/errorutil"

// ErrNotFound is returned by a Store when the requested key is absent.
const ErrNotFound errorutil.Error = "registrar: not found"

// ErrContention is returned by a Store when a conditional write's CAS
// token no longer matches the stored value.
const ErrContention errorutil.Error = "registrar: cas contention"

// ErrExpiresOverflow is returned by SetAoR when a binding's expiry
// would overflow a signed 32-bit value once the year 2038 problem is
// hit — see Design Notes: reject rather than silently wrap.
const ErrExpiresOverflow errorutil.Error = "registrar: expires overflow"

// ErrCorrupt indicates a decode failure: a short read or a missing
// NUL terminator. Per policy, the caller treats the AoR as missing.
const ErrCorrupt errorutil.Error = "registrar: corrupt aor record"

// MaxSetRetries bounds the read-modify-write attempts a caller makes
// when SetAoR keeps losing the CAS race.
const MaxSetRetries = 3

// Param is a single (name, value) binding parameter.
type Param struct {
	Name  string
	Value string
}

// Binding represents one reachable contact under an AoR.
type Binding struct {
	ID         string
	ContactURI string
	CallID     string
	CSeq       uint32
	Expires    uint32 // seconds since UNIX epoch
	Priority   int
	Params     []Param
	Path       []string
}

// AoR is an Address-of-Record: a public SIP identity with zero or
// more reachable contact Bindings, plus the CAS token the backing
// store returned when it was last read.
type AoR struct {
	ID       string
	Bindings map[string]*Binding
	CAS      uint64
}

// newEmptyAoR fabricates an empty AoR with CAS token 0, per GetAoR's
// contract when the backing store has no record for id.
func newEmptyAoR(id string) *AoR {
	return &AoR{ID: id, Bindings: make(map[string]*Binding)}
}
