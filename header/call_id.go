package header

// CallID is the Call-ID header field: the identifier shared by every
// request and response belonging to a dialog or registration.
type CallID string

func (c CallID) HeaderName() Name { return "Call-ID" }
func (c CallID) String() string   { return string(c) }
func (c CallID) Clone() Header    { return c }
