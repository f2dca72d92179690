package header

import "strconv"

// Expires is the Expires header field, in seconds.
type Expires uint32

func (e Expires) HeaderName() Name { return "Expires" }
func (e Expires) String() string   { return strconv.FormatUint(uint64(e), 10) }
func (e Expires) Clone() Header    { return e }

// RetryAfter is the Retry-After header field: the delay, in seconds,
// a client is told to wait before retrying a request that drew a 5xx
// response.
type RetryAfter uint32

func (r RetryAfter) HeaderName() Name { return "Retry-After" }
func (r RetryAfter) String() string   { return strconv.FormatUint(uint64(r), 10) }
func (r RetryAfter) Clone() Header    { return r }
