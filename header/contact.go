package header

import (
	"maps"
	"strconv"

	"github.com/vbohinc/sipcore/internal/util"
)

// ContactAddr is a single address in a Contact header field: a target
// URI plus the registration parameters (q, expires, and extensions)
// that travel alongside it.
type ContactAddr struct {
	URI    string
	Q      float32
	HasQ   bool
	Params map[string]string
}

// Contact is the Contact header field. A REGISTER request or its 200
// OK response may carry any number of contacts; a dialog-forming
// request or response carries exactly one.
type Contact struct {
	Star  bool // Contact: * — unregister-all
	Addrs []ContactAddr
}

func (c *Contact) HeaderName() Name { return "Contact" }

// Clone returns a Contact independent of the receiver: each address's
// parameter map is copied, so diverging one fork's contact in place
// never leaks into another fork or the original request.
func (c *Contact) Clone() Header {
	clone := &Contact{Star: c.Star}
	if c.Addrs != nil {
		clone.Addrs = make([]ContactAddr, len(c.Addrs))
		for i, a := range c.Addrs {
			a.Params = maps.Clone(a.Params)
			clone.Addrs[i] = a
		}
	}
	return clone
}

func (c *Contact) String() string {
	if c.Star {
		return "*"
	}
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	for i, a := range c.Addrs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("<")
		sb.WriteString(a.URI)
		sb.WriteString(">")
		if a.HasQ {
			sb.WriteString(";q=")
			sb.WriteString(formatQ(a.Q))
		}
		for _, k := range sortedKeys(a.Params) {
			sb.WriteString(";")
			sb.WriteString(k)
			if v := a.Params[k]; v != "" {
				sb.WriteString("=")
				sb.WriteString(v)
			}
		}
	}
	return sb.String()
}

func formatQ(q float32) string {
	return strconv.FormatFloat(float64(q), 'f', -1, 32)
}
