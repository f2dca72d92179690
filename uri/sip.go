// Package uri provides a minimal SIP/SIPS URI type.
//
// Wire-level grammar parsing is out of scope for this module (messages
// arrive already parsed); this package only covers what the core
// itself needs to build and compare target/contact URIs — splitting a
// string the application handed it, rendering one back out, and deep
// copying it before it is handed to a forked request.
package uri

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/vbohinc/sipcore/internal/errorutil"
	"github.com/vbohinc/sipcore/internal/util"
)

// ErrInvalidURI is returned by Parse when the input cannot be split
// into a scheme, host and (optional) port/params/user.
const ErrInvalidURI errorutil.Error = "invalid sip uri"

// SIP represents a sip: or sips: URI, in the reduced form this module
// cares about: who, where, and which transport/user params apply.
type SIP struct {
	Secured bool
	User    string
	Host    string
	Port    uint16
	Params  map[string]string
}

// Parse splits raw into a SIP URI. It accepts the common
// "sip:user@host:port;p1=v1;p2=v2" shape; unknown-scheme or
// malformed input is reported as ErrInvalidURI.
func Parse(raw string) (*SIP, error) {
	rest := util.TrimSP(raw)

	var secured bool
	switch {
	case strings.HasPrefix(rest, "sips:"):
		secured = true
		rest = rest[len("sips:"):]
	case strings.HasPrefix(rest, "sip:"):
		rest = rest[len("sip:"):]
	default:
		return nil, errorutil.NewWrapperError(ErrInvalidURI, "missing sip/sips scheme in %q", raw)
	}
	if rest == "" {
		return nil, errorutil.NewWrapperError(ErrInvalidURI, "empty uri after scheme in %q", raw)
	}

	u := &SIP{Secured: secured}

	if i := strings.IndexByte(rest, '@'); i >= 0 {
		u.User = rest[:i]
		rest = rest[i+1:]
	}

	hostport := rest
	var params string
	if i := strings.IndexByte(rest, ';'); i >= 0 {
		hostport = rest[:i]
		params = rest[i+1:]
	}
	if hostport == "" {
		return nil, errorutil.NewWrapperError(ErrInvalidURI, "missing host in %q", raw)
	}

	host, port, err := splitHostPort(hostport)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	u.Host = host
	u.Port = port

	if params != "" {
		u.Params = make(map[string]string)
		for _, p := range strings.Split(params, ";") {
			if p == "" {
				continue
			}
			if i := strings.IndexByte(p, '='); i >= 0 {
				u.Params[strings.ToLower(p[:i])] = p[i+1:]
			} else {
				u.Params[strings.ToLower(p)] = ""
			}
		}
	}

	return u, nil
}

func splitHostPort(hostport string) (string, uint16, error) {
	i := strings.LastIndexByte(hostport, ':')
	if i < 0 {
		return hostport, 0, nil
	}
	// Guard against bare IPv6 literals without brackets; we don't
	// support those since SIP URIs require bracket notation for them.
	if !strings.HasPrefix(hostport, "[") && strings.IndexByte(hostport, ':') != i {
		return "", 0, errorutil.NewWrapperError(ErrInvalidURI, "unbracketed IPv6 host %q", hostport)
	}
	portStr := hostport[i+1:]
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, errorutil.NewWrapperError(ErrInvalidURI, "bad port %q", portStr)
	}
	return hostport[:i], uint16(port), nil
}

// Transport returns the value of the "transport" URI parameter,
// lower-cased, defaulting to "udp" when absent (RFC 3261 §19.1.2).
func (u *SIP) Transport() string {
	if u == nil || u.Params == nil {
		return "udp"
	}
	if t, ok := u.Params["transport"]; ok && t != "" {
		return util.LCase(t)
	}
	return "udp"
}

// SameHost reports whether u and other name the same host, ignoring
// case (DNS names are case-insensitive per RFC 1035 §2.3.3).
func (u *SIP) SameHost(other *SIP) bool {
	if u == nil || other == nil {
		return u == other
	}
	return util.EqFold(u.Host, other.Host)
}

// Clone returns a deep copy of u.
func (u *SIP) Clone() *SIP {
	if u == nil {
		return nil
	}
	u2 := *u
	if u.Params != nil {
		u2.Params = make(map[string]string, len(u.Params))
		for k, v := range u.Params {
			u2.Params[k] = v
		}
	}
	return &u2
}

// String renders the URI back to its wire form.
func (u *SIP) String() string {
	if u == nil {
		return ""
	}

	var b strings.Builder
	if u.Secured {
		b.WriteString("sips:")
	} else {
		b.WriteString("sip:")
	}
	if u.User != "" {
		b.WriteString(u.User)
		b.WriteByte('@')
	}
	b.WriteString(u.Host)
	if u.Port != 0 {
		fmt.Fprintf(&b, ":%d", u.Port)
	}
	for _, k := range sortedKeys(u.Params) {
		b.WriteByte(';')
		b.WriteString(k)
		if v := u.Params[k]; v != "" {
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
