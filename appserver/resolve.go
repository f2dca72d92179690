package appserver

import (
	"context"
	"net"
	"strconv"

	"braces.dev/errtrace"

	"github.com/vbohinc/sipcore/dns"
	"github.com/vbohinc/sipcore/uri"
)

// Resolver turns a target URI's host into concrete destinations.
// *dns.Resolver satisfies this.
type Resolver interface {
	ResolveTarget(ctx context.Context, host, transport string, defaultPort uint16) ([]dns.Target, error)
}

// resolveTarget maps a target URI to the destination string handed to
// the transport. IP-literal hosts skip the lookup; a host name goes
// through the resolver (for *dns.Resolver: NAPTR, then SRV, then
// address lookup), taking the first answer. With no resolver configured the raw target is
// passed through and destination selection is left to the transport.
func (c *ServiceContext) resolveTarget(ctx context.Context, target string) (string, error) {
	if c.resolver == nil {
		return target, nil
	}

	u, err := uri.Parse(target)
	if err != nil {
		// Not a URI we understand; assume the caller handed us a
		// pre-resolved destination.
		return target, nil //nolint:nilerr
	}

	transport := u.Transport()
	port := u.Port
	if port == 0 {
		port = defaultPort(u)
	}

	if ip := net.ParseIP(u.Host); ip != nil {
		return destination(ip, port, transport), nil
	}

	targets, err := c.resolver.ResolveTarget(ctx, u.Host, transport, port)
	if err != nil {
		return "", errtrace.Wrap(err)
	}
	if len(targets) == 0 {
		return "", errtrace.Wrap(&net.DNSError{Err: "no addresses", Name: u.Host, IsNotFound: true})
	}
	t := targets[0]
	return destination(t.IP, t.Port, t.Transport), nil
}

func defaultPort(u *uri.SIP) uint16 {
	if u.Secured {
		return 5061
	}
	return 5060
}

func destination(ip net.IP, port uint16, transport string) string {
	return net.JoinHostPort(ip.String(), strconv.FormatUint(uint64(port), 10)) + "/" + transport
}
