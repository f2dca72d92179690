package header

import (
	"maps"

	"github.com/vbohinc/sipcore/internal/util"
)

// Hop is a single entry in a Route, Record-Route, or Path header
// field: one proxy's URI, plus any parameters it annotated itself
// with (e.g. ";lr" for loose routing).
type Hop struct {
	URI    string
	Params map[string]string
}

func (h Hop) string() string {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	sb.WriteString("<")
	sb.WriteString(h.URI)
	sb.WriteString(">")
	for _, k := range sortedKeys(h.Params) {
		sb.WriteString(";")
		sb.WriteString(k)
		if v := h.Params[k]; v != "" {
			sb.WriteString("=")
			sb.WriteString(v)
		}
	}
	return sb.String()
}

func cloneHops(hops []Hop) []Hop {
	if hops == nil {
		return nil
	}
	clone := make([]Hop, len(hops))
	for i, h := range hops {
		h.Params = maps.Clone(h.Params)
		clone[i] = h
	}
	return clone
}

func joinHops(hops []Hop) string {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	for i, h := range hops {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(h.string())
	}
	return sb.String()
}

// Route is the Route header field: the list of proxies a request
// must be sent through next, set by the remote party from an earlier
// Record-Route or Path.
type Route struct{ Hops []Hop }

func (r *Route) HeaderName() Name { return "Route" }
func (r *Route) String() string   { return joinHops(r.Hops) }
func (r *Route) Clone() Header    { return &Route{Hops: cloneHops(r.Hops)} }

// RecordRoute is the Record-Route header field: a proxy's request to
// stay on the signaling path for the rest of the dialog.
type RecordRoute struct{ Hops []Hop }

func (r *RecordRoute) HeaderName() Name { return "Record-Route" }
func (r *RecordRoute) String() string   { return joinHops(r.Hops) }
func (r *RecordRoute) Clone() Header    { return &RecordRoute{Hops: cloneHops(r.Hops)} }

// Path is the Path header field (RFC 3327): the list of proxies a
// registrar must route through when it later forwards a request
// towards the bound contact.
type Path struct{ Hops []Hop }

func (p *Path) HeaderName() Name { return "Path" }
func (p *Path) String() string   { return joinHops(p.Hops) }
func (p *Path) Clone() Header    { return &Path{Hops: cloneHops(p.Hops)} }
