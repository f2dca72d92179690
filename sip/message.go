// Package sip models a SIP message as the core receives it: already
// parsed by an external collaborator into a structured Request or
// Response. This package owns no wire-format grammar; it only gives
// the rest of the module a typed surface to clone, inspect and
// correlate messages with.
package sip

import "github.com/vbohinc/sipcore/header"

// TrailID is an opaque correlation identifier propagated with a
// message and every diagnostic event derived from it.
type TrailID string

// Message is the common surface of Request and Response: the header
// table, body, and trail correlation every processing stage needs
// regardless of which kind of message it is holding.
type Message interface {
	// CallID returns the Call-ID header value, or "" if absent.
	CallID() string
	// Trail returns the correlation identifier carried by this message.
	Trail() TrailID
	// SetTrail sets the correlation identifier, e.g. when a stateless
	// ingress hook mints one for a message that arrived without one.
	SetTrail(TrailID)
	// Header returns the named header's first value, and whether it was present.
	Header(name header.Name) (header.Header, bool)
	// SetHeader replaces (or adds) the named header.
	SetHeader(h header.Header)
	// Body returns the message body.
	Body() []byte
	// Clone returns a deep copy, safe for a worker to mutate
	// independently of the original.
	Clone() Message
}

// base holds the fields common to requests and responses.
type base struct {
	headers map[header.Name]header.Header
	body    []byte
	trail   TrailID
}

func newBase() base {
	return base{headers: make(map[header.Name]header.Header)}
}

func (b *base) Trail() TrailID       { return b.trail }
func (b *base) SetTrail(id TrailID)  { b.trail = id }
func (b *base) Body() []byte         { return b.body }

func (b *base) Header(name header.Name) (header.Header, bool) {
	h, ok := b.headers[name]
	return h, ok
}

func (b *base) SetHeader(h header.Header) {
	if b.headers == nil {
		b.headers = make(map[header.Name]header.Header)
	}
	b.headers[h.HeaderName()] = h
}

func (b *base) CallID() string {
	if h, ok := b.Header("Call-ID"); ok {
		if cid, ok := h.(header.CallID); ok {
			return string(cid)
		}
	}
	return ""
}

// cloneBase deep-copies the header table: each entry's value is
// cloned through Header.Clone, not just the map itself, so a fork
// diverging a pointer-typed header (Contact, Via, Route, ...) in
// place never mutates the original message or another fork's clone.
func (b base) cloneBase() base {
	nb := base{trail: b.trail}
	if b.headers != nil {
		nb.headers = make(map[header.Name]header.Header, len(b.headers))
		for name, h := range b.headers {
			nb.headers[name] = h.Clone()
		}
	}
	if b.body != nil {
		nb.body = append([]byte(nil), b.body...)
	}
	return nb
}
