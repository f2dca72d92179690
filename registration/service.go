// Package registration implements the registrar application service:
// a REGISTER handler that maintains AoR bindings in the registration
// store and answers with the surviving contact set.
package registration

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"braces.dev/errtrace"

	"github.com/vbohinc/sipcore/appserver"
	"github.com/vbohinc/sipcore/header"
	"github.com/vbohinc/sipcore/internal/errorutil"
	"github.com/vbohinc/sipcore/internal/util"
	"github.com/vbohinc/sipcore/log"
	"github.com/vbohinc/sipcore/registrar"
	"github.com/vbohinc/sipcore/sip"
	"github.com/vbohinc/sipcore/uri"
)

// ServiceName is the bare name this service registers under; iFC
// routing reaches it as "registrar.<home_domain>".
const ServiceName = "registrar"

// DefaultExpires is used when neither a contact's expires parameter
// nor the Expires header names a registration lifetime.
const DefaultExpires = 3600

// Service holds the collaborators a registration transaction needs.
type Service struct {
	Engine *registrar.Engine
	// MaxExpires caps the granted registration lifetime; 0 means no cap.
	MaxExpires uint32
	Logger     *slog.Logger
	// Now is overridable so expiry tests don't race a real clock.
	Now func() time.Time
}

// Factory produces the per-transaction handler. Non-REGISTER requests
// are declined and pass through to default routing.
func (s *Service) Factory() appserver.Factory {
	return func(_ *appserver.ServiceContext, req *sip.Request) appserver.Handler {
		if req.Method != sip.REGISTER {
			return nil
		}
		return &handler{service: s}
	}
}

// Register adds this service to reg under ServiceName.
func (s *Service) Register(reg *appserver.Registry) {
	reg.Register(ServiceName, s.Factory())
}

type handler struct {
	service *Service
}

func (h *handler) OnInitialRequest(ctx context.Context, tx *appserver.TxContext, req *sip.Request) {
	s := h.service
	logger := s.logger().With("trail", string(tx.Service.Trail()), "call_id", req.CallID())

	aorID := aorOf(req)
	if aorID == "" {
		tx.Service.Reject(ctx, sip.StatusBadRequest, "Bad Request")
		return
	}

	now := s.now()
	var aor *registrar.AoR

	for attempt := 0; attempt < registrar.MaxSetRetries; attempt++ {
		var err error
		aor, err = s.Engine.GetAoR(ctx, aorID)
		if err != nil {
			if errors.Is(err, registrar.ErrCorrupt) {
				logger.Error("corrupt aor record, treating as empty", "aor", aorID)
			} else {
				logger.Error("aor read failed", "aor", aorID, "error", err)
				tx.Service.Reject(ctx, sip.StatusServerInternalError, "Internal Server Error")
				return
			}
		}

		if err := s.apply(aor, req, now); err != nil {
			tx.Service.Reject(ctx, sip.StatusBadRequest, "Bad Request")
			return
		}

		accepted, err := s.Engine.SetAoR(ctx, aor)
		if err != nil {
			if errors.Is(err, registrar.ErrExpiresOverflow) {
				tx.Service.Reject(ctx, sip.StatusBadRequest, "Bad Request")
				return
			}
			logger.Error("aor write failed", "aor", aorID, "error", err)
			tx.Service.Reject(ctx, sip.StatusServerInternalError, "Internal Server Error")
			return
		}
		if accepted {
			logger.Debug("registration updated", "aor", aorID, "bindings", len(aor.Bindings))
			tx.Service.SendResponse(ctx, s.okResponse(req, aor, now))
			return
		}
		logger.Debug("aor write contention, retrying", "aor", aorID, "attempt", attempt+1)
	}

	logger.Error("aor write kept losing the cas race", "aor", aorID)
	tx.Service.Reject(ctx, sip.StatusServerInternalError, "Internal Server Error")
}

// apply folds the request's Contact set into aor. A REGISTER without
// Contact is a pure query and leaves aor untouched.
func (s *Service) apply(aor *registrar.AoR, req *sip.Request, now time.Time) error {
	h, ok := req.Header("Contact")
	if !ok {
		return nil
	}
	contact, ok := h.(*header.Contact)
	if !ok {
		return errBadContact
	}

	nowEpoch := uint32(now.Unix())

	if contact.Star {
		// "Contact: *" with Expires: 0 wipes the whole registration;
		// the write with zero remaining bindings still goes to the
		// store as an effectively-immediate-expiry write.
		for _, b := range aor.Bindings {
			b.Expires = nowEpoch
		}
		return nil
	}

	callID := req.CallID()
	cseq := cseqOf(req)
	paths := pathsOf(req)

	for _, addr := range contact.Addrs {
		bindingID := addr.URI

		if existing, ok := aor.Bindings[bindingID]; ok &&
			existing.CallID == callID && cseq <= existing.CSeq {
			// Retransmission or out-of-order REGISTER on the same
			// Call-ID; the stored binding wins.
			continue
		}

		expires := s.grantedExpires(addr, req)
		if expires == 0 {
			if b, ok := aor.Bindings[bindingID]; ok {
				b.Expires = nowEpoch
			}
			continue
		}

		aor.Bindings[bindingID] = &registrar.Binding{
			ID:         bindingID,
			ContactURI: addr.URI,
			CallID:     callID,
			CSeq:       cseq,
			Expires:    nowEpoch + expires,
			Priority:   priorityOf(addr),
			Params:     paramsOf(addr),
			Path:       paths,
		}
	}
	return nil
}

func (s *Service) grantedExpires(addr header.ContactAddr, req *sip.Request) uint32 {
	expires := uint32(DefaultExpires)
	if h, ok := req.Header("Expires"); ok {
		if e, ok := h.(header.Expires); ok {
			expires = uint32(e)
		}
	}
	if v, ok := addr.Params["expires"]; ok {
		if e, err := parseUint32(v); err == nil {
			expires = e
		}
	}
	if s.MaxExpires > 0 && expires > s.MaxExpires {
		expires = s.MaxExpires
	}
	return expires
}

// okResponse reflects the surviving binding set back to the
// registering endpoint, with each contact's remaining lifetime.
func (s *Service) okResponse(req *sip.Request, aor *registrar.AoR, now time.Time) *sip.Response {
	rsp := sip.NewResponse(sip.StatusOK, "OK")
	for _, name := range []header.Name{"To", "From", "Call-ID", "CSeq", "Via"} {
		if h, ok := req.Header(name); ok {
			rsp.SetHeader(h)
		}
	}

	nowEpoch := uint32(now.Unix())
	contact := &header.Contact{}
	for _, b := range aor.Bindings {
		remaining := uint32(0)
		if b.Expires > nowEpoch {
			remaining = b.Expires - nowEpoch
		}
		contact.Addrs = append(contact.Addrs, header.ContactAddr{
			URI:    b.ContactURI,
			Params: map[string]string{"expires": formatUint32(remaining)},
		})
	}
	if len(contact.Addrs) > 0 {
		rsp.SetHeader(contact)
	}
	return rsp
}

// aorOf canonicalizes the registered identity: the To header's URI,
// falling back to the Request-URI, re-rendered through the URI type
// so "sip:Alice@Example.COM" and "sip:Alice@example.com" key the
// same record.
func aorOf(req *sip.Request) string {
	raw := req.RequestURI
	if h, ok := req.Header("To"); ok {
		if to, ok := h.(*header.To); ok && to.URI != "" {
			raw = to.URI
		}
	}
	u, err := uri.Parse(raw)
	if err != nil {
		return ""
	}
	u.Host = lowerHost(u.Host)
	u.Params = nil
	return u.String()
}

func cseqOf(req *sip.Request) uint32 {
	if h, ok := req.Header("CSeq"); ok {
		if c, ok := h.(*header.CSeq); ok {
			return c.Seq
		}
	}
	return 0
}

func pathsOf(req *sip.Request) []string {
	h, ok := req.Header("Path")
	if !ok {
		return nil
	}
	p, ok := h.(*header.Path)
	if !ok {
		return nil
	}
	paths := make([]string, 0, len(p.Hops))
	for _, hop := range p.Hops {
		paths = append(paths, hop.URI)
	}
	return paths
}

// priorityOf maps a contact's q-value to an integer priority in
// thousandths, higher meaning more preferred.
func priorityOf(addr header.ContactAddr) int {
	if !addr.HasQ {
		return 1000
	}
	return int(addr.Q * 1000)
}

func paramsOf(addr header.ContactAddr) []registrar.Param {
	if len(addr.Params) == 0 {
		return nil
	}
	params := make([]registrar.Param, 0, len(addr.Params))
	for _, name := range sortedKeys(addr.Params) {
		if name == "expires" {
			continue
		}
		params = append(params, registrar.Param{Name: name, Value: addr.Params[name]})
	}
	return params
}

const errBadContact errorutil.Error = "registration: malformed contact header"

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), errtrace.Wrap(err)
}

func formatUint32(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}

func lowerHost(h string) string { return util.LCase(h) }

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
