package sip

// Response is an incoming or outgoing SIP response.
type Response struct {
	base

	StatusCode StatusCode
	Reason     string
}

// NewResponse builds an empty response with the given status.
func NewResponse(status StatusCode, reason string) *Response {
	return &Response{base: newBase(), StatusCode: status, Reason: reason}
}

func (r *Response) Clone() Message {
	return &Response{
		base:       r.cloneBase(),
		StatusCode: r.StatusCode,
		Reason:     r.Reason,
	}
}
