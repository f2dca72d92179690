package sip

// RequestMethod is a SIP request method.
type RequestMethod string

const (
	INVITE    RequestMethod = "INVITE"
	ACK       RequestMethod = "ACK"
	BYE       RequestMethod = "BYE"
	CANCEL    RequestMethod = "CANCEL"
	REGISTER  RequestMethod = "REGISTER"
	OPTIONS   RequestMethod = "OPTIONS"
	INFO      RequestMethod = "INFO"
	PRACK     RequestMethod = "PRACK"
	SUBSCRIBE RequestMethod = "SUBSCRIBE"
	NOTIFY    RequestMethod = "NOTIFY"
	UPDATE    RequestMethod = "UPDATE"
	MESSAGE   RequestMethod = "MESSAGE"
	REFER     RequestMethod = "REFER"
)

// StatusCode is a SIP response status code.
type StatusCode int

func (c StatusCode) Provisional() bool { return c >= 100 && c < 200 }
func (c StatusCode) Success() bool     { return c >= 200 && c < 300 }
func (c StatusCode) Redirect() bool    { return c >= 300 && c < 400 }
func (c StatusCode) ClientError() bool { return c >= 400 && c < 500 }
func (c StatusCode) ServerError() bool { return c >= 500 && c < 600 }
func (c StatusCode) GlobalError() bool { return c >= 600 && c < 700 }
func (c StatusCode) Final() bool       { return c >= 200 }

const (
	StatusTrying               StatusCode = 100
	StatusRinging              StatusCode = 180
	StatusOK                   StatusCode = 200
	StatusBadRequest           StatusCode = 400
	StatusNotFound             StatusCode = 404
	StatusRequestTimeout       StatusCode = 408
	StatusTemporarilyUnavail   StatusCode = 480
	StatusRequestTerminated    StatusCode = 487
	StatusServerInternalError  StatusCode = 500
	StatusServiceUnavailable   StatusCode = 503
)
