package wascript

import "time"

// Status is the classification of a single delivery attempt.
// It is decided once, inside Client.Send, and never re-inspected downstream.
type Status int

const (
	// StatusSuccess: the provider's response body explicitly signalled success.
	StatusSuccess Status = iota
	// StatusAPIRejected: the call completed but the body signals failure
	// or is not in the expected success shape.
	StatusAPIRejected
	// StatusTransportError: the call did not complete (network failure,
	// timeout, non-2xx status).
	StatusTransportError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusAPIRejected:
		return "api_rejected"
	case StatusTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

func (s Status) OK() bool { return s == StatusSuccess }

// MarshalText keeps JSON/YAML output readable in batch history.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Result is what Send returns for every attempt.
type Result struct {
	Status Status
	// Detail is the raw response body (success / api_rejected) or the
	// error description (transport_error).
	Detail     string
	HTTPStatus int
	Took       time.Duration
}

const (
	DefaultBaseURL = "https://api-whatsapp.wascript.com.br/api/enviar-texto"
	DefaultTimeout = 30 * time.Second

	// maxBodyBytes caps how much of a response body is kept as detail.
	maxBodyBytes = 64 << 10
	// maxDecodeBytes caps how much of a response body is read at all. A
	// longer 2xx reply is cut off and classified as rejected.
	maxDecodeBytes = 4 << 20
)

// Config configures the client. Zero values fall back to defaults.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// sendBody is the provider's request shape.
type sendBody struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// sendReply is the subset of the provider's reply we classify on.
type sendReply struct {
	Success *bool `json:"success"`
}
