package astrobox

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("astrobox")

// Sentinel errors for client state.
var (
	ErrNotConnected     = errors.New("client is not connected")
	ErrAlreadyConnected = errors.New("client is already connected")
	ErrClientClosed     = errors.New("client is closed")
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
	ErrHandshakeTimeout = errors.New("handshake not received")
)

// ConnectionError represents a failure to open or keep the push channel.
type ConnectionError struct {
	URL    string
	Reason string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error [%s]: %s", e.URL, e.Reason)
}

// APIError is returned by APIClient when the appliance answers with a non-2xx status.
type APIError struct {
	Method string
	Path   string
	Status int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %s %s returned status %d", e.Method, e.Path, e.Status)
}

// IsAuth reports whether the appliance rejected the API key.
func (e *APIError) IsAuth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// ErrorKind classifies channel errors that cannot be returned to a caller.
type ErrorKind int

const (
	ErrParseFailure       ErrorKind = iota // sub-message payload didn't match its schema
	ErrMalformedFrame                      // transport frame or message wasn't valid JSON
	ErrUnknownMessage                      // sub-message name not recognized
	ErrUnknownEvent                        // event type not recognized
	ErrTokenRefresh                        // fetching a fresh ws token failed
	ErrHandshake                           // socket opened but no connected message arrived
	ErrReconnectExhausted                  // backoff table used up, client is Failed
)

var errorKindNames = [...]string{
	ErrParseFailure:       "ErrParseFailure",
	ErrMalformedFrame:     "ErrMalformedFrame",
	ErrUnknownMessage:     "ErrUnknownMessage",
	ErrUnknownEvent:       "ErrUnknownEvent",
	ErrTokenRefresh:       "ErrTokenRefresh",
	ErrHandshake:          "ErrHandshake",
	ErrReconnectExhausted: "ErrReconnectExhausted",
}

func (k ErrorKind) String() string {
	if int(k) >= 0 && int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// ChannelError describes a problem on the push channel that was dropped
// rather than returned. These are routed to the ErrorHandler given to NewClient.
type ChannelError struct {
	Kind      ErrorKind
	Message   string // sub-message name, if known
	Event     string // event type, if known
	Cause     error
	Raw       []byte // raw payload (for parse failures)
	Timestamp time.Time
}

func (e *ChannelError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v (message=%s event=%s)", e.Kind, e.Cause, e.Message, e.Event)
	}
	return fmt.Sprintf("%s (message=%s event=%s)", e.Kind, e.Message, e.Event)
}

func (e *ChannelError) Unwrap() error {
	return e.Cause
}

// ErrorHandler is called for every channel error that cannot be returned
// to a direct caller. It MUST be provided when creating a client.
type ErrorHandler func(ChannelError)

// LogErrors returns an ErrorHandler that logs all channel errors to the given logger.
func LogErrors(logger *logging.Logger) ErrorHandler {
	return func(e ChannelError) {
		switch e.Kind {
		case ErrReconnectExhausted, ErrTokenRefresh:
			logger.Errorf("%s", e.Error())
		default:
			logger.Warningf("%s", e.Error())
		}
	}
}
