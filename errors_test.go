package astrobox

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/op/go-logging"
)

func TestConnectionError_Error(t *testing.T) {
	err := &ConnectionError{
		URL:    "ws://astrobox.local/sockjs",
		Reason: "connection refused",
	}
	want := "connection error [ws://astrobox.local/sockjs]: connection refused"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestConnectionError_ErrorsAs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &ConnectionError{
		URL:    "ws://astrobox.local/sockjs",
		Reason: "bad handshake",
	})
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatal("errors.As should match ConnectionError")
	}
	if connErr.Reason != "bad handshake" {
		t.Errorf("Reason = %q, want %q", connErr.Reason, "bad handshake")
	}
}

func TestAPIError_IsAuth(t *testing.T) {
	cases := map[int]bool{401: true, 403: true, 404: false, 500: false}
	for status, want := range cases {
		err := &APIError{Method: "GET", Path: "/wsToken", Status: status}
		if got := err.IsAuth(); got != want {
			t.Errorf("IsAuth() for %d = %v, want %v", status, got, want)
		}
	}
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Method: "POST", Path: "/api/job", Status: 409}
	want := "api POST /api/job returned status 409"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorKind_String(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want string
	}{
		{ErrParseFailure, "ErrParseFailure"},
		{ErrMalformedFrame, "ErrMalformedFrame"},
		{ErrUnknownMessage, "ErrUnknownMessage"},
		{ErrUnknownEvent, "ErrUnknownEvent"},
		{ErrTokenRefresh, "ErrTokenRefresh"},
		{ErrHandshake, "ErrHandshake"},
		{ErrReconnectExhausted, "ErrReconnectExhausted"},
		{ErrorKind(42), "ErrorKind(42)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("ErrorKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestChannelError_Unwrap(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := &ChannelError{
		Kind:      ErrParseFailure,
		Message:   "current",
		Cause:     cause,
		Timestamp: time.Now(),
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if !strings.Contains(err.Error(), "message=current") {
		t.Errorf("Error() = %q, want it to name the sub-message", err.Error())
	}
}

func TestChannelError_NoCause(t *testing.T) {
	err := &ChannelError{Kind: ErrUnknownEvent, Event: "Bogus"}
	want := "ErrUnknownEvent (message= event=Bogus)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestLogErrors(t *testing.T) {
	var buf bytes.Buffer
	backend := logging.NewLogBackend(&buf, "", 0)
	logger := logging.MustGetLogger("astrobox-test")
	leveled := logging.AddModuleLevel(backend)
	leveled.SetLevel(logging.DEBUG, "astrobox-test")
	logger.SetBackend(leveled)

	handler := LogErrors(logger)
	handler(ChannelError{
		Kind:    ErrUnknownMessage,
		Message: "mystery",
	})

	if !strings.Contains(buf.String(), "ErrUnknownMessage") {
		t.Errorf("log output = %q, want it to contain ErrUnknownMessage", buf.String())
	}
	if !strings.Contains(buf.String(), "mystery") {
		t.Errorf("log output = %q, want it to contain sub-message name", buf.String())
	}
}
