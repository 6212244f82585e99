package astrobox

import "net/http"

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	bootstrap  Bootstrap
	tokens     TokenSource
	clock      clock
	dial       dialFunc
}

func clientDefaults() clientOptions {
	return clientOptions{
		clock: realClock{},
	}
}

// WithHTTPClient sets the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = hc
	}
}

// WithBootstrap seeds the Store with the state the appliance was in when the
// client started.
func WithBootstrap(b Bootstrap) ClientOption {
	return func(o *clientOptions) {
		o.bootstrap = b
	}
}

// WithTokenSource replaces the REST call used to fetch one-time channel tokens.
func WithTokenSource(ts TokenSource) ClientOption {
	return func(o *clientOptions) {
		o.tokens = ts
	}
}

func withClock(c clock) ClientOption {
	return func(o *clientOptions) {
		o.clock = c
	}
}

func withDialer(fn dialFunc) ClientOption {
	return func(o *clientOptions) {
		o.dial = fn
	}
}
