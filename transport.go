package astrobox

import "context"

// transport is the internal interface for one push-channel session with the
// appliance. The current implementation speaks SockJS over a raw WebSocket
// (channel.go). A transport never reconnects; the Client owns retries.
type transport interface {
	// open dials the channel using a one-time token. A nil return means the
	// socket is up; onOpen fires once the server acknowledges the session.
	open(ctx context.Context, token string) error

	// close shuts the session down. It is idempotent and reports
	// intentional=true to the onClose callback.
	close() error

	// onOpen registers the callback for the server's open acknowledgement.
	onOpen(fn func())

	// onClose registers the callback fired exactly once when the session ends.
	// intentional is false when the network or the server ended it.
	onClose(fn func(intentional bool, err error))

	// setMessageHandler registers the callback for inbound messages. Messages
	// are delivered one at a time in the order they were received.
	setMessageHandler(fn func(payload []byte))
}

// dialFunc creates a fresh, unopened transport.
type dialFunc func() transport
