package astrobox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the client's position in the reconnection state machine.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateWaitingRetry
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateWaitingRetry:
		return "WaitingRetry"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// attemptTimeout bounds the token fetch plus dial of one reconnect attempt.
const attemptTimeout = apiRequestTimeout + sockjsDialTimeout

// Client keeps the appliance's push channel open and mirrors its state into
// a Store and an EventBus.
type Client struct {
	cfg     Config
	api     *APIClient
	tokens  TokenSource
	store   *Store
	bus     *EventBus
	decoder *decoder
	backoff *backoff
	clock   clock
	dial    dialFunc
	onError ErrorHandler

	baseCtx context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	state      State
	closed     bool
	gen        uint64 // identifies the current session; bumped on every attempt
	transport  transport
	attempts   int
	recovering bool // a session was lost and hasn't been replaced yet
	retry      timer
	handshakeT timer
	opened     bool // the current session's socket has opened
	session    string

	// Connection state is decided under mu and published to the store by
	// one flusher at a time, so the store always converges on the latest.
	conn       ConnectionState
	published  ConnectionState
	publishing bool

	disconnectFn func(error)
	reconnectFn  func()
	failedFn     func()
	reloadFn     func(owner string)
}

// NewClient creates a client for the appliance described by cfg.
// The onError handler is called for channel errors that cannot be returned
// to a direct caller (malformed frames, unknown messages, failed token
// refreshes, exhausted retries). The client is not connected until Connect().
func NewClient(cfg Config, onError ErrorHandler, opts ...ClientOption) (*Client, error) {
	resolved, err := resolveConfig(cfg)
	if err != nil {
		return nil, err
	}

	if onError == nil {
		return nil, errors.New("ErrorHandler must not be nil")
	}

	o := clientDefaults()
	for _, opt := range opts {
		opt(&o)
	}

	api, err := NewAPIClient(resolved.BaseURL, resolved.APIKey, o.httpClient)
	if err != nil {
		return nil, err
	}

	store := NewStore(o.bootstrap)
	bus := NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		cfg:     resolved,
		api:     api,
		tokens:  o.tokens,
		store:   store,
		bus:     bus,
		decoder: newDecoder(store, bus, onError),
		backoff: newBackoff(resolved.Backoff),
		clock:   o.clock,
		dial:    o.dial,
		onError: onError,
		baseCtx: ctx,
		cancel:  cancel,
	}
	c.conn = store.Connection()
	c.published = c.conn
	if c.tokens == nil {
		c.tokens = api
	}
	if c.dial == nil {
		c.dial = func() transport {
			return newSockJSSession(resolved.BaseURL, resolved.SockJSPath, onError)
		}
	}
	return c, nil
}

// Store returns the live state store.
func (c *Client) Store() *Store { return c.store }

// Events returns the bus carrying decoded push events.
func (c *Client) Events() *EventBus { return c.bus }

// API returns the REST client. Its API key follows the channel handshake.
func (c *Client) API() *APIClient { return c.api }

// State returns the current state machine position.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the token assigned by the current session's handshake,
// or "" when no session has completed one.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// OnDisconnect registers a callback invoked each time the client loses its
// session or an attempt fails and a retry is scheduled.
func (c *Client) OnDisconnect(fn func(error)) {
	c.mu.Lock()
	c.disconnectFn = fn
	c.mu.Unlock()
}

// OnReconnect registers a callback invoked when a lost session is restored.
func (c *Client) OnReconnect(fn func()) {
	c.mu.Lock()
	c.reconnectFn = fn
	c.mu.Unlock()
}

// OnFailed registers a callback invoked when the backoff table is exhausted.
// Only Reconnect resumes a failed client.
func (c *Client) OnFailed(fn func()) {
	c.mu.Lock()
	c.failedFn = fn
	c.mu.Unlock()
}

// OnReload registers a callback invoked when another session takes exclusive
// control of the appliance. Without one the client drops its session and
// reconnects so its state is rebuilt from the appliance.
func (c *Client) OnReload(fn func(owner string)) {
	c.mu.Lock()
	c.reloadFn = fn
	c.mu.Unlock()
}

// Connect opens the push channel using the bootstrap token from Config, or a
// freshly fetched one. If the first attempt fails its error is returned and
// the client keeps retrying in the background; call Close to stop it.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	token := c.cfg.WSToken
	c.cfg.WSToken = "" // single use
	c.mu.Unlock()

	return c.attempt(ctx, token)
}

// Reconnect drops any session or pending retry and starts over with a fresh
// token and an empty retry counter. It is the way out of StateFailed.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.state == StateIdle {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.attempts = 0
	c.mu.Unlock()

	return c.attempt(ctx, "")
}

// Close shuts the channel down. Pending retries are cancelled and no further
// attempts are made.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopTimersLocked()
	t := c.transport
	c.transport = nil
	c.gen++
	c.session = ""
	c.setStateLocked(StateIdle)
	c.setConnLocked(Unreachable)
	c.mu.Unlock()

	c.cancel()
	c.publishConn()
	if t != nil {
		return t.close()
	}
	return nil
}

// WaitReachable blocks until the channel has completed a handshake or ctx ends.
func (c *Client) WaitReachable(ctx context.Context) error {
	ready := make(chan struct{}, 1)
	unsubscribe := c.store.Subscribe(FieldConnection, func(_ string, _, v any) {
		if v == Reachable {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if c.store.Connection() == Reachable {
		return nil
	}
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// attempt replaces the current session with a new one. An empty token means
// one is fetched first.
func (c *Client) attempt(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.stopTimersLocked()
	old := c.transport
	c.transport = nil
	c.gen++
	gen := c.gen
	c.session = ""
	c.opened = false
	c.setStateLocked(StateConnecting)
	if old != nil {
		c.setConnLocked(Unreachable)
	}
	c.mu.Unlock()

	// At most one session: the previous one is gone before the next dials.
	if old != nil {
		old.close()
		c.publishConn()
	}

	if token == "" {
		var err error
		token, err = c.tokens.WSToken(ctx)
		if err != nil {
			err = fmt.Errorf("fetch ws token: %w", err)
			c.onError(ChannelError{Kind: ErrTokenRefresh, Cause: err, Timestamp: time.Now()})
			c.failedAttempt(gen, err)
			return err
		}
	}

	t := c.dial()
	t.onOpen(func() { c.handleOpen(gen) })
	t.onClose(func(intentional bool, err error) { c.handleClose(gen, intentional, err) })
	t.setMessageHandler(func(payload []byte) { c.handleMessage(gen, payload) })

	c.mu.Lock()
	if gen != c.gen {
		// Closed, or superseded by a newer attempt.
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return ErrClientClosed
		}
		return nil
	}
	c.transport = t
	c.mu.Unlock()

	if err := t.open(ctx, token); err != nil {
		c.failedAttempt(gen, err)
		return err
	}
	return nil
}

// failedAttempt schedules the next retry from the backoff table, or gives up.
func (c *Client) failedAttempt(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.stopTimersLocked()
	c.transport = nil
	c.session = ""
	c.recovering = true

	d, ok := c.backoff.delay(c.attempts)
	if !ok {
		c.setStateLocked(StateFailed)
		c.setConnLocked(Unreachable)
		failedFn := c.failedFn
		c.mu.Unlock()

		c.publishConn()
		c.onError(ChannelError{Kind: ErrReconnectExhausted, Cause: ErrRetriesExhausted, Timestamp: time.Now()})
		if failedFn != nil {
			failedFn()
		}
		return
	}

	c.attempts++
	c.setStateLocked(StateWaitingRetry)
	log.Debugf("retry %d/%d in %v: %v", c.attempts, c.backoff.len(), d, cause)
	c.retry = c.clock.AfterFunc(d, func() { c.retryNow(gen) })
	c.setConnLocked(Unreachable)
	disconnectFn := c.disconnectFn
	c.mu.Unlock()

	c.publishConn()
	if disconnectFn != nil {
		disconnectFn(cause)
	}
}

func (c *Client) retryNow(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.closed || c.state != StateWaitingRetry {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.baseCtx, attemptTimeout)
	defer cancel()
	c.attempt(ctx, "")
}

func (c *Client) handleOpen(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.handshakeT != nil {
		c.handshakeT.Stop()
	}
	c.handshakeT = c.clock.AfterFunc(c.cfg.HandshakeTimeout, func() { c.handshakeExpired(gen) })
	c.opened = true
	c.setConnLocked(Checking)
	c.mu.Unlock()

	c.publishConn()
}

func (c *Client) handshakeExpired(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	t := c.transport
	c.transport = nil
	c.handshakeT = nil
	// Detach the dead session so its close callback is ignored.
	c.gen++
	gen = c.gen
	c.mu.Unlock()

	c.onError(ChannelError{Kind: ErrHandshake, Cause: ErrHandshakeTimeout, Timestamp: time.Now()})
	if t != nil {
		t.close()
	}
	c.failedAttempt(gen, ErrHandshakeTimeout)
}

func (c *Client) handleHandshake(gen uint64, apiKey, sessionID string) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	if !c.opened {
		c.mu.Unlock()
		log.Warningf("connected message before the socket opened, ignoring")
		return
	}
	if c.handshakeT != nil {
		c.handshakeT.Stop()
		c.handshakeT = nil
	}
	c.session = sessionID
	c.attempts = 0
	restored := c.recovering
	c.recovering = false
	c.setStateLocked(StateConnected)
	c.setConnLocked(Reachable)
	reconnectFn := c.reconnectFn
	c.mu.Unlock()

	c.api.SetAPIKey(apiKey)
	c.publishConn()
	if restored && reconnectFn != nil {
		reconnectFn()
	}
}

func (c *Client) handleClose(gen uint64, intentional bool, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if intentional || c.closed {
		c.transport = nil
		c.session = ""
		c.stopTimersLocked()
		c.setStateLocked(StateIdle)
		c.setConnLocked(Unreachable)
		c.mu.Unlock()
		c.publishConn()
		return
	}
	c.mu.Unlock()

	if err == nil {
		err = errors.New("connection closed")
	}
	c.failedAttempt(gen, err)
}

func (c *Client) handleMessage(gen uint64, payload []byte) {
	c.mu.Lock()
	current := gen == c.gen
	c.mu.Unlock()
	if !current {
		return
	}
	c.decoder.dispatch(payload, sessionRef{c: c, gen: gen})
}

func (c *Client) handleLockLost(gen uint64, owner string) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	reloadFn := c.reloadFn
	c.mu.Unlock()

	log.Warningf("session %s took control of the appliance", owner)
	if reloadFn != nil {
		reloadFn(owner)
		return
	}
	// Off the read loop: Reconnect closes the session delivering this event.
	go func() {
		ctx, cancel := context.WithTimeout(c.baseCtx, attemptTimeout)
		defer cancel()
		c.Reconnect(ctx)
	}()
}

func (c *Client) stopTimersLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.handshakeT != nil {
		c.handshakeT.Stop()
		c.handshakeT = nil
	}
}

func (c *Client) setConnLocked(s ConnectionState) {
	c.conn = s
}

// publishConn copies the decided connection state into the store. A caller
// that finds another flush running leaves its value for that flusher, which
// also keeps subscribers that call back into the client from deadlocking.
func (c *Client) publishConn() {
	c.mu.Lock()
	if c.publishing {
		c.mu.Unlock()
		return
	}
	c.publishing = true
	for c.conn != c.published {
		s := c.conn
		c.published = s
		c.mu.Unlock()
		c.store.Set(FieldConnection, s)
		c.mu.Lock()
	}
	c.publishing = false
	c.mu.Unlock()
}

func (c *Client) setStateLocked(s State) {
	if c.state != s {
		log.Debugf("state %s -> %s", c.state, s)
	}
	c.state = s
}

// sessionRef binds decoder callbacks to the session a frame arrived on.
type sessionRef struct {
	c   *Client
	gen uint64
}

func (r sessionRef) handshake(apiKey, sessionID string) {
	r.c.handleHandshake(r.gen, apiKey, sessionID)
}

func (r sessionRef) sessionID() string {
	return r.c.SessionID()
}

func (r sessionRef) lockLost(owner string) {
	r.c.handleLockLost(r.gen, owner)
}
