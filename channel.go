package astrobox

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// sockjsReadTimeout is how long the session tolerates silence. The
	// server heartbeats every 25s.
	sockjsReadTimeout = 60 * time.Second

	sockjsDialTimeout = 10 * time.Second
)

// sockjsSession implements the transport interface using the SockJS
// raw-websocket framing.
type sockjsSession struct {
	baseURL     string // http(s)://host
	path        string // e.g. /sockjs
	readTimeout time.Duration

	conn *websocket.Conn
	mu   sync.Mutex // protects conn

	openFn     func()
	closeFn    func(intentional bool, err error)
	msgHandler func(payload []byte)
	onError    ErrorHandler

	closeOnce sync.Once
	done      chan struct{}
}

func newSockJSSession(baseURL, path string, onError ErrorHandler) *sockjsSession {
	return &sockjsSession{
		baseURL:     baseURL,
		path:        path,
		readTimeout: sockjsReadTimeout,
		onError:     onError,
		done:        make(chan struct{}),
	}
}

// sessionURL builds <ws base><path>/<server>/<session>/websocket?token=...
func (s *sockjsSession) sessionURL(token string) (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	serverID := fmt.Sprintf("%03d", rand.IntN(1000))
	sessionID := strings.ReplaceAll(uuid.NewString(), "-", "")
	u.Path = strings.TrimRight(u.Path, "/") + s.path + "/" + serverID + "/" + sessionID + "/websocket"

	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *sockjsSession) open(ctx context.Context, token string) error {
	wsURL, err := s.sessionURL(token)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: sockjsDialTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return &ConnectionError{URL: s.baseURL + s.path, Reason: err.Error()}
	}

	s.mu.Lock()
	select {
	case <-s.done:
		// closed while dialing
		s.mu.Unlock()
		conn.Close()
		return ErrClientClosed
	default:
	}
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop(conn)
	return nil
}

func (s *sockjsSession) onOpen(fn func()) {
	s.openFn = fn
}

func (s *sockjsSession) onClose(fn func(intentional bool, err error)) {
	s.closeFn = fn
}

func (s *sockjsSession) setMessageHandler(fn func(payload []byte)) {
	s.msgHandler = fn
}

func (s *sockjsSession) close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		select {
		case <-s.done:
		default:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
	}
	s.finish(true, nil)
	return nil
}

// finish tears the session down and fires onClose exactly once.
func (s *sockjsSession) finish(intentional bool, err error) {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}

		if s.closeFn != nil {
			s.closeFn(intentional, err)
		}
	})
}

func (s *sockjsSession) readLoop(conn *websocket.Conn) {
	for {
		if s.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.finish(false, err)
			}
			return
		}

		if closed := s.handleFrame(data); closed {
			return
		}
	}
}

// handleFrame interprets one SockJS frame. It reports true when the server
// closed the session.
func (s *sockjsSession) handleFrame(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	switch data[0] {
	case 'o':
		if s.openFn != nil {
			s.openFn()
		}
	case 'h':
	case 'a':
		var msgs []string
		if err := json.Unmarshal(data[1:], &msgs); err != nil {
			s.frameError(err, data)
			return false
		}
		for _, m := range msgs {
			s.deliver(m)
		}
	case 'm':
		var msg string
		if err := json.Unmarshal(data[1:], &msg); err != nil {
			s.frameError(err, data)
			return false
		}
		s.deliver(msg)
	case 'c':
		var reason []any
		_ = json.Unmarshal(data[1:], &reason)
		s.finish(false, fmt.Errorf("closed by server: %v", reason))
		return true
	default:
		s.frameError(fmt.Errorf("unknown frame type %q", data[0]), data)
	}
	return false
}

func (s *sockjsSession) deliver(msg string) {
	select {
	case <-s.done:
		return
	default:
	}
	if s.msgHandler != nil {
		s.msgHandler([]byte(msg))
	}
}

func (s *sockjsSession) frameError(err error, raw []byte) {
	if s.onError == nil {
		return
	}
	s.onError(ChannelError{
		Kind:      ErrMalformedFrame,
		Cause:     err,
		Raw:       raw,
		Timestamp: time.Now(),
	})
}
