// Package simulator is a fake AstroBox appliance. It serves the REST calls
// and the SockJS push channel the client depends on, closely enough for
// integration tests and local development without hardware.
package simulator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/op/go-logging"

	astrobox "github.com/astroprint/astrobox-go"
)

var log = logging.MustGetLogger("simulator")

const (
	apiKeyHeader             = "X-Api-Key"
	defaultInterval          = time.Second
	defaultHeartbeatInterval = 25 * time.Second
	writeTimeout             = 5 * time.Second
)

// Options configures a Simulator.
type Options struct {
	// APIKey is the key accepted before any session hands out a new one.
	// Generated when empty.
	APIKey string
	// Interval between current snapshots. Defaults to 1s.
	Interval time.Duration
	// HeartbeatInterval between SockJS "h" frames. Defaults to 25s.
	HeartbeatInterval time.Duration
	// Printer is the initial printer state.
	Printer Printer
}

// Command is a REST command received by the simulator.
type Command struct {
	Path string
	Body map[string]any
}

// Simulator is a running fake appliance. Serve it with Handler().
type Simulator struct {
	opts     Options
	router   *mux.Router
	upgrader websocket.Upgrader

	mu       sync.Mutex
	keys     map[string]bool
	tokens   map[string]bool // issued and not yet used
	conns    map[*session]struct{}
	printer  Printer
	commands []Command
	closed   bool
}

// New creates a simulator.
func New(opts Options) *Simulator {
	if opts.APIKey == "" {
		opts.APIKey = uuid.NewString()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	s := &Simulator{
		opts:     opts,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		keys:     map[string]bool{opts.APIKey: true},
		tokens:   make(map[string]bool),
		conns:    make(map[*session]struct{}),
		printer:  opts.Printer.withDefaults(),
	}
	s.router = s.routes()
	return s
}

func (s *Simulator) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/wsToken", s.requireKey(s.handleWSToken)).Methods(http.MethodGet)
	r.HandleFunc("/api/connection", s.requireKey(s.handleConnection)).Methods(http.MethodPost)
	r.HandleFunc("/api/job", s.requireKey(s.handleJob)).Methods(http.MethodPost)
	r.HandleFunc("/api/printer/printhead", s.requireKey(s.handlePrinthead)).Methods(http.MethodPost)
	r.HandleFunc("/api/printer/tool", s.requireKey(s.handleTool)).Methods(http.MethodPost)
	r.HandleFunc("/api/printer/bed", s.requireKey(s.handleBed)).Methods(http.MethodPost)
	r.HandleFunc("/sockjs/{server:[0-9]+}/{session}/websocket", s.handleSockJS).Methods(http.MethodGet)
	return r
}

// Handler returns the HTTP handler serving the appliance.
func (s *Simulator) Handler() http.Handler { return s.router }

// APIKey returns the key accepted before the first handshake.
func (s *Simulator) APIKey() string { return s.opts.APIKey }

// IssueToken mints a one-time channel token, as the appliance does when it
// renders the page a client boots from.
func (s *Simulator) IssueToken() string {
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = true
	s.mu.Unlock()
	return token
}

// Sessions returns the number of open push channel sessions.
func (s *Simulator) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Commands returns the REST commands received so far.
func (s *Simulator) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Command, len(s.commands))
	copy(out, s.commands)
	return out
}

// Printer returns a copy of the simulated printer state.
func (s *Simulator) Printer() Printer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.printer.clone()
}

// Update changes the printer state and pushes a snapshot to every session.
func (s *Simulator) Update(fn func(p *Printer)) {
	s.mu.Lock()
	fn(&s.printer)
	msg := s.printer.current()
	s.mu.Unlock()
	s.broadcast(msg)
}

// Publish pushes an event to every session.
func (s *Simulator) Publish(eventType string, payload any) error {
	data, err := json.Marshal(map[string]any{
		"event": map[string]any{"type": eventType, "payload": payload},
	})
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", eventType, err)
	}
	s.broadcast(data)
	return nil
}

// Comms pushes a line of printer serial traffic to every session.
func (s *Simulator) Comms(direction, line string) error {
	data, err := json.Marshal(map[string]any{
		"commsData": astrobox.CommsData{Direction: direction, Data: line},
	})
	if err != nil {
		return fmt.Errorf("marshal comms: %w", err)
	}
	s.broadcast(data)
	return nil
}

// Emit pushes a raw message object to every session unchanged.
func (s *Simulator) Emit(message string) {
	s.broadcast([]byte(message))
}

// DropConnections closes every session's socket without a SockJS close frame,
// the way a network failure would.
func (s *Simulator) DropConnections() {
	for _, c := range s.sessions() {
		c.drop()
	}
}

// Close ends every session with a close frame and stops accepting new ones.
func (s *Simulator) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	for _, c := range s.sessions() {
		c.send(closeFrame(3000, "Go away!"))
		c.drop()
	}
}

func (s *Simulator) sessions() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Simulator) broadcast(message []byte) {
	frame, err := arrayFrame(message)
	if err != nil {
		log.Errorf("encode frame: %v", err)
		return
	}
	for _, c := range s.sessions() {
		c.send(frame)
	}
}

func (s *Simulator) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		ok := s.keys[r.Header.Get(apiKeyHeader)]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "invalid api key", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Simulator) handleWSToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"ws_token": s.IssueToken()})
}

func (s *Simulator) handleSockJS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	s.mu.Lock()
	valid := s.tokens[token] && !s.closed
	delete(s.tokens, token)
	s.mu.Unlock()
	if !valid {
		log.Warningf("rejected channel token %q", token)
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("upgrade: %v", err)
		return
	}

	apiKey := uuid.NewString()
	c := &session{id: uuid.NewString(), conn: conn, done: make(chan struct{})}
	s.mu.Lock()
	s.keys[apiKey] = true
	s.conns[c] = struct{}{}
	snapshot := s.printer.current()
	s.mu.Unlock()
	log.Infof("session %s opened", c.id)

	hello, _ := json.Marshal(map[string]any{
		"connected": map[string]string{"apikey": apiKey, "sessionId": c.id},
	})
	c.send([]byte("o"))
	for _, msg := range [][]byte{hello, snapshot} {
		if frame, err := arrayFrame(msg); err == nil {
			c.send(frame)
		}
	}

	go s.pump(c)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	c.drop()
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	log.Infof("session %s closed", c.id)
}

// pump sends snapshots and heartbeats until the session ends.
func (s *Simulator) pump(c *session) {
	snapshots := time.NewTicker(s.opts.Interval)
	defer snapshots.Stop()
	heartbeats := time.NewTicker(s.opts.HeartbeatInterval)
	defer heartbeats.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-heartbeats.C:
			c.send([]byte("h"))
		case <-snapshots.C:
			s.mu.Lock()
			s.printer.tick(s.opts.Interval)
			msg := s.printer.current()
			s.mu.Unlock()
			if frame, err := arrayFrame(msg); err == nil {
				c.send(frame)
			}
		}
	}
}

// session is one accepted push channel socket.
type session struct {
	id   string
	conn *websocket.Conn

	writeMu  sync.Mutex
	dropOnce sync.Once
	done     chan struct{}
}

func (c *session) send(frame []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		log.Debugf("session %s write: %v", c.id, err)
	}
}

func (c *session) drop() {
	c.dropOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// arrayFrame wraps one message in a SockJS "a" frame.
func arrayFrame(message []byte) ([]byte, error) {
	data, err := json.Marshal([]string{string(message)})
	if err != nil {
		return nil, err
	}
	return append([]byte("a"), data...), nil
}

func closeFrame(code int, reason string) []byte {
	data, _ := json.Marshal([]any{code, reason})
	return append([]byte("c"), data...)
}
