package astrobox

import (
	"maps"
	"reflect"
	"sync"
)

// ChangeFunc is invoked after a field's value changes.
type ChangeFunc func(field string, old, new any)

type subscription struct {
	fn ChangeFunc
}

// Store holds the current device status as named fields and notifies
// subscribers when a field changes. Writes are made by the client's
// dispatch path; reads and subscriptions are safe from any goroutine.
type Store struct {
	mu       sync.RWMutex
	fields   map[string]any
	subs     map[string][]*subscription // field name -> subscribers
	wildcard []*subscription
}

// NewStore creates a store seeded from the bootstrap payload, so no tracked
// field is ever observed unset.
func NewStore(initial Bootstrap) *Store {
	return &Store{
		fields: initial.fields(),
		subs:   make(map[string][]*subscription),
	}
}

// Get returns the raw value of a field.
func (s *Store) Get(field string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.fields[field]
	return v, ok
}

// Set writes a field and reports whether the value changed. Writing an equal
// value notifies no one.
func (s *Store) Set(field string, value any) bool {
	s.mu.Lock()
	old, had := s.fields[field]
	if had && reflect.DeepEqual(old, value) {
		s.mu.Unlock()
		return false
	}
	s.fields[field] = value
	targets := make([]*subscription, 0, len(s.subs[field])+len(s.wildcard))
	targets = append(targets, s.subs[field]...)
	targets = append(targets, s.wildcard...)
	s.mu.Unlock()

	for _, sub := range targets {
		sub.fn(field, old, value)
	}
	return true
}

// Subscribe registers fn for changes of one field. The returned func removes it.
func (s *Store) Subscribe(field string, fn ChangeFunc) (unsubscribe func()) {
	sub := &subscription{fn: fn}
	s.mu.Lock()
	s.subs[field] = append(s.subs[field], sub)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subs[field] = removeSub(s.subs[field], sub)
		if len(s.subs[field]) == 0 {
			delete(s.subs, field)
		}
	}
}

// SubscribeAll registers fn for changes of every field.
func (s *Store) SubscribeAll(fn ChangeFunc) (unsubscribe func()) {
	sub := &subscription{fn: fn}
	s.mu.Lock()
	s.wildcard = append(s.wildcard, sub)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.wildcard = removeSub(s.wildcard, sub)
	}
}

func removeSub(list []*subscription, target *subscription) []*subscription {
	out := list[:0:0]
	for _, sub := range list {
		if sub != target {
			out = append(out, sub)
		}
	}
	return out
}

func (s *Store) Connection() ConnectionState { return typed[ConnectionState](s, FieldConnection) }
func (s *Store) Printing() bool              { return typed[bool](s, FieldPrinting) }
func (s *Store) Paused() bool                { return typed[bool](s, FieldPaused) }
func (s *Store) HeatingUp() bool             { return typed[bool](s, FieldHeatingUp) }
func (s *Store) Operational() bool           { return typed[bool](s, FieldOperational) }
func (s *Store) Camera() bool                { return typed[bool](s, FieldCamera) }
func (s *Store) Progress() JobProgress       { return typed[JobProgress](s, FieldProgress) }
func (s *Store) Tool() int                   { return typed[int](s, FieldTool) }
func (s *Store) PrintingSpeed() int          { return typed[int](s, FieldPrintingSpeed) }
func (s *Store) PrintingFlow() int           { return typed[int](s, FieldPrintingFlow) }

// Temps returns the latest temperatures. The Tools map is a copy.
func (s *Store) Temps() Temperatures {
	t := typed[Temperatures](s, FieldTemps)
	t.Tools = maps.Clone(t.Tools)
	return t
}

// Snapshot copies every tracked field into a DeviceStatus.
func (s *Store) Snapshot() DeviceStatus {
	return DeviceStatus{
		Connection:    s.Connection(),
		Printing:      s.Printing(),
		Paused:        s.Paused(),
		HeatingUp:     s.HeatingUp(),
		Operational:   s.Operational(),
		Ready:         typed[bool](s, FieldReady),
		Error:         typed[bool](s, FieldError),
		StateText:     typed[string](s, FieldStateText),
		Camera:        s.Camera(),
		Temps:         s.Temps(),
		Progress:      s.Progress(),
		Tool:          s.Tool(),
		PrintingSpeed: s.PrintingSpeed(),
		PrintingFlow:  s.PrintingFlow(),
	}
}

// DisplayState is Snapshot().DisplayState().
func (s *Store) DisplayState() string {
	return s.Snapshot().DisplayState()
}

func typed[T any](s *Store, field string) T {
	v, _ := s.Get(field)
	t, _ := v.(T)
	return t
}
