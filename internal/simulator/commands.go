package simulator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	astrobox "github.com/astroprint/astrobox-go"
)

// errConflict marks commands the printer can't perform in its current state.
var errConflict = errors.New("printer state conflict")

// applyFunc mutates the printer for one command body.
type applyFunc func(p *Printer, body map[string]any) error

// command records the request, applies it under the lock and pushes the
// resulting snapshot.
func (s *Simulator) command(apply applyFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.commands = append(s.commands, Command{Path: r.URL.Path, Body: body})
		err := apply(&s.printer, body)
		msg := s.printer.current()
		s.mu.Unlock()

		switch {
		case errors.Is(err, errConflict):
			http.Error(w, err.Error(), http.StatusConflict)
			return
		case err != nil:
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.broadcast(msg)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Simulator) handleConnection(w http.ResponseWriter, r *http.Request) {
	s.command(func(p *Printer, body map[string]any) error {
		switch body["command"] {
		case "connect":
			p.Operational = true
			p.Ready = true
		case "disconnect":
			p.stopJob()
			p.Operational = false
			p.Ready = false
		default:
			return fmt.Errorf("unknown connection command %v", body["command"])
		}
		return nil
	})(w, r)
}

func (s *Simulator) handleJob(w http.ResponseWriter, r *http.Request) {
	s.command(func(p *Printer, body map[string]any) error {
		switch body["command"] {
		case "start":
			if !p.Operational || p.Printing {
				return fmt.Errorf("start: %w", errConflict)
			}
			p.startJob()
			s.publishLocked("PrinterStateChanged", astrobox.PrinterStateChanged{State: "printing"})
		case "pause":
			if !p.Printing {
				return fmt.Errorf("pause: %w", errConflict)
			}
			p.Paused = !p.Paused
		case "cancel":
			if !p.Printing {
				return fmt.Errorf("cancel: %w", errConflict)
			}
			p.stopJob()
			s.publishLocked("PrinterStateChanged", astrobox.PrinterStateChanged{State: "cancelled"})
		default:
			return fmt.Errorf("unknown job command %v", body["command"])
		}
		return nil
	})(w, r)
}

func (s *Simulator) handlePrinthead(w http.ResponseWriter, r *http.Request) {
	s.command(func(p *Printer, body map[string]any) error {
		switch body["command"] {
		case "jog", "home":
			if !p.Operational {
				return fmt.Errorf("printhead: %w", errConflict)
			}
			return nil
		default:
			return fmt.Errorf("unknown printhead command %v", body["command"])
		}
	})(w, r)
}

func (s *Simulator) handleTool(w http.ResponseWriter, r *http.Request) {
	s.command(func(p *Printer, body map[string]any) error {
		targets, ok := body["targets"].(map[string]any)
		if body["command"] != "target" || !ok {
			return errors.New("tool: expected target command with targets")
		}
		for name, v := range targets {
			idx, err := strconv.Atoi(strings.TrimPrefix(name, "tool"))
			if err != nil || !strings.HasPrefix(name, "tool") {
				return fmt.Errorf("tool: bad target name %q", name)
			}
			target, ok := v.(float64)
			if !ok {
				return fmt.Errorf("tool: target for %s is not a number", name)
			}
			key := strconv.Itoa(idx)
			t := p.Tools[key]
			t.Target = target
			p.Tools[key] = t
		}
		return nil
	})(w, r)
}

func (s *Simulator) handleBed(w http.ResponseWriter, r *http.Request) {
	s.command(func(p *Printer, body map[string]any) error {
		target, ok := body["target"].(float64)
		if body["command"] != "target" || !ok {
			return errors.New("bed: expected target command with a numeric target")
		}
		p.Bed.Target = target
		return nil
	})(w, r)
}

// publishLocked queues an event broadcast. Callers hold s.mu, so the send
// runs on its own goroutine.
func (s *Simulator) publishLocked(eventType string, payload any) {
	go func() {
		if err := s.Publish(eventType, payload); err != nil {
			log.Errorf("publish %s: %v", eventType, err)
		}
	}()
}
