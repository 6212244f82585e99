package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	astrobox "github.com/astroprint/astrobox-go"
)

type fakeController struct {
	calls []string
	err   error
}

func (f *fakeController) Reconnect(context.Context) error {
	f.calls = append(f.calls, "reconnect")
	return f.err
}

func (f *fakeController) PauseJob(context.Context) error {
	f.calls = append(f.calls, "pause")
	return f.err
}

func (f *fakeController) CancelJob(context.Context) error {
	f.calls = append(f.calls, "cancel")
	return f.err
}

func keyPress(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestModel_StatusRendering(t *testing.T) {
	m := newModel(&fakeController{}, astrobox.DeviceStatus{}, false)

	updated, _ := m.Update(statusMsg(astrobox.DeviceStatus{
		Connection: astrobox.Reachable,
		Printing:   true,
		StateText:  "Printing",
		Temps: astrobox.Temperatures{
			Bed:   astrobox.Temperature{Actual: 59.5, Target: 60},
			Tools: map[string]astrobox.Temperature{"0": {Actual: 210}},
		},
		Progress: astrobox.JobProgress{Filename: "benchy.gcode", Percent: 42},
	}))
	view := updated.(Model).View()

	for _, want := range []string{"PRINTING", "benchy.gcode", "42.0%", "Tool 0", "reachable"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModel_IdleHidesJob(t *testing.T) {
	m := newModel(&fakeController{}, astrobox.DeviceStatus{Operational: true,
		Progress: astrobox.JobProgress{Filename: "old.gcode"}}, false)

	view := m.View()
	if strings.Contains(view, "old.gcode") {
		t.Error("idle printer should not show the last job")
	}
	if !strings.Contains(view, "IDLE") {
		t.Errorf("view should show IDLE:\n%s", view)
	}
}

func TestModel_CommsToggleAndBuffer(t *testing.T) {
	m := newModel(&fakeController{}, astrobox.DeviceStatus{}, false)

	updated, _ := m.Update(keyPress('c'))
	m = updated.(Model)
	if !m.showComms {
		t.Fatal("c should toggle comms on")
	}

	for i := 0; i < commsBufferLimit+10; i++ {
		updated, _ = m.Update(commsMsg{Direction: astrobox.CommsSent, Data: "M105"})
		m = updated.(Model)
	}
	if len(m.comms) != commsBufferLimit {
		t.Errorf("comms buffer = %d lines, want %d", len(m.comms), commsBufferLimit)
	}
	if m.comms[0] != "→ M105" {
		t.Errorf("comms line = %q, want sent arrow", m.comms[0])
	}
}

func TestModel_KeyCommands(t *testing.T) {
	ctl := &fakeController{err: errors.New("409")}
	m := newModel(ctl, astrobox.DeviceStatus{}, false)

	_, cmd := m.Update(keyPress('p'))
	if cmd == nil {
		t.Fatal("p should return a command")
	}
	msg := cmd()
	if got := ctl.calls; len(got) != 1 || got[0] != "pause" {
		t.Fatalf("calls = %v, want [pause]", got)
	}

	updated, _ := m.Update(msg)
	if !strings.Contains(updated.(Model).notice, "pause failed") {
		t.Errorf("notice = %q, want failure", updated.(Model).notice)
	}
}

func TestPrefs_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.toml")
	want := Prefs{
		ShowComms: true,
		LastState: astrobox.Bootstrap{
			Printing:  true,
			StateText: "Printing",
			Progress:  astrobox.JobProgress{Filename: "cube.gcode", Percent: 12.5},
		},
	}

	if err := SavePrefs(path, want); err != nil {
		t.Fatalf("SavePrefs() error: %v", err)
	}
	got := LoadPrefs(path)
	if got.ShowComms != want.ShowComms || got.LastState.Progress != want.LastState.Progress ||
		got.LastState.StateText != want.LastState.StateText {
		t.Errorf("LoadPrefs() = %+v, want %+v", got, want)
	}
}

func TestPrefs_MissingFile(t *testing.T) {
	got := LoadPrefs(filepath.Join(t.TempDir(), "absent.toml"))
	if got.ShowComms {
		t.Error("missing prefs should load as zero value")
	}
}
