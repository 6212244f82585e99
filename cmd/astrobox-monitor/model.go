package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	astrobox "github.com/astroprint/astrobox-go"
)

const (
	commsBufferLimit = 200
	commandTimeout   = 5 * time.Second
)

// Messages fed into the program from client callbacks.
type (
	statusMsg  astrobox.DeviceStatus
	commsMsg   astrobox.CommsData
	linkMsg    astrobox.State
	noticeMsg  string
	commandMsg struct {
		name string
		err  error
	}
)

type keyMap struct {
	Quit      key.Binding
	Comms     key.Binding
	Reconnect key.Binding
	Pause     key.Binding
	Cancel    key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Comms:     key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "comms")),
		Reconnect: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reconnect")),
		Pause:     key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause")),
		Cancel:    key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "cancel job")),
	}
}

// controller is the part of the client the dashboard drives.
type controller interface {
	Reconnect(ctx context.Context) error
	PauseJob(ctx context.Context) error
	CancelJob(ctx context.Context) error
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#BD93F9"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4")).Width(12)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	stateColors = map[string]lipgloss.Color{
		astrobox.DisplayPaused:   "#F1FA8C",
		astrobox.DisplayPrinting: "#50FA7B",
		astrobox.DisplayIdle:     "#8BE9FD",
		astrobox.DisplayOffline:  "#FF5555",
	}
)

// Model is the dashboard state.
type Model struct {
	ctl    controller
	keys   keyMap
	status astrobox.DeviceStatus
	link   astrobox.State
	notice string

	showComms bool
	comms     []string
	viewport  viewport.Model

	width  int
	height int
}

func newModel(ctl controller, initial astrobox.DeviceStatus, showComms bool) Model {
	return Model{
		ctl:       ctl,
		keys:      defaultKeys(),
		status:    initial,
		showComms: showComms,
		viewport:  viewport.New(80, 10),
	}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = max(20, msg.Width-4)
		m.viewport.Height = max(3, msg.Height-16)
		m.viewport.SetContent(strings.Join(m.comms, "\n"))
		return m, nil

	case statusMsg:
		m.status = astrobox.DeviceStatus(msg)
		return m, nil

	case linkMsg:
		m.link = astrobox.State(msg)
		return m, nil

	case noticeMsg:
		m.notice = string(msg)
		return m, nil

	case commandMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("%s failed: %v", msg.name, msg.err)
		} else {
			m.notice = msg.name + " sent"
		}
		return m, nil

	case commsMsg:
		m.comms = append(m.comms, formatComms(astrobox.CommsData(msg)))
		if len(m.comms) > commsBufferLimit {
			m.comms = m.comms[len(m.comms)-commsBufferLimit:]
		}
		m.viewport.SetContent(strings.Join(m.comms, "\n"))
		m.viewport.GotoBottom()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Comms):
			m.showComms = !m.showComms
			return m, nil
		case key.Matches(msg, m.keys.Reconnect):
			return m, m.run("reconnect", m.ctl.Reconnect)
		case key.Matches(msg, m.keys.Pause):
			return m, m.run("pause", m.ctl.PauseJob)
		case key.Matches(msg, m.keys.Cancel):
			return m, m.run("cancel", m.ctl.CancelJob)
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) run(name string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return commandMsg{name: name, err: fn(ctx)}
	}
}

func (m Model) View() string {
	var b strings.Builder
	s := m.status

	display := s.DisplayState()
	state := lipgloss.NewStyle().Bold(true).Foreground(stateColors[display]).Render(strings.ToUpper(display))
	b.WriteString(titleStyle.Render("AstroBox") + "  " + state + "  " + mutedStyle.Render(s.Connection.String()+" / "+m.link.String()))
	b.WriteString("\n\n")

	rows := [][2]string{
		{"State", s.StateText},
		{"Bed", formatTemp(s.Temps.Bed)},
	}
	for _, name := range sortedTools(s.Temps.Tools) {
		label := "Tool " + name
		if name == fmt.Sprint(s.Tool) {
			label += " *"
		}
		rows = append(rows, [2]string{label, formatTemp(s.Temps.Tools[name])})
	}
	if s.Printing || s.Paused {
		p := s.Progress
		rows = append(rows,
			[2]string{"File", p.Filename},
			[2]string{"Progress", fmt.Sprintf("%5.1f%%  layer %d/%d", p.Percent, p.CurrentLayer, p.LayerCount)},
			[2]string{"Time left", (time.Duration(p.TimeLeft) * time.Second).String()},
		)
	}
	rows = append(rows,
		[2]string{"Speed/Flow", fmt.Sprintf("%d%% / %d%%", s.PrintingSpeed, s.PrintingFlow)},
		[2]string{"Camera", fmt.Sprint(s.Camera)},
	)

	var body strings.Builder
	for i, r := range rows {
		if i > 0 {
			body.WriteString("\n")
		}
		body.WriteString(labelStyle.Render(r[0]) + r[1])
	}
	b.WriteString(boxStyle.Render(body.String()))
	b.WriteString("\n")

	if m.showComms {
		b.WriteString(boxStyle.Render(m.viewport.View()))
		b.WriteString("\n")
	}
	if m.notice != "" {
		if strings.Contains(m.notice, "failed") {
			b.WriteString(errorStyle.Render(m.notice))
		} else {
			b.WriteString(mutedStyle.Render(m.notice))
		}
		b.WriteString("\n")
	}
	b.WriteString(mutedStyle.Render(helpLine(m.keys)))
	return b.String()
}

func helpLine(k keyMap) string {
	bindings := []key.Binding{k.Quit, k.Comms, k.Reconnect, k.Pause, k.Cancel}
	parts := make([]string, len(bindings))
	for i, kb := range bindings {
		h := kb.Help()
		parts[i] = h.Key + " " + h.Desc
	}
	return strings.Join(parts, " • ")
}

func formatTemp(t astrobox.Temperature) string {
	if t.Target > 0 {
		return fmt.Sprintf("%5.1f°C → %.0f°C", t.Actual, t.Target)
	}
	return fmt.Sprintf("%5.1f°C", t.Actual)
}

func formatComms(c astrobox.CommsData) string {
	arrow := "←"
	if c.Direction == astrobox.CommsSent {
		arrow = "→"
	}
	return arrow + " " + c.Data
}

func sortedTools(tools map[string]astrobox.Temperature) []string {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
