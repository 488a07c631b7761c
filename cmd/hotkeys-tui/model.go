package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"hotkeys2/internal/bridge"
	"hotkeys2/internal/config"
	"hotkeys2/internal/hotkeys"
	"hotkeys2/internal/surface"
	"hotkeys2/internal/termkeys"
)

const (
	maxLogLines    = 10
	firedQueueSize = 64
	forwardTimeout = 2 * time.Second

	actionHelp  = "help"
	actionClear = "clear"
)

// demoBindings are used when no config file is given. Terminals cannot
// report Ctrl+Shift or Meta, so the set sticks to what they can.
var demoBindings = []config.Binding{
	{Binding: "Ctrl+s", Description: "save", Action: "save"},
	{Binding: "?", Description: "toggle help", Action: actionHelp},
	{Binding: "Alt+x", Description: "run command", Action: "run"},
	{Mode: "code", Binding: "F5", Description: "refresh (by code)", Action: "refresh"},
	{Binding: "Escape", Description: "clear log", Action: actionClear},
	{Binding: "Ctrl+o", Description: "open (disabled)", Action: "open", Disabled: true},
}

type firedMsg struct {
	action  string
	binding string
	at      time.Time
}

type forwardedMsg struct {
	key     string
	consume bool
	err     error
}

type model struct {
	src    *surface.Source
	hk     *hotkeys.Context
	fired  chan firedMsg
	remote *bridge.KeyClient

	lastKey      string
	lastConsumed bool
	remoteStatus string
	log          []firedMsg
	showHelp     bool
	width        int
}

// newModel binds bindings on an in-process surface fed by the terminal.
// remote, when set, also receives every key press.
func newModel(bindings []config.Binding, remote *bridge.KeyClient) *model {
	src := surface.NewSource()
	m := &model{
		src:      src,
		hk:       hotkeys.NewContext(surface.AttachFunc(src, surface.DeliverSync)),
		fired:    make(chan firedMsg, firedQueueSize),
		remote:   remote,
		showHelp: true,
	}
	for _, b := range bindings {
		parsed, err := b.Parse()
		if err != nil {
			slog.Warn("[DEBUG-TUI] skipping invalid binding", "binding", b.Binding, "error", err)
			continue
		}
		action := b.ActionName()
		m.hk.AddBinding(parsed, func(e *hotkeys.Entry) {
			select {
			case m.fired <- firedMsg{action: action, binding: e.String(), at: time.Now()}:
			default:
				slog.Warn("[DEBUG-TUI] fired queue full, dropping", "action", action)
			}
		}, b.Options()...)
	}
	return m
}

// close releases the surface and the remote connection.
func (m *model) close() {
	m.hk.Dispose()
	if m.remote != nil {
		m.remote.Close()
	}
}

func (m *model) waitFired() tea.Msg {
	return <-m.fired
}

func (m *model) Init() tea.Cmd {
	return m.waitFired
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		ev, ok := termkeys.Translate(msg)
		if !ok {
			return m, nil
		}
		m.lastKey = msg.String()
		m.lastConsumed = m.src.Emit(ev)
		if m.remote != nil {
			return m, m.forward(ev)
		}

	case firedMsg:
		switch msg.action {
		case actionHelp:
			m.showHelp = !m.showHelp
		case actionClear:
			m.log = nil
		}
		m.log = append(m.log, msg)
		if len(m.log) > maxLogLines {
			m.log = m.log[len(m.log)-maxLogLines:]
		}
		return m, m.waitFired

	case forwardedMsg:
		switch {
		case msg.err != nil:
			m.remoteStatus = errorStyle.Render(fmt.Sprintf("daemon: %v", msg.err))
		case msg.consume:
			m.remoteStatus = consumedStyle.Render("daemon consumed " + msg.key)
		default:
			m.remoteStatus = mutedStyle.Render("daemon ignored " + msg.key)
		}
	}
	return m, nil
}

func (m *model) forward(ev surface.KeyEvent) tea.Cmd {
	remote := m.remote
	key := m.lastKey
	frame := bridge.KeyDownFrame{
		Key:      ev.Key,
		Code:     ev.Code,
		ShiftKey: ev.ShiftKey,
		CtrlKey:  ev.CtrlKey,
		AltKey:   ev.AltKey,
		MetaKey:  ev.MetaKey,
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
		defer cancel()
		consume, err := remote.KeyDown(ctx, frame)
		return forwardedMsg{key: key, consume: consume, err: err}
	}
}

func (m *model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("hotkeys2"))
	b.WriteString(mutedStyle.Render("  ctrl+c to quit"))
	b.WriteString("\n")

	if m.showHelp {
		var rows []string
		for _, e := range m.hk.Entries() {
			state := e.State().String()
			if e.Disabled() {
				state = "disabled"
			}
			rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top,
				bindingStyle.Render(e.String()),
				stateStyle.Render(state),
				mutedStyle.Render(e.Description()),
			))
		}
		b.WriteString(panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))
		b.WriteString("\n")
	}

	if m.lastKey != "" {
		status := mutedStyle.Render("passed through")
		if m.lastConsumed {
			status = consumedStyle.Render("consumed")
		}
		fmt.Fprintf(&b, "last key: %s  %s\n", m.lastKey, status)
	}
	if m.remoteStatus != "" {
		b.WriteString(m.remoteStatus + "\n")
	}

	var lines []string
	for _, f := range m.log {
		lines = append(lines, fmt.Sprintf("%s  %-10s %s", f.at.Format("15:04:05"), f.action, mutedStyle.Render(f.binding)))
	}
	if len(lines) == 0 {
		lines = append(lines, mutedStyle.Render("no hotkeys fired yet"))
	}
	b.WriteString(panelStyle.Render(strings.Join(lines, "\n")))
	return b.String()
}
