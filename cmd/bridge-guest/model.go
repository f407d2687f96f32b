// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/statebridge/bridge"
	"github.com/bureau-foundation/statebridge/guest"
)

// stateChangedMsg is sent whenever the client's mode or mirrored state
// changes.
type stateChangedMsg struct{}

// callResultMsg carries the outcome of a method call started by a key.
type callResultMsg struct {
	method string
	result any
	err    error
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	countStyle   = lipgloss.NewStyle().Bold(true).Padding(1, 4).Border(lipgloss.RoundedBorder())
	fieldStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))

	modeStyles = map[guest.Mode]lipgloss.Style{
		guest.ModeHost:         lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("10")).Padding(0, 1),
		guest.ModeFallback:     lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("11")).Padding(0, 1),
		guest.ModeUndetermined: lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("8")).Padding(0, 1),
	}
)

// model is the bubbletea model for the counter view. All reads go
// through the client; the model only caches what View renders.
type model struct {
	client *guest.Client
	keys   keyMap
	help   help.Model

	mode    guest.Mode
	ready   bool
	state   bridge.State
	methods []string

	status      string
	statusError bool
	width       int
}

func newModel(client *guest.Client) model {
	m := model{
		client: client,
		keys:   defaultKeyMap,
		help:   help.New(),
	}
	m.refresh()
	return m
}

func (m *model) refresh() {
	m.mode = m.client.Mode()
	m.ready = m.client.Ready()
	m.state = m.client.State()
	m.methods = m.client.Methods()
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case stateChangedMsg:
		m.refresh()
		return m, nil

	case callResultMsg:
		m.refresh()
		if msg.err != nil {
			m.status = fmt.Sprintf("%s: %v", msg.method, msg.err)
			m.statusError = true
		} else {
			m.status = fmt.Sprintf("%s ok", msg.method)
			if msg.result != nil {
				m.status += fmt.Sprintf(" (%v)", msg.result)
			}
			m.statusError = false
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		case key.Matches(msg, m.keys.Increase):
			return m, m.call("increase")
		case key.Matches(msg, m.keys.Decrease):
			return m, m.call("decrease")
		case key.Matches(msg, m.keys.Reset):
			err := m.client.Set("count", 0)
			if err != nil {
				m.status = fmt.Sprintf("reset: %v", err)
				m.statusError = true
			}
			return m, nil
		}
	}
	return m, nil
}

// call runs a client call off the update loop and reports back with a
// callResultMsg.
func (m model) call(method string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		result, err := client.Call(context.Background(), method)
		return callResultMsg{method: method, result: result, err: err}
	}
}

func (m model) View() string {
	var builder strings.Builder

	builder.WriteString(titleStyle.Render("statebridge counter"))
	builder.WriteString("  ")
	builder.WriteString(modeStyles[m.mode].Render(m.mode.String()))
	if !m.ready {
		builder.WriteString(fieldStyle.Render("  not ready"))
	}
	builder.WriteString("\n\n")

	count, ok := m.state["count"]
	if !ok {
		count = "–"
	}
	builder.WriteString(countStyle.Render(fmt.Sprint(count)))
	builder.WriteString("\n\n")

	names := make([]string, 0, len(m.state))
	for name := range m.state {
		if name != "count" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		builder.WriteString(fieldStyle.Render(fmt.Sprintf("%s: %v", name, m.state[name])))
		builder.WriteString("\n")
	}
	if len(m.methods) > 0 {
		builder.WriteString(fieldStyle.Render("methods: " + strings.Join(m.methods, ", ")))
		builder.WriteString("\n")
	}

	if m.status != "" {
		builder.WriteString("\n")
		if m.statusError {
			builder.WriteString(errorStyle.Render(m.status))
		} else {
			builder.WriteString(successStyle.Render(m.status))
		}
		builder.WriteString("\n")
	}

	builder.WriteString("\n")
	builder.WriteString(m.help.View(m.keys))
	builder.WriteString("\n")
	return builder.String()
}
