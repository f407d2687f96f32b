// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Increase key.Binding
	Decrease key.Binding
	Reset    key.Binding // Tries a direct write; the guest view is read-only.
	Help     key.Binding
	Quit     key.Binding
}

var defaultKeyMap = keyMap{
	Increase: key.NewBinding(
		key.WithKeys("+", "=", "up", "k"),
		key.WithHelp("+/↑", "increase"),
	),
	Decrease: key.NewBinding(
		key.WithKeys("-", "down", "j"),
		key.WithHelp("-/↓", "decrease"),
	),
	Reset: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "reset"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Increase, k.Decrease, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Increase, k.Decrease, k.Reset},
		{k.Help, k.Quit},
	}
}
