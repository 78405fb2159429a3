package dashboard

import "github.com/charmbracelet/bubbles/key"

// watchKeys holds the dashboard key bindings.
type watchKeys struct {
	Up       key.Binding
	Down     key.Binding
	Refresh  key.Binding
	Launch   key.Binding
	Shutdown key.Binding
	Quit     key.Binding
}

// ShortHelp returns the bindings for the help bar.
func (k watchKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Refresh, k.Launch, k.Shutdown, k.Quit}
}

// FullHelp returns the bindings grouped for expanded help.
func (k watchKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Refresh},
		{k.Launch, k.Shutdown, k.Quit},
	}
}

// defaultKeys returns the standard dashboard bindings.
func defaultKeys() watchKeys {
	return watchKeys{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Launch: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "launch"),
		),
		Shutdown: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "shutdown"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}
