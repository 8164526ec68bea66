package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// Connection states shown in the header.
const (
	StateConnecting = "connecting"
	StateConnected  = "connected"
	StateFailed     = "failed"
	StateClosed     = "closed"
)

type keyMap struct {
	Quit  key.Binding
	Pause key.Binding
	Clear key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Pause: key.NewBinding(
		key.WithKeys("p", " "),
		key.WithHelp("p", "pause"),
	),
	Clear: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "clear"),
	),
}

// Program wraps the running Bubble Tea program so producers on other
// goroutines can feed it.
type Program struct {
	p *tea.Program
}

// NewProgram creates the live view for a client connected to addr.
func NewProgram(addr string, opts ...tea.ProgramOption) *Program {
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &Program{p: tea.NewProgram(NewListenModel(addr), opts...)}
}

// Send delivers msg to the model. Safe from any goroutine; a no-op once
// the program has exited.
func (p *Program) Send(msg tea.Msg) {
	p.p.Send(msg)
}

// Run blocks until the user quits.
func (p *Program) Run() error {
	_, err := p.p.Run()
	return err
}

// Quit stops the program from outside.
func (p *Program) Quit() {
	p.p.Quit()
}
