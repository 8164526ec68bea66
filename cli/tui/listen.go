package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/tcplite/cli/render"
)

// DefaultHistory is the number of packets kept on screen.
const DefaultHistory = 200

// PacketMsg reports a received packet.
type PacketMsg struct {
	View render.PacketView
}

// StatusMsg reports a connection state change. Err is set for StateFailed.
type StatusMsg struct {
	State string
	Err   error
}

// ListenModel is the live packet view.
type ListenModel struct {
	addr    string
	state   string
	lastErr error

	packets []render.PacketView
	history int
	paused  bool

	total     int
	broadcast int
	direct    int
	bytes     int

	width    int
	height   int
	quitting bool
}

// NewListenModel creates a model for a client connected to addr.
func NewListenModel(addr string) ListenModel {
	return ListenModel{
		addr:    addr,
		state:   StateConnecting,
		history: DefaultHistory,
	}
}

// Init implements tea.Model.
func (m ListenModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ListenModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case PacketMsg:
		m.total++
		m.bytes += msg.View.SizeBytes
		switch msg.View.Event {
		case "broadcast":
			m.broadcast++
		case "direct_msg":
			m.direct++
		}
		if !m.paused {
			m.packets = append(m.packets, msg.View)
			if len(m.packets) > m.history {
				m.packets = m.packets[len(m.packets)-m.history:]
			}
		}
		return m, nil

	case StatusMsg:
		m.state = msg.State
		m.lastErr = msg.Err
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Pause):
			m.paused = !m.paused
		case key.Matches(msg, keys.Clear):
			m.packets = nil
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m ListenModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("tcplite listen"))
	b.WriteString("\n")

	b.WriteString(LabelStyle.Render("Relay:") + ValueStyle.Render(m.addr) + "\n")
	state := StateStyle(m.state).Render(m.state)
	if m.paused {
		state += " " + WarningStyle.Render("(paused)")
	}
	b.WriteString(LabelStyle.Render("State:") + state + "\n")
	if m.lastErr != nil {
		b.WriteString(LabelStyle.Render("Error:") + ErrorStyle.Render(m.lastErr.Error()) + "\n")
	}
	b.WriteString("\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatBox("Packets", m.total, highlightColor),
		renderStatBox("Broadcast", m.broadcast, successColor),
		renderStatBox("Direct", m.direct, warningColor),
		renderStatBox("Bytes", m.bytes, primaryColor),
	))
	b.WriteString("\n\n")

	rows := m.visibleRows()
	if len(rows) == 0 {
		b.WriteString(MutedStyle.Render("waiting for packets..."))
	}
	for _, p := range rows {
		b.WriteString(m.renderRow(p))
		b.WriteString("\n")
	}

	help := HelpStyle.Render("q quit  p pause  c clear")
	return b.String() + "\n" + help
}

// visibleRows returns the newest packets that fit the window.
func (m ListenModel) visibleRows() []render.PacketView {
	limit := len(m.packets)
	if m.height > 0 {
		// Header, stat boxes and help take about 14 lines.
		if avail := m.height - 14; avail < limit {
			limit = max(avail, 1)
		}
	}
	return m.packets[len(m.packets)-limit:]
}

func (m ListenModel) renderRow(p render.PacketView) string {
	width := 60
	if m.width > 40 {
		width = m.width - 40
	}
	return fmt.Sprintf("%s  %s  %-6s %6dB  %s",
		MutedStyle.Render(p.ReceivedAt.Format("15:04:05.000")),
		EventStyle(p.Event).Render(fmt.Sprintf("%-10s", p.Event)),
		p.DataType,
		p.SizeBytes,
		p.Summary(width),
	)
}

func renderStatBox(label string, value int, color lipgloss.Color) string {
	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)
	return StatBoxStyle.BorderForeground(color).Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}

// RenderStatic renders the model without a terminal program.
func RenderStatic(m ListenModel) string {
	if m.width == 0 {
		m.width = 100
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(m.View())
}
