// ABOUTME: Server TUI showing jam session state and listeners
// ABOUTME: Real-time status display using bubbletea
package server

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ServerTUI manages the server TUI
type ServerTUI struct {
	program  *tea.Program
	updates  chan JamStatus
	quitChan chan struct{} // Signal to stop the server
}

// JamStatus holds server state for the TUI
type JamStatus struct {
	Name          string
	Port          int
	SessionActive bool
	Host          string
	Listeners     []string
	NowPlaying    string
	QueueLen      int
	AudioConns    int
	FramesSent    uint64
}

// tuiModel is the bubbletea model for the server TUI
type tuiModel struct {
	status    JamStatus
	startTime time.Time
	quitting  bool
	quitChan  chan struct{}
}

type tickMsg time.Time
type statusMsg JamStatus

func (m tuiModel) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}

	case tickMsg:
		return m, tickEvery()

	case statusMsg:
		m.status = JamStatus(msg)
		return m, nil
	}

	return m, nil
}

func (m tuiModel) View() string {
	if m.quitting {
		return "Shutting down server...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86"))

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("250"))

	listenerHeaderStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("220"))

	var b strings.Builder

	b.WriteString(titleStyle.Render("Jamstream Server"))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Server: "))
	b.WriteString(valueStyle.Render(m.status.Name))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Port: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%d", m.status.Port)))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Uptime: "))
	uptime := time.Since(m.startTime).Round(time.Second)
	b.WriteString(valueStyle.Render(uptime.String()))
	b.WriteString("\n\n")

	if !m.status.SessionActive {
		b.WriteString(valueStyle.Render("No jam session running"))
		b.WriteString("\n")
	} else {
		b.WriteString(headerStyle.Render("Host: "))
		b.WriteString(valueStyle.Render(m.status.Host))
		b.WriteString("\n")

		b.WriteString(headerStyle.Render("Playing: "))
		playing := m.status.NowPlaying
		if playing == "" {
			playing = "nothing"
		}
		b.WriteString(valueStyle.Render(playing))
		b.WriteString("\n")

		b.WriteString(headerStyle.Render("Queued: "))
		b.WriteString(valueStyle.Render(fmt.Sprintf("%d tracks", m.status.QueueLen)))
		b.WriteString("\n")

		b.WriteString(headerStyle.Render("Frames sent: "))
		b.WriteString(valueStyle.Render(fmt.Sprintf("%d (%d streams)", m.status.FramesSent, m.status.AudioConns)))
		b.WriteString("\n\n")

		b.WriteString(listenerHeaderStyle.Render(fmt.Sprintf("Listeners (%d)", len(m.status.Listeners))))
		b.WriteString("\n\n")

		if len(m.status.Listeners) == 0 {
			b.WriteString(valueStyle.Render("  Nobody listening"))
			b.WriteString("\n")
		} else {
			for _, l := range m.status.Listeners {
				b.WriteString(fmt.Sprintf("  • %s\n", l))
			}
		}
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}

// NewServerTUI creates a new server TUI
func NewServerTUI() *ServerTUI {
	return &ServerTUI{
		updates:  make(chan JamStatus, 10),
		quitChan: make(chan struct{}, 1),
	}
}

// Start starts the TUI
func (t *ServerTUI) Start(serverName string, port int) error {
	m := tuiModel{
		status: JamStatus{
			Name: serverName,
			Port: port,
		},
		startTime: time.Now(),
		quitChan:  t.quitChan,
	}

	t.program = tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		for status := range t.updates {
			if t.program != nil {
				t.program.Send(statusMsg(status))
			}
		}
	}()

	_, err := t.program.Run()
	return err
}

// Update sends a status update to the TUI
func (t *ServerTUI) Update(status JamStatus) {
	select {
	case t.updates <- status:
	default:
		// Don't block if channel is full
	}
}

// Stop stops the TUI
func (t *ServerTUI) Stop() {
	if t.program != nil {
		t.program.Quit()
	}
	close(t.updates)
}

// QuitChan returns the channel that signals when user wants to quit
func (t *ServerTUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
