// Package lockscreen is a Bubble Tea model that shows the wrapped application while the
// session is open and a blocking unlock prompt while it is locked.
package lockscreen

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/jrsteele09/go-session-client/auth"
	sessionerrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/sessions"
)

const (
	tickInterval          = time.Second
	defaultRequestTimeout = 30 * time.Second
)

// Session is the part of the session manager the lock screen drives.
type Session interface {
	Snapshot() sessions.Snapshot
	LockRemaining() time.Duration
	UnlockSession(ctx context.Context, password string) error
	Logout(ctx context.Context) error
}

var _ Session = (*sessions.Manager)(nil)

// Pulser receives user activity, typically an *idle.Monitor.
type Pulser interface {
	Pulse()
}

// TickMsg re-reads the session state and the countdown.
type TickMsg struct {
	Time time.Time
}

// SnapshotMsg delivers a session change pushed from outside the program.
type SnapshotMsg struct {
	Snapshot sessions.Snapshot
}

type unlockResultMsg struct{ err error }

type logoutResultMsg struct{ err error }

// Model gates a child model behind the lock prompt.
type Model struct {
	child   tea.Model
	session Session
	pulser  Pulser
	timeout time.Duration

	input     textinput.Model
	snapshot  sessions.Snapshot
	remaining time.Duration
	errText   string
	busy      bool
	width     int
	height    int
}

type Option func(*Model)

// WithPulser reports every key and mouse event to p, locked or not, and a successful unlock.
// Keystrokes on the lock prompt count as activity so the idle deadline is re-armed.
func WithPulser(p Pulser) Option {
	return func(m *Model) {
		m.pulser = p
	}
}

// WithRequestTimeout bounds unlock and logout calls.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(m *Model) {
		m.timeout = timeout
	}
}

// New wraps child.
func New(child tea.Model, session Session, options ...Option) Model {
	ti := textinput.New()
	ti.Placeholder = "Password"
	ti.EchoMode = textinput.EchoPassword
	ti.EchoCharacter = '•'
	ti.CharLimit = 256
	ti.Width = 30
	ti.Prompt = "> "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	ti.Focus()

	m := Model{
		child:   child,
		session: session,
		timeout: defaultRequestTimeout,
		input:   ti,
	}
	for _, opt := range options {
		opt(&m)
	}
	m.refresh()
	return m
}

// Locked reports whether the lock prompt is showing.
func (m Model) Locked() bool {
	return m.snapshot.State == sessions.Locked && m.snapshot.User != nil
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}

func (m Model) Init() tea.Cmd {
	var childCmd tea.Cmd
	if m.child != nil {
		childCmd = m.child.Init()
	}
	return tea.Batch(childCmd, textinput.Blink, tick())
}

func (m *Model) refresh() {
	wasLocked := m.Locked()
	m.snapshot = m.session.Snapshot()
	m.remaining = m.session.LockRemaining()
	if wasLocked && !m.Locked() {
		m.input.Reset()
		m.errText = ""
		m.busy = false
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m.updateChild(msg)

	case TickMsg:
		m.refresh()
		return m, tick()

	case SnapshotMsg:
		m.refresh()
		return m, nil

	case unlockResultMsg:
		if msg.err == nil {
			m.pulse()
		}
		m.busy = false
		m.input.Reset()
		m.errText = unlockErrorText(msg.err)
		m.refresh()
		return m, nil

	case logoutResultMsg:
		m.busy = false
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		m.refresh()
		m.pulse()
		if m.Locked() {
			return m.updateLocked(msg)
		}
		return m.updateChild(msg)

	case tea.MouseMsg:
		m.refresh()
		m.pulse()
		if m.Locked() {
			return m, nil
		}
		return m.updateChild(msg)
	}

	if m.Locked() {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m.updateChild(msg)
}

func (m Model) updateLocked(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyCtrlL:
		if m.busy {
			return m, nil
		}
		m.busy = true
		return m, m.logoutCmd()

	case tea.KeyEnter:
		password := m.input.Value()
		if m.busy || password == "" {
			return m, nil
		}
		m.busy = true
		m.errText = ""
		return m, m.unlockCmd(password)
	}

	if m.busy {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateChild(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.child == nil {
		return m, nil
	}
	var cmd tea.Cmd
	m.child, cmd = m.child.Update(msg)
	return m, cmd
}

func (m Model) pulse() {
	if m.pulser != nil {
		m.pulser.Pulse()
	}
}

func (m Model) unlockCmd(password string) tea.Cmd {
	session, timeout := m.session, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return unlockResultMsg{err: session.UnlockSession(ctx, password)}
	}
}

func (m Model) logoutCmd() tea.Cmd {
	session, timeout := m.session, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return logoutResultMsg{err: session.Logout(ctx)}
	}
}

func unlockErrorText(err error) string {
	switch {
	case err == nil:
		return ""
	case sessionerrors.Is(err, sessionerrors.ErrWrongPassword):
		return "Incorrect password"
	}
	if apiErr, ok := auth.AsAPIError(err); ok {
		if apiErr.Message == "" {
			return "Invalid password"
		}
		return apiErr.Message
	}
	return fmt.Sprintf("Unlock failed: %v", err)
}

func (m Model) View() string {
	if m.Locked() {
		return m.viewLocked()
	}
	if m.child == nil {
		return ""
	}
	return m.child.View()
}
