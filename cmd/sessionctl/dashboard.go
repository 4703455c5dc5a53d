package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/jrsteele09/go-session-client/lockscreen"
	"github.com/jrsteele09/go-session-client/sessions"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#5A4FCF", Dark: "#A29BFE"})
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6C6C6C", Dark: "#9E9E9E"}).Width(14)
	hintStyle  = lipgloss.NewStyle().Faint(true)
)

type lockResultMsg struct{ err error }

// dashboard is the application shown while the session is open.
type dashboard struct {
	session *sessions.Manager
	idle    time.Duration
	started time.Time
	err     error
}

func (d dashboard) Init() tea.Cmd {
	return nil
}

func (d dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return d, tea.Quit
		case "l":
			session := d.session
			return d, func() tea.Msg {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				return lockResultMsg{err: session.LockSession(ctx)}
			}
		case "o":
			session := d.session
			return d, func() tea.Msg {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				return lockResultMsg{err: session.Logout(ctx)}
			}
		}
	case lockResultMsg:
		d.err = msg.err
	}
	return d, nil
}

func (d dashboard) View() string {
	s := d.session.Snapshot()
	var b strings.Builder
	b.WriteString(titleStyle.Render("Session") + "\n\n")
	b.WriteString(labelStyle.Render("User") + s.Username() + "\n")
	b.WriteString(labelStyle.Render("State") + s.State.String() + "\n")
	b.WriteString(labelStyle.Render("Open for") + time.Since(d.started).Truncate(time.Second).String() + "\n")
	b.WriteString(labelStyle.Render("Idle lock") + d.idle.String() + "\n")
	if d.err != nil {
		b.WriteString("\n" + fmt.Sprintf("error: %v", d.err) + "\n")
	}
	b.WriteString("\n" + hintStyle.Render("l lock • o sign out • q quit"))
	return b.String()
}

// runDashboard shows the dashboard behind the lock screen until the user quits or the
// session ends.
func runDashboard(ctx context.Context, t *tab) error {
	child := dashboard{session: t.manager, idle: t.idleTimeout, started: time.Now()}
	model := lockscreen.New(child, t.manager, lockscreen.WithPulser(t.monitor))
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	unsubscribe := t.manager.Subscribe(func(s sessions.Snapshot) {
		program.Send(lockscreen.SnapshotMsg{Snapshot: s})
		if s.State == sessions.Unauthenticated {
			program.Quit()
		}
	})
	defer unsubscribe()

	t.monitor.Start()
	_, err := program.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	printStatus(os.Stdout, t.manager.Snapshot(), t.manager.LockRemaining())
	return err
}
