package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jrsteele09/go-session-client/sessions"
	"golang.org/x/term"
)

type commandFunc func(ctx context.Context, t *tab, f flags) error

func command(name string) commandFunc {
	switch name {
	case "login":
		return loginCommand
	case "status":
		return statusCommand
	case "lock":
		return lockCommand
	case "unlock":
		return unlockCommand
	case "logout":
		return logoutCommand
	case "run":
		return runCommand
	default:
		return nil
	}
}

func loginCommand(ctx context.Context, t *tab, f flags) error {
	username := f.username
	if username == "" {
		var err error
		if username, err = promptLine(os.Stdin, os.Stderr, "Username: "); err != nil {
			return err
		}
	}
	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}
	if err := t.manager.Login(ctx, username, password); err != nil {
		return fmt.Errorf("[loginCommand] %w", err)
	}
	fmt.Printf("Signed in as %s\n", t.manager.Snapshot().Username())
	return nil
}

func statusCommand(_ context.Context, t *tab, _ flags) error {
	printStatus(os.Stdout, t.manager.Snapshot(), t.manager.LockRemaining())
	return nil
}

func printStatus(w io.Writer, s sessions.Snapshot, remaining time.Duration) {
	switch s.State {
	case sessions.Unauthenticated:
		fmt.Fprintln(w, "Not signed in")
	case sessions.Authenticated:
		fmt.Fprintf(w, "Signed in as %s\n", s.Username())
	case sessions.Locked:
		fmt.Fprintf(w, "Locked (%s), auto-logout in %s\n", s.Username(), remaining.Round(time.Second))
	}
}

func lockCommand(ctx context.Context, t *tab, _ flags) error {
	if t.manager.Snapshot().State == sessions.Unauthenticated {
		return errNotSignedIn
	}
	if err := t.manager.LockSession(ctx); err != nil {
		return fmt.Errorf("[lockCommand] %w", err)
	}
	fmt.Println("Session locked")
	return nil
}

func unlockCommand(ctx context.Context, t *tab, _ flags) error {
	if t.manager.Snapshot().State != sessions.Locked {
		fmt.Println("Session is not locked")
		return nil
	}
	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}
	if err := t.manager.UnlockSession(ctx, password); err != nil {
		return fmt.Errorf("[unlockCommand] %w", err)
	}
	fmt.Println("Session unlocked")
	return nil
}

func logoutCommand(ctx context.Context, t *tab, _ flags) error {
	return t.manager.Logout(ctx)
}

func runCommand(ctx context.Context, t *tab, f flags) error {
	if t.manager.Snapshot().State == sessions.Unauthenticated {
		if err := loginCommand(ctx, t, f); err != nil {
			return err
		}
	}
	return runDashboard(ctx, t)
}

func promptLine(in io.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("[promptLine] %w", err)
	}
	return strings.TrimSpace(line), nil
}

// promptPassword reads without echo when stdin is a terminal.
func promptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptLine(os.Stdin, os.Stderr, prompt)
	}
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("[promptPassword] %w", err)
	}
	return string(password), nil
}
