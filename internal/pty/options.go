// Package pty runs single commands bound to a pseudo-terminal.
package pty

import (
	"os"
	"path/filepath"
	"time"
)

// Options configures PTY allocation.
type Options struct {
	Shell        string        // Shell used for "-c" (defaults to $SHELL or /bin/sh)
	Term         string        // Terminal type (default: xterm-256color)
	Rows         uint16        // Terminal rows (default: 24)
	Cols         uint16        // Terminal columns (default: 120)
	WriteTimeout time.Duration // Upper bound for a single Write (default: 2s)
	DrainTimeout time.Duration // How long Wait keeps reading after exit (default: 2s)
}

// DefaultOptions returns default PTY options.
func DefaultOptions() Options {
	return Options{
		Shell:        detectShell(),
		Term:         "xterm-256color",
		Rows:         24,
		Cols:         120,
		WriteTimeout: 2 * time.Second,
		DrainTimeout: 2 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Shell == "" {
		o.Shell = d.Shell
	}
	if o.Term == "" {
		o.Term = d.Term
	}
	if o.Rows == 0 {
		o.Rows = d.Rows
	}
	if o.Cols == 0 {
		o.Cols = d.Cols
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = d.DrainTimeout
	}
	return o
}

// ShellEnv returns environment variables that keep the given shell's prompt
// plain, so prompt lines end in "$ " or "# ".
func ShellEnv(shell string) []string {
	switch filepath.Base(shell) {
	case "zsh":
		return []string{"PROMPT=%n@%m:%~%(!.#.$) ", "RPROMPT="}
	case "fish":
		return []string{"fish_greeting="}
	default:
		return []string{`PS1=\u@\h:\w\$ `, "PROMPT_COMMAND="}
	}
}

// detectShell detects the user's default shell.
func detectShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}

	for _, shell := range []string{"/bin/bash", "/bin/zsh", "/bin/sh"} {
		if _, err := os.Stat(shell); err == nil {
			return shell
		}
	}

	return "/bin/sh"
}
