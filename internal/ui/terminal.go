package ui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// stdoutIsTerminal is replaced in tests.
var stdoutIsTerminal = func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }

// ShouldUseColor reports whether ANSI colors should be written to stdout.
// NO_COLOR (any value) wins over CLICOLOR_FORCE=1, which wins over
// CLICOLOR=0; otherwise color follows whether stdout is a terminal.
func ShouldUseColor() bool {
	switch {
	case os.Getenv("NO_COLOR") != "":
		return false
	case strings.TrimSpace(os.Getenv("CLICOLOR_FORCE")) == "1":
		return true
	case strings.TrimSpace(os.Getenv("CLICOLOR")) == "0":
		return false
	}
	return stdoutIsTerminal()
}
