package ui

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
)

// Patterns used to colorize Cobra's default help output.
var (
	// Unindented line ending with ":" ("Hub:", "Flags:").
	reGroupHeader = regexp.MustCompile(`(?m)^([A-Z][^\n]*:)\s*$`)

	// Two-space indent, a word, then at least two spaces.
	reCommand = regexp.MustCompile(`(?m)^(  )(\S+)(  )`)

	reFlagType = regexp.MustCompile(`(--?\S+\s+)(string|int|duration|stringSlice)`)

	reDefault = regexp.MustCompile(`\(default "?[^")]*"?\)`)
)

// HelpFunc returns a Cobra help function that colors the default help
// text when stdout supports it.
func HelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		if !ShouldUseColor() {
			_ = cmd.Usage()
			return
		}
		orig := cmd.OutOrStdout()
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(orig)
		fmt.Fprint(orig, ColorizeHelp(buf.String()))
	}
}

// ColorizeHelp applies ANSI styling to Cobra's plain-text help.
func ColorizeHelp(s string) string {
	s = reGroupHeader.ReplaceAllStringFunc(s, func(m string) string {
		return RenderAccent(strings.TrimSpace(m))
	})
	s = reCommand.ReplaceAllStringFunc(s, func(m string) string {
		p := reCommand.FindStringSubmatch(m)
		return p[1] + RenderCommand(p[2]) + p[3]
	})
	s = reFlagType.ReplaceAllStringFunc(s, func(m string) string {
		p := reFlagType.FindStringSubmatch(m)
		return p[1] + RenderMuted(p[2])
	})
	return reDefault.ReplaceAllStringFunc(s, RenderMuted)
}
