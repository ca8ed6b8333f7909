package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/kindred/internal/match"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// printMatches writes one block per match, best first.
func printMatches(w io.Writer, matches []match.Match) {
	if len(matches) == 0 {
		fmt.Fprintln(w, "No matches above the threshold yet.")
		return
	}
	for i, m := range matches {
		name := m.Profile.Name
		if name == "" {
			name = m.ID
		}
		fmt.Fprintf(w, "%s %s [score: %.3f]\n", colorize(colorBold, fmt.Sprintf("%d.", i+1)), name, m.Score)
		fmt.Fprintf(w, "   id: %s\n", colorize(colorCyan, m.ID))
		if loc := m.Profile.Location; loc != "" {
			fmt.Fprintf(w, "   location: %s\n", loc)
		}
		if h := m.Profile.Hobbies; h != "" {
			fmt.Fprintf(w, "   hobbies: %s\n", truncate(h, 80))
		}
		if len(m.Profile.LoveLanguages) > 0 {
			labels := make([]string, len(m.Profile.LoveLanguages))
			for j, l := range m.Profile.LoveLanguages {
				labels[j] = l.Label()
			}
			fmt.Fprintf(w, "   love languages: %s\n", strings.Join(labels, ", "))
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
