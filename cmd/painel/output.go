package main

import (
	"fmt"
	"os"

	"github.com/kalambet/painel/internal/records"
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

// verdictLabel colors a verdict by severity.
func verdictLabel(v records.Verdict) string {
	switch v {
	case records.VerdictMalware:
		return colorize(colorRed, string(v))
	case records.VerdictSuspicious:
		return colorize(colorYellow, string(v))
	case records.VerdictSafe:
		return colorize(colorGreen, string(v))
	default:
		return colorize(colorCyan, string(v))
	}
}

// sourceLabel describes where a sub-report's data came from.
func sourceLabel(s records.Source) string {
	switch s {
	case records.SourcePending:
		return "pending"
	case records.SourceSynthetic:
		return colorize(colorYellow, "synthetic")
	default:
		return "provider"
	}
}
