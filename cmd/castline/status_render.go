package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

var statusStyles = map[statusKind]struct {
	label  string
	colors text.Colors
}{
	statusInfo:  {"INFO", text.Colors{text.FgBlue}},
	statusOK:    {"OK", text.Colors{text.FgGreen}},
	statusWarn:  {"WARN", text.Colors{text.FgYellow}},
	statusError: {"ERROR", text.Colors{text.FgRed}},
}

// renderStatusLine prints "  label:   [KIND] message" with the label padded
// so consecutive lines align.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	badge := "[" + statusStyles[kind].label + "]"
	if message != "" {
		badge += " " + message
	}
	return colorText(kind, fmt.Sprintf("  %-20s %s", label+":", badge), colorize)
}

func renderSectionHeader(title string, colorize bool) []string {
	heading := "== " + strings.TrimSpace(title) + " =="
	return []string{
		colorText(statusInfo, heading, colorize),
		colorText(statusInfo, strings.Repeat("-", len(heading)), colorize),
	}
}

func unitStatusKind(status string) statusKind {
	switch status {
	case "completed":
		return statusOK
	case "failed":
		return statusError
	case "new":
		return statusInfo
	}
	return statusWarn
}

func colorText(kind statusKind, value string, colorize bool) string {
	if !colorize {
		return value
	}
	return statusStyles[kind].colors.Sprint(value)
}

// shouldColorize is true for terminals unless NO_COLOR is set.
func shouldColorize(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
