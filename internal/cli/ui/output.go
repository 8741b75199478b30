// Package ui prints CLI results with colour when the terminal supports it.
package ui

import (
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"

	"github.com/splax/manifestor/internal/service/generate"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	infoColor    = color.New(color.FgCyan)
	boldColor    = color.New(color.Bold)
	dimColor     = color.New(color.Faint)
)

// Success prints a success line.
func Success(w io.Writer, format string, args ...any) {
	successColor.Fprintf(w, "✓ %s\n", fmt.Sprintf(format, args...))
}

// Error prints an error line.
func Error(w io.Writer, format string, args ...any) {
	errorColor.Fprintf(w, "✗ %s\n", fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func Warning(w io.Writer, format string, args ...any) {
	warningColor.Fprintf(w, "⚠ %s\n", fmt.Sprintf(format, args...))
}

// Info prints an informational line.
func Info(w io.Writer, format string, args ...any) {
	infoColor.Fprintf(w, "ℹ %s\n", fmt.Sprintf(format, args...))
}

// Bold prints a bold heading.
func Bold(w io.Writer, format string, args ...any) {
	boldColor.Fprintln(w, fmt.Sprintf(format, args...))
}

// Detail prints an indented key/value pair.
func Detail(w io.Writer, key string, value any) {
	fmt.Fprintf(w, "  %s %v\n", dimColor.Sprintf("%-14s", key+":"), value)
}

// Warnings prints every report warning, or nothing when the report is clean.
func Warnings(w io.Writer, report generate.Report) {
	for _, warn := range report.Warnings {
		if warn.Path != "" {
			Warning(w, "%s (%s): %s", warn.Code, warn.Path, warn.Message)
			continue
		}
		Warning(w, "%s: %s", warn.Code, warn.Message)
	}
}

// Files lists written artifact names in a stable order.
func Files(w io.Writer, dir string, files map[string]string) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s/%s\n", dir, name)
	}
}
