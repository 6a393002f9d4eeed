// Package console formats CLI output.
//
// Formatters colorize when stdout is a terminal and NO_COLOR is unset; otherwise they fall back
// to plain text with an optional decoration, so piped output stays readable:
//
//	fmt.Println(console.Success.Sprint("unlocked"), console.Muted.Sprint("3 sessions"))
package console

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

type Formatter struct {
	color  *color.Color
	prefix string
	suffix string
}

func (f Formatter) Sprint(a ...interface{}) string {
	text := fmt.Sprint(a...)
	if Plain() {
		return f.prefix + text + f.suffix
	}
	return f.color.Sprint(text)
}

func (f Formatter) Sprintf(format string, a ...interface{}) string {
	return f.Sprint(fmt.Sprintf(format, a...))
}

var (
	Regular   = Formatter{color.New(color.FgWhite), "", ""}
	Info      = Formatter{color.New(color.FgCyan), "", ""}
	Warn      = Formatter{color.New(color.FgYellow), "", ""}
	Error     = Formatter{color.New(color.FgRed), "", ""}
	Success   = Formatter{color.New(color.FgGreen), "", ""}
	Highlight = Formatter{color.New(color.FgCyan, color.Bold), "'", "'"}
	Muted     = Formatter{color.New(color.FgHiBlack), "(", ")"}
	Code      = Formatter{color.New(color.FgHiWhite), "`", "`"}
)

// Plain reports whether output should skip color escapes
func Plain() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return true
	}
	return color.NoColor
}

// Level picks a formatter for a severity or security level name
func Level(name string) Formatter {
	switch name {
	case "high":
		return Error
	case "medium":
		return Warn
	case "low":
		return Info
	}
	return Regular
}

// Flag renders a boolean as a colored yes/no
func Flag(v bool) string {
	if v {
		return Success.Sprint("yes")
	}
	return Muted.Sprint("no")
}
