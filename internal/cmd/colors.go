package cmd

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// stdout is the styled output used by the listing commands. When stdout
// is not a terminal (or NO_COLOR is set) the profile degrades to Ascii
// and every style becomes a no-op.
var stdout = newOutput()

func newOutput() *termenv.Output {
	fd := os.Stdout.Fd()
	if os.Getenv("NO_COLOR") == "" && (isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)) {
		return termenv.NewOutput(os.Stdout)
	}
	return termenv.NewOutput(os.Stdout, termenv.WithProfile(termenv.Ascii))
}

func green(s string) string {
	return stdout.String(s).Foreground(stdout.Color("2")).String()
}

func red(s string) string {
	return stdout.String(s).Foreground(stdout.Color("1")).String()
}

func faint(s string) string {
	return stdout.String(s).Faint().String()
}

func bold(s string) string {
	return stdout.String(s).Bold().String()
}
