package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Version can be overridden at build time via ldflags:
//
//	go build -ldflags "-X github.com/bountyscan/bountyscan/pkg/ui.Version=1.0.0"
var Version = "0.3.0"

const bannerArt = `
    __                      __
   / /_  ____  __  ______  / /___  ________________ _____
  / __ \/ __ \/ / / / __ \/ __/ / / / ___/ ___/ __ '/ __ \
 / /_/ / /_/ / /_/ / / / / /_/ /_/ (__  ) /__/ /_/ / / / /
/_.___/\____/\__,_/_/ /_/\__/\__, /____/\___/\__,_/_/ /_/
                            /____/`

const legalNotice = "Authorized security testing only. Ensure you have explicit permission for every target."

// Console writes styled pipeline output. The zero value is unusable;
// construct with NewConsole so streams and modes are set.
type Console struct {
	out     io.Writer
	silent  bool
	noColor bool
}

// ConsoleOption configures a Console.
type ConsoleOption func(*Console)

// WithWriter redirects output, used by tests.
func WithWriter(w io.Writer) ConsoleOption {
	return func(c *Console) { c.out = w }
}

// WithSilent suppresses everything except errors and prompts.
func WithSilent(silent bool) ConsoleOption {
	return func(c *Console) { c.silent = silent }
}

// WithNoColor disables styled output.
func WithNoColor(noColor bool) ConsoleOption {
	return func(c *Console) {
		c.noColor = noColor
		if noColor {
			lipgloss.SetColorProfile(termenv.Ascii)
		}
	}
}

// NewConsole creates a console writing to stderr.
func NewConsole(opts ...ConsoleOption) *Console {
	c := &Console{out: os.Stderr}
	for _, opt := range opts {
		opt(c)
	}
	if c.out == os.Stderr && !term.IsTerminal(int(os.Stderr.Fd())) {
		// Piped output gets no escape codes regardless of flags.
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	return c
}

// Banner prints the application banner and the legal notice. The
// notice prints even in silent mode.
func (c *Console) Banner() {
	if !c.silent {
		for _, line := range strings.Split(bannerArt, "\n") {
			if line != "" {
				fmt.Fprintln(c.out, bannerStyle.Render(line))
			}
		}
		fmt.Fprintf(c.out, "%s %s\n\n", mutedStyle.Render("version"), versionStyle.Render(Version))
	}
	fmt.Fprintf(c.out, "%s\n\n", legalStyle.Render("! "+legalNotice))
}

// RunHeader prints the run configuration in option: value lines.
func (c *Console) RunHeader(runID, target, mode string, extra map[string]string) {
	if c.silent {
		return
	}
	c.option("Run", runID)
	c.option("Target", target)
	c.option("Mode", mode)
	for k, v := range extra {
		c.option(k, v)
	}
	fmt.Fprintln(c.out)
}

func (c *Console) option(name, value string) {
	fmt.Fprintf(c.out, " :: %-14s : %s\n", mutedStyle.Render(name), value)
}

// Stage announces a pipeline stage transition.
func (c *Console) Stage(name string) {
	if c.silent {
		return
	}
	fmt.Fprintf(c.out, "%s %s\n", stageStyle.Render(">"), stageStyle.Render(name))
}

// Info prints a progress detail line.
func (c *Console) Info(format string, args ...any) {
	if c.silent {
		return
	}
	fmt.Fprintf(c.out, "   %s\n", fmt.Sprintf(format, args...))
}

// Success prints a positive outcome line.
func (c *Console) Success(format string, args ...any) {
	if c.silent {
		return
	}
	fmt.Fprintf(c.out, " %s %s\n", successStyle.Render("[+]"), fmt.Sprintf(format, args...))
}

// Warn prints a warning line.
func (c *Console) Warn(format string, args ...any) {
	if c.silent {
		return
	}
	fmt.Fprintf(c.out, " %s %s\n", warnStyle.Render("[!]"), fmt.Sprintf(format, args...))
}

// Error prints an error line. Errors print even in silent mode.
func (c *Console) Error(format string, args ...any) {
	fmt.Fprintf(c.out, " %s %s\n", errorStyle.Render("[x]"), fmt.Sprintf(format, args...))
}

// Finding prints a one-line finding summary with severity coloring.
func (c *Console) Finding(severity, name, target string) {
	if c.silent {
		return
	}
	fmt.Fprintf(c.out, " %s %s %s\n",
		SeverityStyle(severity).Render("["+severity+"]"),
		name,
		mutedStyle.Render(target))
}
