package ui

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNotInteractive is returned when an override is requested but no
// terminal is attached to answer it.
var ErrNotInteractive = errors.New("stdin is not an interactive terminal")

// OverridePrompt asks the operator to confirm proceeding against a
// non-allowed policy decision. It satisfies the policy gate's Confirmer
// contract.
type OverridePrompt struct {
	in  io.Reader
	out io.Writer

	// isTerminal is the tty check, replaced in tests.
	isTerminal func() bool
}

// PromptOption configures an OverridePrompt.
type PromptOption func(*OverridePrompt)

// WithPromptStreams overrides the prompt's streams, used by tests.
func WithPromptStreams(in io.Reader, out io.Writer) PromptOption {
	return func(p *OverridePrompt) {
		p.in = in
		p.out = out
		p.isTerminal = func() bool { return true }
	}
}

// NewOverridePrompt creates a prompt bound to the process terminal.
func NewOverridePrompt(opts ...PromptOption) *OverridePrompt {
	p := &OverridePrompt{
		in:  os.Stdin,
		out: os.Stderr,
		isTerminal: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Confirm shows the risk prompt and returns the raw token the operator
// typed. The caller decides whether the token authorizes anything; a
// non-interactive stdin is an error, never an implicit confirmation.
func (p *OverridePrompt) Confirm(target, reason string) (string, error) {
	if !p.isTerminal() {
		return "", ErrNotInteractive
	}

	fmt.Fprintln(p.out)
	fmt.Fprintf(p.out, " %s\n", promptStyle.Render("MANUAL OVERRIDE REQUESTED"))
	fmt.Fprintf(p.out, "   target : %s\n", target)
	fmt.Fprintf(p.out, "   reason : %s\n", reason)
	fmt.Fprintf(p.out, "   Proceeding is at your own risk and will be recorded in the audit log.\n")
	fmt.Fprintf(p.out, "   Type I_ACCEPT_RISK to continue, anything else to abort: ")

	line, err := bufio.NewReader(p.in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read override confirmation: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
