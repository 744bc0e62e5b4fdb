package ui

import (
	"bytes"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[\x30-\x3f]*[\x20-\x2f]*[\x40-\x7e]`)

func TestBannerIncludesLegalNotice(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(WithWriter(&buf), WithNoColor(true))
	c.Banner()

	out := buf.String()
	assert.Contains(t, out, "Authorized security testing only")
	assert.Contains(t, out, Version)
}

func TestSilentModeKeepsLegalNoticeAndErrors(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(WithWriter(&buf), WithNoColor(true), WithSilent(true))

	c.Banner()
	c.Stage("recon")
	c.Info("probing")
	c.Success("done")
	c.Warn("careful")
	c.Error("broke: %s", "disk")

	out := buf.String()
	assert.Contains(t, out, "Authorized security testing only")
	assert.Contains(t, out, "broke: disk")
	assert.NotContains(t, out, "recon")
	assert.NotContains(t, out, "probing")
	assert.NotContains(t, out, "done")
	assert.NotContains(t, out, "careful")
}

func TestNoColorOutputHasNoANSI(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(WithWriter(&buf), WithNoColor(true))

	c.Banner()
	c.RunHeader("run-1", "example.com", "safe-scan", map[string]string{"Rate": "30/min"})
	c.Stage("scan")
	c.Finding("high", "Exposed Panel", "api.example.com")
	c.Error("oops")

	assert.Nil(t, ansiPattern.FindIndex(buf.Bytes()), "no escape codes with color disabled")
}

func TestRunHeaderFormat(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(WithWriter(&buf), WithNoColor(true))
	c.RunHeader("1700000000_example_com", "example.com", "full-scan-with-validation", nil)

	out := buf.String()
	assert.Contains(t, out, ":: Run")
	assert.Contains(t, out, "1700000000_example_com")
	assert.Contains(t, out, "full-scan-with-validation")
}

func TestOverridePromptReturnsTypedToken(t *testing.T) {
	var out bytes.Buffer
	p := NewOverridePrompt(WithPromptStreams(strings.NewReader("I_ACCEPT_RISK\n"), &out))

	token, err := p.Confirm("example.com", "no scope provided")
	require.NoError(t, err)
	assert.Equal(t, "I_ACCEPT_RISK", token)
	assert.Contains(t, out.String(), "MANUAL OVERRIDE REQUESTED")
	assert.Contains(t, out.String(), "no scope provided")
}

func TestOverridePromptPreservesExactInput(t *testing.T) {
	var out bytes.Buffer
	p := NewOverridePrompt(WithPromptStreams(strings.NewReader("yes\r\n"), &out))

	token, err := p.Confirm("example.com", "reason")
	require.NoError(t, err)
	assert.Equal(t, "yes", token, "prompt strips line endings but never rewrites the answer")
}

func TestOverridePromptNonInteractive(t *testing.T) {
	p := NewOverridePrompt()
	p.isTerminal = func() bool { return false }

	_, err := p.Confirm("example.com", "reason")
	assert.ErrorIs(t, err, ErrNotInteractive)
}

func TestOverridePromptEOFWithoutNewline(t *testing.T) {
	var out bytes.Buffer
	p := NewOverridePrompt(WithPromptStreams(strings.NewReader("I_ACCEPT_RISK"), &out))

	token, err := p.Confirm("example.com", "reason")
	require.NoError(t, err)
	assert.Equal(t, "I_ACCEPT_RISK", token)
}
