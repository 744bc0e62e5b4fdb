package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bountyscan/bountyscan/pkg/cli"
)

func TestRunRejectsBadFlags(t *testing.T) {
	assert.Equal(t, cli.ExitUsage, run([]string{"-mode", "aggressive", "-target", "example.com"}))
	assert.Equal(t, cli.ExitUsage, run([]string{}))
}

func TestRunHelpExitsClean(t *testing.T) {
	assert.Equal(t, cli.ExitOK, run([]string{"-h"}))
}
