package printer

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPrinter(t *testing.T) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var out, errOut bytes.Buffer
	return New(&out, &errOut), &out, &errOut
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		p, _, errOut := newTestPrinter(t)
		err := p.Error("Test Error", "This is a test error", nil, nil)
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "This is a test error")
	})

	t.Run("single suggestion is printed plainly", func(t *testing.T) {
		p, _, errOut := newTestPrinter(t)
		err := p.Error("Test Error", "Explanation", nil, []string{"Try this fix"})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "\nTry this fix\n")
		assert.NotContains(t, errOut.String(), "Either:")
	})

	t.Run("multiple suggestions are numbered", func(t *testing.T) {
		p, _, errOut := newTestPrinter(t)
		err := p.Error("Test Error", "Explanation", nil, []string{"First option", "Second option"})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "Either:\n  1. First option\n  2. Second option\n")
	})

	t.Run("context is sorted by key", func(t *testing.T) {
		p, _, errOut := newTestPrinter(t)
		_ = p.Error("Redis connection failed", "", map[string]string{"url": "redis://x", "board": "team"}, nil)
		assert.Contains(t, errOut.String(), "  board: team\n  url: redis://x\n")
	})
}

func TestSuccessAndWarning(t *testing.T) {
	p, out, errOut := newTestPrinter(t)

	p.Success("server started\n")
	p.Success("✓ already prefixed\n")
	p.Warning("grace period disabled\n")

	assert.Equal(t, "✓ server started\n✓ already prefixed\n", out.String())
	assert.Equal(t, "⚠️  grace period disabled\n", errOut.String())
}

func TestTable(t *testing.T) {
	p, out, _ := newTestPrinter(t)

	require.NoError(t, p.Table([]string{"TASK", "HOLDER"}, [][]string{
		{"task-1", "alice"},
		{"task-22", "bob"},
	}))

	assert.Equal(t, "TASK     HOLDER\ntask-1   alice\ntask-22  bob\n", out.String())
}
