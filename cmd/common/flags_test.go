package common

import (
	"bytes"
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagValidator(t *testing.T) {
	v := NewFlagValidator().
		ValidateInt("cycles", 3, 0, 10).
		ValidateDuration("cadence", time.Minute).
		ValidateChoice("source", "csv", []string{"csv", "bybit"})
	assert.False(t, v.HasErrors())
	assert.NoError(t, v.GetError())

	v.ValidateInt("top-n", -1, 0, 500)
	require.Error(t, v.GetError())
	assert.Contains(t, v.GetError().Error(), "top-n")

	v.ValidateChoice("format", "pdf", []string{"xlsx", "json"}).ValidateFile("config", "", true)
	assert.Contains(t, v.GetError().Error(), "validation errors:")
	assert.Contains(t, v.GetError().Error(), "config is required")
}

func TestUsageFormatter(t *testing.T) {
	fs := flag.NewFlagSet("engine", flag.ContinueOnError)
	RegisterCommonFlags(fs)
	var out bytes.Buffer
	fs.SetOutput(&out)

	NewUsageFormatter("engine", "runs the loop").AddExample("engine -cycles 1", "one cycle").Install(fs)
	fs.Usage()

	assert.Contains(t, out.String(), "engine - runs the loop")
	assert.Contains(t, out.String(), "engine -cycles 1")
	assert.Contains(t, out.String(), "-config")
}
