package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindPredicatesSeeThroughWrapping(t *testing.T) {
	gap := NewDataGapError("datahub", "AAPL", "no bars")
	wrapped := fmt.Errorf("cycle: %w", gap)

	assert.True(t, IsDataGap(wrapped))
	assert.False(t, IsFatal(wrapped))
	assert.Equal(t, RecoverySkipSymbol, Recovery(wrapped))
	assert.Equal(t, "AAPL", gap.Context["symbol"])
}

func TestFatalKinds(t *testing.T) {
	cfgErr := NewConfigError("validate", "bad trail mode")
	schemaErr := NewSchemaError("migrate", stderrors.New("syntax error"))

	assert.True(t, IsFatal(cfgErr))
	assert.True(t, IsFatal(schemaErr))
	assert.Equal(t, RecoveryStop, Recovery(schemaErr))
	assert.Contains(t, schemaErr.Error(), "syntax error")
}

func TestExecutionFailureUnwraps(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := NewExecutionFailure("MSFT", cause)

	assert.True(t, IsExecutionFailure(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, RecoveryReject, Recovery(err))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, KindTimeout, "x", "y", "z"))
	assert.Equal(t, RecoverySkipSymbol, Recovery(stderrors.New("plain")))
}
