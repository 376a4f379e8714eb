package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an engine error by how it must be handled.
type Kind string

const (
	// Fatal at startup
	KindConfig Kind = "CONFIG"
	KindSchema Kind = "SCHEMA"

	// Contained at the point of use
	KindDataGap          Kind = "DATA_GAP"
	KindUnknownRiskInput Kind = "UNKNOWN_RISK_INPUT"
	KindExecution        Kind = "EXECUTION"
	KindTimeout          Kind = "TIMEOUT"
	KindCancelled        Kind = "CANCELLED"
)

// EngineError is a categorized error with component context.
type EngineError struct {
	Kind       Kind
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Kind, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Kind, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *EngineError) Unwrap() error {
	return e.Underlying
}

// IsFatal reports whether the process must stop.
func (e *EngineError) IsFatal() bool {
	return e.Kind == KindConfig || e.Kind == KindSchema
}

// WithContext adds context information to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates an engine error without an underlying cause.
func New(kind Kind, component, operation, message string) *EngineError {
	return &EngineError{
		Kind:      kind,
		Component: component,
		Operation: operation,
		Message:   message,
	}
}

// Wrap attaches engine context to err. Wrap(nil, ...) returns nil.
func Wrap(err error, kind Kind, component, operation, message string) *EngineError {
	if err == nil {
		return nil
	}
	return &EngineError{
		Kind:       kind,
		Component:  component,
		Operation:  operation,
		Message:    message,
		Underlying: err,
	}
}

func NewDataGapError(component, symbol, message string) *EngineError {
	return New(KindDataGap, component, "fetch", message).WithContext("symbol", symbol)
}

func NewUnknownRiskInputError(symbol, message string) *EngineError {
	return New(KindUnknownRiskInput, "risk", "evaluate", message).WithContext("symbol", symbol)
}

func NewExecutionFailure(symbol string, err error) *EngineError {
	return Wrap(err, KindExecution, "execution", "place_order", "order send failed").WithContext("symbol", symbol)
}

func NewConfigError(operation, message string) *EngineError {
	return New(KindConfig, "config", operation, message)
}

func NewSchemaError(operation string, err error) *EngineError {
	return Wrap(err, KindSchema, "storage", operation, "schema setup failed")
}

// KindOf returns the kind of the first EngineError in err's chain.
func KindOf(err error) (Kind, bool) {
	var ee *EngineError
	if stderrors.As(err, &ee) {
		return ee.Kind, true
	}
	return "", false
}

func is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsDataGap reports a recoverable per-symbol data gap.
func IsDataGap(err error) bool { return is(err, KindDataGap) }

// IsUnknownRiskInput reports missing equity or exposure data.
func IsUnknownRiskInput(err error) bool { return is(err, KindUnknownRiskInput) }

// IsExecutionFailure reports an order that could not be sent.
func IsExecutionFailure(err error) bool { return is(err, KindExecution) }

// IsFatal reports whether err should abort the process.
func IsFatal(err error) bool {
	var ee *EngineError
	if stderrors.As(err, &ee) {
		return ee.IsFatal()
	}
	return false
}

// RecoveryAction tells the caller how to continue after an error.
type RecoveryAction string

const (
	RecoverySkipSymbol RecoveryAction = "SKIP_SYMBOL"
	RecoveryReject     RecoveryAction = "REJECT"
	RecoveryStop       RecoveryAction = "STOP"
)

// Recovery maps an error to the containment policy for it.
func Recovery(err error) RecoveryAction {
	k, ok := KindOf(err)
	if !ok {
		return RecoverySkipSymbol
	}
	switch k {
	case KindConfig, KindSchema:
		return RecoveryStop
	case KindUnknownRiskInput, KindExecution:
		return RecoveryReject
	default:
		return RecoverySkipSymbol
	}
}
