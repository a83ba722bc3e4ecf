package logging

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// OperationError tags an error with the step that failed and the check it belonged to.
type OperationError struct {
	Operation string
	RequestID string
	Err       error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.RequestID != "" {
		return fmt.Sprintf("%s (request_id=%s): %v", e.Operation, e.RequestID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps err; a nil err stays nil. An err that already carries the
// same operation is returned as is so retries do not nest wrappers.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	var existing *OperationError
	if errors.As(err, &existing) && existing.Operation == operation && existing.RequestID == requestID {
		return err
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

// ErrorFields returns the error plus the operation of the outermost OperationError
// in its chain, for loggers that already carry the request id.
func ErrorFields(err error) []zap.Field {
	fields := []zap.Field{zap.Error(err)}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		fields = append(fields, zap.String("failed_operation", opErr.Operation))
	}
	return fields
}
