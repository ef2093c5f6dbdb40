package logging

import "fmt"

// OperationError annotates an error with the component operation that produced it.
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

// Cause returns the innermost message-bearing error, skipping operation wrappers.
// Callers that surface a failure to end users use it to avoid leaking operation names.
func (e *OperationError) Cause() error {
	var err error = e
	for {
		op, ok := err.(*OperationError)
		if !ok || op == nil || op.Err == nil {
			return err
		}
		err = op.Err
	}
}

// NewOperationError wraps an error with structured context about where it occurred.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}
