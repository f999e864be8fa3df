package strings

import "fmt"

// ConfigError represents a configuration validation error.
type ConfigError struct {
	NodeID  string
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("node %s: config error: %s", e.NodeID, e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("node %s: config error [%s]: %s", e.NodeID, e.Field, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

func NewConfigError(nodeID, field, message string, err error) *ConfigError {
	return &ConfigError{NodeID: nodeID, Field: field, Message: message, Err: err}
}

// OperationError represents an execution error during string operations.
type OperationError struct {
	NodeID    string
	Operation string
	Message   string
	Err       error
}

func (e *OperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("node %s: operation '%s' error: %s: %v", e.NodeID, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("node %s: operation '%s' error: %s", e.NodeID, e.Operation, e.Message)
}

func (e *OperationError) Unwrap() error { return e.Err }

func NewOperationError(nodeID, op, message string, err error) *OperationError {
	return &OperationError{NodeID: nodeID, Operation: op, Message: message, Err: err}
}
