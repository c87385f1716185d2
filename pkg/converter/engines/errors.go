// Package engines provides implementations of the inference engine that produces model tensors
package engines

import (
	"errors"
	"fmt"
)

// Sentinel errors for expected failure modes
var (
	ErrModelLoad        = errors.New("model could not be loaded")
	ErrInference        = errors.New("inference failed")
	ErrToolNotInstalled = errors.New("required tool not installed")
)

// ExitModelLoad is the exit status the model script uses when the model cannot be loaded
const ExitModelLoad = 3

// ProcessError represents a failure in an external process
type ProcessError struct {
	Tool     string // "python3", "basic-pitch"
	Stage    string // "model_load", "inference", "output"
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *ProcessError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed at %s (exit %d): %s", e.Tool, e.Stage, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s failed at %s (exit %d)", e.Tool, e.Stage, e.ExitCode)
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// NewProcessError creates a ProcessError
func NewProcessError(tool, stage string, exitCode int, stderr string, cause error) *ProcessError {
	return &ProcessError{
		Tool:     tool,
		Stage:    stage,
		ExitCode: exitCode,
		Stderr:   stderr,
		Cause:    cause,
	}
}
