package main

import (
	"errors"
	"fmt"
)

// Process exit codes
const (
	ExitSuccess = 0
	// ExitRunFailed means the run had failed nodes or was aborted
	ExitRunFailed = 1
	// ExitInvalid means the definition could not be loaded or validated
	ExitInvalid = 2
	// ExitError covers every other error
	ExitError = 3
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func exitCodeOf(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitError
}

// errRunUnsuccessful is returned after the summary has been printed
var errRunUnsuccessful = fmt.Errorf("run did not complete cleanly")
