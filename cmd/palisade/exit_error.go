package main

import "fmt"

// exitError carries a specific process exit code out through cobra's RunE
// chain. silent suppresses the stderr line for failures that were already
// reported closer to where they happened.
type exitError struct {
	code   int
	err    error
	silent bool
}

func (e *exitError) Error() string {
	if e == nil {
		return ""
	}
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}
