package minter

import (
	"context"
	"errors"
	"fmt"

	"mintwatch/internal/poller"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance for mint")
	ErrAttemptsExhausted   = errors.New("mint attempts exhausted")
	// ErrMintPending means a mint tx was sent but its outcome is unknown.
	// The run stops rather than send a second paid transaction.
	ErrMintPending = errors.New("mint transaction pending")
)

// FatalError aborts the run before any mint is submitted.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

const (
	ExitOK        = 0
	ExitFatal     = 1
	ExitExhausted = 2
	ExitPending   = 3
	ExitCancelled = 130
)

// ExitCode maps a Run error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrMintPending):
		return ExitPending
	case errors.Is(err, ErrAttemptsExhausted), errors.Is(err, poller.ErrBudgetExhausted):
		return ExitExhausted
	case errors.Is(err, context.Canceled):
		return ExitCancelled
	default:
		return ExitFatal
	}
}
