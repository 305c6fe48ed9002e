package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrStore matches every *StoreError.
	ErrStore = errors.New("durable store failure")

	// ErrDuplicateSignal marks activity observed for a date that is already done.
	// It is an outcome, not a failure.
	ErrDuplicateSignal = errors.New("activity already recorded for date")
)

type StoreError struct {
	Op   string // "read" or "write"
	Date Date
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Date, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }
