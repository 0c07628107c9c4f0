package submission

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("submission: invalid input")
	ErrNotFound     = errors.New("submission: not found")
	ErrStorage      = errors.New("submission: storage failure")
	ErrPersistence  = errors.New("submission: persistence failure")
)

// StoreError classifies a repository failure. Validation and lookup errors pass
// through unchanged; anything else, timeouts included, becomes ErrPersistence.
func StoreError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrPersistence):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: timed out", ErrPersistence, op)
	}
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}
