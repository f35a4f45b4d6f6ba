package proc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrRetriesExhausted is matched by every *RetriesExhaustedError.
var ErrRetriesExhausted = errors.New("retries exhausted")

// errNotConfirmed stands in for an attempt whose action succeeded but whose
// postcondition did not hold yet.
var errNotConfirmed = errors.New("postcondition not met")

// RetriesExhaustedError reports that an action never reached its postcondition.
type RetriesExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetriesExhaustedError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("retries exhausted after %d attempt(s): %v", e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("retries exhausted after %d attempt(s)", e.Attempts)
}

func (e *RetriesExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }

func (e *RetriesExhaustedError) Unwrap() error { return e.LastErr }

// Permanent marks err as not worth retrying. RetryAction returns the inner error as is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent anywhere in its chain.
func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

// RetryAction calls action and then check, up to maxRetries times with delay
// between attempts. A nil return means check reported success.
func RetryAction(ctx context.Context, action func(ctx context.Context) error, check func(ctx context.Context) bool, maxRetries int, delay time.Duration) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	attempts := 0
	permanent := false
	var lastErr error
	operation := func() error {
		attempts++
		err := action(ctx)
		if IsPermanent(err) {
			permanent = true
			return err
		}
		if err != nil {
			lastErr = err
		}
		if check(ctx) {
			return nil
		}
		if err == nil {
			err = errNotConfirmed
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(maxRetries-1)),
		ctx,
	)

	err := backoff.Retry(operation, policy)
	switch {
	case err == nil:
		return nil
	case permanent:
		// backoff has already unwrapped it.
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return &RetriesExhaustedError{Attempts: attempts, LastErr: lastErr}
}
