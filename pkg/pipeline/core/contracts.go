// Package core holds the error markers shared by translation capabilities and the
// Foundry I/O layer.
package core

// TransientError marks an error as retryable.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// LimitedTransientError is retryable, but only ExtraRetries more times even when the
// caller's retry budget is larger.
type LimitedTransientError struct {
	Err          error
	ExtraRetries int
}

func (e *LimitedTransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *LimitedTransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// MaxExtraRetries reports how many retries the failed operation may still get.
func (e *LimitedTransientError) MaxExtraRetries() int {
	if e == nil || e.ExtraRetries < 0 {
		return 0
	}
	return e.ExtraRetries
}

// PermanentError marks an error that will fail the same way on every attempt
// (rejected input, bad credentials). Retrying callers stop immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	if e == nil || e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
