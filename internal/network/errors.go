package network

import "fmt"

// ValidationError reports a request the caller could have known was
// invalid: wrong party, wrong state, duplicate request. Handlers map it
// to a 400-class response rather than a 500.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
