package utils

import "fmt"

// Error is a constant error kind; packages declare their failure modes as
// Error constants and callers match them with errors.Is
type Error string

func (e Error) Error() string {
	return string(e)
}

// Wrap attaches a cause to the error kind; errors.Is(result, e) still holds
func (e Error) Wrap(cause error) error {
	if cause == nil {
		return e
	}
	return fmt.Errorf("%w: %v", e, cause)
}

func NotNil(v any, e Error) {
	if v == nil {
		panic(e)
	}
}

func PanicOnError(err error) {
	if err != nil {
		panic(err)
	}
}
