package errs

import (
	"fmt"
)

// Wrap tags err with sentinel so callers can match it with errors.Is.
func Wrap(sentinel, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// WrapMsg is Wrap with a context message. A nil err yields sentinel plus msg.
func WrapMsg(sentinel error, msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", sentinel, msg)
	}
	return fmt.Errorf("%w: %s: %w", sentinel, msg, err)
}
