package policy

import (
	"fmt"
	"os"
)

// ApplyPropagateErrors evaluates the propagate-errors policy for err raised
// by the connector to targetID. Queued errors are recorded in queued. It
// reports whether err should propagate.
func ApplyPropagateErrors(opt Option, targetID string, err error, queued map[string]error) (bool, error) {
	switch opt {
	case Stop:
		return true, nil
	case Queue:
		if queued != nil {
			queued[targetID] = err
		}
		return false, nil
	case Ignore:
		return false, nil
	}
	return false, fmt.Errorf("%w: %q for policy %s", ErrUnknownOption, opt, PropagateErrors)
}

// ApplyPropagateErrorsOnUpdate evaluates the propagate-errors-on-update
// policy. It reports whether the error should propagate.
func ApplyPropagateErrorsOnUpdate(opt Option, local string) (bool, error) {
	switch opt {
	case Always:
		return true, nil
	case NotPresent:
		_, err := os.Stat(local)
		return err != nil, nil
	}
	return false, fmt.Errorf("%w: %q for policy %s", ErrUnknownOption, opt, PropagateErrorsOnUpdate)
}
