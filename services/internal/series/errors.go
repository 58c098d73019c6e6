package series

import "github.com/pkg/errors"

// ErrInvalidWindow is a precondition failure caused by the request itself,
// such as a yearly view over all devices. It is the caller's mistake, never a
// system fault.
var ErrInvalidWindow = errors.New("invalid window")

func invalidWindow(reason string) error {
	return errors.Wrap(ErrInvalidWindow, reason)
}
