package brewometer

import (
	"errors"
	"fmt"
)

var (

	// ErrTransportUnavailable denotes that a device could not be connected or read
	ErrTransportUnavailable = errors.New("device transport unavailable")

	// ErrMalformedReading denotes a characteristic payload of unexpected length
	ErrMalformedReading = errors.New("malformed reading")

	// ErrUnknownDevice denotes a device id / address that was never registered
	ErrUnknownDevice = errors.New("unknown device")

	// ErrStoreUnavailable denotes that the persistent store cannot be opened / created
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidBrewTransition denotes an attempt to start a brew on a device
	// that is already brewing
	ErrInvalidBrewTransition = errors.New("invalid brew transition")
)

// ReadFailure denotes a failed attempt to read a measurement from a device
type ReadFailure struct {
	Address string
	Kind    error
	Err     error
}

func newReadFailure(address string, kind error, err error) *ReadFailure {
	return &ReadFailure{
		Address: address,
		Kind:    kind,
		Err:     err,
	}
}

// Error returns the error message
func (f *ReadFailure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("failed to read device `%s`: %s", f.Address, f.Kind)
	}
	return fmt.Sprintf("failed to read device `%s`: %s: %s", f.Address, f.Kind, f.Err)
}

// Unwrap returns the underlying transport / decoding error
func (f *ReadFailure) Unwrap() error {
	return f.Err
}

// Is matches the failure kind. A malformed reading also counts as the
// transport being unavailable
func (f *ReadFailure) Is(target error) bool {
	if target == f.Kind {
		return true
	}
	return target == ErrTransportUnavailable && f.Kind == ErrMalformedReading
}
