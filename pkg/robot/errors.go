package robot

import "errors"

// Failure classes shared by the device service, the client and the drivers.
// Wrap them with fmt.Errorf("...: %w", ...) and test with errors.Is.
var (
	// ErrInvalidInput marks a malformed request. It never reaches hardware.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnreachable marks a transport failure or timeout talking to the device.
	ErrUnreachable = errors.New("device unreachable")

	// ErrHardwareRead marks a failed servo read. Reads are never retried.
	ErrHardwareRead = errors.New("hardware read failed")

	// ErrCapture marks a camera failure that survived the recovery attempt.
	ErrCapture = errors.New("capture failed")
)
