package errors

import "errors"

// Probe error taxonomy. Components wrap these with fmt.Errorf("...: %w", err)
// and the transport boundary classifies them with errors.Is.
var (
	// ErrNotFound indicates that a payload file does not exist on disk.
	ErrNotFound = errors.New("payload not found")

	// ErrRangeUnsatisfiable indicates a Range header that cannot be served.
	ErrRangeUnsatisfiable = errors.New("range not satisfiable")

	// ErrTransport indicates that the peer went away or the network failed mid-transfer.
	ErrTransport = errors.New("transport error")

	// ErrStorage indicates that a payload file could not be provisioned.
	ErrStorage = errors.New("storage error")

	// ErrIO indicates a read failure while streaming a payload.
	ErrIO = errors.New("I/O error")

	// ErrSessionClosed indicates that a duplex session has already reached Closed.
	ErrSessionClosed = errors.New("session closed")
)

// IsClientFault reports whether err was caused by the request rather than the server.
func IsClientFault(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrRangeUnsatisfiable)
}
