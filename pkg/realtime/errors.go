package realtime

import "errors"

var (
	// ErrMissingEndpoint means no service endpoint was configured.
	ErrMissingEndpoint = errors.New("realtime: endpoint not configured")

	// ErrMissingAPIKey means no credential was configured.
	ErrMissingAPIKey = errors.New("realtime: API key not configured")

	// ErrNotConnected is returned by operations that need a live
	// connection.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrAlreadyConnected is returned by Connect when a connection
	// attempt is already in flight or established.
	ErrAlreadyConnected = errors.New("realtime: already connected")
)

// ProtocolError is a server-reported error event. It surfaces the
// message but does not by itself close the socket.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Code != "" {
		return "realtime: server error " + e.Code + ": " + e.Message
	}
	return "realtime: server error: " + e.Message
}
