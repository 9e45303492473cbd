package transport

import "context"

// Transport delivers JSON-RPC messages to one tool provider. Implementations
// own framing, encoding, and request/response correlation.
type Transport interface {
	// Send issues a request and returns the matching response.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify sends a notification. No response is read.
	Notify(ctx context.Context, notif *Notification) error

	// Close releases the transport. For stdio this terminates the
	// subprocess.
	Close() error
}
