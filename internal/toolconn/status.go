package toolconn

import "time"

// State is one node of the per-provider connection state machine.
type State string

const (
	// StateDisconnected covers both never-connected providers and those
	// that exhausted their reconnect attempts.
	StateDisconnected State = "disconnected"

	// StateConnecting is the in-progress first or explicit connect.
	StateConnecting State = "connecting"

	// StateConnected providers serve cached tools and get health checks.
	StateConnected State = "connected"

	// StateReconnecting providers have a backoff task in flight.
	StateReconnecting State = "reconnecting"

	// StateError is terminal for an explicit connect attempt that failed.
	// Only another GetOrCreate or Reconcile moves the provider out of it.
	StateError State = "error"
)

// ProviderStatus is one provider's snapshot, suitable for a status
// endpoint.
type ProviderStatus struct {
	ID              string     `json:"id"`
	State           State      `json:"state"`
	Reason          string     `json:"reason,omitempty"`
	ConnectedAt     *time.Time `json:"connected_at,omitempty"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty"`
	ToolCount       int        `json:"tool_count"`
}

// StatusEvent reports one state transition.
type StatusEvent struct {
	ProviderID string
	From       State
	To         State
	Reason     string
}

// StatusFunc receives transition events. Handlers run synchronously on
// the transitioning goroutine with the manager lock held: they must not
// call back into the manager and must return quickly. A panicking handler
// is recovered and cannot corrupt the transition.
type StatusFunc func(StatusEvent)
