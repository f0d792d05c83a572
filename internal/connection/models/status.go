package models

// ConnectionStatus is the lifecycle state of a connection edge.
type ConnectionStatus string

const (
	ConnectionStatusPending  ConnectionStatus = "pending"
	ConnectionStatusAccepted ConnectionStatus = "accepted"
	ConnectionStatusBlocked  ConnectionStatus = "blocked"
)

// Valid reports whether the status is one of the known states.
func (s ConnectionStatus) Valid() bool {
	switch s {
	case ConnectionStatusPending, ConnectionStatusAccepted, ConnectionStatusBlocked:
		return true
	}
	return false
}

// CanTransitionTo encodes the allowed status transitions.
// pending -> accepted, pending -> blocked, accepted -> blocked.
// blocked is terminal.
func (s ConnectionStatus) CanTransitionTo(target ConnectionStatus) bool {
	switch s {
	case ConnectionStatusPending:
		return target == ConnectionStatusAccepted || target == ConnectionStatusBlocked
	case ConnectionStatusAccepted:
		return target == ConnectionStatusBlocked
	case ConnectionStatusBlocked:
		return false
	}
	return false
}
