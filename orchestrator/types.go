package orchestrator

import "time"

// Container states as reported by the container runtime.
const (
	StateRunning = "running"
	StateExited  = "exited"
	StateCreated = "created"
)

// Container is a view of one container on the managed endpoint.
type Container struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
	// Status is the human-readable state ("Up 3 hours")
	Status string `json:"status"`
	Image  string `json:"image"`
}

// Stack is a view of one compose stack on the control plane.
type Stack struct {
	ID     int    `json:"Id"`
	Name   string `json:"Name"`
	Status int    `json:"Status"`
}

// Config contains everything the client needs to talk to the control plane.
type Config struct {
	// URL is the control-plane base URL
	URL string

	// APIKey is sent with every request in the X-API-Key header
	APIKey string

	// EndpointID scopes all container operations to one container host
	EndpointID int

	// RequestTimeout bounds ordinary API calls (default 60s)
	RequestTimeout time.Duration

	// TransferTimeout bounds archive and exec calls (default 180s)
	TransferTimeout time.Duration

	// InsecureSkipVerify disables TLS verification toward the control plane
	InsecureSkipVerify bool

	// PollInterval is the wait-for-state polling interval (default 2s)
	PollInterval time.Duration
}
