package statemanager

import "time"

// Kind identifies what a tracked operation is doing.
type Kind string

const (
	KindDeploy          Kind = "deploy"
	KindUpdate          Kind = "update"
	KindDeprovision     Kind = "deprovision"
	KindTemplateRefresh Kind = "template-refresh"
)

// Status represents the state of an operation
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// OperationState represents one tracked provisioning operation. Long-running
// workflows run in the background; callers poll these records to observe
// progress and outcome.
type OperationState struct {
	ID          string                 `json:"id"`
	Kind        Kind                   `json:"kind"`
	TenantCode  string                 `json:"tenant_code,omitempty"`
	Status      Status                 `json:"status"`
	QueuedAt    time.Time              `json:"queued_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Duration    string                 `json:"duration,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Result      interface{}            `json:"result,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// OperationStats provides aggregated statistics
type OperationStats struct {
	TotalOperations int            `json:"total_operations"`
	ByStatus        map[Status]int `json:"by_status"`
	ByKind          map[Kind]int   `json:"by_kind"`
	AverageDuration string         `json:"average_duration,omitempty"`
}
