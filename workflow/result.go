package workflow

import "github.com/rentafleet/orchestrator/tenancy"

// StepResult is the outcome of one workflow step. Workflows never collapse a
// run into a single boolean; each step reports individually so the exact
// stall point is visible to operators.
type StepResult struct {
	Done   bool   `json:"done"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

func stepOK(detail string) StepResult {
	return StepResult{Done: true, OK: true, Detail: detail}
}

func stepFailed(err error) StepResult {
	return StepResult{Done: true, OK: false, Error: err.Error()}
}

func stepSkipped(reason string) StepResult {
	return StepResult{Done: false, Detail: reason}
}

// DeployResult reports a provisioning run step by step.
type DeployResult struct {
	Code    string `json:"code"`
	Success bool   `json:"success"`

	StackCreate   StepResult `json:"stack_create"`
	BackendCopy   StepResult `json:"backend_copy"`
	DepsInstall   StepResult `json:"deps_install"`
	FrontendCopy  StepResult `json:"frontend_copy"`
	RuntimeConfig StepResult `json:"runtime_config"`
	NginxConfig   StepResult `json:"nginx_config"`
	DatabaseSeed  StepResult `json:"database_seed"`
	Restart       StepResult `json:"restart"`

	StackID    int          `json:"stack_id,omitempty"`
	PortOffset int          `json:"port_offset,omitempty"`
	Ports      tenancy.Ports `json:"ports"`
	URLs       tenancy.URLs  `json:"urls"`
}

// UpdateResult reports a safe-update run step by step.
type UpdateResult struct {
	Code    string `json:"code"`
	Success bool   `json:"success"`

	ConfigRead   StepResult `json:"config_read"`
	BackendStop  StepResult `json:"backend_stop"`
	BackendCopy  StepResult `json:"backend_copy"`
	BackendStart StepResult `json:"backend_start"`
	DepsInstall  StepResult `json:"deps_install"`
	FrontendCopy StepResult `json:"frontend_copy"`
	ConfigWrite  StepResult `json:"config_write"`
	NginxReload  StepResult `json:"nginx_reload"`
	Verify       StepResult `json:"verify"`

	// PreviousAPIURL is what the live frontend was pointing at before the
	// update; FinalAPIURL is what was written (and read back) afterwards.
	PreviousAPIURL string `json:"previous_api_url,omitempty"`
	FinalAPIURL    string `json:"final_api_url,omitempty"`
}
