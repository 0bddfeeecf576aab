package workflow

import (
	"context"
	"fmt"

	"github.com/rentafleet/orchestrator/compose"
)

// EnsureResult reports an idempotent singleton-stack operation.
type EnsureResult struct {
	StackID       int    `json:"stack_id"`
	StackName     string `json:"stack_name"`
	AlreadyExists bool   `json:"already_exists"`
}

// EnsureTemplateStack creates the singleton template stack if it is missing.
// The freshly created containers are empty runtimes; RefreshTemplate fills
// them with the golden code.
func (e *Engine) EnsureTemplateStack(ctx context.Context) (*EnsureResult, error) {
	return e.ensureStack(ctx, e.cfg.TemplateStackName, e.gen.TemplateStack())
}

// EnsureProxyStack creates the shared reverse-proxy stack if it is missing.
func (e *Engine) EnsureProxyStack(ctx context.Context) (*EnsureResult, error) {
	return e.ensureStack(ctx, "traefik", compose.ProxyStack(e.cfg.ACMEEmail))
}

// EnsureSuperadminStack creates the control-panel stack if it is missing. The
// rendered document embeds this service's own control-plane credentials so
// the panel backend can reach the same endpoint.
func (e *Engine) EnsureSuperadminStack(ctx context.Context) (*EnsureResult, error) {
	return e.ensureStack(ctx, "superadmin",
		e.gen.SuperadminStack(e.cfg.OrchestratorURL, e.cfg.OrchestratorAPIKey))
}

func (e *Engine) ensureStack(ctx context.Context, name, doc string) (*EnsureResult, error) {
	if err := compose.Validate(doc); err != nil {
		return nil, err
	}

	stacks, err := e.client.ListStacks(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range stacks {
		if s.Name == name {
			return &EnsureResult{StackID: s.ID, StackName: name, AlreadyExists: true}, nil
		}
	}

	id, err := e.client.CreateStack(ctx, name, doc)
	if err != nil {
		return nil, fmt.Errorf("create stack %q: %w", name, err)
	}

	e.log.WithFields(map[string]interface{}{"stack": name, "stack_id": id}).Info("stack created")
	return &EnsureResult{StackID: id, StackName: name}, nil
}

// TemplateRefreshResult reports a master-template refresh step by step.
type TemplateRefreshResult struct {
	Success         bool       `json:"success"`
	FrontendUpload  StepResult `json:"frontend_upload"`
	BackendUpload   StepResult `json:"backend_upload"`
	FrontendRestart StepResult `json:"frontend_restart"`
	BackendRestart  StepResult `json:"backend_restart"`
}

// RefreshTemplate pushes new golden code into the template containers. Either
// archive may be nil to leave that side untouched. Tenant workflows read the
// template but never write it; this is the only operation that does, and it
// is expected to run serially.
//
// Refreshing the template does not touch any tenant; tenants pick the new
// code up on their next update run.
func (e *Engine) RefreshTemplate(ctx context.Context, frontendArchive, backendArchive []byte) (*TemplateRefreshResult, error) {
	result := &TemplateRefreshResult{}

	if frontendArchive == nil {
		result.FrontendUpload = stepSkipped("no frontend archive provided")
		result.FrontendRestart = stepSkipped("frontend not updated")
	} else {
		if err := e.client.UploadArchive(ctx, e.cfg.TemplateFrontend, e.cfg.FrontendPath, frontendArchive); err != nil {
			result.FrontendUpload = stepFailed(err)
			return result, fmt.Errorf("refresh template frontend: %w", err)
		}
		result.FrontendUpload = stepOK("")
	}

	if backendArchive == nil {
		result.BackendUpload = stepSkipped("no backend archive provided")
		result.BackendRestart = stepSkipped("backend not updated")
	} else {
		if err := e.client.UploadArchive(ctx, e.cfg.TemplateBackend, e.cfg.BackendPath, backendArchive); err != nil {
			result.BackendUpload = stepFailed(err)
			return result, fmt.Errorf("refresh template backend: %w", err)
		}
		result.BackendUpload = stepOK("")
	}

	if frontendArchive != nil {
		if err := e.client.RestartContainer(ctx, e.cfg.TemplateFrontend); err != nil {
			result.FrontendRestart = stepFailed(err)
			return result, fmt.Errorf("restart template frontend: %w", err)
		}
		result.FrontendRestart = stepOK("")
	}
	if backendArchive != nil {
		if err := e.client.RestartContainer(ctx, e.cfg.TemplateBackend); err != nil {
			result.BackendRestart = stepFailed(err)
			return result, fmt.Errorf("restart template backend: %w", err)
		}
		result.BackendRestart = stepOK("")
	}

	result.Success = true
	e.log.Info("master template refreshed")
	return result, nil
}
