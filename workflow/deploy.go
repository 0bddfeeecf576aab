package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/rentafleet/orchestrator/compose"
	"github.com/rentafleet/orchestrator/copyengine"
	"github.com/rentafleet/orchestrator/orchestrator"
	"github.com/rentafleet/orchestrator/tenancy"
)

// runtimeConfigFile is the frontend's runtime configuration artifact. It is
// the one tenant-specific frontend file that must survive code updates.
const runtimeConfigFile = "config.js"

// backendEnvFile holds tenant-specific backend secrets, never inherited from
// the template.
const backendEnvFile = ".env"

// Deploy provisions the tenant end to end: stack creation, code copy from the
// template, runtime configuration, database seeding, and final restart.
//
// On failure the tenant record is marked failed with the reason attached;
// infrastructure already created is left in place for manual inspection, no
// automatic rollback is attempted.
func (e *Engine) Deploy(ctx context.Context, code string) (*DeployResult, error) {
	result := &DeployResult{Code: code}
	log := e.log.WithField("tenant", code)

	tenant, err := e.store.GetByCode(ctx, code)
	if err != nil {
		return result, err
	}
	if tenant.Provisioned() {
		return result, fmt.Errorf("tenant %q already has stack %q", code, tenant.StackName)
	}

	if err := e.store.UpdateStatus(ctx, code, tenancy.StatusProvisioning, ""); err != nil {
		return result, err
	}

	fail := func(step string, stepErr error) (*DeployResult, error) {
		log.WithError(stepErr).Errorf("deployment failed at %s", step)
		reason := fmt.Sprintf("%s: %v", step, stepErr)
		if statusErr := e.store.UpdateStatus(ctx, code, tenancy.StatusFailed, reason); statusErr != nil {
			log.WithError(statusErr).Error("could not record failure status")
		}
		return result, fmt.Errorf("deploy %q: %s: %w", code, step, stepErr)
	}

	// Allocate the port offset from both sources: recorded allocations and
	// the live stack count, so platform drift cannot cause a collision.
	offsets, err := e.store.RecordedOffsets(ctx)
	if err != nil {
		return fail("port allocation", err)
	}
	stacks, err := e.client.ListStacks(ctx)
	if err != nil {
		return fail("port allocation", err)
	}
	// Only tenant stacks count toward the live total; the template and proxy
	// stacks do not consume port offsets.
	live := 0
	for _, s := range stacks {
		if strings.HasPrefix(s.Name, e.cfg.StackPrefix) && s.Name != e.cfg.TemplateStackName {
			live++
		}
	}
	offset := tenancy.NextPortOffset(offsets, live, e.cfg.SafetyMargin)
	result.PortOffset = offset
	result.Ports = tenantPorts(e.gen.PortsFor(offset))
	result.URLs = tenantURLs(e.gen.URLsFor(tenant.Domain, offset))

	// Render and validate the compose document before touching the platform
	var doc string
	if tenant.Domain != "" {
		doc = e.gen.FullStack(code, tenant.Name, tenant.Domain, offset)
	} else {
		doc = e.gen.MinimalStack(code, tenant.Name, offset)
	}
	if err := compose.Validate(doc); err != nil {
		return fail("compose render", err)
	}

	stackName := e.stackName(code)
	for _, s := range stacks {
		if s.Name == stackName {
			return fail("stack create", fmt.Errorf("%w: %q", orchestrator.ErrDuplicateStack, stackName))
		}
	}

	stackID, err := e.client.CreateStack(ctx, stackName, doc)
	if err != nil {
		result.StackCreate = stepFailed(err)
		return fail("stack create", err)
	}
	result.StackID = stackID
	result.StackCreate = stepOK(fmt.Sprintf("stack %d created", stackID))
	log.WithField("stack_id", stackID).Info("stack created, waiting for containers")

	// Timed grace period, not a health poll: not every image in the stack
	// exposes a readiness signal.
	e.sleeper.Sleep(e.cfg.StartupGrace)

	if tenant.Domain == "" {
		// Database-only deployment: no application containers to fill
		result.BackendCopy = stepSkipped("minimal stack has no backend container")
		result.FrontendCopy = stepSkipped("minimal stack has no frontend container")
		return e.finishMinimalDeploy(ctx, tenant, result, offset, fail)
	}

	frontend, backend, _ := e.containerNames(code)

	// Backend code, excluding the env file: tenant secrets are generated
	// fresh, never inherited from the template
	if _, err := e.copier.CopyTree(ctx, e.cfg.TemplateBackend, backend, e.cfg.BackendPath, "/", copyengine.Options{
		ExcludeNames: []string{backendEnvFile},
	}); err != nil {
		result.BackendCopy = stepFailed(err)
		return fail("backend copy", err)
	}
	result.BackendCopy = stepOK("")

	if err := e.installDependencies(ctx, backend); err != nil {
		result.DepsInstall = stepFailed(err)
		return fail("dependency install", err)
	}
	result.DepsInstall = stepOK("")

	if _, err := e.copier.CopyTree(ctx, e.cfg.TemplateFrontend, frontend, e.cfg.FrontendPath, "/usr/share/nginx", copyengine.Options{
		ExcludeNames: []string{runtimeConfigFile},
	}); err != nil {
		result.FrontendCopy = stepFailed(err)
		return fail("frontend copy", err)
	}
	result.FrontendCopy = stepOK("")

	if err := e.writeRuntimeConfig(ctx, frontend, result.URLs.API); err != nil {
		result.RuntimeConfig = stepFailed(err)
		return fail("runtime config", err)
	}
	result.RuntimeConfig = stepOK(result.URLs.API)

	if err := e.configureSPARouting(ctx, frontend); err != nil {
		result.NginxConfig = stepFailed(err)
		return fail("nginx config", err)
	}
	result.NginxConfig = stepOK("")

	if err := e.seedDatabase(ctx, tenant, backend, result.Ports.Database); err != nil {
		result.DatabaseSeed = stepFailed(err)
		return fail("database seed", err)
	}
	result.DatabaseSeed = stepOK("")

	// Backend first, the frontend depends on it
	if err := e.client.RestartContainer(ctx, backend); err != nil {
		result.Restart = stepFailed(err)
		return fail("restart", err)
	}
	e.sleeper.Sleep(e.cfg.InterStepDelay)
	if err := e.client.RestartContainer(ctx, frontend); err != nil {
		result.Restart = stepFailed(err)
		return fail("restart", err)
	}

	running, err := e.client.WaitForContainerState(ctx, backend, orchestrator.StateRunning, e.cfg.StateWaitTimeout)
	if err != nil {
		result.Restart = stepFailed(err)
		return fail("restart", err)
	}
	if !running {
		log.Warn("backend not confirmed running within wait window")
	}
	result.Restart = stepOK("")

	if err := e.store.SetProvisioned(ctx, code, stackID, stackName, offset, result.Ports, result.URLs); err != nil {
		return fail("record update", err)
	}

	result.Success = true
	log.WithField("api_url", result.URLs.API).Info("tenant deployed")
	return result, nil
}

// finishMinimalDeploy completes a database-only deployment: seed the admin
// user and mark the tenant active with IP-based URLs.
func (e *Engine) finishMinimalDeploy(ctx context.Context, tenant *tenancy.Tenant, result *DeployResult, offset int, fail func(string, error) (*DeployResult, error)) (*DeployResult, error) {
	if err := e.seedDatabase(ctx, tenant, "", result.Ports.Database); err != nil {
		result.DatabaseSeed = stepFailed(err)
		return fail("database seed", err)
	}
	result.DatabaseSeed = stepOK("")

	if err := e.store.SetProvisioned(ctx, tenant.Code, result.StackID, e.stackName(tenant.Code), offset, result.Ports, result.URLs); err != nil {
		return fail("record update", err)
	}

	result.Success = true
	return result, nil
}

// seedDatabase connects to the tenant's own database instance and ensures the
// admin user exists. backendContainer may be empty for minimal stacks, in
// which case hashing happens locally.
func (e *Engine) seedDatabase(ctx context.Context, tenant *tenancy.Tenant, backendContainer string, mongoPort int) error {
	users, closeFn, err := e.openDB(ctx, e.cfg.ServerIP, mongoPort, e.dbName(tenant.Code))
	if err != nil {
		return err
	}
	defer closeFn()

	_, err = e.seeder.EnsureAdmin(ctx, users, backendContainer, tenant.AdminEmail, tenant.AdminPassword)
	return err
}

// Deprovision deletes the tenant's stack and detaches it from the record.
// With hardDelete the record itself is removed; otherwise the tenant is
// marked deleted and kept for audit.
func (e *Engine) Deprovision(ctx context.Context, code string, hardDelete bool) error {
	tenant, err := e.store.GetByCode(ctx, code)
	if err != nil {
		return err
	}

	if tenant.StackID != nil {
		if err := e.client.DeleteStack(ctx, *tenant.StackID); err != nil {
			return fmt.Errorf("delete stack for %q: %w", code, err)
		}
		if err := e.store.ClearStack(ctx, code); err != nil {
			return err
		}
	}

	if hardDelete {
		return e.store.HardDelete(ctx, code)
	}
	return e.store.UpdateStatus(ctx, code, tenancy.StatusDeleted, "")
}
