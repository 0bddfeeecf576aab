// Package workflow implements the tenant provisioning and safe-update state
// machines.
//
// Each workflow instance is a strict step sequence for one tenant; steps for
// different tenants may run concurrently because every container, database,
// and port is namespaced by tenant code. Results are reported per step so an
// operator can see exactly where a run stalled, the workflows themselves
// return a result object even on failure.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/rentafleet/orchestrator/common"
	"github.com/rentafleet/orchestrator/compose"
	"github.com/rentafleet/orchestrator/copyengine"
	"github.com/rentafleet/orchestrator/orchestrator"
	"github.com/rentafleet/orchestrator/seed"
	"github.com/rentafleet/orchestrator/tenancy"
)

// TenantStore is the slice of tenant persistence the workflows need.
type TenantStore interface {
	GetByCode(ctx context.Context, code string) (*tenancy.Tenant, error)
	RecordedOffsets(ctx context.Context) ([]int, error)
	SetProvisioned(ctx context.Context, code string, stackID int, stackName string, offset int, ports tenancy.Ports, urls tenancy.URLs) error
	UpdateStatus(ctx context.Context, code string, status tenancy.Status, reason string) error
	ClearStack(ctx context.Context, code string) error
	HardDelete(ctx context.Context, code string) error
}

// UserStoreOpener connects to one tenant's database and returns its users
// collection. Injected so workflow tests run without a live database.
type UserStoreOpener func(ctx context.Context, host string, port int, dbName string) (seed.UserStore, func(), error)

// Config carries the deployment-wide constants the workflows need. It is
// built once at process start; nothing here is read from the environment at
// call time.
type Config struct {
	// StackPrefix prepends tenant codes to form stack names.
	StackPrefix string

	// TemplateStackName is the singleton template stack.
	TemplateStackName string

	// TemplateFrontend and TemplateBackend are the template container names.
	TemplateFrontend string
	TemplateBackend  string

	// FrontendPath and BackendPath are the code roots inside the containers.
	FrontendPath string
	BackendPath  string

	// ServerIP is the public address for IP-only tenants and the host used
	// to reach tenant databases over their published ports.
	ServerIP string

	// SafetyMargin pads the live stack count during port allocation.
	SafetyMargin int

	// ACMEEmail receives certificate notices for the proxy stack.
	ACMEEmail string

	// OrchestratorURL and OrchestratorAPIKey are embedded in the superadmin
	// stack document so the panel backend reaches the same control plane.
	OrchestratorURL    string
	OrchestratorAPIKey string

	// StartupGrace is the fixed wait after stack creation. The stack images
	// expose no readiness probes, so the wait is timed.
	StartupGrace time.Duration

	// StateWaitTimeout bounds the stop/start state confirmation polls.
	StateWaitTimeout time.Duration

	// InterStepDelay separates dependent restarts (backend before frontend).
	InterStepDelay time.Duration
}

// Engine runs the provisioning and update workflows.
type Engine struct {
	client  orchestrator.Client
	store   TenantStore
	copier  *copyengine.Engine
	seeder  *seed.Seeder
	gen     compose.Generator
	cfg     Config
	sleeper common.Sleeper
	openDB  UserStoreOpener
	log     *common.ContextLogger
}

// Option adjusts an Engine at construction time.
type Option func(*Engine)

// WithSleeper replaces the fixed-delay implementation, used by tests.
func WithSleeper(s common.Sleeper) Option {
	return func(e *Engine) { e.sleeper = s }
}

// WithUserStoreOpener replaces the tenant database connector.
func WithUserStoreOpener(open UserStoreOpener) Option {
	return func(e *Engine) { e.openDB = open }
}

// WithLogger sets the engine logger.
func WithLogger(log *common.ContextLogger) Option {
	return func(e *Engine) { e.log = log }
}

// New creates a workflow engine.
func New(client orchestrator.Client, store TenantStore, gen compose.Generator, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		client: client,
		store:  store,
		gen:    gen,
		cfg:    cfg,
		log:    common.ServiceLogger(nil, "workflow"),
		openDB: func(ctx context.Context, host string, port int, dbName string) (seed.UserStore, func(), error) {
			db, closeFn, err := seed.OpenTenantDatabase(ctx, host, port, dbName)
			if err != nil {
				return nil, nil, err
			}
			return seed.NewMongoUserStore(db), closeFn, nil
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.copier = copyengine.New(client, e.log)
	e.seeder = seed.NewSeeder(client, e.log)
	return e
}

// containerNames derives the tenant's container names from its code.
func (e *Engine) containerNames(code string) (frontend, backend, mongo string) {
	safe := compose.SafeCode(code)
	return safe + "_frontend", safe + "_backend", safe + "_mongodb"
}

func (e *Engine) stackName(code string) string {
	return e.cfg.StackPrefix + code
}

func (e *Engine) dbName(code string) string {
	return compose.SafeCode(code) + "_db"
}

// tenantPorts converts the generator's port block to the persisted form.
func tenantPorts(p compose.Ports) tenancy.Ports {
	return tenancy.Ports{Frontend: p.Frontend, Backend: p.Backend, Database: p.Mongo}
}

func tenantURLs(u compose.URLs) tenancy.URLs {
	return tenancy.URLs{Website: u.Website, Panel: u.Panel, API: u.API}
}

// installDependencies runs the backend dependency install inside the
// container. The container's entrypoint installs these too, this explicit
// pass closes the race between "container reports running" and "entrypoint
// finished installing".
func (e *Engine) installDependencies(ctx context.Context, backendContainer string) error {
	cmd := []string{"pip", "install", "motor", "python-jose", "passlib[bcrypt]",
		"python-dotenv", "httpx", "bcrypt==4.0.1", "--quiet"}
	if _, err := e.client.Exec(ctx, backendContainer, cmd); err != nil {
		return fmt.Errorf("install backend dependencies: %w", err)
	}
	return nil
}

// writeRuntimeConfig uploads a fresh runtime-config file to the frontend.
func (e *Engine) writeRuntimeConfig(ctx context.Context, frontendContainer, apiURL string) error {
	data, err := copyengine.TarFile(runtimeConfigFile, []byte(compose.RuntimeConfigJS(apiURL)))
	if err != nil {
		return err
	}
	if err := e.client.UploadArchive(ctx, frontendContainer, e.cfg.FrontendPath, data); err != nil {
		return fmt.Errorf("upload runtime config: %w", err)
	}
	return nil
}

// configureSPARouting uploads the single-page-app nginx config and reloads
// the web server so deep links resolve to the root document.
func (e *Engine) configureSPARouting(ctx context.Context, frontendContainer string) error {
	data, err := copyengine.TarFile("default.conf", []byte(compose.NginxSPAConf()))
	if err != nil {
		return err
	}
	if err := e.client.UploadArchive(ctx, frontendContainer, "/etc/nginx/conf.d", data); err != nil {
		return fmt.Errorf("upload nginx config: %w", err)
	}
	if _, err := e.client.Exec(ctx, frontendContainer, []string{"nginx", "-s", "reload"}); err != nil {
		return fmt.Errorf("reload nginx: %w", err)
	}
	return nil
}
