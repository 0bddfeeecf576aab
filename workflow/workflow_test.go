package workflow

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rentafleet/orchestrator/common"
	"github.com/rentafleet/orchestrator/compose"
	"github.com/rentafleet/orchestrator/orchestrator"
	"github.com/rentafleet/orchestrator/seed"
	"github.com/rentafleet/orchestrator/tenancy"
)

// fakeStore is an in-memory TenantStore.
type fakeStore struct {
	tenants map[string]*tenancy.Tenant
	offsets []int

	statusLog   []string
	provisioned map[string]int
	deleted     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tenants:     make(map[string]*tenancy.Tenant),
		provisioned: make(map[string]int),
	}
}

func (s *fakeStore) add(t *tenancy.Tenant) {
	s.tenants[t.Code] = t
}

func (s *fakeStore) GetByCode(ctx context.Context, code string) (*tenancy.Tenant, error) {
	t, ok := s.tenants[code]
	if !ok {
		return nil, fmt.Errorf("%w: %q", tenancy.ErrTenantNotFound, code)
	}
	copied := *t
	return &copied, nil
}

func (s *fakeStore) RecordedOffsets(ctx context.Context) ([]int, error) {
	return s.offsets, nil
}

func (s *fakeStore) SetProvisioned(ctx context.Context, code string, stackID int, stackName string, offset int, ports tenancy.Ports, urls tenancy.URLs) error {
	t := s.tenants[code]
	t.StackID = &stackID
	t.StackName = stackName
	t.PortOffset = offset
	t.Ports = ports
	t.URLs = urls
	t.Status = tenancy.StatusActive
	s.provisioned[code] = offset
	s.statusLog = append(s.statusLog, string(tenancy.StatusActive))
	return nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, code string, status tenancy.Status, reason string) error {
	t, ok := s.tenants[code]
	if !ok {
		return fmt.Errorf("%w: %q", tenancy.ErrTenantNotFound, code)
	}
	t.Status = status
	t.FailureReason = reason
	s.statusLog = append(s.statusLog, string(status))
	return nil
}

func (s *fakeStore) ClearStack(ctx context.Context, code string) error {
	t := s.tenants[code]
	t.StackID = nil
	t.StackName = ""
	return nil
}

func (s *fakeStore) HardDelete(ctx context.Context, code string) error {
	delete(s.tenants, code)
	s.deleted = append(s.deleted, code)
	return nil
}

// fakeUsers is an in-memory seed.UserStore.
type fakeUsers struct {
	existing map[string]bool
	inserted []seed.AdminUser
}

func (f *fakeUsers) AdminExists(ctx context.Context, email string) (bool, error) {
	return f.existing[email], nil
}

func (f *fakeUsers) InsertAdmin(ctx context.Context, user seed.AdminUser) error {
	f.inserted = append(f.inserted, user)
	return nil
}

func testConfig() Config {
	return Config{
		StackPrefix:        "rentacar_",
		TemplateStackName:  "rentacar_template",
		TemplateFrontend:   "rentacar_template_frontend",
		TemplateBackend:    "rentacar_template_backend",
		FrontendPath:       "/usr/share/nginx/html",
		BackendPath:        "/app",
		ServerIP:           "203.0.113.10",
		SafetyMargin:       5,
		ACMEEmail:          "ops@example.com",
		OrchestratorURL:    "https://portainer.local:9443",
		OrchestratorAPIKey: "ptr_testkey",
		StartupGrace:       10 * time.Second,
		StateWaitTimeout:   time.Second,
		InterStepDelay:     3 * time.Second,
	}
}

func testGenerator() compose.Generator {
	return compose.Generator{
		FrontendBase:         10000,
		BackendBase:          11000,
		MongoBase:            12000,
		ServerIP:             "203.0.113.10",
		TemplateFrontendName: "rentacar_template_frontend",
		TemplateBackendName:  "rentacar_template_backend",
	}
}

// newTestEngine wires an engine with instant sleeps and an in-memory user
// store, returning the collaborators for assertions.
func newTestEngine(t *testing.T, mock *orchestrator.MockClient, store *fakeStore) (*Engine, *fakeUsers) {
	t.Helper()
	users := &fakeUsers{existing: make(map[string]bool)}

	engine := New(mock, store, testGenerator(), testConfig(),
		WithSleeper(common.Sleeper{Fn: func(time.Duration) {}}),
		WithUserStoreOpener(func(ctx context.Context, host string, port int, dbName string) (seed.UserStore, func(), error) {
			return users, func() {}, nil
		}),
	)
	return engine, users
}

func archiveOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)
	for name, content := range files {
		require.NoError(t, w.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}))
		_, err := w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// seedTemplateData gives the mock a template stack with downloadable trees.
func seedTemplateData(t *testing.T, mock *orchestrator.MockClient) {
	t.Helper()
	mock.AddContainer("rentacar_template_frontend", orchestrator.StateRunning)
	mock.AddContainer("rentacar_template_backend", orchestrator.StateRunning)
	mock.DownloadData["rentacar_template_backend:/app"] = archiveOf(t, map[string]string{
		"app/server.py": "new backend code",
		"app/.env":      "TEMPLATE_SECRET=1",
	})
	mock.DownloadData["rentacar_template_frontend:/usr/share/nginx/html"] = archiveOf(t, map[string]string{
		"html/index.html": "<html>new build</html>",
		"html/config.js":  `window.__RUNTIME_CONFIG__ = { API_URL: "https://api.template.invalid" };`,
	})
}

// seedTenantContainers adds the per-tenant containers for code "acme".
func seedTenantContainers(mock *orchestrator.MockClient) {
	mock.AddContainer("acme_frontend", orchestrator.StateRunning)
	mock.AddContainer("acme_backend", orchestrator.StateRunning)
	mock.AddContainer("acme_mongodb", orchestrator.StateRunning)
}

// setRuntimeConfig places an existing config.js in the tenant frontend.
func setRuntimeConfig(t *testing.T, mock *orchestrator.MockClient, apiURL string) {
	t.Helper()
	mock.DownloadData["acme_frontend:/usr/share/nginx/html/config.js"] = archiveOf(t, map[string]string{
		"config.js": compose.RuntimeConfigJS(apiURL),
	})
}

func callIndex(t *testing.T, calls []string, want string) int {
	t.Helper()
	for i, c := range calls {
		if c == want {
			return i
		}
	}
	t.Fatalf("call %q not found in %v", want, calls)
	return -1
}
