package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentafleet/orchestrator/orchestrator"
	"github.com/rentafleet/orchestrator/tenancy"
)

func pendingTenant(domain string) *tenancy.Tenant {
	return &tenancy.Tenant{
		ID:            "id-acme",
		Code:          "acme",
		Name:          "Acme Rent",
		Domain:        domain,
		Status:        tenancy.StatusPending,
		AdminEmail:    "admin@acme.example.com",
		AdminPassword: "s3cret",
	}
}

func TestDeployFullStack(t *testing.T) {
	mock := orchestrator.NewMockClient()
	seedTemplateData(t, mock)
	seedTenantContainers(mock)
	mock.AddStack(1, "traefik")
	mock.AddStack(2, "rentacar_template")
	mock.AddStack(3, "rentacar_one")
	mock.AddStack(4, "rentacar_two")
	mock.AddStack(5, "rentacar_three")
	mock.ExecOutput["acme_backend"] = "$2b$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

	store := newFakeStore()
	store.add(pendingTenant("acme.example.com"))
	store.offsets = []int{5, 6}

	engine, users := newTestEngine(t, mock, store)
	result, err := engine.Deploy(context.Background(), "acme")
	require.NoError(t, err)
	require.True(t, result.Success)

	// Dual-source allocation: max(recordedMax+1=7, live 3+margin 5=8) = 8.
	// Only prefixed tenant stacks count; traefik and the template do not.
	assert.Equal(t, 8, result.PortOffset)
	assert.Equal(t, tenancy.Ports{Frontend: 10008, Backend: 11008, Database: 12008}, result.Ports)
	assert.Equal(t, tenancy.URLs{
		Website: "https://acme.example.com",
		Panel:   "https://panel.acme.example.com",
		API:     "https://api.acme.example.com",
	}, result.URLs)

	// Stack submitted under the prefixed name with the full document
	doc := mock.CreatedStacks["rentacar_acme"]
	require.NotEmpty(t, doc)
	assert.Contains(t, doc, "container_name: acme_backend")
	assert.Contains(t, doc, "Host(`api.acme.example.com`)")

	// Tenant record finalized
	tenant := store.tenants["acme"]
	assert.Equal(t, tenancy.StatusActive, tenant.Status)
	require.NotNil(t, tenant.StackID)
	assert.Equal(t, "rentacar_acme", tenant.StackName)
	assert.Equal(t, 8, tenant.PortOffset)

	// Admin user seeded exactly once with the in-container hash
	require.Len(t, users.inserted, 1)
	assert.Equal(t, "admin@acme.example.com", users.inserted[0].Email)
	assert.Equal(t, "$2b$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW", users.inserted[0].PasswordHash)

	// Backend restarted before frontend
	backendRestart := callIndex(t, mock.Calls, "restart acme_backend")
	frontendRestart := callIndex(t, mock.Calls, "restart acme_frontend")
	assert.Less(t, backendRestart, frontendRestart)
}

func TestDeployMinimalStackWithoutDomain(t *testing.T) {
	mock := orchestrator.NewMockClient()

	store := newFakeStore()
	store.add(pendingTenant(""))

	engine, users := newTestEngine(t, mock, store)
	result, err := engine.Deploy(context.Background(), "acme")
	require.NoError(t, err)
	require.True(t, result.Success)

	// Empty platform and no records: offset is liveCount + margin
	assert.Equal(t, 5, result.PortOffset)

	doc := mock.CreatedStacks["rentacar_acme"]
	require.NotEmpty(t, doc)
	assert.Contains(t, doc, "acme_mongodb")
	assert.NotContains(t, doc, "frontend")

	// No application containers, so no copies and no execs
	assert.False(t, result.BackendCopy.Done)
	assert.False(t, result.FrontendCopy.Done)
	assert.Empty(t, mock.Uploads)

	// Admin still seeded, hashed locally without a backend container
	require.Len(t, users.inserted, 1)

	assert.Equal(t, tenancy.URLs{
		Website: "http://203.0.113.10:10005",
		Panel:   "http://203.0.113.10:10005",
		API:     "http://203.0.113.10:11005",
	}, result.URLs)
}

func TestDeployRejectsProvisionedTenant(t *testing.T) {
	mock := orchestrator.NewMockClient()
	store := newFakeStore()
	tenant := pendingTenant("acme.example.com")
	stackID := 9
	tenant.StackID = &stackID
	tenant.StackName = "rentacar_acme"
	store.add(tenant)

	engine, _ := newTestEngine(t, mock, store)
	_, err := engine.Deploy(context.Background(), "acme")
	assert.Error(t, err)
	assert.Empty(t, mock.CreatedStacks, "no orchestration call for a doomed request")
}

func TestDeployDuplicateStackNameAborts(t *testing.T) {
	mock := orchestrator.NewMockClient()
	mock.AddStack(7, "rentacar_acme")

	store := newFakeStore()
	store.add(pendingTenant("acme.example.com"))

	engine, _ := newTestEngine(t, mock, store)
	_, err := engine.Deploy(context.Background(), "acme")
	require.Error(t, err)
	assert.ErrorIs(t, err, orchestrator.ErrDuplicateStack)

	assert.Equal(t, tenancy.StatusFailed, store.tenants["acme"].Status)
	assert.NotEmpty(t, store.tenants["acme"].FailureReason)
}

func TestDeployFailureMarksTenantFailed(t *testing.T) {
	mock := orchestrator.NewMockClient()
	mock.FailOn["create-stack"] = orchestrator.ErrUnavailable

	store := newFakeStore()
	store.add(pendingTenant("acme.example.com"))

	engine, _ := newTestEngine(t, mock, store)
	result, err := engine.Deploy(context.Background(), "acme")
	require.Error(t, err)

	assert.False(t, result.Success)
	assert.False(t, result.StackCreate.OK)
	assert.Equal(t, tenancy.StatusFailed, store.tenants["acme"].Status)
	assert.Contains(t, store.tenants["acme"].FailureReason, "stack create")
}

func TestDeployBackendCopyFailureLeavesStackForInspection(t *testing.T) {
	mock := orchestrator.NewMockClient()
	// Template containers exist but carry no backend tree
	mock.AddContainer("rentacar_template_frontend", orchestrator.StateRunning)
	mock.AddContainer("rentacar_template_backend", orchestrator.StateRunning)
	seedTenantContainers(mock)

	store := newFakeStore()
	store.add(pendingTenant("acme.example.com"))

	engine, _ := newTestEngine(t, mock, store)
	result, err := engine.Deploy(context.Background(), "acme")
	require.Error(t, err)

	assert.True(t, result.StackCreate.OK)
	assert.False(t, result.BackendCopy.OK)
	assert.Equal(t, tenancy.StatusFailed, store.tenants["acme"].Status)

	// No automatic rollback: the stack stays on the platform
	assert.Empty(t, mock.DeletedStacks)
	stacks, _ := mock.ListStacks(context.Background())
	require.Len(t, stacks, 1)
	assert.Equal(t, "rentacar_acme", stacks[0].Name)
}

func TestDeprovision(t *testing.T) {
	mock := orchestrator.NewMockClient()
	mock.AddStack(42, "rentacar_acme")

	store := newFakeStore()
	tenant := pendingTenant("acme.example.com")
	stackID := 42
	tenant.StackID = &stackID
	tenant.Status = tenancy.StatusActive
	store.add(tenant)

	engine, _ := newTestEngine(t, mock, store)
	require.NoError(t, engine.Deprovision(context.Background(), "acme", false))

	assert.Equal(t, []int{42}, mock.DeletedStacks)
	assert.Nil(t, store.tenants["acme"].StackID)
	assert.Equal(t, tenancy.StatusDeleted, store.tenants["acme"].Status)
}

func TestDeprovisionHardDelete(t *testing.T) {
	mock := orchestrator.NewMockClient()
	mock.AddStack(42, "rentacar_acme")

	store := newFakeStore()
	tenant := pendingTenant("acme.example.com")
	stackID := 42
	tenant.StackID = &stackID
	store.add(tenant)

	engine, _ := newTestEngine(t, mock, store)
	require.NoError(t, engine.Deprovision(context.Background(), "acme", true))

	assert.Equal(t, []string{"acme"}, store.deleted)
	assert.NotContains(t, store.tenants, "acme")
}
