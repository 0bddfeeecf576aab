package web

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rentafleet/orchestrator/common"
	"github.com/rentafleet/orchestrator/statemanager"
	"github.com/rentafleet/orchestrator/tenancy"
	"github.com/rentafleet/orchestrator/worker"
	"github.com/rentafleet/orchestrator/workflow"
)

// TenantStore is the persistence surface the handlers need beyond what the
// workflow engine touches itself.
type TenantStore interface {
	Create(ctx context.Context, tenant *tenancy.Tenant) error
	GetByCode(ctx context.Context, code string) (*tenancy.Tenant, error)
	List(ctx context.Context) ([]tenancy.Tenant, error)
	UpdateStatus(ctx context.Context, code string, status tenancy.Status, reason string) error
}

// Handler wires the admin API to the workflow engine. Long-running workflows
// are enqueued and acknowledged with 202 plus an operation ID; callers poll
// the operation endpoints for the outcome.
type Handler struct {
	engine *workflow.Engine
	store  TenantStore
	state  *statemanager.Manager
	queue  *worker.Queue
	log    *common.ContextLogger
}

// NewHandler creates the API handler.
func NewHandler(engine *workflow.Engine, store TenantStore, state *statemanager.Manager, queue *worker.Queue, log *common.ContextLogger) *Handler {
	if log == nil {
		log = common.ServiceLogger(nil, "web")
	}
	return &Handler{engine: engine, store: store, state: state, queue: queue, log: log}
}

// RegisterRoutes mounts all API routes on the server.
func (h *Handler) RegisterRoutes(e *echo.Echo, apiKey string) {
	e.GET("/health", HealthCheckHandler("provisionerd", "1.0.0"))

	api := e.Group("/v1/api", APIKeyMiddleware(apiKey))

	api.POST("/tenants", h.handleCreateTenant)
	api.GET("/tenants", h.handleListTenants)
	api.GET("/tenants/:code", h.handleGetTenant)
	api.POST("/tenants/:code/update", h.handleUpdateTenant)
	api.POST("/tenants/:code/suspend", h.handleSuspendTenant)
	api.POST("/tenants/:code/resume", h.handleResumeTenant)
	api.DELETE("/tenants/:code", h.handleDeleteTenant)

	api.POST("/template/ensure", h.handleEnsureTemplate)
	api.POST("/template/refresh", h.handleRefreshTemplate)
	api.POST("/proxy/ensure", h.handleEnsureProxy)
	api.POST("/superadmin/ensure", h.handleEnsureSuperadmin)

	h.state.RegisterRoutes(api)
}

// CreateTenantRequest is the create-company payload.
type CreateTenantRequest struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	Domain        string `json:"domain"`
	Subdomain     string `json:"subdomain"`
	Plan          string `json:"plan"`
	AdminEmail    string `json:"admin_email"`
	AdminPassword string `json:"admin_password"`
}

// OperationAccepted acknowledges an enqueued background workflow.
type OperationAccepted struct {
	OperationID string `json:"operation_id"`
	TenantCode  string `json:"tenant_code,omitempty"`
	Status      string `json:"status"`
}

func errorJSON(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]string{"error": err.Error()})
}

// handleCreateTenant persists the tenant record and enqueues provisioning.
// Validation failures and duplicates are rejected synchronously, before any
// background work starts.
func (h *Handler) handleCreateTenant(c echo.Context) error {
	var req CreateTenantRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	if req.Code == "" || req.Name == "" || req.AdminEmail == "" || req.AdminPassword == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "code, name, admin_email and admin_password are required",
		})
	}

	tenant := &tenancy.Tenant{
		Code:          req.Code,
		Name:          req.Name,
		Domain:        req.Domain,
		Subdomain:     req.Subdomain,
		Plan:          req.Plan,
		AdminEmail:    req.AdminEmail,
		AdminPassword: req.AdminPassword,
	}

	if err := h.store.Create(c.Request().Context(), tenant); err != nil {
		if errors.Is(err, tenancy.ErrDuplicateCode) || errors.Is(err, tenancy.ErrDuplicateSubdomain) {
			return errorJSON(c, http.StatusConflict, err)
		}
		return errorJSON(c, http.StatusInternalServerError, err)
	}

	return h.enqueue(c, statemanager.KindDeploy, req.Code, func(ctx context.Context) (interface{}, error) {
		return h.engine.Deploy(ctx, req.Code)
	})
}

func (h *Handler) handleListTenants(c echo.Context) error {
	tenants, err := h.store.List(c.Request().Context())
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, tenants)
}

func (h *Handler) handleGetTenant(c echo.Context) error {
	tenant, err := h.store.GetByCode(c.Request().Context(), c.Param("code"))
	if err != nil {
		if errors.Is(err, tenancy.ErrTenantNotFound) {
			return errorJSON(c, http.StatusNotFound, err)
		}
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, tenant)
}

func (h *Handler) handleUpdateTenant(c echo.Context) error {
	code := c.Param("code")
	if _, err := h.store.GetByCode(c.Request().Context(), code); err != nil {
		if errors.Is(err, tenancy.ErrTenantNotFound) {
			return errorJSON(c, http.StatusNotFound, err)
		}
		return errorJSON(c, http.StatusInternalServerError, err)
	}

	return h.enqueue(c, statemanager.KindUpdate, code, func(ctx context.Context) (interface{}, error) {
		return h.engine.Update(ctx, code)
	})
}

func (h *Handler) handleSuspendTenant(c echo.Context) error {
	return h.setStatus(c, tenancy.StatusSuspended)
}

func (h *Handler) handleResumeTenant(c echo.Context) error {
	return h.setStatus(c, tenancy.StatusActive)
}

func (h *Handler) setStatus(c echo.Context, status tenancy.Status) error {
	code := c.Param("code")
	if err := h.store.UpdateStatus(c.Request().Context(), code, status, ""); err != nil {
		if errors.Is(err, tenancy.ErrTenantNotFound) {
			return errorJSON(c, http.StatusNotFound, err)
		}
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"code": code, "status": string(status)})
}

// handleDeleteTenant enqueues deprovisioning. With ?hard=true the record is
// removed entirely after the stack is deleted.
func (h *Handler) handleDeleteTenant(c echo.Context) error {
	code := c.Param("code")
	hard := c.QueryParam("hard") == "true"

	if _, err := h.store.GetByCode(c.Request().Context(), code); err != nil {
		if errors.Is(err, tenancy.ErrTenantNotFound) {
			return errorJSON(c, http.StatusNotFound, err)
		}
		return errorJSON(c, http.StatusInternalServerError, err)
	}

	return h.enqueue(c, statemanager.KindDeprovision, code, func(ctx context.Context) (interface{}, error) {
		return nil, h.engine.Deprovision(ctx, code, hard)
	})
}

// handleEnsureTemplate creates the singleton template stack if missing.
// Synchronous: a stack create is one orchestrator round trip.
func (h *Handler) handleEnsureTemplate(c echo.Context) error {
	result, err := h.engine.EnsureTemplateStack(c.Request().Context())
	if err != nil {
		return errorJSON(c, http.StatusBadGateway, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) handleEnsureProxy(c echo.Context) error {
	result, err := h.engine.EnsureProxyStack(c.Request().Context())
	if err != nil {
		return errorJSON(c, http.StatusBadGateway, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) handleEnsureSuperadmin(c echo.Context) error {
	result, err := h.engine.EnsureSuperadminStack(c.Request().Context())
	if err != nil {
		return errorJSON(c, http.StatusBadGateway, err)
	}
	return c.JSON(http.StatusOK, result)
}

// handleRefreshTemplate accepts multipart uploads ("frontend" and/or
// "backend" tar archives) and pushes them into the template containers in the
// background.
func (h *Handler) handleRefreshTemplate(c echo.Context) error {
	frontend, err := readFormArchive(c, "frontend")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	backend, err := readFormArchive(c, "backend")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	if frontend == nil && backend == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "at least one of frontend or backend archive is required",
		})
	}

	return h.enqueue(c, statemanager.KindTemplateRefresh, "", func(ctx context.Context) (interface{}, error) {
		return h.engine.RefreshTemplate(ctx, frontend, backend)
	})
}

// readFormArchive loads an optional multipart file field into memory.
func readFormArchive(c echo.Context, field string) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		// Absent field is fine, the caller decides whether that is an error
		return nil, nil
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// enqueue registers an operation and schedules its job, answering 202.
func (h *Handler) enqueue(c echo.Context, kind statemanager.Kind, code string, execute func(ctx context.Context) (interface{}, error)) error {
	opID := h.state.Enqueue(kind, code, nil)

	err := h.queue.Enqueue(worker.Job{
		OperationID: opID,
		TenantCode:  code,
		Execute:     execute,
	})
	if err != nil {
		h.state.Complete(opID, nil, err)
		return errorJSON(c, http.StatusServiceUnavailable, err)
	}

	return c.JSON(http.StatusAccepted, OperationAccepted{
		OperationID: opID,
		TenantCode:  code,
		Status:      string(statemanager.StatusQueued),
	})
}
