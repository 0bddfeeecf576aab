package statemanager

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes adds operation-state endpoints to an Echo group
func (m *Manager) RegisterRoutes(g *echo.Group) {
	g.GET("/operations", m.handleListOperations)
	g.GET("/operations/stats", m.handleGetStats)
	g.GET("/operations/:id", m.handleGetOperation)
}

// handleListOperations returns all tracked operations, optionally filtered by
// tenant code
func (m *Manager) handleListOperations(c echo.Context) error {
	if code := c.QueryParam("tenant"); code != "" {
		return c.JSON(http.StatusOK, m.ListByTenant(code))
	}
	return c.JSON(http.StatusOK, m.List())
}

// handleGetOperation returns a specific operation by ID
func (m *Manager) handleGetOperation(c echo.Context) error {
	op := m.Get(c.Param("id"))
	if op == nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "operation not found",
		})
	}
	return c.JSON(http.StatusOK, op)
}

// handleGetStats returns aggregated statistics
func (m *Manager) handleGetStats(c echo.Context) error {
	return c.JSON(http.StatusOK, m.Stats())
}
