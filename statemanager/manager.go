// Package statemanager tracks asynchronous provisioning operations in memory
// so API callers can poll for progress after receiving an immediate
// "started" acknowledgment.
package statemanager

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager handles state tracking for provisioning operations
type Manager struct {
	mu            sync.RWMutex
	operations    map[string]*OperationState
	maxOperations int
}

// Config for creating a new Manager
type Config struct {
	MaxOperations int // Keep last N operations, default 1000
}

// New creates a new state manager
func New(cfg Config) *Manager {
	if cfg.MaxOperations == 0 {
		cfg.MaxOperations = 1000
	}
	return &Manager{
		operations:    make(map[string]*OperationState),
		maxOperations: cfg.MaxOperations,
	}
}

// Enqueue registers a new operation in queued state and returns its ID.
func (m *Manager) Enqueue(kind Kind, tenantCode string, metadata map[string]interface{}) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.operations) >= m.maxOperations {
		m.evictOldest()
	}

	id := uuid.New().String()
	m.operations[id] = &OperationState{
		ID:         id,
		Kind:       kind,
		TenantCode: tenantCode,
		Status:     StatusQueued,
		QueuedAt:   time.Now(),
		Metadata:   metadata,
	}
	return id
}

// MarkRunning transitions a queued operation to running.
func (m *Manager) MarkRunning(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if op, exists := m.operations[id]; exists {
		now := time.Now()
		op.Status = StatusRunning
		op.StartedAt = &now
	}
}

// Complete marks an operation as completed or failed and attaches the
// workflow's result object for operator diagnosis.
func (m *Manager) Complete(id string, result interface{}, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, exists := m.operations[id]
	if !exists {
		return
	}

	now := time.Now()
	op.CompletedAt = &now
	op.Result = result
	started := op.QueuedAt
	if op.StartedAt != nil {
		started = *op.StartedAt
	}
	op.Duration = now.Sub(started).String()

	if err != nil {
		op.Status = StatusFailed
		op.Error = err.Error()
	} else {
		op.Status = StatusCompleted
	}
}

// Get retrieves an operation by ID
func (m *Manager) Get(id string) *OperationState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if op, exists := m.operations[id]; exists {
		opCopy := *op
		return &opCopy
	}
	return nil
}

// List returns all tracked operations
func (m *Manager) List() []*OperationState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ops := make([]*OperationState, 0, len(m.operations))
	for _, op := range m.operations {
		opCopy := *op
		ops = append(ops, &opCopy)
	}
	return ops
}

// ListByTenant returns the operations touching one tenant code.
func (m *Manager) ListByTenant(code string) []*OperationState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ops []*OperationState
	for _, op := range m.operations {
		if op.TenantCode == code {
			opCopy := *op
			ops = append(ops, &opCopy)
		}
	}
	return ops
}

// Stats returns aggregated statistics
func (m *Manager) Stats() *OperationStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &OperationStats{
		TotalOperations: len(m.operations),
		ByStatus:        make(map[Status]int),
		ByKind:          make(map[Kind]int),
	}

	var totalDuration time.Duration
	var completedCount int

	for _, op := range m.operations {
		stats.ByStatus[op.Status]++
		stats.ByKind[op.Kind]++

		if op.CompletedAt != nil && op.StartedAt != nil {
			totalDuration += op.CompletedAt.Sub(*op.StartedAt)
			completedCount++
		}
	}

	if completedCount > 0 {
		avgDuration := totalDuration / time.Duration(completedCount)
		stats.AverageDuration = avgDuration.String()
	}

	return stats
}

// evictOldest removes the oldest operation (must be called with lock held)
func (m *Manager) evictOldest() {
	var oldestID string
	var oldestTime time.Time

	for id, op := range m.operations {
		if oldestID == "" || op.QueuedAt.Before(oldestTime) {
			oldestID = id
			oldestTime = op.QueuedAt
		}
	}

	if oldestID != "" {
		delete(m.operations, oldestID)
	}
}
