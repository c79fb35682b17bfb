package workspace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/portdesk/internal/backend"
	"github.com/pitabwire/portdesk/internal/config"
	"github.com/pitabwire/portdesk/internal/definition"
	"github.com/pitabwire/portdesk/internal/draft"
	"github.com/pitabwire/portdesk/internal/observability"
	"github.com/pitabwire/portdesk/model"
)

// Deps are shared by every workspace of a process.
type Deps struct {
	Client      *backend.Client
	Registry    *definition.Registry
	Drafts      *draft.Store
	Collections map[string]config.CollectionConfig
	Session     config.SessionConfig
	Workspace   config.WorkspaceConfig
	Alerts      config.AlertsConfig
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// Manager owns the workspaces of a process and closes idle ones.
type Manager struct {
	deps *Deps
	now  func() time.Time

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

// NewManager creates an empty manager.
func NewManager(deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Alerts.SoonDays == 0 {
		deps.Alerts.SoonDays = 7
	}
	return &Manager{
		deps:       &deps,
		now:        time.Now,
		workspaces: make(map[string]*Workspace),
	}
}

// Create opens a workspace owned by the holder of token and mounts its
// collections. A missing token, or one the backend rejects, fails the
// create and no workspace is kept.
func (m *Manager) Create(ctx context.Context, token string) (*Workspace, error) {
	if token == "" {
		return nil, model.NewSessionInvalidError(m.deps.Session.LoginRedirect)
	}
	m.mu.Lock()
	if limit := m.deps.Workspace.MaxPerProcess; limit > 0 && len(m.workspaces) >= limit {
		m.mu.Unlock()
		return nil, model.NewConflictError(fmt.Sprintf("workspace limit of %d reached", limit))
	}
	w := newWorkspace(m.deps, token, m.now())
	m.workspaces[w.id] = w
	m.mu.Unlock()
	m.deps.Metrics.AddWorkspaces(1)

	ctx = observability.WithLogger(ctx, observability.LoggerFrom(ctx, m.deps.Logger).With(zap.String("workspace_id", w.id)))
	if err := w.Mount(ctx); err != nil {
		m.remove(w.id)
		return nil, err
	}
	observability.LoggerFrom(ctx, m.deps.Logger).Info("workspace created",
		zap.String("subject_id", w.sess.Subject()),
		zap.Int("collections", len(w.collections)),
	)
	return w, nil
}

// Get returns a workspace and marks it active.
func (m *Manager) Get(id string) (*Workspace, error) {
	m.mu.Lock()
	w, ok := m.workspaces[id]
	m.mu.Unlock()
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("workspace %q not found", id))
	}
	w.touch(m.now())
	return w, nil
}

// Close closes and forgets a workspace.
func (m *Manager) Close(id string) error {
	if !m.remove(id) {
		return model.NewNotFoundError(fmt.Sprintf("workspace %q not found", id))
	}
	return nil
}

func (m *Manager) remove(id string) bool {
	m.mu.Lock()
	w, ok := m.workspaces[id]
	delete(m.workspaces, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	w.Close()
	m.deps.Metrics.AddWorkspaces(-1)
	return true
}

// Len returns the number of open workspaces.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workspaces)
}

// Sweep closes workspaces idle for longer than the configured timeout and
// returns how many were closed.
func (m *Manager) Sweep() int {
	timeout := m.deps.Workspace.IdleTimeout
	if timeout <= 0 {
		return 0
	}
	cutoff := m.now().Add(-timeout)

	m.mu.Lock()
	var idle []string
	for id, w := range m.workspaces {
		if w.idleSince().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	closed := 0
	for _, id := range idle {
		if m.remove(id) {
			closed++
		}
	}
	if closed > 0 {
		m.deps.Logger.Info("idle workspaces closed", zap.Int("count", closed))
	}
	return closed
}

// Run sweeps idle workspaces until ctx is done, then closes the rest.
func (m *Manager) Run(ctx context.Context) {
	interval := m.deps.Workspace.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// CloseAll closes every workspace.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.workspaces))
	for id := range m.workspaces {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.remove(id)
	}
}
