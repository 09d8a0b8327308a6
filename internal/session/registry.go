package session

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/ashureev/lumi/internal/agent"
	"github.com/ashureev/lumi/internal/store"
)

// Registry hands out one Manager per user.
type Registry struct {
	repo   store.Repository
	orch   *agent.Orchestrator
	logger *slog.Logger

	mu       sync.Mutex
	managers map[string]*Manager
}

// NewRegistry creates an empty registry.
func NewRegistry(repo store.Repository, orch *agent.Orchestrator, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		repo:     repo,
		orch:     orch,
		logger:   logger,
		managers: make(map[string]*Manager),
	}
}

// Get returns the user's manager, creating it on first use.
func (r *Registry) Get(userID string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[userID]
	if !ok {
		m = NewManager(userID, r.repo, r.orch, r.logger)
		r.managers[userID] = m
		r.logger.Debug("Session manager created", "user_id", userID)
	}
	return m
}

// All returns every live manager ordered by user ID.
func (r *Registry) All() []*Manager {
	r.mu.Lock()
	out := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		out = append(out, m)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].userID < out[j].userID })
	return out
}
