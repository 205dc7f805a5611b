package project

import (
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/standardbeagle/autousing/internal/metrics"
)

// Registry maps project names to open projects. At most one project is
// addressable per name; paths are not deduplicated.
type Registry struct {
	mu       sync.RWMutex
	projects map[string]*Project
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		projects: make(map[string]*Project),
		logger:   logger.Named("registry"),
		metrics:  m,
	}
}

// Add registers p under its name. A project already registered under that
// name is displaced, disposed and returned.
func (r *Registry) Add(p *Project) (displaced *Project) {
	r.mu.Lock()
	displaced = r.projects[p.Name()]
	r.projects[p.Name()] = p
	n := len(r.projects)
	r.mu.Unlock()

	r.metrics.SetProjects(n)
	if displaced != nil && displaced != p {
		r.logger.Info("project displaced",
			zap.String("name", p.Name()),
			zap.String("old_path", displaced.Path()),
			zap.String("new_path", p.Path()))
		displaced.Dispose()
		return displaced
	}
	return nil
}

// RemoveByName unregisters and disposes the named project. It reports
// whether a project was registered under name.
func (r *Registry) RemoveByName(name string) bool {
	r.mu.Lock()
	p, ok := r.projects[name]
	if ok {
		delete(r.projects, name)
	}
	n := len(r.projects)
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.metrics.SetProjects(n)
	p.Dispose()
	return true
}

// Find returns the project registered under name
func (r *Registry) Find(name string) (*Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[name]
	return p, ok
}

// List returns the registered projects ordered by name
func (r *Registry) List() []*Project {
	r.mu.RLock()
	out := make([]*Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Project) int { return strings.Compare(a.Name(), b.Name()) })
	return out
}

// Len is the number of registered projects
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.projects)
}

// Close disposes every project and empties the registry
func (r *Registry) Close() {
	r.mu.Lock()
	projects := r.projects
	r.projects = make(map[string]*Project)
	r.mu.Unlock()

	for _, p := range projects {
		p.Dispose()
	}
	r.metrics.SetProjects(0)
}
