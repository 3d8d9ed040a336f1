package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Component names used by the agent
const (
	ComponentEngine     = "engine"
	ComponentReporter   = "reporter"
	ComponentCheckpoint = "checkpoint"
	ComponentAPI        = "api"
)

// Overall states reported by Health and Readiness
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
)

// ComponentReport is the state of one component. Since is when it last
// changed between up and down.
type ComponentReport struct {
	Up       bool      `json:"up"`
	Critical bool      `json:"critical,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	Since    time.Time `json:"since"`
}

// Report is the body of the health and readiness endpoints
type Report struct {
	Status     string                     `json:"status"`
	Message    string                     `json:"message,omitempty"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentReport `json:"components,omitempty"`
}

// Registry tracks component health. A critical component that is down makes
// the agent down; any other component that is down only degrades it.
type Registry struct {
	mu         sync.RWMutex
	components map[string]ComponentReport
	critical   map[string]bool
	started    time.Time
	version    string
	now        func() time.Time
}

// NewRegistry creates a registry whose readiness waits for critical
func NewRegistry(critical ...string) *Registry {
	r := &Registry{
		components: make(map[string]ComponentReport),
		critical:   make(map[string]bool, len(critical)),
		now:        time.Now,
	}
	for _, name := range critical {
		r.critical[name] = true
	}
	r.started = r.now()
	return r
}

func (r *Registry) SetVersion(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version = version
}

// Set records the state of a component
func (r *Registry) Set(name string, up bool, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	prev, seen := r.components[name]
	since := now
	if seen && prev.Up == up {
		since = prev.Since
	}
	r.components[name] = ComponentReport{Up: up, Critical: r.critical[name], Detail: detail, Since: since}
}

// Health is ok when every registered component is up
func (r *Registry) Health() Report {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rep := r.report(StatusOK)
	for name, c := range r.components {
		rep.Components[name] = c
		switch {
		case c.Up:
		case c.Critical:
			rep.Status = StatusDown
		case rep.Status == StatusOK:
			rep.Status = StatusDegraded
		}
	}
	return rep
}

// Readiness is ready once every critical component is registered and up
func (r *Registry) Readiness() Report {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rep := r.report(StatusReady)
	names := make([]string, 0, len(r.critical))
	for name := range r.critical {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		c, ok := r.components[name]
		if ok {
			rep.Components[name] = c
		}
		if rep.Status != StatusReady {
			continue
		}
		switch {
		case !ok:
			rep.Status, rep.Message = StatusNotReady, "waiting for "+name+" to start"
		case !c.Up:
			rep.Status, rep.Message = StatusNotReady, name+" is down: "+c.Detail
		}
	}
	return rep
}

func (r *Registry) report(status string) Report {
	now := r.now()
	return Report{
		Status:     status,
		Timestamp:  now,
		Version:    r.version,
		Uptime:     now.Sub(r.started).Round(time.Second).String(),
		Components: make(map[string]ComponentReport),
	}
}

// HealthHandler answers 503 only when the agent is down
func (r *Registry) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		rep := r.Health()
		code := http.StatusOK
		if rep.Status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, rep)
	}
}

func (r *Registry) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		rep := r.Readiness()
		code := http.StatusOK
		if rep.Status != StatusReady {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, rep)
	}
}

// LivenessHandler answers 200 while the process can serve requests
func (r *Registry) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		r.mu.RLock()
		uptime := r.now().Sub(r.started).Round(time.Second).String()
		r.mu.RUnlock()
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive", "uptime": uptime})
	}
}

var defaultRegistry = NewRegistry(ComponentEngine, ComponentAPI)

// DefaultRegistry returns the process-wide registry the agent components report to
func DefaultRegistry() *Registry { return defaultRegistry }

// SetComponent records a component state on the default registry
func SetComponent(name string, up bool, detail string) {
	defaultRegistry.Set(name, up, detail)
}

// SetVersion sets the version reported by the default registry
func SetVersion(version string) {
	defaultRegistry.SetVersion(version)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
