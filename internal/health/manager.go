// Package health tracks the status of the exporter's long-running components.
package health

import (
	"sync"
	"time"
)

// Status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Data is one component's most recent health report.
type Data struct {
	LastCheck time.Time `json:"last_check"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Listener is told about every status transition.
type Listener func(component string, status Status)

// Manager manages component health status in memory
type Manager struct {
	mu       sync.RWMutex
	health   map[string]*Data
	listener Listener
}

// NewManager creates a new health manager
func NewManager() *Manager {
	return &Manager{
		health: make(map[string]*Data),
	}
}

// Register adds a component in the unknown state so that it counts against
// overall health before its first report.
func (m *Manager) Register(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.health[component]; !exists {
		m.health[component] = &Data{LastCheck: time.Now(), Status: StatusUnknown}
	}
}

// SetListener installs fn as the status transition listener.
func (m *Manager) SetListener(fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = fn
}

// Update records a report for component
func (m *Manager) Update(component string, data Data) {
	if data.LastCheck.IsZero() {
		data.LastCheck = time.Now()
	}

	m.mu.Lock()
	prev, existed := m.health[component]
	changed := !existed || prev.Status != data.Status
	m.health[component] = &data
	listener := m.listener
	m.mu.Unlock()

	if changed && listener != nil {
		listener(component, data.Status)
	}
}

// SetHealthy is shorthand for a healthy report.
func (m *Manager) SetHealthy(component, message string) {
	m.Update(component, Data{Status: StatusHealthy, Message: message})
}

// SetUnhealthy is shorthand for an unhealthy report.
func (m *Manager) SetUnhealthy(component, message string, err error) {
	d := Data{Status: StatusUnhealthy, Message: message}
	if err != nil {
		d.Error = err.Error()
	}
	m.Update(component, d)
}

// Get retrieves the health status for a specific component
func (m *Manager) Get(component string) (Data, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health, exists := m.health[component]
	if !exists {
		return Data{}, false
	}
	return *health, true
}

// All retrieves every component's status
func (m *Manager) All() map[string]Data {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]Data, len(m.health))
	for k, v := range m.health {
		result[k] = *v
	}
	return result
}

// IsHealthy checks if a component is healthy and its report is no older than
// maxAge. A zero maxAge disables the staleness check.
func (m *Manager) IsHealthy(component string, maxAge time.Duration) bool {
	health, exists := m.Get(component)
	if !exists {
		return false
	}

	if maxAge > 0 && time.Since(health.LastCheck) > maxAge {
		return false
	}

	return health.Status == StatusHealthy
}

// Overall is healthy only when every known component is healthy.
func (m *Manager) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.health) == 0 {
		return StatusUnknown
	}
	for _, h := range m.health {
		if h.Status != StatusHealthy {
			return StatusUnhealthy
		}
	}
	return StatusHealthy
}
