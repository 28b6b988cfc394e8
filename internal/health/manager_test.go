package health

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	if m.Overall() != StatusUnknown {
		t.Errorf("empty manager overall = %s", m.Overall())
	}

	m.Register("modbus")
	if m.Overall() != StatusUnhealthy {
		t.Errorf("registered-but-unreported overall = %s", m.Overall())
	}

	m.SetHealthy("modbus", "connected")
	if !m.IsHealthy("modbus", time.Minute) || m.Overall() != StatusHealthy {
		t.Errorf("after healthy report: %+v", m.All())
	}

	m.SetUnhealthy("modbus", "read failed", errors.New("connection reset"))
	d, ok := m.Get("modbus")
	if !ok || d.Status != StatusUnhealthy || d.Error != "connection reset" {
		t.Errorf("Get = %+v, %v", d, ok)
	}
	if m.IsHealthy("modbus", 0) {
		t.Error("unhealthy component reported healthy")
	}
	if m.IsHealthy("absent", 0) {
		t.Error("unknown component reported healthy")
	}
}

func TestManagerStaleness(t *testing.T) {
	m := NewManager()
	m.Update("modbus", Data{Status: StatusHealthy, LastCheck: time.Now().Add(-time.Hour)})
	if m.IsHealthy("modbus", time.Minute) {
		t.Error("stale report treated as healthy")
	}
	if !m.IsHealthy("modbus", 0) {
		t.Error("staleness check not disabled by zero maxAge")
	}
}

func TestManagerListener(t *testing.T) {
	m := NewManager()

	var mu sync.Mutex
	var got []Status
	m.SetListener(func(component string, status Status) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, status)
	})

	m.SetHealthy("modbus", "connected")
	m.SetHealthy("modbus", "read ok")
	m.SetUnhealthy("modbus", "lost", nil)
	m.SetHealthy("modbus", "connected")

	want := []Status{StatusHealthy, StatusUnhealthy, StatusHealthy}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("listener saw %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestManagerCopies(t *testing.T) {
	m := NewManager()
	m.SetHealthy("modbus", "connected")

	all := m.All()
	d := all["modbus"]
	d.Status = StatusUnhealthy
	all["modbus"] = d

	if !m.IsHealthy("modbus", 0) {
		t.Error("All() aliases internal state")
	}
}
