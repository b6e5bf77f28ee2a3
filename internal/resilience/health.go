package resilience

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
	HealthStatusUnknown   HealthStatus = "UNKNOWN"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name    string                 `json:"name"`
	Status  HealthStatus           `json:"status"`
	Message string                 `json:"message,omitempty"`
	Latency time.Duration          `json:"latency_ns"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthCheck reports the health of one component.
type HealthCheck func(ctx context.Context) ComponentHealth

// HealthMonitor runs registered checks on demand.
type HealthMonitor struct {
	mu         sync.RWMutex
	startTime  time.Time
	timeout    time.Duration
	components map[string]HealthCheck
}

// NewHealthMonitor creates a monitor whose checks share the given timeout.
func NewHealthMonitor(timeout time.Duration) *HealthMonitor {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthMonitor{
		startTime:  time.Now(),
		timeout:    timeout,
		components: make(map[string]HealthCheck),
	}
}

// RegisterComponent registers a health check for a component.
func (m *HealthMonitor) RegisterComponent(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[name] = check
}

// SystemHealth is the aggregated result of one check run.
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Uptime     string            `json:"uptime"`
	Components []ComponentHealth `json:"components"`
	Goroutines int               `json:"goroutines"`
}

// Check runs every registered check concurrently. A panicking check
// reports UNHEALTHY instead of taking the caller down.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.components))
	for k, v := range m.components {
		checks[k] = v
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var (
		resMu   sync.Mutex
		results = make([]ComponentHealth, 0, len(checks))
		wg      conc.WaitGroup
	)
	for name, check := range checks {
		name, check := name, check
		wg.Go(func() {
			h := runCheck(ctx, name, check)
			resMu.Lock()
			results = append(results, h)
			resMu.Unlock()
		})
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	return SystemHealth{
		Status:     overall(results),
		Uptime:     time.Since(m.startTime).Round(time.Second).String(),
		Components: results,
		Goroutines: runtime.NumGoroutine(),
	}
}

func runCheck(ctx context.Context, name string, check HealthCheck) (h ComponentHealth) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			h = ComponentHealth{Status: HealthStatusUnhealthy, Message: fmt.Sprintf("check panicked: %v", r)}
		}
		h.Name = name
		h.Latency = time.Since(start)
	}()
	return check(ctx)
}

func overall(results []ComponentHealth) HealthStatus {
	status := HealthStatusHealthy
	for _, h := range results {
		switch h.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded, HealthStatusUnknown:
			status = HealthStatusDegraded
		}
	}
	return status
}

// FreshnessCheck reports DEGRADED when last() is zero or older than maxLag.
func FreshnessCheck(last func() time.Time, maxLag time.Duration) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		at := last()
		if at.IsZero() {
			return ComponentHealth{Status: HealthStatusUnknown, Message: "no activity yet"}
		}
		lag := time.Since(at)
		h := ComponentHealth{Details: map[string]interface{}{"last": at}}
		if lag > maxLag {
			h.Status = HealthStatusDegraded
			h.Message = fmt.Sprintf("last activity %v ago", lag.Round(time.Second))
			return h
		}
		h.Status = HealthStatusHealthy
		return h
	}
}

// BreakerCheck maps a circuit breaker's state onto component health.
// An open breaker is DEGRADED since callers still have a fallback.
func BreakerCheck(stats func() (CircuitBreakerStats, bool)) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		s, ok := stats()
		if !ok {
			return ComponentHealth{Status: HealthStatusHealthy, Message: "not in use"}
		}
		h := ComponentHealth{Details: map[string]interface{}{
			"state":            s.State,
			"current_failures": s.CurrentFailures,
		}}
		switch s.State {
		case CircuitClosed:
			h.Status = HealthStatusHealthy
		default:
			h.Status = HealthStatusDegraded
			h.Message = fmt.Sprintf("%s circuit %s", s.Name, s.State)
		}
		return h
	}
}
