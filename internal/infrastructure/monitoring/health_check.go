package monitoring

import (
	"context"
	"sync"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc returns nil when the component works.
type CheckFunc func(ctx context.Context) error

type namedCheck struct {
	name     string
	critical bool
	timeout  time.Duration
	fn       CheckFunc
}

// CheckResult is the outcome of one check in a HealthStatus.
type CheckResult struct {
	Status    string `json:"status"`
	Critical  bool   `json:"critical"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// HealthStatus is served on /health. A failed critical check makes the
// process unhealthy; any other failure only degrades it.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// HealthChecker runs the registered checks of a tracker or peer process.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  []namedCheck
	started time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{started: time.Now()}
}

// AddCheck registers a check whose failure makes the process unhealthy.
func (h *HealthChecker) AddCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.add(namedCheck{name: name, critical: true, timeout: timeout, fn: fn})
}

// AddOptionalCheck registers a check whose failure only degrades the process.
func (h *HealthChecker) AddOptionalCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.add(namedCheck{name: name, timeout: timeout, fn: fn})
}

func (h *HealthChecker) add(c namedCheck) {
	if c.timeout <= 0 {
		c.timeout = 2 * time.Second
	}
	h.mu.Lock()
	h.checks = append(h.checks, c)
	h.mu.Unlock()
}

// CheckAll runs every check concurrently, each under its own timeout.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]namedCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c namedCheck) {
			defer wg.Done()
			results[i] = runCheck(ctx, c)
		}(i, c)
	}
	wg.Wait()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, c := range checks {
		r := results[i]
		status.Checks[c.name] = r
		if r.Status == StatusHealthy {
			continue
		}
		if c.critical {
			status.Status = StatusUnhealthy
		} else if status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}
	return status
}

func runCheck(ctx context.Context, c namedCheck) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.fn(checkCtx)
	if err == nil && checkCtx.Err() != nil {
		err = checkCtx.Err()
	}
	r := CheckResult{
		Status:    StatusHealthy,
		Critical:  c.critical,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		r.Status = StatusUnhealthy
		r.Error = err.Error()
	}
	return r
}

// IsHealthy runs every check once. A degraded process still counts as healthy.
func (h *HealthChecker) IsHealthy(ctx context.Context) bool {
	return h.CheckAll(ctx).Status != StatusUnhealthy
}
