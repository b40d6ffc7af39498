package health

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"smr/internal/metrics"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// Pinger is anything that can confirm a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// RedisPinger wraps a go-redis client
func RedisPinger(client redis.UniversalClient) Pinger {
	return PingerFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// Report represents the health check response structure
type Report struct {
	Status       string                      `json:"status"`
	Dependencies map[string]DependencyStatus `json:"dependencies"`
	CheckedAt    time.Time                   `json:"checked_at"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Healthy reports whether the service can accept work
func (r Report) Healthy() bool {
	return r.Status != StatusDown
}

type dependency struct {
	name      string
	pinger    Pinger
	degradeAt time.Duration
}

// Checker pings registered dependencies concurrently
type Checker struct {
	deps    []dependency
	timeout time.Duration
}

// NewChecker creates a checker with a per-check timeout
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{timeout: timeout}
}

// Register adds a dependency. Latency above degradeAt marks it degraded.
func (c *Checker) Register(name string, p Pinger, degradeAt time.Duration) *Checker {
	c.deps = append(c.deps, dependency{name: name, pinger: p, degradeAt: degradeAt})
	return c
}

// Check runs every registered ping and folds the results into one report
func (c *Checker) Check(ctx context.Context) Report {
	report := Report{
		Status:       StatusOK,
		Dependencies: make(map[string]DependencyStatus, len(c.deps)),
		CheckedAt:    time.Now().UTC(),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, dep := range c.deps {
		wg.Add(1)
		go func(dep dependency) {
			defer wg.Done()
			status := c.ping(ctx, dep)
			mu.Lock()
			report.Dependencies[dep.name] = status
			mu.Unlock()
		}(dep)
	}
	wg.Wait()

	m := metrics.Default()
	for name, status := range report.Dependencies {
		switch status.Status {
		case StatusDown:
			report.Status = StatusDown
			m.HealthStatus.WithLabelValues(name).Set(0)
		case StatusDegraded:
			if report.Status == StatusOK {
				report.Status = StatusDegraded
			}
			m.HealthStatus.WithLabelValues(name).Set(0.5)
		default:
			m.HealthStatus.WithLabelValues(name).Set(1)
		}
	}
	return report
}

func (c *Checker) ping(ctx context.Context, dep dependency) DependencyStatus {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := dep.pinger.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		return DependencyStatus{Status: StatusDown, LatencyMs: latency.Milliseconds(), Error: err.Error()}
	}
	if dep.degradeAt > 0 && latency > dep.degradeAt {
		return DependencyStatus{Status: StatusDegraded, LatencyMs: latency.Milliseconds()}
	}
	return DependencyStatus{Status: StatusOK, LatencyMs: latency.Milliseconds()}
}
