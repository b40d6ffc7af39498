package capacity

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"smr/internal/metrics"
)

// Usage statuses
const (
	StatusOK      = "ok"
	StatusWarning = "warning"
	StatusAlert   = "alert"
)

// UsageFunc reports filesystem usage for a path
type UsageFunc func(ctx context.Context, path string) (*disk.UsageStat, error)

// Thresholds defines warning and alert levels in percent used
type Thresholds struct {
	WarnPercent  float64
	AlertPercent float64
}

// DefaultThresholds returns 80% warning and 90% alert
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarnPercent:  80.0,
		AlertPercent: 90.0,
	}
}

// UsageInfo holds disk usage of the storage root
type UsageInfo struct {
	Path        string    `json:"path"`
	Total       uint64    `json:"total"`
	Free        uint64    `json:"free"`
	UsedPercent float64   `json:"used_percent"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// Probe watches the headroom of the filesystem that holds uploaded reports
type Probe struct {
	path       string
	thresholds Thresholds
	usage      UsageFunc
}

// NewProbe creates a probe for path. Zero thresholds fall back to the defaults.
func NewProbe(path string, thresholds Thresholds) *Probe {
	def := DefaultThresholds()
	if thresholds.WarnPercent <= 0 {
		thresholds.WarnPercent = def.WarnPercent
	}
	if thresholds.AlertPercent <= 0 {
		thresholds.AlertPercent = def.AlertPercent
	}
	return &Probe{path: path, thresholds: thresholds, usage: disk.UsageWithContext}
}

// WithUsageFunc replaces the usage source, used by tests
func (p *Probe) WithUsageFunc(fn UsageFunc) *Probe {
	p.usage = fn
	return p
}

// Usage reads the current usage and records it as a gauge
func (p *Probe) Usage(ctx context.Context) (UsageInfo, error) {
	stat, err := p.usage(ctx, p.path)
	if err != nil {
		return UsageInfo{}, fmt.Errorf("failed to get disk usage for path %s: %w", p.path, err)
	}

	metrics.Default().StorageUsedPercent.WithLabelValues(p.path).Set(stat.UsedPercent)

	return UsageInfo{
		Path:        p.path,
		Total:       stat.Total,
		Free:        stat.Free,
		UsedPercent: stat.UsedPercent,
		Status:      p.status(stat.UsedPercent),
		Timestamp:   time.Now().UTC(),
	}, nil
}

// Ping fails once usage crosses the alert threshold
func (p *Probe) Ping(ctx context.Context) error {
	info, err := p.Usage(ctx)
	if err != nil {
		return err
	}
	if info.Status == StatusAlert {
		return fmt.Errorf("storage %s is %.1f%% full", p.path, info.UsedPercent)
	}
	return nil
}

func (p *Probe) status(usedPercent float64) string {
	switch {
	case usedPercent >= p.thresholds.AlertPercent:
		return StatusAlert
	case usedPercent >= p.thresholds.WarnPercent:
		return StatusWarning
	default:
		return StatusOK
	}
}
