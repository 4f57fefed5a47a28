// Package cleanup periodically removes expired OAuth states and aged
// audit events. Token records are left alone.
package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bookhealth/bookhealth/internal/logging"
	"github.com/bookhealth/bookhealth/internal/metrics"
	"github.com/bookhealth/bookhealth/internal/store"
)

// Config contains the cleanup manager configuration.
type Config struct {
	Interval          time.Duration     `json:"interval"`
	RetentionPolicies []RetentionPolicy `json:"retention_policies"`
	// VacuumEnabled compacts the database after a sweep that deleted rows.
	VacuumEnabled bool `json:"vacuum_enabled"`
}

// CleanupResult holds the result of one policy.
type CleanupResult struct {
	Target       Target
	DeletedCount int64
	Duration     time.Duration
	Error        error
}

// Stats contains cleanup statistics.
type Stats struct {
	TotalRuns         int              `json:"total_runs"`
	TotalDeletedCount int64            `json:"total_deleted_count"`
	LastRunAt         time.Time        `json:"last_run_at"`
	LastRunDuration   time.Duration    `json:"last_run_duration"`
	LastRunResults    []*CleanupResult `json:"last_run_results"`
	VacuumCount       int              `json:"vacuum_count"`
}

// Manager handles periodic cleanup of old data.
type Manager struct {
	sweeper store.Sweeper
	config  Config
	metrics *metrics.Metrics
	logger  *logging.Logger
	now     func() time.Time

	done    chan struct{}
	running bool
	mu      sync.Mutex

	statsMu sync.RWMutex
	stats   Stats
}

// NewManager creates a new cleanup manager. Invalid policies are
// rejected.
func NewManager(cfg Config, sweeper store.Sweeper, m *metrics.Metrics, logger *logging.Logger) (*Manager, error) {
	for i := range cfg.RetentionPolicies {
		if err := cfg.RetentionPolicies[i].Validate(); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		sweeper: sweeper,
		config:  cfg,
		metrics: m,
		logger:  logger.With("component", "cleanup"),
		now:     time.Now,
	}, nil
}

// Start runs a sweep every Interval until Stop or ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("cleanup manager is already running")
	}
	if m.config.Interval <= 0 {
		return fmt.Errorf("cleanup interval must be positive")
	}

	m.running = true
	m.done = make(chan struct{})
	go m.runCleanupLoop(ctx, time.NewTicker(m.config.Interval), m.done)
	return nil
}

// Stop stops the cleanup manager.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	close(m.done)
	return nil
}

// Close implements io.Closer so the server can stop the manager on
// shutdown.
func (m *Manager) Close() error {
	return m.Stop()
}

func (m *Manager) runCleanupLoop(ctx context.Context, ticker *time.Ticker, done <-chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunCleanup(ctx)
		}
	}
}

// RunCleanup applies every enabled policy once. A failing policy does not
// stop the others.
func (m *Manager) RunCleanup(ctx context.Context) *Stats {
	start := m.now()
	results := make([]*CleanupResult, 0, len(m.config.RetentionPolicies))
	deleted := make(map[string]int64)
	var total int64

	for _, p := range m.config.RetentionPolicies {
		if !p.Enabled {
			continue
		}
		began := time.Now()
		n, err := p.apply(ctx, m.sweeper, start)
		res := &CleanupResult{Target: p.Target, DeletedCount: n, Duration: time.Since(began), Error: err}
		results = append(results, res)
		if err != nil {
			m.logger.WarnWithContext(ctx, "cleanup policy failed", "target", string(p.Target), "error", err.Error())
			continue
		}
		deleted[string(p.Target)] = n
		total += n
	}

	if total > 0 && m.config.VacuumEnabled {
		m.optimize(ctx)
	}

	duration := time.Since(start)
	if total > 0 {
		m.logger.InfoWithContext(ctx, "cleanup removed rows", "deleted", total, "duration_ms", duration.Milliseconds())
	}
	m.metrics.RecordCleanup(deleted, duration.Seconds())

	m.statsMu.Lock()
	m.stats.TotalRuns++
	m.stats.TotalDeletedCount += total
	m.stats.LastRunAt = start
	m.stats.LastRunDuration = duration
	m.stats.LastRunResults = results
	m.statsMu.Unlock()

	return m.GetStats()
}

func (m *Manager) optimize(ctx context.Context) {
	opt, ok := m.sweeper.(store.Optimizer)
	if !ok {
		return
	}
	if err := opt.Vacuum(ctx); err != nil {
		m.logger.WarnWithContext(ctx, "vacuum failed", "error", err.Error())
		return
	}
	if err := opt.Analyze(ctx); err != nil {
		m.logger.WarnWithContext(ctx, "analyze failed", "error", err.Error())
	}
	m.statsMu.Lock()
	m.stats.VacuumCount++
	m.statsMu.Unlock()
}

// GetStats returns a copy of the current cleanup statistics.
func (m *Manager) GetStats() *Stats {
	m.statsMu.RLock()
	defer m.statsMu.RUnlock()

	s := m.stats
	s.LastRunResults = append([]*CleanupResult(nil), m.stats.LastRunResults...)
	return &s
}

// IsRunning returns whether the cleanup manager is running.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
