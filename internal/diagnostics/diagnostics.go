// Package diagnostics periodically samples host resource usage and
// store size, logging both as a structured snapshot. It exists purely
// for operational visibility; nothing in the request path depends on it.
package diagnostics

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/real-staging-ai/miniredis/internal/logging"
	"github.com/real-staging-ai/miniredis/internal/store"
)

// Snapshot is one sampling round, folding host metrics and store size
// together; the admin HTTP server exposes the latest one verbatim.
type Snapshot struct {
	CPUPercent    float64     `json:"cpu_percent"`
	MemoryPercent float64     `json:"memory_percent"`
	LoadAverage1  float64     `json:"load_average_1"`
	Store         store.Stats `json:"store"`
}

// Reporter schedules periodic diagnostic snapshots on a cron expression
// and keeps the latest one available for Snapshot().
type Reporter struct {
	db       *store.DB
	log      logging.Logger
	cron     *cron.Cron
	schedule string

	mu       sync.RWMutex
	snapshot Snapshot
}

// New builds a Reporter that samples on schedule (a standard 5-field cron
// expression or a descriptor such as "@every 30s"). A nil log falls back to the
// process-wide default logger.
func New(db *store.DB, log logging.Logger, schedule string) *Reporter {
	if log == nil {
		log = logging.Default()
	}
	return &Reporter{
		db:       db,
		log:      log.With("component", "diagnostics"),
		cron:     cron.New(),
		schedule: schedule,
	}
}

// Start registers the sampling job and begins the cron scheduler. The
// first sample runs immediately so Snapshot never returns a zero value
// once Start has returned.
func (r *Reporter) Start() error {
	r.sample()
	_, err := r.cron.AddFunc(r.schedule, r.sample)
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for any in-flight sample to finish.
func (r *Reporter) Stop(ctx context.Context) {
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		r.log.Warn(ctx, "diagnostics stop timed out")
	}
}

// Snapshot returns the most recently collected sample.
func (r *Reporter) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

func (r *Reporter) sample() {
	ctx := context.Background()
	snap := Snapshot{Store: r.db.Stats()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		snap.CPUPercent = pct[0]
	} else if err != nil {
		r.log.Debug(ctx, "failed to collect cpu stats", "error", err.Error())
	}

	if v, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = v.UsedPercent
	} else {
		r.log.Debug(ctx, "failed to collect memory stats", "error", err.Error())
	}

	if l, err := load.Avg(); err == nil {
		snap.LoadAverage1 = l.Load1
	} else {
		r.log.Debug(ctx, "failed to collect load stats", "error", err.Error())
	}

	r.mu.Lock()
	r.snapshot = snap
	r.mu.Unlock()

	r.log.Info(ctx, "diagnostics snapshot",
		"cpu_percent", snap.CPUPercent,
		"memory_percent", snap.MemoryPercent,
		"load_average_1", snap.LoadAverage1,
		"keys", snap.Store.Keys,
		"channels", snap.Store.Channels,
	)
}
