// Package scheduler runs periodic background checks over stored trackers.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"incubator-portal/portal-backend/internal/funding"
)

// DefaultDriftSchedule runs the scan every fifteen minutes
const DefaultDriftSchedule = "0 */15 * * * *"

const driftPageSize = 100

// TrackerLister pages through stored trackers
type TrackerLister interface {
	ListTrackers(ctx context.Context, limit, offset int) ([]funding.Snapshot, error)
}

// DriftFinding is a tracker whose aggregates disagree with its stage sums
type DriftFinding struct {
	StartupID uuid.UUID     `json:"startup_id"`
	Drift     funding.Drift `json:"drift"`
}

// DriftReport is the outcome of one scan
type DriftReport struct {
	Scanned  int            `json:"scanned"`
	Findings []DriftFinding `json:"findings"`
	RanAt    time.Time      `json:"ran_at"`
}

// DriftReporter periodically logs trackers with aggregate drift. It only
// reads; aggregates are never rewritten.
type DriftReporter struct {
	cron     *cron.Cron
	schedule string
	trackers TrackerLister
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	last    *DriftReport
}

// NewDriftReporter creates a reporter; an empty schedule uses DefaultDriftSchedule
func NewDriftReporter(trackers TrackerLister, schedule string, logger *zap.Logger) *DriftReporter {
	if schedule == "" {
		schedule = DefaultDriftSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DriftReporter{
		cron:     cron.New(cron.WithSeconds()),
		schedule: schedule,
		trackers: trackers,
		logger:   logger,
		now:      time.Now,
	}
}

// Start registers the scan and starts the cron scheduler
func (r *DriftReporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("drift reporter already running")
	}

	_, err := r.cron.AddFunc(r.schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("Drift scan failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid drift schedule %q: %w", r.schedule, err)
	}

	r.logger.Info("Starting drift reporter", zap.String("schedule", r.schedule))
	r.cron.Start()
	r.running = true
	return nil
}

// Stop stops the scheduler and waits for a running scan to finish
func (r *DriftReporter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.logger.Info("Stopping drift reporter")
	<-r.cron.Stop().Done()
}

// RunOnce scans every tracker and logs the ones with non-zero drift
func (r *DriftReporter) RunOnce(ctx context.Context) (*DriftReport, error) {
	report := &DriftReport{RanAt: r.now(), Findings: []DriftFinding{}}

	for offset := 0; ; offset += driftPageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := r.trackers.ListTrackers(ctx, driftPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to list trackers: %w", err)
		}

		for _, snap := range page {
			report.Scanned++
			drift := snap.Drift()
			if drift.IsZero() {
				continue
			}
			report.Findings = append(report.Findings, DriftFinding{StartupID: snap.StartupID, Drift: drift})
			r.logger.Warn("Funding aggregates drift from stage sums",
				zap.String("startup_id", snap.StartupID.String()),
				zap.Int64("target_delta", drift.TargetDelta),
				zap.Int64("raised_delta", drift.RaisedDelta))
		}

		if len(page) < driftPageSize {
			break
		}
	}

	r.logger.Info("Drift scan finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("drifted", len(report.Findings)))

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()
	return report, nil
}

// LastReport returns the result of the latest completed scan, if any
func (r *DriftReporter) LastReport() (DriftReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return DriftReport{}, false
	}
	return *r.last, true
}
