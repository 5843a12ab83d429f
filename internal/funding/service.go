package funding

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service applies tracker operations on behalf of a startup and persists the
// result through a Repository, one transaction per mutation.
type Service struct {
	repo      Repository
	publisher Publisher
	logger    *zap.Logger
	catalog   []StageSeed
	now       func() time.Time
	newID     func() uuid.UUID
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithCatalog sets the seeds used when a tracker is created without stages
func WithCatalog(seeds []StageSeed) ServiceOption {
	return func(s *Service) {
		if len(seeds) > 0 {
			s.catalog = append([]StageSeed(nil), seeds...)
		}
	}
}

// WithServiceClock overrides the clock used for completion dates and events
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a new funding service
func NewService(repo Repository, publisher Publisher, logger *zap.Logger, opts ...ServiceOption) *Service {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		catalog:   DefaultCatalog(),
		now:       time.Now,
		newID:     uuid.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTracker creates the tracker of a startup from seeds, falling back to
// the configured catalog when seeds is empty.
func (s *Service) CreateTracker(ctx context.Context, startupID uuid.UUID, seeds []StageSeed) (*Snapshot, error) {
	if len(seeds) == 0 {
		seeds = s.catalog
	}
	tr, err := NewTracker(seeds, WithClock(s.now))
	if err != nil {
		return nil, err
	}

	state := tr.Snapshot()
	event := &StageEvent{
		ID:         s.newID(),
		StartupID:  startupID,
		StageID:    state.CurrentStageID,
		Kind:       EventCreated,
		ToStatus:   StatusCurrent,
		Details:    normalizeDetails(map[string]any{"stage_count": len(state.Stages)}),
		OccurredAt: s.now(),
	}

	snap, err := s.repo.Create(ctx, startupID, state, event)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker: %w", err)
	}

	s.logger.Info("Funding tracker created",
		zap.String("startup_id", startupID.String()),
		zap.Int("stages", len(snap.Stages)))
	s.publish(ctx, snap, *event)
	return snap, nil
}

// GetTracker returns the stored tracker of a startup
func (s *Service) GetTracker(ctx context.Context, startupID uuid.UUID) (*Snapshot, error) {
	return s.repo.Get(ctx, startupID)
}

// DeleteTracker removes the tracker of a startup and its event log
func (s *Service) DeleteTracker(ctx context.Context, startupID uuid.UUID) error {
	if err := s.repo.Delete(ctx, startupID); err != nil {
		return err
	}
	s.logger.Info("Funding tracker deleted", zap.String("startup_id", startupID.String()))
	return nil
}

// ListTrackers pages through every stored tracker
func (s *Service) ListTrackers(ctx context.Context, limit, offset int) ([]Snapshot, error) {
	return s.repo.List(ctx, max(limit, 0), max(offset, 0))
}

// ListStages returns the stages of a startup in lifecycle order
func (s *Service) ListStages(ctx context.Context, startupID uuid.UUID) ([]Stage, error) {
	tr, err := s.load(ctx, startupID)
	if err != nil {
		return nil, err
	}
	return tr.Stages(), nil
}

// GetCurrentStage returns the lifecycle-current stage, or ErrNoCurrentStage
// once all stages are completed.
func (s *Service) GetCurrentStage(ctx context.Context, startupID uuid.UUID) (*Stage, error) {
	tr, err := s.load(ctx, startupID)
	if err != nil {
		return nil, err
	}
	st, ok := tr.CurrentStage()
	if !ok {
		return nil, ErrNoCurrentStage
	}
	return &st, nil
}

// GetStage returns a single stage
func (s *Service) GetStage(ctx context.Context, startupID uuid.UUID, stageID string) (*Stage, error) {
	tr, err := s.load(ctx, startupID)
	if err != nil {
		return nil, err
	}
	st, err := tr.Stage(stageID)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ListEvents returns the newest change log entries first
func (s *Service) ListEvents(ctx context.Context, startupID uuid.UUID, limit int) ([]StageEvent, error) {
	events, err := s.repo.ListEvents(ctx, startupID, limit)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Details = normalizeDetails(events[i].Details)
	}
	return events, nil
}

// UpdateStageProgress sets progress and raised amount on a stage, clamping
// out-of-range input.
func (s *Service) UpdateStageProgress(ctx context.Context, startupID uuid.UUID, stageID string, progress int, raisedAmount int64) (*Snapshot, error) {
	return s.mutate(ctx, startupID, EventProgressUpdated, func(tr *Tracker) (*StageEvent, error) {
		st, err := tr.UpdateStageProgress(stageID, progress, raisedAmount)
		if err != nil {
			return nil, err
		}
		return &StageEvent{
			StageID: st.ID,
			Details: map[string]any{
				"progress":      st.Progress,
				"raised_amount": st.RaisedAmount,
			},
		}, nil
	})
}

// CompleteStage completes the current stage and advances to its successor
func (s *Service) CompleteStage(ctx context.Context, startupID uuid.UUID, stageID string) (*Snapshot, error) {
	return s.mutate(ctx, startupID, EventCompleted, func(tr *Tracker) (*StageEvent, error) {
		st, err := tr.CompleteStage(stageID)
		if err != nil {
			return nil, err
		}
		details := map[string]any{}
		if next, ok := tr.CurrentStage(); ok {
			details["next_stage_id"] = next.ID
		}
		return &StageEvent{
			StageID:    st.ID,
			FromStatus: StatusCurrent,
			ToStatus:   StatusCompleted,
			Details:    details,
		}, nil
	})
}

// SetCurrentStage selects a stage for viewing without touching the lifecycle
func (s *Service) SetCurrentStage(ctx context.Context, startupID uuid.UUID, stageID string) (*Snapshot, error) {
	return s.mutate(ctx, startupID, EventSelected, func(tr *Tracker) (*StageEvent, error) {
		previous := tr.SelectedStage().ID
		st, err := tr.SetCurrentStage(stageID)
		if err != nil {
			return nil, err
		}
		return &StageEvent{
			StageID: st.ID,
			Details: map[string]any{"previous_stage_id": previous},
		}, nil
	})
}

// UpdateFundingAmounts sets the aggregate target and raised figures directly
func (s *Service) UpdateFundingAmounts(ctx context.Context, startupID uuid.UUID, totalTarget, totalRaised int64) (*Snapshot, error) {
	return s.mutate(ctx, startupID, EventAmountsUpdated, func(tr *Tracker) (*StageEvent, error) {
		state := tr.UpdateFundingAmounts(totalTarget, totalRaised)
		return &StageEvent{
			Details: map[string]any{
				"total_target_amount": state.TotalTargetAmount,
				"total_raised_amount": state.TotalRaisedAmount,
			},
		}, nil
	})
}

func (s *Service) load(ctx context.Context, startupID uuid.UUID) (*Tracker, error) {
	snap, err := s.repo.Get(ctx, startupID)
	if err != nil {
		return nil, err
	}
	return Restore(snap.State, WithClock(s.now))
}

func (s *Service) mutate(ctx context.Context, startupID uuid.UUID, kind EventKind, apply func(*Tracker) (*StageEvent, error)) (*Snapshot, error) {
	var committed StageEvent
	snap, err := s.repo.Mutate(ctx, startupID, func(current State) (State, *StageEvent, error) {
		tr, err := Restore(current, WithClock(s.now))
		if err != nil {
			return State{}, nil, err
		}
		event, err := apply(tr)
		if err != nil {
			return State{}, nil, err
		}
		event.ID = s.newID()
		event.Details = normalizeDetails(event.Details)
		event.StartupID = startupID
		event.Kind = kind
		event.OccurredAt = s.now()
		committed = *event
		return tr.Snapshot(), event, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Funding tracker updated",
		zap.String("startup_id", startupID.String()),
		zap.String("kind", string(kind)),
		zap.String("stage_id", committed.StageID),
		zap.Int64("version", snap.Version))
	s.publish(ctx, snap, committed)
	return snap, nil
}

func (s *Service) publish(ctx context.Context, snap *Snapshot, event StageEvent) {
	change := ChangeEvent{StartupID: snap.StartupID, Event: event, Snapshot: copySnapshot(*snap)}
	if err := s.publisher.Publish(ctx, change); err != nil {
		s.logger.Warn("Failed to publish funding change",
			zap.String("startup_id", snap.StartupID.String()),
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
	}
}
