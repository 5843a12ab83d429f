package funding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TrackerRecord is the funding_trackers row of a startup
type TrackerRecord struct {
	StartupID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	CurrentStageID    *string   `gorm:"size:64"`
	SelectedStageID   string    `gorm:"size:64;not null"`
	TotalTargetAmount int64     `gorm:"not null;default:0"`
	TotalRaisedAmount int64     `gorm:"not null;default:0"`
	Version           int64     `gorm:"not null;default:1"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

func (TrackerRecord) TableName() string { return "funding_trackers" }

// StageRecord is a funding_stages row. Position fixes lifecycle order.
type StageRecord struct {
	StartupID    uuid.UUID  `gorm:"type:uuid;primaryKey"`
	StageID      string     `gorm:"size:64;primaryKey"`
	Position     int        `gorm:"not null"`
	Name         string     `gorm:"not null"`
	Status       string     `gorm:"size:16;not null;index"`
	TargetAmount int64      `gorm:"not null;default:0"`
	RaisedAmount int64      `gorm:"not null;default:0"`
	Progress     int        `gorm:"not null;default:0"`
	CompletedOn  *time.Time `gorm:"type:date"`
	Description  string     `gorm:"type:text"`
}

func (StageRecord) TableName() string { return "funding_stages" }

// EventRecord is a funding_stage_events row
type EventRecord struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey"`
	StartupID  uuid.UUID      `gorm:"type:uuid;not null;index"`
	StageID    *string        `gorm:"size:64"`
	Kind       string         `gorm:"size:32;not null;index"`
	FromStatus string         `gorm:"size:16"`
	ToStatus   string         `gorm:"size:16"`
	Details    datatypes.JSON `gorm:"default:'{}'"`
	OccurredAt time.Time      `gorm:"not null;index"`
}

func (EventRecord) TableName() string { return "funding_stage_events" }

// GormRepository stores trackers in PostgreSQL through GORM. Each mutation
// runs in one transaction holding a row lock on the tracker.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new GORM-backed repository
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// AutoMigrate creates or updates the funding tables
func (r *GormRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&TrackerRecord{}, &StageRecord{}, &EventRecord{})
}

func (r *GormRepository) Create(ctx context.Context, startupID uuid.UUID, state State, event *StageEvent) (*Snapshot, error) {
	var snap *Snapshot
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing TrackerRecord
		err := tx.Where("startup_id = ?", startupID).First(&existing).Error
		if err == nil {
			return ErrTrackerExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		rec := TrackerRecord{StartupID: startupID, Version: 1}
		applyStateToRecord(&rec, state)
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to create tracker: %w", err)
		}

		stages := stageRecordsFromState(startupID, state)
		if err := tx.Create(&stages).Error; err != nil {
			return fmt.Errorf("failed to create stages: %w", err)
		}

		if err := createEvent(tx, event); err != nil {
			return err
		}

		snap = snapshotFromRecords(rec, stages)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *GormRepository) Get(ctx context.Context, startupID uuid.UUID) (*Snapshot, error) {
	db := r.db.WithContext(ctx)

	rec, err := findTracker(db, startupID)
	if err != nil {
		return nil, err
	}
	stages, err := findStages(db, startupID)
	if err != nil {
		return nil, err
	}
	return snapshotFromRecords(*rec, stages), nil
}

func (r *GormRepository) Mutate(ctx context.Context, startupID uuid.UUID, fn Mutation) (*Snapshot, error) {
	var snap *Snapshot
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := findTracker(tx.Clauses(clause.Locking{Strength: "UPDATE"}), startupID)
		if err != nil {
			return err
		}
		stages, err := findStages(tx, startupID)
		if err != nil {
			return err
		}

		state, event, err := fn(snapshotFromRecords(*rec, stages).State)
		if err != nil {
			return err
		}
		if len(state.Stages) != len(stages) {
			return fmt.Errorf("%w: stage count changed from %d to %d", ErrCorruptState, len(stages), len(state.Stages))
		}

		applyStateToRecord(rec, state)
		rec.Version++
		if err := tx.Save(rec).Error; err != nil {
			return fmt.Errorf("failed to save tracker: %w", err)
		}

		updated := stageRecordsFromState(startupID, state)
		for i := range updated {
			if stageRecordEqual(stages[i], updated[i]) {
				continue
			}
			if err := tx.Save(&updated[i]).Error; err != nil {
				return fmt.Errorf("failed to save stage %s: %w", updated[i].StageID, err)
			}
		}

		if err := createEvent(tx, event); err != nil {
			return err
		}

		snap = snapshotFromRecords(*rec, updated)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *GormRepository) Delete(ctx context.Context, startupID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("startup_id = ?", startupID).Delete(&TrackerRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTrackerNotFound
		}
		if err := tx.Where("startup_id = ?", startupID).Delete(&StageRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("startup_id = ?", startupID).Delete(&EventRecord{}).Error
	})
}

func (r *GormRepository) List(ctx context.Context, limit, offset int) ([]Snapshot, error) {
	db := r.db.WithContext(ctx)

	var recs []TrackerRecord
	query := db.Order("startup_id").Offset(max(offset, 0))
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list trackers: %w", err)
	}
	if len(recs) == 0 {
		return []Snapshot{}, nil
	}

	ids := make([]uuid.UUID, len(recs))
	for i, rec := range recs {
		ids[i] = rec.StartupID
	}
	var stages []StageRecord
	if err := db.Where("startup_id IN ?", ids).Order("startup_id, position").Find(&stages).Error; err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	byStartup := make(map[uuid.UUID][]StageRecord, len(recs))
	for _, st := range stages {
		byStartup[st.StartupID] = append(byStartup[st.StartupID], st)
	}

	out := make([]Snapshot, len(recs))
	for i, rec := range recs {
		out[i] = *snapshotFromRecords(rec, byStartup[rec.StartupID])
	}
	return out, nil
}

func (r *GormRepository) ListEvents(ctx context.Context, startupID uuid.UUID, limit int) ([]StageEvent, error) {
	db := r.db.WithContext(ctx)
	if _, err := findTracker(db, startupID); err != nil {
		return nil, err
	}

	var recs []EventRecord
	query := db.Where("startup_id = ?", startupID).Order("occurred_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]StageEvent, 0, len(recs))
	for _, rec := range recs {
		ev, err := eventFromRecord(rec)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func findTracker(db *gorm.DB, startupID uuid.UUID) (*TrackerRecord, error) {
	var rec TrackerRecord
	err := db.Where("startup_id = ?", startupID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTrackerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tracker: %w", err)
	}
	return &rec, nil
}

func findStages(db *gorm.DB, startupID uuid.UUID) ([]StageRecord, error) {
	var stages []StageRecord
	if err := db.Where("startup_id = ?", startupID).Order("position").Find(&stages).Error; err != nil {
		return nil, fmt.Errorf("failed to load stages: %w", err)
	}
	return stages, nil
}

func createEvent(tx *gorm.DB, event *StageEvent) error {
	if event == nil {
		return nil
	}
	rec, err := eventToRecord(*event)
	if err != nil {
		return err
	}
	if err := tx.Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

func applyStateToRecord(rec *TrackerRecord, state State) {
	rec.CurrentStageID = nil
	if state.CurrentStageID != "" {
		id := state.CurrentStageID
		rec.CurrentStageID = &id
	}
	rec.SelectedStageID = state.SelectedStageID
	rec.TotalTargetAmount = state.TotalTargetAmount
	rec.TotalRaisedAmount = state.TotalRaisedAmount
}

func stageRecordsFromState(startupID uuid.UUID, state State) []StageRecord {
	out := make([]StageRecord, len(state.Stages))
	for i, st := range state.Stages {
		out[i] = StageRecord{
			StartupID:    startupID,
			StageID:      st.ID,
			Position:     i,
			Name:         st.Name,
			Status:       string(st.Status),
			TargetAmount: st.TargetAmount,
			RaisedAmount: st.RaisedAmount,
			Progress:     st.Progress,
			CompletedOn:  st.clone().Date,
			Description:  st.Description,
		}
	}
	return out
}

func stageRecordEqual(a, b StageRecord) bool {
	sameDate := (a.CompletedOn == nil && b.CompletedOn == nil) ||
		(a.CompletedOn != nil && b.CompletedOn != nil && a.CompletedOn.Equal(*b.CompletedOn))
	return sameDate &&
		a.StageID == b.StageID &&
		a.Position == b.Position &&
		a.Name == b.Name &&
		a.Status == b.Status &&
		a.TargetAmount == b.TargetAmount &&
		a.RaisedAmount == b.RaisedAmount &&
		a.Progress == b.Progress &&
		a.Description == b.Description
}

func snapshotFromRecords(rec TrackerRecord, stages []StageRecord) *Snapshot {
	state := State{
		Stages:            make([]Stage, len(stages)),
		SelectedStageID:   rec.SelectedStageID,
		TotalTargetAmount: rec.TotalTargetAmount,
		TotalRaisedAmount: rec.TotalRaisedAmount,
	}
	if rec.CurrentStageID != nil {
		state.CurrentStageID = *rec.CurrentStageID
	}
	for i, st := range stages {
		var date *time.Time
		if st.CompletedOn != nil {
			d := truncateToDay(*st.CompletedOn)
			date = &d
		}
		state.Stages[i] = Stage{
			ID:           st.StageID,
			Name:         st.Name,
			Status:       StageStatus(st.Status),
			TargetAmount: st.TargetAmount,
			RaisedAmount: st.RaisedAmount,
			Progress:     st.Progress,
			Date:         date,
			Description:  st.Description,
		}
	}
	return &Snapshot{
		StartupID: rec.StartupID,
		State:     state,
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func eventToRecord(ev StageEvent) (EventRecord, error) {
	details := []byte("{}")
	if len(ev.Details) > 0 {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			return EventRecord{}, fmt.Errorf("failed to marshal event details: %w", err)
		}
		details = b
	}
	rec := EventRecord{
		ID:         ev.ID,
		StartupID:  ev.StartupID,
		Kind:       string(ev.Kind),
		FromStatus: string(ev.FromStatus),
		ToStatus:   string(ev.ToStatus),
		Details:    datatypes.JSON(details),
		OccurredAt: ev.OccurredAt,
	}
	if ev.StageID != "" {
		id := ev.StageID
		rec.StageID = &id
	}
	return rec, nil
}

func eventFromRecord(rec EventRecord) (StageEvent, error) {
	ev := StageEvent{
		ID:         rec.ID,
		StartupID:  rec.StartupID,
		Kind:       EventKind(rec.Kind),
		FromStatus: StageStatus(rec.FromStatus),
		ToStatus:   StageStatus(rec.ToStatus),
		OccurredAt: rec.OccurredAt,
	}
	if rec.StageID != nil {
		ev.StageID = *rec.StageID
	}
	if len(rec.Details) > 0 {
		var details map[string]any
		if err := json.Unmarshal(rec.Details, &details); err != nil {
			return StageEvent{}, fmt.Errorf("failed to decode event details: %w", err)
		}
		if len(details) > 0 {
			ev.Details = details
		}
	}
	return ev, nil
}
