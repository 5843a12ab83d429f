package funding

import (
	"time"

	"github.com/google/uuid"
)

// StageStatus represents the lifecycle status of a funding stage
type StageStatus string

const (
	StatusUpcoming  StageStatus = "upcoming"
	StatusCurrent   StageStatus = "current"
	StatusCompleted StageStatus = "completed"
)

// Stage is a single phase of a startup's fundraising journey
type Stage struct {
	ID           string      `json:"id" bson:"id"`
	Name         string      `json:"name" bson:"name"`
	Status       StageStatus `json:"status" bson:"status"`
	TargetAmount int64       `json:"target_amount" bson:"target_amount"`
	RaisedAmount int64       `json:"raised_amount" bson:"raised_amount"`
	Progress     int         `json:"progress" bson:"progress"`
	Date         *time.Time  `json:"date,omitempty" bson:"date,omitempty"`
	Description  string      `json:"description" bson:"description"`
}

func (s Stage) clone() Stage {
	if s.Date != nil {
		d := *s.Date
		s.Date = &d
	}
	return s
}

// StageSeed defines a stage when a tracker is constructed
type StageSeed struct {
	ID           string `json:"id" binding:"required"`
	Name         string `json:"name" binding:"required"`
	TargetAmount int64  `json:"target_amount"`
	Description  string `json:"description"`
}

// State is the full, serialisable content of a tracker.
// CurrentStageID is empty once every stage is completed.
type State struct {
	Stages            []Stage `json:"stages" bson:"stages"`
	CurrentStageID    string  `json:"current_stage_id,omitempty" bson:"current_stage_id,omitempty"`
	SelectedStageID   string  `json:"selected_stage_id" bson:"selected_stage_id"`
	TotalTargetAmount int64   `json:"total_target_amount" bson:"total_target_amount"`
	TotalRaisedAmount int64   `json:"total_raised_amount" bson:"total_raised_amount"`
}

// Drift compares the directly-set aggregates with the per-stage sums
type Drift struct {
	StageTargetSum int64 `json:"stage_target_sum"`
	StageRaisedSum int64 `json:"stage_raised_sum"`
	TargetDelta    int64 `json:"target_delta"`
	RaisedDelta    int64 `json:"raised_delta"`
}

// IsZero reports whether the aggregates match the stage sums
func (d Drift) IsZero() bool {
	return d.TargetDelta == 0 && d.RaisedDelta == 0
}

// Drift reports how far the aggregates are from the stage sums. It never
// changes the aggregates.
func (s State) Drift() Drift {
	var d Drift
	for _, st := range s.Stages {
		d.StageTargetSum += st.TargetAmount
		d.StageRaisedSum += st.RaisedAmount
	}
	d.TargetDelta = s.TotalTargetAmount - d.StageTargetSum
	d.RaisedDelta = s.TotalRaisedAmount - d.StageRaisedSum
	return d
}

// Snapshot is a persisted tracker owned by a startup
type Snapshot struct {
	StartupID uuid.UUID `json:"startup_id"`
	State
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EventKind identifies which operation produced a stage event
type EventKind string

const (
	EventCreated         EventKind = "created"
	EventProgressUpdated EventKind = "progress_updated"
	EventCompleted       EventKind = "completed"
	EventSelected        EventKind = "selected"
	EventAmountsUpdated  EventKind = "amounts_updated"
)

// StageEvent is an entry in a tracker's change log
type StageEvent struct {
	ID         uuid.UUID      `json:"id"`
	StartupID  uuid.UUID      `json:"startup_id"`
	StageID    string         `json:"stage_id,omitempty"`
	Kind       EventKind      `json:"kind"`
	FromStatus StageStatus    `json:"from_status,omitempty"`
	ToStatus   StageStatus    `json:"to_status,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// ChangeEvent is published after a mutation has been committed
type ChangeEvent struct {
	StartupID uuid.UUID  `json:"startup_id"`
	Event     StageEvent `json:"event"`
	Snapshot  Snapshot   `json:"snapshot"`
}

// Requests

type CreateTrackerRequest struct {
	Stages []StageSeed `json:"stages"`
}

type UpdateProgressRequest struct {
	Progress     *int   `json:"progress" binding:"required"`
	RaisedAmount *int64 `json:"raised_amount" binding:"required"`
}

type SelectStageRequest struct {
	StageID string `json:"stage_id" binding:"required"`
}

type UpdateAmountsRequest struct {
	TotalTargetAmount *int64 `json:"total_target_amount" binding:"required"`
	TotalRaisedAmount *int64 `json:"total_raised_amount" binding:"required"`
}
