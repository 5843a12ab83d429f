package funding

import (
	"fmt"
	"time"

	"incubator-portal/portal-backend/pkg/workflows"
)

// Tracker owns an ordered funding stage sequence and keeps the lifecycle
// invariant: stages before the current one are completed, stages after it
// are upcoming, and at most one stage is current.
//
// The selected stage is a viewing cursor and never affects lifecycle status.
// A Tracker is not safe for concurrent use.
type Tracker struct {
	stages      []Stage
	index       map[string]int
	current     int // -1 once every stage is completed
	selected    int
	totalTarget int64
	totalRaised int64
	lifecycle   *workflows.StateMachine
	now         func() time.Time
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock overrides the clock used to date completed stages
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func newTracker(opts []Option) *Tracker {
	t := &Tracker{
		lifecycle: workflows.NewStageLifecycle(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewTracker builds a tracker from ordered seeds. The first stage becomes
// current, the rest upcoming. The target aggregate starts as the sum of the
// stage targets and the raised aggregate at zero.
func NewTracker(seeds []StageSeed, opts ...Option) (*Tracker, error) {
	if err := ValidateCatalog(seeds); err != nil {
		return nil, err
	}

	t := newTracker(opts)
	t.stages = make([]Stage, len(seeds))
	t.index = make(map[string]int, len(seeds))
	for i, seed := range seeds {
		status := StatusUpcoming
		if i == 0 {
			status = StatusCurrent
		}
		t.stages[i] = Stage{
			ID:           seed.ID,
			Name:         seed.Name,
			Status:       status,
			TargetAmount: clampAmount(seed.TargetAmount),
			Description:  seed.Description,
		}
		t.index[seed.ID] = i
		t.totalTarget += t.stages[i].TargetAmount
	}
	return t, nil
}

// Restore rebuilds a tracker from a stored state, rejecting states that break
// the lifecycle invariant.
func Restore(state State, opts ...Option) (*Tracker, error) {
	if len(state.Stages) == 0 {
		return nil, fmt.Errorf("%w: no stages", ErrCorruptState)
	}

	t := newTracker(opts)
	t.stages = make([]Stage, len(state.Stages))
	t.index = make(map[string]int, len(state.Stages))
	t.current = -1

	for i, st := range state.Stages {
		if _, dup := t.index[st.ID]; dup || st.ID == "" {
			return nil, fmt.Errorf("%w: invalid or duplicate stage id %q", ErrCorruptState, st.ID)
		}
		if !t.lifecycle.IsKnown(string(st.Status)) {
			return nil, fmt.Errorf("%w: stage %q has unknown status %q", ErrCorruptState, st.ID, st.Status)
		}
		if st.Progress < 0 || st.Progress > 100 || st.RaisedAmount < 0 || st.TargetAmount < 0 {
			return nil, fmt.Errorf("%w: stage %q has out of range figures", ErrCorruptState, st.ID)
		}
		t.stages[i] = st.clone()
		t.index[st.ID] = i
	}

	// Positional invariant: completed* current? upcoming*, and upcoming
	// stages only exist while some stage is current.
	phase := StatusCompleted
	for i, st := range t.stages {
		switch {
		case st.Status == phase:
		case phase == StatusCompleted && st.Status == StatusCurrent:
			phase = StatusUpcoming
			t.current = i
			continue
		default:
			return nil, fmt.Errorf("%w: stage %q is %s out of order", ErrCorruptState, st.ID, st.Status)
		}
	}

	if t.current >= 0 {
		if state.CurrentStageID != t.stages[t.current].ID {
			return nil, fmt.Errorf("%w: current stage id %q does not match %q",
				ErrCorruptState, state.CurrentStageID, t.stages[t.current].ID)
		}
	} else if state.CurrentStageID != "" {
		return nil, fmt.Errorf("%w: current stage id %q set on a completed tracker", ErrCorruptState, state.CurrentStageID)
	}

	switch idx, ok := t.index[state.SelectedStageID]; {
	case ok:
		t.selected = idx
	case state.SelectedStageID == "":
		t.selected = max(t.current, 0)
	default:
		return nil, fmt.Errorf("%w: selected stage %q does not exist", ErrCorruptState, state.SelectedStageID)
	}

	t.totalTarget = clampAmount(state.TotalTargetAmount)
	t.totalRaised = clampAmount(state.TotalRaisedAmount)
	return t, nil
}

// Stages returns the stages in lifecycle order
func (t *Tracker) Stages() []Stage {
	out := make([]Stage, len(t.stages))
	for i, st := range t.stages {
		out[i] = st.clone()
	}
	return out
}

// Stage returns the stage with the given id
func (t *Tracker) Stage(id string) (Stage, error) {
	idx, err := t.lookup(id)
	if err != nil {
		return Stage{}, err
	}
	return t.stages[idx].clone(), nil
}

// CurrentStage returns the lifecycle-current stage. The second result is
// false once every stage is completed.
func (t *Tracker) CurrentStage() (Stage, bool) {
	if t.current < 0 {
		return Stage{}, false
	}
	return t.stages[t.current].clone(), true
}

// SelectedStage returns the stage selected for viewing
func (t *Tracker) SelectedStage() Stage {
	return t.stages[t.selected].clone()
}

// IsComplete reports whether every stage has been completed
func (t *Tracker) IsComplete() bool {
	return t.current < 0
}

// UpdateStageProgress sets progress and raised amount on a stage. Progress
// is clamped to [0, 100] and negative amounts to 0. Status is untouched.
func (t *Tracker) UpdateStageProgress(id string, progress int, raisedAmount int64) (Stage, error) {
	idx, err := t.lookup(id)
	if err != nil {
		return Stage{}, err
	}
	t.stages[idx].Progress = clampProgress(progress)
	t.stages[idx].RaisedAmount = clampAmount(raisedAmount)
	return t.stages[idx].clone(), nil
}

// CompleteStage completes the current stage and advances the current pointer
// to its successor. It returns the completed stage.
func (t *Tracker) CompleteStage(id string) (Stage, error) {
	idx, err := t.lookup(id)
	if err != nil {
		return Stage{}, err
	}

	st := &t.stages[idx]
	if idx != t.current || !t.lifecycle.CanTransition(string(st.Status), string(StatusCompleted)) {
		return Stage{}, fmt.Errorf("%w: stage %q is %s, not current", ErrInvalidStageTransition, id, st.Status)
	}

	next := idx + 1
	if next < len(t.stages) && !t.lifecycle.CanTransition(string(t.stages[next].Status), string(StatusCurrent)) {
		return Stage{}, fmt.Errorf("%w: successor %q is %s", ErrInvalidStageTransition, t.stages[next].ID, t.stages[next].Status)
	}

	today := truncateToDay(t.now())
	st.Status = StatusCompleted
	st.Progress = 100
	st.Date = &today

	if next < len(t.stages) {
		t.stages[next].Status = StatusCurrent
		t.current = next
	} else {
		t.current = -1
	}
	return st.clone(), nil
}

// SetCurrentStage selects a stage for viewing. Lifecycle status is not
// changed.
func (t *Tracker) SetCurrentStage(id string) (Stage, error) {
	idx, err := t.lookup(id)
	if err != nil {
		return Stage{}, err
	}
	t.selected = idx
	return t.stages[idx].clone(), nil
}

// UpdateFundingAmounts sets the aggregates directly; they are not reconciled
// with the stage sums. Negative values are clamped to 0.
func (t *Tracker) UpdateFundingAmounts(totalTarget, totalRaised int64) State {
	t.totalTarget = clampAmount(totalTarget)
	t.totalRaised = clampAmount(totalRaised)
	return t.Snapshot()
}

// Snapshot returns a copy of the tracker state
func (t *Tracker) Snapshot() State {
	state := State{
		Stages:            t.Stages(),
		SelectedStageID:   t.stages[t.selected].ID,
		TotalTargetAmount: t.totalTarget,
		TotalRaisedAmount: t.totalRaised,
	}
	if t.current >= 0 {
		state.CurrentStageID = t.stages[t.current].ID
	}
	return state
}

func (t *Tracker) lookup(id string) (int, error) {
	idx, ok := t.index[id]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrStageNotFound, id)
	}
	return idx, nil
}

func clampProgress(p int) int {
	return min(max(p, 0), 100)
}

func clampAmount(v int64) int64 {
	return max(v, 0)
}

func truncateToDay(ts time.Time) time.Time {
	y, m, d := ts.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
