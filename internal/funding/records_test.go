package funding

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedState(t *testing.T) State {
	t.Helper()
	tr := newTestTracker(t)
	_, err := tr.CompleteStage("pre-seed")
	require.NoError(t, err)
	_, err = tr.UpdateStageProgress("seed", 40, 200000)
	require.NoError(t, err)
	return tr.Snapshot()
}

func TestStageRecords_PreserveState(t *testing.T) {
	state := completedState(t)
	id := uuid.New()

	rec := TrackerRecord{StartupID: id, Version: 3}
	applyStateToRecord(&rec, state)
	stages := stageRecordsFromState(id, state)

	require.Len(t, stages, 3)
	assert.Equal(t, 1, stages[1].Position)
	require.NotNil(t, rec.CurrentStageID)
	assert.Equal(t, "seed", *rec.CurrentStageID)

	snap := snapshotFromRecords(rec, stages)
	assert.Equal(t, state, snap.State)
	assert.Equal(t, int64(3), snap.Version)

	_, err := Restore(snap.State)
	assert.NoError(t, err)
}

func TestStageRecords_TerminalTrackerHasNoCurrent(t *testing.T) {
	tr := newTestTracker(t)
	for _, id := range []string{"pre-seed", "seed", "series-a"} {
		_, err := tr.CompleteStage(id)
		require.NoError(t, err)
	}

	rec := TrackerRecord{}
	applyStateToRecord(&rec, tr.Snapshot())
	assert.Nil(t, rec.CurrentStageID)
}

func TestStageRecordEqual(t *testing.T) {
	state := completedState(t)
	a := stageRecordsFromState(uuid.Nil, state)
	b := stageRecordsFromState(uuid.Nil, state)

	assert.True(t, stageRecordEqual(a[0], b[0]))
	b[1].Progress = 41
	assert.False(t, stageRecordEqual(a[1], b[1]))
	b[2].CompletedOn = &fixedNow
	assert.False(t, stageRecordEqual(a[2], b[2]))
}

func TestEventRecords(t *testing.T) {
	ev := StageEvent{
		ID:         uuid.New(),
		StartupID:  uuid.New(),
		StageID:    "seed",
		Kind:       EventCompleted,
		FromStatus: StatusCurrent,
		ToStatus:   StatusCompleted,
		Details:    map[string]any{"next_stage_id": "series-a"},
		OccurredAt: fixedNow,
	}
	rec, err := eventToRecord(ev)
	require.NoError(t, err)
	back, err := eventFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, ev, back)

	rec, err = eventToRecord(StageEvent{ID: uuid.New(), Kind: EventAmountsUpdated})
	require.NoError(t, err)
	assert.Nil(t, rec.StageID)
	assert.JSONEq(t, "{}", string(rec.Details))
	back, err = eventFromRecord(rec)
	require.NoError(t, err)
	assert.Nil(t, back.Details)
}

func TestTrackerDocument_Snapshot(t *testing.T) {
	id := uuid.New()
	doc := trackerDocument{StartupID: id.String(), State: completedState(t), Version: 2, CreatedAt: time.Unix(0, 0)}

	snap, err := doc.snapshot()
	require.NoError(t, err)
	assert.Equal(t, id, snap.StartupID)
	assert.Equal(t, doc.State, snap.State)

	doc.StartupID = "not-a-uuid"
	_, err = doc.snapshot()
	assert.True(t, errors.Is(err, ErrCorruptState))
}

func TestEventDocument_Event(t *testing.T) {
	doc := eventDocument{ID: uuid.NewString(), StartupID: uuid.NewString(), Kind: string(EventSelected)}
	ev, err := doc.event()
	require.NoError(t, err)
	assert.Equal(t, EventSelected, ev.Kind)

	doc.ID = "bad"
	_, err = doc.event()
	assert.Error(t, err)
}
