package funding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockRepository is a mock implementation of the Repository interface.
// Mutate hands the state returned by the expectation to the mutation and
// records the produced event.
type MockRepository struct {
	mock.Mock
	events []StageEvent
}

func (m *MockRepository) Create(ctx context.Context, startupID uuid.UUID, state State, event *StageEvent) (*Snapshot, error) {
	args := m.Called(ctx, startupID, state, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Snapshot), args.Error(1)
}

func (m *MockRepository) Get(ctx context.Context, startupID uuid.UUID) (*Snapshot, error) {
	args := m.Called(ctx, startupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Snapshot), args.Error(1)
}

func (m *MockRepository) Mutate(ctx context.Context, startupID uuid.UUID, fn Mutation) (*Snapshot, error) {
	args := m.Called(ctx, startupID)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	next, event, err := fn(args.Get(0).(State))
	if err != nil {
		return nil, err
	}
	if event != nil {
		m.events = append(m.events, *event)
	}
	return &Snapshot{StartupID: startupID, State: next, Version: 2}, nil
}

func (m *MockRepository) Delete(ctx context.Context, startupID uuid.UUID) error {
	args := m.Called(ctx, startupID)
	return args.Error(0)
}

func (m *MockRepository) List(ctx context.Context, limit, offset int) ([]Snapshot, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]Snapshot), args.Error(1)
}

func (m *MockRepository) ListEvents(ctx context.Context, startupID uuid.UUID, limit int) ([]StageEvent, error) {
	args := m.Called(ctx, startupID, limit)
	return args.Get(0).([]StageEvent), args.Error(1)
}

// MockPublisher is a mock implementation of the Publisher interface
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event ChangeEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func newTestService(repo Repository, pub Publisher) *Service {
	return NewService(repo, pub, zap.NewNop(), WithServiceClock(func() time.Time { return fixedNow }))
}

func TestCreateTrackerUsesDefaultCatalog(t *testing.T) {
	mockRepo := new(MockRepository)
	mockPub := new(MockPublisher)
	service := newTestService(mockRepo, mockPub)

	ctx := context.Background()
	startupID := uuid.New()

	tr, err := NewTracker(DefaultCatalog())
	require.NoError(t, err)
	stored := &Snapshot{StartupID: startupID, State: tr.Snapshot(), Version: 1}

	mockRepo.On("Create", ctx, startupID, mock.AnythingOfType("funding.State"), mock.AnythingOfType("*funding.StageEvent")).
		Return(stored, nil)
	mockPub.On("Publish", ctx, mock.AnythingOfType("funding.ChangeEvent")).Return(nil)

	snap, err := service.CreateTracker(ctx, startupID, nil)
	require.NoError(t, err)

	assert.Len(t, snap.Stages, len(DefaultCatalog()))
	assert.Equal(t, "pre-seed", snap.CurrentStageID)

	passed := mockRepo.Calls[0].Arguments.Get(2).(State)
	assert.Equal(t, tr.Snapshot(), passed)

	created := mockRepo.Calls[0].Arguments.Get(3).(*StageEvent)
	assert.Equal(t, EventCreated, created.Kind)
	assert.Equal(t, startupID, created.StartupID)
	assert.Equal(t, "pre-seed", created.StageID)

	mockRepo.AssertExpectations(t)
	mockPub.AssertExpectations(t)
}

func TestCreateTrackerRejectsInvalidSeeds(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(mockRepo, nil)

	_, err := service.CreateTracker(context.Background(), uuid.New(), []StageSeed{{ID: "a"}})
	assert.ErrorIs(t, err, ErrInvalidCatalog)
	mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateTrackerExisting(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(mockRepo, nil)

	ctx := context.Background()
	startupID := uuid.New()
	mockRepo.On("Create", ctx, startupID, mock.Anything, mock.Anything).Return(nil, ErrTrackerExists)

	_, err := service.CreateTracker(ctx, startupID, threeStages())
	assert.ErrorIs(t, err, ErrTrackerExists)
}

func TestServiceCompleteStage(t *testing.T) {
	mockRepo := new(MockRepository)
	mockPub := new(MockPublisher)
	service := newTestService(mockRepo, mockPub)

	ctx := context.Background()
	startupID := uuid.New()
	mockRepo.On("Mutate", ctx, startupID).Return(newTestTracker(t).Snapshot(), nil)
	mockPub.On("Publish", ctx, mock.MatchedBy(func(ev ChangeEvent) bool {
		return ev.StartupID == startupID && ev.Event.Kind == EventCompleted && ev.Snapshot.CurrentStageID == "seed"
	})).Return(nil)

	snap, err := service.CompleteStage(ctx, startupID, "pre-seed")
	require.NoError(t, err)

	assert.Equal(t, "seed", snap.CurrentStageID)
	assert.Equal(t, StatusCompleted, snap.Stages[0].Status)
	require.NotNil(t, snap.Stages[0].Date)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), *snap.Stages[0].Date)

	require.Len(t, mockRepo.events, 1)
	ev := mockRepo.events[0]
	assert.Equal(t, EventCompleted, ev.Kind)
	assert.Equal(t, "pre-seed", ev.StageID)
	assert.Equal(t, StatusCurrent, ev.FromStatus)
	assert.Equal(t, StatusCompleted, ev.ToStatus)
	assert.Equal(t, "seed", ev.Details["next_stage_id"])
	assert.Equal(t, fixedNow, ev.OccurredAt)
	assert.NotEqual(t, uuid.Nil, ev.ID)

	mockRepo.AssertExpectations(t)
	mockPub.AssertExpectations(t)
}

func TestServiceCompleteStageInvalidTransition(t *testing.T) {
	mockRepo := new(MockRepository)
	mockPub := new(MockPublisher)
	service := newTestService(mockRepo, mockPub)

	ctx := context.Background()
	startupID := uuid.New()
	mockRepo.On("Mutate", ctx, startupID).Return(newTestTracker(t).Snapshot(), nil)

	_, err := service.CompleteStage(ctx, startupID, "series-a")
	assert.ErrorIs(t, err, ErrInvalidStageTransition)
	assert.Empty(t, mockRepo.events)
	mockPub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestServiceMutationOnMissingTracker(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(mockRepo, nil)

	ctx := context.Background()
	startupID := uuid.New()
	mockRepo.On("Mutate", ctx, startupID).Return(State{}, ErrTrackerNotFound)

	_, err := service.UpdateStageProgress(ctx, startupID, "seed", 10, 10)
	assert.ErrorIs(t, err, ErrTrackerNotFound)
}

func TestServicePublishFailureIsNotFatal(t *testing.T) {
	mockRepo := new(MockRepository)
	mockPub := new(MockPublisher)
	service := newTestService(mockRepo, mockPub)

	ctx := context.Background()
	startupID := uuid.New()
	mockRepo.On("Mutate", ctx, startupID).Return(newTestTracker(t).Snapshot(), nil)
	mockPub.On("Publish", ctx, mock.Anything).Return(errors.New("broker down"))

	snap, err := service.UpdateStageProgress(ctx, startupID, "seed", 150, -5)
	require.NoError(t, err)
	assert.Equal(t, 100, snap.Stages[1].Progress)
	assert.Equal(t, int64(0), snap.Stages[1].RaisedAmount)

	require.Len(t, mockRepo.events, 1)
	assert.Equal(t, EventProgressUpdated, mockRepo.events[0].Kind)
	assert.Equal(t, int64(100), mockRepo.events[0].Details["progress"])
	mockPub.AssertExpectations(t)
}

func TestServiceSetCurrentStage(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(mockRepo, nil)

	ctx := context.Background()
	startupID := uuid.New()
	tr := newTestTracker(t)
	_, err := tr.CompleteStage("pre-seed")
	require.NoError(t, err)
	mockRepo.On("Mutate", ctx, startupID).Return(tr.Snapshot(), nil)

	snap, err := service.SetCurrentStage(ctx, startupID, "series-a")
	require.NoError(t, err)
	assert.Equal(t, "series-a", snap.SelectedStageID)
	assert.Equal(t, "seed", snap.CurrentStageID)
	assert.Equal(t, StatusCurrent, snap.Stages[1].Status)
	assert.Equal(t, "pre-seed", mockRepo.events[0].Details["previous_stage_id"])
}

func TestServiceUpdateFundingAmounts(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(mockRepo, nil)

	ctx := context.Background()
	startupID := uuid.New()
	mockRepo.On("Mutate", ctx, startupID).Return(newTestTracker(t).Snapshot(), nil)

	snap, err := service.UpdateFundingAmounts(ctx, startupID, 9000000, 1200000)
	require.NoError(t, err)
	assert.Equal(t, int64(9000000), snap.TotalTargetAmount)
	assert.Equal(t, int64(1200000), snap.TotalRaisedAmount)
	assert.Equal(t, EventAmountsUpdated, mockRepo.events[0].Kind)
}

func TestServiceReadsRejectCorruptState(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(mockRepo, nil)

	ctx := context.Background()
	startupID := uuid.New()
	state := newTestTracker(t).Snapshot()
	state.Stages[2].Status = StatusCurrent
	mockRepo.On("Get", ctx, startupID).Return(&Snapshot{StartupID: startupID, State: state}, nil)

	_, err := service.ListStages(ctx, startupID)
	assert.ErrorIs(t, err, ErrCorruptState)
}

func TestServiceScenarioWithMemoryRepository(t *testing.T) {
	repo := NewMemoryRepository()
	service := newTestService(repo, nil)

	ctx := context.Background()
	startupID := uuid.New()

	_, err := service.CreateTracker(ctx, startupID, threeStages())
	require.NoError(t, err)

	snap, err := service.CompleteStage(ctx, startupID, "pre-seed")
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)

	_, err = service.CompleteStage(ctx, startupID, "series-a")
	assert.ErrorIs(t, err, ErrInvalidStageTransition)

	stored, err := service.GetTracker(ctx, startupID)
	require.NoError(t, err)
	assert.Equal(t, snap.State, stored.State)
	assert.Equal(t, int64(2), stored.Version)

	_, err = service.SetCurrentStage(ctx, startupID, "series-a")
	require.NoError(t, err)
	cur, err := service.GetCurrentStage(ctx, startupID)
	require.NoError(t, err)
	assert.Equal(t, "seed", cur.ID)

	for _, id := range []string{"seed", "series-a"} {
		_, err = service.CompleteStage(ctx, startupID, id)
		require.NoError(t, err)
	}
	_, err = service.GetCurrentStage(ctx, startupID)
	assert.ErrorIs(t, err, ErrNoCurrentStage)

	st, err := service.GetStage(ctx, startupID, "series-a")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st.Status)

	_, err = service.GetStage(ctx, startupID, "series-z")
	assert.ErrorIs(t, err, ErrStageNotFound)

	events, err := service.ListEvents(ctx, startupID, 0)
	require.NoError(t, err)
	kinds := make([]EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	assert.Equal(t, []EventKind{EventCompleted, EventCompleted, EventSelected, EventCompleted, EventCreated}, kinds)

	limited, err := service.ListEvents(ctx, startupID, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	require.NoError(t, service.DeleteTracker(ctx, startupID))
	_, err = service.GetTracker(ctx, startupID)
	assert.ErrorIs(t, err, ErrTrackerNotFound)
}

func TestMemoryRepositoryList(t *testing.T) {
	repo := NewMemoryRepository()
	service := newTestService(repo, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := service.CreateTracker(ctx, uuid.New(), nil)
		require.NoError(t, err)
	}

	all, err := service.ListTrackers(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, err := service.ListTrackers(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.Equal(t, all[2].StartupID, page[0].StartupID)

	empty, err := service.ListTrackers(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryRepositoryListNegativeOffset(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	_, err := repo.Create(ctx, uuid.New(), newTestTracker(t).Snapshot(), nil)
	require.NoError(t, err)

	snaps, err := repo.List(ctx, 10, -1)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestServiceListTrackersClampsPaging(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(mockRepo, nil)

	ctx := context.Background()
	mockRepo.On("List", ctx, 0, 0).Return([]Snapshot{}, nil)

	_, err := service.ListTrackers(ctx, -3, -1)
	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestServiceListEventsNormalizesDetails(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(mockRepo, nil)

	ctx := context.Background()
	startupID := uuid.New()
	// shapes produced by the JSON and BSON decoders
	stored := []StageEvent{
		{Kind: EventProgressUpdated, Details: map[string]any{"progress": float64(40), "raised_amount": float64(200000)}},
		{Kind: EventProgressUpdated, Details: map[string]any{"progress": int32(40), "raised_amount": int64(200000)}},
		{Kind: EventAmountsUpdated, Details: map[string]any{"ratio": 0.5, "note": "manual"}},
	}
	mockRepo.On("ListEvents", ctx, startupID, 10).Return(stored, nil)

	events, err := service.ListEvents(ctx, startupID, 10)
	require.NoError(t, err)
	want := map[string]any{"progress": int64(40), "raised_amount": int64(200000)}
	assert.Equal(t, want, events[0].Details)
	assert.Equal(t, want, events[1].Details)
	assert.Equal(t, map[string]any{"ratio": 0.5, "note": "manual"}, events[2].Details)
}

func TestServiceEventsMatchAcrossStores(t *testing.T) {
	repo := NewMemoryRepository()
	service := newTestService(repo, nil)
	ctx := context.Background()
	startupID := uuid.New()

	_, err := service.CreateTracker(ctx, startupID, threeStages())
	require.NoError(t, err)
	_, err = service.UpdateStageProgress(ctx, startupID, "pre-seed", 40, 200000)
	require.NoError(t, err)

	events, err := service.ListEvents(ctx, startupID, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	rec, err := eventToRecord(events[0])
	require.NoError(t, err)
	fromPostgres, err := eventFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, events[0].Details, normalizeDetails(fromPostgres.Details))
	assert.Equal(t, int64(40), events[0].Details["progress"])
	assert.Equal(t, int64(3), events[1].Details["stage_count"])
}

func TestMultiPublisherJoinsErrors(t *testing.T) {
	ok := new(MockPublisher)
	failing := new(MockPublisher)
	ctx := context.Background()
	ok.On("Publish", ctx, mock.Anything).Return(nil)
	failing.On("Publish", ctx, mock.Anything).Return(errors.New("boom"))

	err := MultiPublisher{ok, nil, failing}.Publish(ctx, ChangeEvent{})
	assert.EqualError(t, err, "boom")
	ok.AssertExpectations(t)
	failing.AssertExpectations(t)
}
