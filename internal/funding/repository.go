package funding

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mutation computes the next state from the stored one inside a single
// repository transaction. Returning an error aborts the transaction and leaves
// the stored state unchanged. A non-nil event is stored alongside the new
// state. A Mutation may be invoked more than once if the store retries.
type Mutation func(current State) (State, *StageEvent, error)

// Repository persists trackers keyed by owning startup
type Repository interface {
	Create(ctx context.Context, startupID uuid.UUID, state State, event *StageEvent) (*Snapshot, error)
	Get(ctx context.Context, startupID uuid.UUID) (*Snapshot, error)
	Mutate(ctx context.Context, startupID uuid.UUID, fn Mutation) (*Snapshot, error)
	Delete(ctx context.Context, startupID uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]Snapshot, error)
	ListEvents(ctx context.Context, startupID uuid.UUID, limit int) ([]StageEvent, error)
}

// MemoryRepository keeps trackers in process memory
type MemoryRepository struct {
	mu       sync.Mutex
	trackers map[uuid.UUID]*Snapshot
	events   map[uuid.UUID][]StageEvent
	now      func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		trackers: make(map[uuid.UUID]*Snapshot),
		events:   make(map[uuid.UUID][]StageEvent),
		now:      time.Now,
	}
}

func (r *MemoryRepository) Create(ctx context.Context, startupID uuid.UUID, state State, event *StageEvent) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.trackers[startupID]; exists {
		return nil, ErrTrackerExists
	}
	now := r.now()
	snap := &Snapshot{
		StartupID: startupID,
		State:     copyState(state),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.trackers[startupID] = snap
	if event != nil {
		r.events[startupID] = append(r.events[startupID], *event)
	}
	out := copySnapshot(*snap)
	return &out, nil
}

func (r *MemoryRepository) Get(ctx context.Context, startupID uuid.UUID) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, ok := r.trackers[startupID]
	if !ok {
		return nil, ErrTrackerNotFound
	}
	out := copySnapshot(*snap)
	return &out, nil
}

func (r *MemoryRepository) Mutate(ctx context.Context, startupID uuid.UUID, fn Mutation) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, ok := r.trackers[startupID]
	if !ok {
		return nil, ErrTrackerNotFound
	}
	next, event, err := fn(copyState(snap.State))
	if err != nil {
		return nil, err
	}

	snap.State = copyState(next)
	snap.Version++
	snap.UpdatedAt = r.now()
	if event != nil {
		r.events[startupID] = append(r.events[startupID], *event)
	}
	out := copySnapshot(*snap)
	return &out, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, startupID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.trackers[startupID]; !ok {
		return ErrTrackerNotFound
	}
	delete(r.trackers, startupID)
	delete(r.events, startupID)
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, limit, offset int) ([]Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]Snapshot, 0, len(r.trackers))
	for _, snap := range r.trackers {
		all = append(all, copySnapshot(*snap))
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].StartupID.String() < all[j].StartupID.String()
	})

	offset = max(offset, 0)
	if offset >= len(all) {
		return []Snapshot{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// ListEvents returns the newest events first
func (r *MemoryRepository) ListEvents(ctx context.Context, startupID uuid.UUID, limit int) ([]StageEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.trackers[startupID]; !ok {
		return nil, ErrTrackerNotFound
	}
	stored := r.events[startupID]
	out := make([]StageEvent, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		out = append(out, stored[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func copyState(s State) State {
	stages := make([]Stage, len(s.Stages))
	for i, st := range s.Stages {
		stages[i] = st.clone()
	}
	s.Stages = stages
	return s
}

func copySnapshot(s Snapshot) Snapshot {
	s.State = copyState(s.State)
	return s
}
