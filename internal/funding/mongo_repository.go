package funding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	trackersCollection = "funding_trackers"
	eventsCollection   = "funding_stage_events"
)

type trackerDocument struct {
	StartupID string    `bson:"_id"`
	State     State     `bson:"state"`
	Version   int64     `bson:"version"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type eventDocument struct {
	ID         string         `bson:"_id"`
	StartupID  string         `bson:"startup_id"`
	StageID    string         `bson:"stage_id,omitempty"`
	Kind       string         `bson:"kind"`
	FromStatus string         `bson:"from_status,omitempty"`
	ToStatus   string         `bson:"to_status,omitempty"`
	Details    map[string]any `bson:"details,omitempty"`
	OccurredAt time.Time      `bson:"occurred_at"`
}

// MongoRepository stores one document per startup. Mutations run inside a
// session transaction and the replace is guarded by the stored version, so
// the deployment must be a replica set.
type MongoRepository struct {
	client   *mongo.Client
	trackers *mongo.Collection
	events   *mongo.Collection
	now      func() time.Time
}

// NewMongoRepository creates a repository on the given database
func NewMongoRepository(client *mongo.Client, database string) *MongoRepository {
	db := client.Database(database)
	return &MongoRepository{
		client:   client,
		trackers: db.Collection(trackersCollection),
		events:   db.Collection(eventsCollection),
		now:      time.Now,
	}
}

// EnsureIndexes creates the event log index
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "startup_id", Value: 1}, {Key: "occurred_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create event index: %w", err)
	}
	return nil
}

func (r *MongoRepository) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	sess, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (r *MongoRepository) Create(ctx context.Context, startupID uuid.UUID, state State, event *StageEvent) (*Snapshot, error) {
	now := r.now().UTC()
	doc := trackerDocument{
		StartupID: startupID.String(),
		State:     copyState(state),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := r.withTransaction(ctx, func(sc mongo.SessionContext) error {
		if _, err := r.trackers.InsertOne(sc, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ErrTrackerExists
			}
			return fmt.Errorf("failed to insert tracker: %w", err)
		}
		return r.insertEvent(sc, event)
	})
	if err != nil {
		return nil, err
	}
	return doc.snapshot()
}

func (r *MongoRepository) Get(ctx context.Context, startupID uuid.UUID) (*Snapshot, error) {
	doc, err := r.findTracker(ctx, startupID)
	if err != nil {
		return nil, err
	}
	return doc.snapshot()
}

func (r *MongoRepository) Mutate(ctx context.Context, startupID uuid.UUID, fn Mutation) (*Snapshot, error) {
	var out *trackerDocument
	err := r.withTransaction(ctx, func(sc mongo.SessionContext) error {
		doc, err := r.findTracker(sc, startupID)
		if err != nil {
			return err
		}
		next, event, err := fn(copyState(doc.State))
		if err != nil {
			return err
		}

		prev := doc.Version
		doc.State = copyState(next)
		doc.Version++
		doc.UpdatedAt = r.now().UTC()

		res, err := r.trackers.ReplaceOne(sc, bson.M{"_id": doc.StartupID, "version": prev}, doc)
		if err != nil {
			return fmt.Errorf("failed to replace tracker: %w", err)
		}
		if res.MatchedCount == 0 {
			return ErrConcurrentUpdate
		}
		if err := r.insertEvent(sc, event); err != nil {
			return err
		}
		out = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.snapshot()
}

func (r *MongoRepository) Delete(ctx context.Context, startupID uuid.UUID) error {
	return r.withTransaction(ctx, func(sc mongo.SessionContext) error {
		res, err := r.trackers.DeleteOne(sc, bson.M{"_id": startupID.String()})
		if err != nil {
			return fmt.Errorf("failed to delete tracker: %w", err)
		}
		if res.DeletedCount == 0 {
			return ErrTrackerNotFound
		}
		_, err = r.events.DeleteMany(sc, bson.M{"startup_id": startupID.String()})
		return err
	})
}

func (r *MongoRepository) List(ctx context.Context, limit, offset int) ([]Snapshot, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetSkip(int64(max(offset, 0)))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.trackers.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list trackers: %w", err)
	}
	var docs []trackerDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode trackers: %w", err)
	}

	out := make([]Snapshot, 0, len(docs))
	for i := range docs {
		snap, err := docs[i].snapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, nil
}

func (r *MongoRepository) ListEvents(ctx context.Context, startupID uuid.UUID, limit int) ([]StageEvent, error) {
	if _, err := r.findTracker(ctx, startupID); err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "occurred_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.events.Find(ctx, bson.M{"startup_id": startupID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	var docs []eventDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}

	events := make([]StageEvent, 0, len(docs))
	for _, doc := range docs {
		ev, err := doc.event()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (r *MongoRepository) findTracker(ctx context.Context, startupID uuid.UUID) (*trackerDocument, error) {
	var doc trackerDocument
	err := r.trackers.FindOne(ctx, bson.M{"_id": startupID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrTrackerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tracker: %w", err)
	}
	return &doc, nil
}

func (r *MongoRepository) insertEvent(ctx context.Context, event *StageEvent) error {
	if event == nil {
		return nil
	}
	doc := eventDocument{
		ID:         event.ID.String(),
		StartupID:  event.StartupID.String(),
		StageID:    event.StageID,
		Kind:       string(event.Kind),
		FromStatus: string(event.FromStatus),
		ToStatus:   string(event.ToStatus),
		Details:    event.Details,
		OccurredAt: event.OccurredAt.UTC(),
	}
	if _, err := r.events.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

func (d *trackerDocument) snapshot() (*Snapshot, error) {
	id, err := uuid.Parse(d.StartupID)
	if err != nil {
		return nil, fmt.Errorf("%w: startup id %q: %v", ErrCorruptState, d.StartupID, err)
	}
	return &Snapshot{
		StartupID: id,
		State:     copyState(d.State),
		Version:   d.Version,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

func (d eventDocument) event() (StageEvent, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return StageEvent{}, fmt.Errorf("invalid event id %q: %w", d.ID, err)
	}
	startupID, err := uuid.Parse(d.StartupID)
	if err != nil {
		return StageEvent{}, fmt.Errorf("invalid startup id %q: %w", d.StartupID, err)
	}
	return StageEvent{
		ID:         id,
		StartupID:  startupID,
		StageID:    d.StageID,
		Kind:       EventKind(d.Kind),
		FromStatus: StageStatus(d.FromStatus),
		ToStatus:   StageStatus(d.ToStatus),
		Details:    d.Details,
		OccurredAt: d.OccurredAt,
	}, nil
}
