package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/models"
)

// MongoStore keeps one document per identity with its media embedded.
type MongoStore struct {
	client     *mongo.Client
	identities *mongo.Collection
	events     *mongo.Collection
}

func NewMongoStore(ctx context.Context, cfg config.MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri missing")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	clientOpts := options.Client().ApplyURI(cfg.URI)
	clientOpts.SetMinPoolSize(2)
	clientOpts.SetMaxPoolSize(cfg.MaxPoolSize)

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &MongoStore{
		client:     client,
		identities: db.Collection("identities"),
		events:     db.Collection("attendance_events"),
	}
	if err := s.setUpIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	slog.Info("connected to mongodb", "database", cfg.Database)
	return s, nil
}

func (s *MongoStore) setUpIndexes(ctx context.Context) error {
	_, err := s.identities.Indexes().CreateMany(ctx, []mongo.IndexModel{{
		Keys:    bson.D{{Key: "scope", Value: 1}, {Key: "external_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}})
	if err != nil {
		return fmt.Errorf("create identity indexes: %w", err)
	}
	_, err = s.events.Indexes().CreateMany(ctx, []mongo.IndexModel{{
		Keys:    bson.D{{Key: "class_id", Value: 1}, {Key: "ts", Value: 1}},
		Options: options.Index(),
	}})
	if err != nil {
		return fmt.Errorf("create event indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		slog.Warn("disconnect mongo", "error", err)
	}
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func identityFilter(scope string, externalID int64) bson.D {
	return bson.D{{Key: "scope", Value: scope}, {Key: "external_id", Value: externalID}}
}

func missingFilter(scope string, keep []int64) bson.D {
	if keep == nil {
		keep = []int64{}
	}
	return bson.D{
		{Key: "scope", Value: scope},
		{Key: "external_id", Value: bson.D{{Key: "$nin", Value: keep}}},
	}
}

func (s *MongoStore) ListIdentities(ctx context.Context, scope string) ([]models.Identity, error) {
	cur, err := s.identities.Find(ctx, bson.D{{Key: "scope", Value: scope}},
		options.Find().SetSort(bson.D{{Key: "roster_position", Value: 1}, {Key: "external_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	var ids []models.Identity
	if err := cur.All(ctx, &ids); err != nil {
		return nil, fmt.Errorf("decode identities: %w", err)
	}
	return ids, nil
}

func (s *MongoStore) GetIdentity(ctx context.Context, scope string, externalID int64) (*models.Identity, error) {
	var id models.Identity
	err := s.identities.FindOne(ctx, identityFilter(scope, externalID)).Decode(&id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return &id, nil
}

func (s *MongoStore) UpsertIdentities(ctx context.Context, ids []models.Identity) error {
	if len(ids) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(ids))
	for i := range ids {
		doc := ids[i]
		if doc.SyncedAt.IsZero() {
			doc.SyncedAt = time.Now().UTC()
		}
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(identityFilter(doc.Scope, doc.ExternalID)).
			SetReplacement(doc).
			SetUpsert(true))
	}
	if _, err := s.identities.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("upsert identities: %w", err)
	}
	return nil
}

func (s *MongoStore) Retain(ctx context.Context, scope string, roster []int64) ([]int64, error) {
	deleted, err := s.deleteMissing(ctx, scope, roster)
	if err != nil {
		return nil, err
	}
	if writes := positionWrites(scope, roster); len(writes) > 0 {
		if _, err := s.identities.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
			return nil, fmt.Errorf("record roster positions: %w", err)
		}
	}
	return deleted, nil
}

func positionWrites(scope string, roster []int64) []mongo.WriteModel {
	writes := make([]mongo.WriteModel, 0, len(roster))
	for pos, id := range roster {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(identityFilter(scope, id)).
			SetUpdate(bson.D{{Key: "$set", Value: bson.D{{Key: "roster_position", Value: pos}}}}))
	}
	return writes
}

func (s *MongoStore) deleteMissing(ctx context.Context, scope string, keep []int64) ([]int64, error) {
	filter := missingFilter(scope, keep)

	cur, err := s.identities.Find(ctx, filter, options.Find().SetProjection(bson.D{{Key: "external_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find missing identities: %w", err)
	}
	var docs []struct {
		ExternalID int64 `bson:"external_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode missing identities: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	deleted := make([]int64, len(docs))
	for i, d := range docs {
		deleted[i] = d.ExternalID
	}
	// Delete by the ids found, so a concurrent insert is never removed.
	_, err = s.identities.DeleteMany(ctx, bson.D{
		{Key: "scope", Value: scope},
		{Key: "external_id", Value: bson.D{{Key: "$in", Value: deleted}}},
	})
	if err != nil {
		return nil, fmt.Errorf("delete missing identities: %w", err)
	}
	return deleted, nil
}

type eventDoc struct {
	ID           string    `bson:"_id"`
	CameraID     string    `bson:"camera_id"`
	ClassID      string    `bson:"class_id"`
	TrackID      string    `bson:"track_id"`
	ExternalID   *int64    `bson:"external_id,omitempty"`
	DisplayName  string    `bson:"display_name,omitempty"`
	IdentityType string    `bson:"identity_type,omitempty"`
	Similarity   float32   `bson:"similarity"`
	Confidence   float32   `bson:"confidence"`
	SnapshotKey  string    `bson:"snapshot_key,omitempty"`
	Timestamp    time.Time `bson:"ts"`
}

func (s *MongoStore) RecordEvent(ctx context.Context, ev *models.MatchEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	_, err := s.events.InsertOne(ctx, eventDoc{
		ID:           ev.ID.String(),
		CameraID:     ev.CameraID,
		ClassID:      ev.ClassID,
		TrackID:      ev.TrackID,
		ExternalID:   ev.ExternalID,
		DisplayName:  ev.DisplayName,
		IdentityType: string(ev.IdentityType),
		Similarity:   ev.Similarity,
		Confidence:   ev.Confidence,
		SnapshotKey:  ev.SnapshotKey,
		Timestamp:    ev.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}
