// Package activities exposes the live-activity HTTP surface and the boundary
// to the storage collaborator that owns activity templates and archives.
package activities

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/atl-live/backend/internal/models"
)

// ErrActivityNotFound is returned when no activity matches the lookup.
var ErrActivityNotFound = errors.New("activity not found")

// Repository reads activity templates and persists session archives.
type Repository struct {
	activities *mongo.Collection
	archives   *mongo.Collection
}

// NewRepository creates an activities repository.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{
		activities: db.Collection("activities"),
		archives:   db.Collection("session_archives"),
	}
}

// GetByID returns one activity template by id.
func (r *Repository) GetByID(ctx context.Context, activityID string) (*models.Activity, error) {
	var a models.Activity
	err := r.activities.FindOne(ctx, bson.M{"_id": activityID}).Decode(&a)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrActivityNotFound
		}
		return nil, fmt.Errorf("find activity: %w", err)
	}
	return &a, nil
}

// GetByPIN resolves a six-digit join PIN to its activity.
func (r *Repository) GetByPIN(ctx context.Context, pin string) (*models.Activity, error) {
	var a models.Activity
	err := r.activities.FindOne(ctx, bson.M{"pin": pin}).Decode(&a)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrActivityNotFound
		}
		return nil, fmt.Errorf("find activity by pin: %w", err)
	}
	return &a, nil
}

// SaveArchive persists a session archive. Assigns an id when missing.
func (r *Repository) SaveArchive(ctx context.Context, archive *models.SessionArchive) error {
	if archive.ID == "" {
		archive.ID = uuid.New().String()
	}
	if _, err := r.archives.InsertOne(ctx, archive); err != nil {
		return fmt.Errorf("insert archive: %w", err)
	}
	return nil
}

// GetArchive returns one archive by id, for the export worker.
func (r *Repository) GetArchive(ctx context.Context, archiveID string) (*models.SessionArchive, error) {
	var a models.SessionArchive
	err := r.archives.FindOne(ctx, bson.M{"_id": archiveID}).Decode(&a)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("archive %s not found", archiveID)
		}
		return nil, fmt.Errorf("find archive: %w", err)
	}
	return &a, nil
}

// ListArchivesByActivity returns the archives of past runs of an activity,
// newest first.
func (r *Repository) ListArchivesByActivity(ctx context.Context, activityID string) ([]models.SessionArchive, error) {
	opts := options.Find().SetSort(bson.D{{Key: "ended_at", Value: -1}})
	cur, err := r.archives.Find(ctx, bson.M{"activity_id": activityID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	defer cur.Close(ctx)
	var out []models.SessionArchive
	for cur.Next(ctx) {
		var a models.SessionArchive
		if err := cur.Decode(&a); err != nil {
			return nil, fmt.Errorf("decode archive: %w", err)
		}
		out = append(out, a)
	}
	return out, cur.Err()
}
