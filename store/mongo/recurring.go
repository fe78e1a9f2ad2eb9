package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/ferry"
	"github.com/xraph/ferry/id"
	"github.com/xraph/ferry/recurring"
)

// UpsertRecurring sets the definition fields of the entry, inserting it if
// absent. Run history and the lock are never written here.
func (s *Store) UpsertRecurring(ctx context.Context, e *recurring.Entry) error {
	t := now()
	created := e.CreatedAt
	if created.IsZero() {
		created = t
	}

	set := bson.M{
		"job_name":    e.JobName,
		"queue":       e.Queue,
		"schedule":    e.Schedule,
		"payload":     e.Payload,
		"max_retries": e.MaxRetries,
		"timeout":     e.Timeout.Nanoseconds(),
		"next_run_at": e.NextRunAt,
		"updated_at":  t,
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"created_at": created},
	}

	_, err := s.col(colRecurring).UpdateOne(ctx,
		bson.M{"_id": e.ID}, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("ferry/mongo: upsert recurring: %w", err)
	}
	return nil
}

// GetRecurring retrieves an entry by id.
func (s *Store) GetRecurring(ctx context.Context, recurringID string) (*recurring.Entry, error) {
	var m recurringModel
	err := s.col(colRecurring).FindOne(ctx, bson.M{"_id": recurringID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ferry.ErrRecurringNotFound
		}
		return nil, fmt.Errorf("ferry/mongo: get recurring: %w", err)
	}
	return fromRecurringModel(&m), nil
}

// ListRecurring returns all entries ordered by id.
func (s *Store) ListRecurring(ctx context.Context) ([]*recurring.Entry, error) {
	cur, err := s.col(colRecurring).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("ferry/mongo: list recurring: %w", err)
	}

	var models []recurringModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("ferry/mongo: list recurring: %w", err)
	}

	entries := make([]*recurring.Entry, 0, len(models))
	for i := range models {
		entries = append(entries, fromRecurringModel(&models[i]))
	}
	return entries, nil
}

// DeleteRecurring removes an entry.
func (s *Store) DeleteRecurring(ctx context.Context, recurringID string) error {
	res, err := s.col(colRecurring).DeleteOne(ctx, bson.M{"_id": recurringID})
	if err != nil {
		return fmt.Errorf("ferry/mongo: delete recurring: %w", err)
	}
	if res.DeletedCount == 0 {
		return ferry.ErrRecurringNotFound
	}
	return nil
}

// AcquireRecurringLock takes the entry lock when it is free, expired, or
// already held by holder.
func (s *Store) AcquireRecurringLock(ctx context.Context, recurringID string, holder id.WorkerID, ttl time.Duration) (bool, error) {
	t := now()
	filter := bson.M{
		"_id": recurringID,
		"$or": bson.A{
			bson.M{"locked_until": nil},
			bson.M{"locked_until": bson.M{"$lte": t}},
			bson.M{"locked_by": holder.String()},
		},
	}
	update := bson.M{"$set": bson.M{
		"locked_by":    holder.String(),
		"locked_until": t.Add(ttl),
	}}

	res, err := s.col(colRecurring).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("ferry/mongo: acquire recurring lock: %w", err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}

	// Distinguish a held lock from a missing entry.
	n, err := s.col(colRecurring).CountDocuments(ctx, bson.M{"_id": recurringID})
	if err != nil {
		return false, fmt.Errorf("ferry/mongo: acquire recurring lock: %w", err)
	}
	if n == 0 {
		return false, ferry.ErrRecurringNotFound
	}
	return false, nil
}

// ReleaseRecurringLock clears the lock if holder owns it.
func (s *Store) ReleaseRecurringLock(ctx context.Context, recurringID string, holder id.WorkerID) error {
	_, err := s.col(colRecurring).UpdateOne(ctx,
		bson.M{"_id": recurringID, "locked_by": holder.String()},
		bson.M{
			"$unset": bson.M{"locked_by": ""},
			"$set":   bson.M{"locked_until": nil},
		},
	)
	if err != nil {
		return fmt.Errorf("ferry/mongo: release recurring lock: %w", err)
	}
	return nil
}

// UpdateRecurringRun records a firing. It runs as an update pipeline so
// the schedule comparison sees the stored document.
func (s *Store) UpdateRecurringRun(ctx context.Context, recurringID string, run recurring.Run) error {
	set := bson.M{
		"last_run_at": run.At.UTC(),
		"last_job_id": bson.M{"$literal": run.JobID.String()},
		"updated_at":  now(),
	}
	if !run.Next.IsZero() {
		set["next_run_at"] = bson.M{"$cond": bson.A{
			bson.M{"$eq": bson.A{"$schedule", bson.M{"$literal": run.Schedule}}},
			run.Next.UTC(),
			"$next_run_at",
		}}
	}

	res, err := s.col(colRecurring).UpdateOne(ctx, bson.M{"_id": recurringID}, bson.A{bson.M{"$set": set}})
	if err != nil {
		return fmt.Errorf("ferry/mongo: update recurring run: %w", err)
	}
	if res.MatchedCount == 0 {
		return ferry.ErrRecurringNotFound
	}
	return nil
}
