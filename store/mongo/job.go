package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/ferry"
	"github.com/xraph/ferry/id"
	"github.com/xraph/ferry/job"
)

var cancellableStates = bson.A{string(job.StatePending), string(job.StateRetrying)}

var terminalStates = bson.A{
	string(job.StateCompleted),
	string(job.StateFailed),
	string(job.StateCancelled),
}

// EnqueueJob persists a new job.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.col(colJobs).InsertOne(ctx, toJobModel(j))
	if err != nil {
		if isDuplicateKey(err) {
			return ferry.ErrJobAlreadyExists
		}
		return fmt.Errorf("ferry/mongo: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs claims up to limit due jobs, one FindOneAndUpdate per job.
// Each call is atomic on a single document, so two workers never claim
// the same job.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	if limit <= 0 || len(queues) == 0 {
		return nil, nil
	}

	col := s.col(colJobs)
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{{Key: "run_at", Value: 1}, {Key: "created_at", Value: 1}})

	var jobs []*job.Job
	for range limit {
		t := now()
		filter := bson.M{
			"state":  bson.M{"$in": cancellableStates},
			"queue":  bson.M{"$in": queues},
			"run_at": bson.M{"$lte": t},
		}
		update := bson.M{"$set": bson.M{
			"state":        string(job.StateRunning),
			"started_at":   t,
			"heartbeat_at": t,
			"updated_at":   t,
		}}

		var m jobModel
		err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				break
			}
			return jobs, fmt.Errorf("ferry/mongo: dequeue jobs: %w", err)
		}

		j, err := fromJobModel(&m)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.col(colJobs).FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ferry.ErrJobNotFound
		}
		return nil, fmt.Errorf("ferry/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// UpdateJob replaces the stored job document.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	j.UpdatedAt = now()
	m := toJobModel(j)

	res, err := s.col(colJobs).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("ferry/mongo: update job: %w", err)
	}
	if res.MatchedCount == 0 {
		return ferry.ErrJobNotFound
	}
	return nil
}

// CancelJob cancels a job that has not started. The state filter makes the
// check and the transition a single atomic write.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) (bool, error) {
	t := now()
	res, err := s.col(colJobs).UpdateOne(ctx,
		bson.M{"_id": jobID.String(), "state": bson.M{"$in": cancellableStates}},
		bson.M{"$set": bson.M{
			"state":        string(job.StateCancelled),
			"completed_at": t,
			"updated_at":   t,
		}},
	)
	if err != nil {
		return false, fmt.Errorf("ferry/mongo: cancel job: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, _ id.WorkerID) error {
	t := now()
	_, err := s.col(colJobs).UpdateOne(ctx,
		bson.M{"_id": jobID.String()},
		bson.M{"$set": bson.M{"heartbeat_at": t, "updated_at": t}},
	)
	if err != nil {
		return fmt.Errorf("ferry/mongo: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns running jobs whose heartbeat is older than threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := now().Add(-threshold)
	filter := bson.M{
		"state":        string(job.StateRunning),
		"heartbeat_at": bson.M{"$ne": nil, "$lt": cutoff},
	}
	return s.findJobs(ctx, filter, "reap stale jobs")
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	filter := bson.M{}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}

	n, err := s.col(colJobs).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("ferry/mongo: count jobs: %w", err)
	}
	return n, nil
}

// PurgeJobs deletes terminal jobs last updated before the cutoff.
func (s *Store) PurgeJobs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.col(colJobs).DeleteMany(ctx, bson.M{
		"state":      bson.M{"$in": terminalStates},
		"updated_at": bson.M{"$lt": before.UTC()},
	})
	if err != nil {
		return 0, fmt.Errorf("ferry/mongo: purge jobs: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) findJobs(ctx context.Context, filter bson.M, op string) ([]*job.Job, error) {
	cur, err := s.col(colJobs).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ferry/mongo: %s: %w", op, err)
	}
	return decodeJobs(ctx, cur, op)
}

func decodeJobs(ctx context.Context, cur *mongod.Cursor, op string) ([]*job.Job, error) {
	var models []jobModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("ferry/mongo: %s: %w", op, err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
