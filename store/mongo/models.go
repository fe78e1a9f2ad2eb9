package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/ferry"
	"github.com/xraph/ferry/id"
	"github.com/xraph/ferry/job"
	"github.com/xraph/ferry/recurring"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	ID           string     `bson:"_id"`
	Name         string     `bson:"name"`
	InvocationID string     `bson:"invocation_id"`
	RecurringID  string     `bson:"recurring_id,omitempty"`
	Queue        string     `bson:"queue"`
	Payload      []byte     `bson:"payload"`
	State        string     `bson:"state"`
	MaxRetries   int        `bson:"max_retries"`
	RetryCount   int        `bson:"retry_count"`
	LastError    string     `bson:"last_error,omitempty"`
	WorkerID     string     `bson:"worker_id,omitempty"`
	RunAt        time.Time  `bson:"run_at"`
	StartedAt    *time.Time `bson:"started_at"`
	CompletedAt  *time.Time `bson:"completed_at"`
	HeartbeatAt  *time.Time `bson:"heartbeat_at"`
	Timeout      int64      `bson:"timeout"`
	CreatedAt    time.Time  `bson:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:           j.ID.String(),
		Name:         j.Name,
		InvocationID: j.InvocationID,
		RecurringID:  j.RecurringID,
		Queue:        j.Queue,
		Payload:      j.Payload,
		State:        string(j.State),
		MaxRetries:   j.MaxRetries,
		RetryCount:   j.RetryCount,
		LastError:    j.LastError,
		WorkerID:     j.WorkerID.String(),
		RunAt:        j.RunAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
		HeartbeatAt:  j.HeartbeatAt,
		Timeout:      j.Timeout.Nanoseconds(),
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("ferry/mongo: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: ferry.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           parsedID,
		Name:         m.Name,
		InvocationID: m.InvocationID,
		RecurringID:  m.RecurringID,
		Queue:        m.Queue,
		Payload:      m.Payload,
		State:        job.State(m.State),
		MaxRetries:   m.MaxRetries,
		RetryCount:   m.RetryCount,
		LastError:    m.LastError,
		RunAt:        m.RunAt,
		StartedAt:    m.StartedAt,
		CompletedAt:  m.CompletedAt,
		HeartbeatAt:  m.HeartbeatAt,
		Timeout:      time.Duration(m.Timeout),
	}

	if m.WorkerID != "" {
		if parsedWorker, wErr := id.ParseWorkerID(m.WorkerID); wErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return j, nil
}

// ── Recurring model ───────────────────────────────────────────────

type recurringModel struct {
	ID          string     `bson:"_id"`
	JobName     string     `bson:"job_name"`
	Queue       string     `bson:"queue"`
	Schedule    string     `bson:"schedule"`
	Payload     []byte     `bson:"payload"`
	MaxRetries  int        `bson:"max_retries"`
	Timeout     int64      `bson:"timeout"`
	LastRunAt   *time.Time `bson:"last_run_at"`
	LastJobID   string     `bson:"last_job_id,omitempty"`
	NextRunAt   *time.Time `bson:"next_run_at"`
	LockedBy    string     `bson:"locked_by,omitempty"`
	LockedUntil *time.Time `bson:"locked_until"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

func fromRecurringModel(m *recurringModel) *recurring.Entry {
	e := &recurring.Entry{
		Entity: ferry.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          m.ID,
		JobName:     m.JobName,
		Queue:       m.Queue,
		Schedule:    m.Schedule,
		Payload:     m.Payload,
		MaxRetries:  m.MaxRetries,
		Timeout:     time.Duration(m.Timeout),
		LastRunAt:   m.LastRunAt,
		NextRunAt:   m.NextRunAt,
		LockedBy:    m.LockedBy,
		LockedUntil: m.LockedUntil,
	}
	if m.LastJobID != "" {
		if parsed, err := id.ParseJobID(m.LastJobID); err == nil {
			e.LastJobID = parsed
		}
	}
	return e
}
