package job

import "time"

// Submission is one request to run a registered definition. The payload
// is already encoded with the engine's codec.
type Submission struct {
	Name         string
	InvocationID string
	Payload      []byte

	// RunAt is the earliest execution time. Zero means now.
	RunAt time.Time

	Queue      string
	MaxRetries int
	Timeout    time.Duration
}
