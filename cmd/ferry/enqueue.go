package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/ferry"
	"github.com/xraph/ferry/job"
)

type enqueueFlags struct {
	invocationID string
	payload      string
	queue        string
	delay        time.Duration
	at           string
}

func (a *app) enqueueCmd() *cobra.Command {
	var f enqueueFlags

	cmd := &cobra.Command{
		Use:   "enqueue <job>",
		Short: "Submit a job for immediate or delayed execution",
		Example: `  ferry enqueue email --id welcome-1 --payload '{"to":"a@example.com","subject":"hi"}'
  ferry enqueue report-generation --delay 10m --payload '{"report_name":"sales"}'
  ferry enqueue data-processing --at 2030-01-01T09:00:00Z --payload '{"file_path":"in.csv"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			sub, err := f.submission(s.engine.Registry(), s.engine.Codec(), args[0], time.Now())
			if err != nil {
				return err
			}
			jobID, err := s.engine.Submit(cmd.Context(), sub)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), jobID)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.invocationID, "id", "cli", "invocation id passed to the handler")
	cmd.Flags().StringVar(&f.payload, "payload", "{}", "JSON payload")
	cmd.Flags().StringVar(&f.queue, "queue", "", "queue override")
	cmd.Flags().DurationVar(&f.delay, "delay", 0, "run after this delay")
	cmd.Flags().StringVar(&f.at, "at", "", "run at this RFC 3339 instant")
	cmd.MarkFlagsMutuallyExclusive("delay", "at")
	return cmd
}

// submission builds the job submission. Registered jobs contribute their
// queue, retry budget and timeout.
func (f enqueueFlags) submission(reg *job.Registry, codec job.Codec, name string, now time.Time) (job.Submission, error) {
	payload, err := encodeJSON(codec, f.payload)
	if err != nil {
		return job.Submission{}, err
	}

	sub := job.Submission{
		Name:         name,
		InvocationID: f.invocationID,
		Payload:      payload,
		MaxRetries:   job.InheritRetries,
	}
	if entry, ok := reg.Lookup(name); ok {
		sub.Queue = entry.Opts.Queue
		sub.MaxRetries = entry.Opts.MaxRetries
		sub.Timeout = entry.Opts.Timeout
	}
	if f.queue != "" {
		sub.Queue = f.queue
	}

	switch {
	case f.delay < 0:
		return job.Submission{}, fmt.Errorf("%w: negative delay %s", ferry.ErrInvalidSchedule, f.delay)
	case f.delay > 0:
		sub.RunAt = now.Add(f.delay)
	case f.at != "":
		at, err := time.Parse(time.RFC3339, f.at)
		if err != nil {
			return job.Submission{}, fmt.Errorf("%w: %w", ferry.ErrInvalidSchedule, err)
		}
		sub.RunAt = at
	}
	return sub, nil
}

// encodeJSON re-encodes a JSON document with the engine codec.
func encodeJSON(codec job.Codec, raw string) ([]byte, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("%w: payload is not JSON: %w", ferry.ErrParameterContract, err)
	}
	return job.Encode(codec, v)
}
