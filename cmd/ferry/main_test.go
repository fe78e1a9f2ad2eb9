package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/ferry"
	"github.com/xraph/ferry/job"
	"github.com/xraph/ferry/samplejobs"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("FERRY_STORE", "memory")

	out := &bytes.Buffer{}
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandStructure(t *testing.T) {
	root := newRootCmd()

	found := make(map[string]bool)
	for _, c := range root.Commands() {
		found[c.Name()] = true
	}
	for _, name := range []string{"serve", "enqueue", "recurring", "cancel", "stats", "config", "migrate"} {
		assert.True(t, found[name], "missing command %q", name)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("env"))
}

func TestEnqueue(t *testing.T) {
	out, err := run(t, "enqueue", samplejobs.EmailName, "--id", "mail-1",
		"--payload", `{"to":"a@example.com","subject":"hi"}`)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "job_"), out)
}

func TestEnqueue_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want error
	}{
		{"payload not json", []string{"enqueue", "email", "--payload", "{"}, ferry.ErrParameterContract},
		{"negative delay", []string{"enqueue", "email", "--delay=-1s"}, ferry.ErrInvalidSchedule},
		{"bad instant", []string{"enqueue", "email", "--at", "tomorrow"}, ferry.ErrInvalidSchedule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := run(t, "enqueue", "email", "--delay", "1m", "--at", "2030-01-01T00:00:00Z")
	assert.Error(t, err)
}

func TestSubmission(t *testing.T) {
	reg := job.NewRegistry()
	set := samplejobs.New(nil)
	job.RegisterDefinition(reg, set.DataProcessing)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("registered job contributes options", func(t *testing.T) {
		f := enqueueFlags{invocationID: "inv", payload: `{"file_path":"in.csv"}`, delay: time.Hour}
		sub, err := f.submission(reg, reg.Codec(), samplejobs.DataProcessingName, now)
		require.NoError(t, err)

		assert.Equal(t, samplejobs.DataProcessingName, sub.Name)
		assert.Equal(t, "inv", sub.InvocationID)
		assert.JSONEq(t, `{"file_path":"in.csv"}`, string(sub.Payload))
		assert.Equal(t, set.DataProcessing.Opts.Timeout, sub.Timeout)
		assert.Equal(t, set.DataProcessing.Opts.Queue, sub.Queue)
		assert.True(t, sub.RunAt.Equal(now.Add(time.Hour)))
	})

	t.Run("unknown job inherits retries", func(t *testing.T) {
		f := enqueueFlags{payload: `{}`, queue: "bulk", at: "2030-01-02T03:04:05Z"}
		sub, err := f.submission(reg, reg.Codec(), "elsewhere", now)
		require.NoError(t, err)

		assert.Equal(t, job.InheritRetries, sub.MaxRetries)
		assert.Equal(t, "bulk", sub.Queue)
		assert.True(t, sub.RunAt.Equal(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)))
	})
}

func TestRecurring(t *testing.T) {
	out, err := run(t, "recurring", "add", "nightly", samplejobs.ReportGenerationName, "0 2 * * *",
		"--payload", `{"report_name":"sales"}`)
	require.NoError(t, err)
	assert.Equal(t, "nightly", strings.TrimSpace(out))

	_, err = run(t, "recurring", "add", "nightly", samplejobs.ReportGenerationName, "every night")
	assert.ErrorIs(t, err, ferry.ErrInvalidSchedule)

	_, err = run(t, "recurring", "remove", "missing")
	assert.NoError(t, err)

	_, err = run(t, "recurring", "trigger", "missing")
	assert.ErrorIs(t, err, ferry.ErrRecurringNotFound)

	out, err = run(t, "recurring", "list")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestCancel_UnknownJob(t *testing.T) {
	out, err := run(t, "cancel", "not-a-job-id")
	require.NoError(t, err)
	assert.Equal(t, "not cancelled", strings.TrimSpace(out))
}

func TestStats(t *testing.T) {
	out, err := run(t, "stats")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Contains(t, got, "jobs")
	assert.Contains(t, got, "worker_id")
}

func TestMigrate(t *testing.T) {
	_, err := run(t, "migrate")
	assert.NoError(t, err)
}

func TestConfig_RedactsPassword(t *testing.T) {
	t.Setenv("FERRY_STORE_URL", "postgres://ferry:s3cret@db:5432/jobs")
	t.Setenv("FERRY_QUEUES", "default,mail")

	out, err := run(t, "config")
	require.NoError(t, err)

	var cfg ferry.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.NotContains(t, out, "s3cret")
	assert.Equal(t, "postgres://ferry:xxxxx@db:5432/jobs", cfg.StoreURL)
	assert.Equal(t, []string{"default", "mail"}, cfg.Queues)
}

func TestConfig_Invalid(t *testing.T) {
	t.Setenv("FERRY_WORKER_COUNT", "0")

	_, err := run(t, "config")
	assert.ErrorIs(t, err, ferry.ErrInvalidConfig)
}
