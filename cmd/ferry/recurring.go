package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/ferry/job"
	"github.com/xraph/ferry/recurring"
)

func (a *app) recurringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recurring",
		Short: "Manage recurring jobs",
	}
	cmd.AddCommand(
		a.recurringAddCmd(),
		a.recurringListCmd(),
		a.recurringRemoveCmd(),
		a.recurringTriggerCmd(),
	)
	return cmd
}

func (a *app) recurringAddCmd() *cobra.Command {
	var payload, queue string

	cmd := &cobra.Command{
		Use:   "add <id> <job> <schedule>",
		Short: "Create or replace a recurring job",
		Example: `  ferry recurring add nightly-report report-generation "0 2 * * *" --payload '{"report_name":"sales"}'
  ferry recurring add heartbeat-mail email "@every 1h" --payload '{"to":"ops@example.com","subject":"alive"}'`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			data, err := encodeJSON(s.engine.Codec(), payload)
			if err != nil {
				return err
			}
			spec := recurring.Spec{
				ID:         args[0],
				JobName:    args[1],
				Schedule:   args[2],
				Payload:    data,
				MaxRetries: job.InheritRetries,
			}
			if entry, ok := s.engine.Registry().Lookup(spec.JobName); ok {
				spec.Queue = entry.Opts.Queue
				spec.MaxRetries = entry.Opts.MaxRetries
				spec.Timeout = entry.Opts.Timeout
			}
			if queue != "" {
				spec.Queue = queue
			}

			if err := s.engine.UpsertRecurring(cmd.Context(), spec); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), spec.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "{}", "JSON payload")
	cmd.Flags().StringVar(&queue, "queue", "", "queue override")
	return cmd
}

func (a *app) recurringListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recurring jobs as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			entries, err := s.engine.Store().ListRecurring(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd, entries)
		},
	}
}

func (a *app) recurringRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a recurring job; missing ids are ignored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			return s.engine.RemoveRecurring(cmd.Context(), args[0])
		},
	}
}

func (a *app) recurringTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <id>",
		Short: "Run a recurring job now without changing its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			jobID, err := s.engine.TriggerRecurring(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), jobID)
			return nil
		},
	}
}
