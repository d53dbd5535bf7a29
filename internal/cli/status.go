package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Database string
}

// SessionStatus summarizes one journaled session.
type SessionStatus struct {
	ID             string `json:"id"`
	Problem        string `json:"problem"`
	SpecHash       string `json:"spec_hash"`
	EngineVersion  string `json:"engine_version"`
	Records        int64  `json:"records"`
	CheckpointSeq  int64  `json:"checkpoint_seq,omitempty"`
	CheckpointSNum int64  `json:"checkpoint_s_num,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List journaled sessions",
		Long: `List the sessions recorded in a journal database with their record
counts and latest checkpoint.

Examples:
  caps status --db ./caps.db
  caps status --db ./caps.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := st.Sessions(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list sessions", err)
	}

	statuses := make([]SessionStatus, 0, len(sessions))
	for _, info := range sessions {
		s := SessionStatus{
			ID:            info.ID,
			Problem:       info.Problem,
			SpecHash:      info.SpecHash,
			EngineVersion: info.EngineVersion,
		}
		if s.Records, err = st.LastSeq(ctx, info.ID); err != nil {
			return WrapExitError(ExitCommandError, "failed to read session", err)
		}
		cp, ok, err := st.LatestCheckpoint(ctx, info.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read checkpoint", err)
		}
		if ok {
			s.CheckpointSeq = cp.Seq
			s.CheckpointSNum = cp.SNum
		}
		statuses = append(statuses, s)
	}

	if opts.Format == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: statuses})
	}

	w := cmd.OutOrStdout()
	if len(statuses) == 0 {
		fmt.Fprintln(w, "No sessions found in database.")
		return nil
	}
	fmt.Fprintf(w, "%d session(s)\n\n", len(statuses))
	for _, s := range statuses {
		fmt.Fprintf(w, "%s  %s  spec %s  %d record(s)", s.ID, s.Problem, shortHash(s.SpecHash), s.Records)
		if s.CheckpointSeq > 0 {
			fmt.Fprintf(w, "  checkpoint seq %d", s.CheckpointSeq)
		}
		fmt.Fprintln(w)
	}
	return nil
}
