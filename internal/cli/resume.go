package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/caps/internal/problem"
	"github.com/roach88/caps/internal/restart"
)

// ResumeOptions holds flags for the resume command.
type ResumeOptions struct {
	*RootOptions
	Database   string
	Checkpoint string
	Problem    string
	Sync       bool
}

// AnalysisState is the status of one analysis after resuming.
type AnalysisState struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// ResumeResult describes a resumed problem.
type ResumeResult struct {
	Problem   string          `json:"problem"`
	SessionID string          `json:"session_id"`
	Seq       int64           `json:"seq"`
	SNum      int64           `json:"s_num"`
	Ran       []string        `json:"ran,omitempty"`
	Analyses  []AnalysisState `json:"analyses"`
}

// NewResumeCommand creates the resume command.
func NewResumeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResumeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resume <specs>",
		Short: "Reopen a problem from its restart directory",
		Long: `Reopen a problem from a restart directory written by "caps run
--checkpoint" and continue its session live.

The entity graph is restored from the snapshot and checked against the
per-analysis dumps. The status of every analysis is then queried; with
--sync the problem is first brought up to date.

Examples:
  caps resume --db ./caps.db --checkpoint ./restart/plate ./specs
  caps resume --db ./caps.db --checkpoint ./restart/plate --sync ./specs/plate.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Checkpoint, "checkpoint", "", "restart directory (required)")
	_ = cmd.MarkFlagRequired("checkpoint")
	cmd.Flags().StringVar(&opts.Problem, "problem", "", "problem to resume when the specs declare several")
	cmd.Flags().BoolVar(&opts.Sync, "sync", false, "bring every analysis up to date")

	return cmd
}

func runResume(opts *ResumeOptions, specs string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := newLogger(opts.Verbose)

	loadResult, loadErrors := LoadSpecs(specs, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return WrapExitError(ExitCommandError, "failed to load specs", loadErrors[0])
	}
	spec, err := loadResult.Problem(opts.Problem)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to select problem", err)
	}

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	dir, err := restart.Open(opts.Checkpoint)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open restart directory", err)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	p, err := problem.Resume(ctx, spec, dir, problem.WithLog(st), problem.WithLogger(logger))
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStore, "resume failed", err)
	}
	defer p.Close()

	result := ResumeResult{Problem: spec.Name, SessionID: p.Session().ID()}
	if opts.Sync {
		if result.Ran, err = p.Sync(ctx); err != nil {
			return formatter.Fail(ExitFailure, ErrCodeGeneric, "sync failed", err)
		}
	}
	if result.Analyses, err = analysisStates(ctx, p); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "status failed", err)
	}
	result.Seq = p.Session().Seq()
	result.SNum = p.SNum()

	if opts.Format == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: result})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Resumed %s (session %s) at seq %d, s_num %d\n", result.Problem, result.SessionID, result.Seq, result.SNum)
	if opts.Sync {
		fmt.Fprintf(w, "Synced: %v\n", result.Ran)
	}
	for _, a := range result.Analyses {
		fmt.Fprintf(w, "  %-20s %s\n", a.Name, a.Status)
	}
	return nil
}

func analysisStates(ctx context.Context, p *problem.Problem) ([]AnalysisState, error) {
	states := []AnalysisState{}
	for _, name := range p.Analyses() {
		h, err := p.Analysis(name)
		if err != nil {
			return nil, err
		}
		st, err := p.AnalysisStatus(ctx, h)
		if err != nil {
			return nil, err
		}
		states = append(states, AnalysisState{Name: name, Status: st.String()})
	}
	return states, nil
}
