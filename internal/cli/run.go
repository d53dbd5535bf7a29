package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/caps/internal/harness"
	"github.com/roach88/caps/internal/metrics"
	"github.com/roach88/caps/internal/restart"
	"github.com/roach88/caps/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database   string
	Session    string
	Checkpoint string
	Metrics    bool

	// NewSessionID overrides session id generation (for testing).
	// If nil, defaults to a random UUID.
	NewSessionID func() string
}

// RunResult is the outcome of one recorded run.
type RunResult struct {
	Scenario  string                `json:"scenario"`
	SessionID string                `json:"session_id"`
	Pass      bool                  `json:"pass"`
	Records   int                   `json:"records"`
	Steps     []harness.Observation `json:"steps"`
	Errors    []string              `json:"errors,omitempty"`
	Metrics   []metrics.Sample      `json:"metrics,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Drive a problem through a scenario and journal it",
		Long: `Run a scenario's steps against its problem description and record
every operation into a journal database (created if it doesn't exist).

Each run opens a new session. The session id is printed so the run can
be replayed or traced later.

Example:
  caps run --db ./caps.db ./scenarios/plate_sync.yaml
  caps run --db ./caps.db --session s1 --checkpoint ./restart/plate ./scenarios/plate_sync.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioLive(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id (default: random UUID)")
	cmd.Flags().StringVar(&opts.Checkpoint, "checkpoint", "", "write a restart directory after the run")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "report collector totals after the run")

	return cmd
}

// newLogger configures the process logger from the verbose flag.
func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	return signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
}

func runScenarioLive(opts *RunOptions, scenarioFile string, cmd *cobra.Command) error {
	logger := newLogger(opts.Verbose)

	scenario, err := harness.LoadScenario(scenarioFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	sessionID := opts.Session
	if sessionID == "" {
		gen := opts.NewSessionID
		if gen == nil {
			gen = uuid.NewString
		}
		sessionID = gen()
	}
	scenario.SessionID = sessionID

	logger.Info("opening database", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	runOpts := []harness.Option{harness.WithStore(st), harness.WithLogger(logger)}
	if opts.Checkpoint != "" {
		dir, err := restart.Open(opts.Checkpoint)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open restart directory", err)
		}
		runOpts = append(runOpts, harness.WithCheckpoint(dir))
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	logger.Info("run starting", "scenario", scenario.Name, "session", sessionID)
	result, err := harness.RunContext(ctx, scenario, runOpts...)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("interrupted, journal kept up to the signal", "session", sessionID)
		}
		return WrapExitError(ExitFailure, "run failed", err)
	}

	out := RunResult{
		Scenario:  scenario.Name,
		SessionID: result.SessionID,
		Pass:      result.Pass,
		Records:   len(result.Records),
		Steps:     result.Observations,
		Errors:    result.Errors,
	}
	if opts.Metrics {
		if out.Metrics, err = metrics.Snapshot(); err != nil {
			return WrapExitError(ExitCommandError, "failed to gather metrics", err)
		}
	}

	if opts.Format == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		status := "ok"
		if !out.Pass {
			status = "error"
		}
		if err := encoder.Encode(CLIResponse{Status: status, Data: out}); err != nil {
			return err
		}
	} else {
		outputRunText(cmd, out, result)
	}

	if !out.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}

func outputRunText(cmd *cobra.Command, out RunResult, result *harness.Result) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Session: %s\n", out.SessionID)
	fmt.Fprintln(w)
	for _, obs := range out.Steps {
		fmt.Fprintf(w, "  [%d] %-22s %-28s %s (s_num %d)\n", obs.Step, obs.Op, obs.Target, obs.Code, obs.SNum)
	}
	fmt.Fprintln(w)
	if result.Checkpoint != nil {
		fmt.Fprintf(w, "Checkpoint at seq %d (s_num %d)\n", result.Checkpoint.Seq, result.Checkpoint.SNum)
	}
	for _, m := range out.Metrics {
		fmt.Fprintf(w, "  %-40s %g\n", m.Name, m.Value)
	}
	if out.Pass {
		fmt.Fprintf(w, "✓ %s: %d record(s) journaled\n", out.Scenario, out.Records)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", out.Scenario)
	for _, e := range out.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}
