package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
	"github.com/roach88/caps/internal/queryir"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string
	Op       string // optional - filter to one opcode
	Failed   bool   // only records that did not return OK
	Since    int64  // only records with seq >= Since
}

// TraceEvent is one journal record in the timeline.
type TraceEvent struct {
	Seq     int64    `json:"seq"`
	ID      string   `json:"id"`
	Op      string   `json:"op"`
	Entity  string   `json:"entity"`
	Ordinal int64    `json:"ordinal"`
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Before  int64    `json:"s_num_before"`
	After   int64    `json:"s_num_after"`
	Inputs  []string `json:"inputs,omitempty"`
	Outputs []string `json:"outputs,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Session  ir.SessionInfo `json:"session"`
	Timeline []TraceEvent   `json:"timeline"`
	Stats    TraceStats     `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalRecords int            `json:"total_records"`
	Failed       int            `json:"failed"`
	ByOp         map[string]int `json:"by_op"`
	FinalSNum    int64          `json:"final_s_num"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the journal of a session",
		Long: `Show the journal of a recorded session.

Each record shows the operation, the entity it acted on, its outcome and
the serial clock window it spanned. Failed operations are journaled too
and show their error code as status.

The output includes:
- Timeline: Records in seq order
- Stats: Record counts per opcode and the final serial number

Examples:
  caps trace --db ./caps.db --session s1
  caps trace --db ./caps.db --session s1 --op Execute
  caps trace --db ./caps.db --session s1 --failed --since 20
  caps trace --db ./caps.db --session s1 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session to trace (required)")
	_ = cmd.MarkFlagRequired("session")
	cmd.Flags().StringVar(&opts.Op, "op", "", "filter to one opcode")
	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "only show failed operations")
	cmd.Flags().Int64Var(&opts.Since, "since", 0, "only show records from this seq on")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	info, err := st.Session(ctx, opts.Session)
	if errors.Is(err, sql.ErrNoRows) {
		return NewExitError(ExitCommandError, fmt.Sprintf("session not found: %s", opts.Session))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read session", err)
	}

	records, err := st.ReadRecords(ctx, opts.Session, 0)
	if err != nil {
		// A damaged record is a journal failure, not a usage error.
		return WrapExitError(ExitFailure, "failed to read journal", err)
	}

	selected, err := st.QueryRecords(ctx, opts.Session, traceQuery(opts))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to query journal", err)
	}

	result := TraceResult{
		Session:  info,
		Timeline: buildTimeline(selected),
		Stats:    buildStats(records),
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd, result, opts.Verbose)
}

// traceQuery builds the record query for the timeline filters.
func traceQuery(opts *TraceOptions) queryir.Select {
	var preds []queryir.Predicate
	if opts.Op != "" {
		preds = append(preds, queryir.Equals{Field: queryir.FieldOpName, Value: ir.IRString(opts.Op)})
	}
	if opts.Failed {
		preds = append(preds, queryir.NotEquals{Field: queryir.FieldStatus, Value: ir.IRString(errs.OK)})
	}
	if opts.Since > 0 {
		preds = append(preds, queryir.AtLeast{Field: queryir.FieldSeq, Value: opts.Since})
	}
	if len(preds) == 0 {
		return queryir.Select{}
	}
	return queryir.Select{Filter: queryir.And{Predicates: preds}}
}

// buildTimeline converts journal records to timeline events.
func buildTimeline(records []ir.Record) []TraceEvent {
	timeline := []TraceEvent{}
	for _, rec := range records {
		timeline = append(timeline, TraceEvent{
			Seq:     rec.Seq,
			ID:      rec.ID,
			Op:      rec.OpName,
			Entity:  formatRef(rec.Entity),
			Ordinal: rec.Ordinal,
			Status:  rec.Status,
			Message: rec.Message,
			Before:  rec.Before,
			After:   rec.After,
			Inputs:  formatArgs(rec.Inputs),
			Outputs: formatArgs(rec.Outputs),
		})
	}
	return timeline
}

func buildStats(records []ir.Record) TraceStats {
	stats := TraceStats{TotalRecords: len(records), ByOp: map[string]int{}}
	for _, rec := range records {
		stats.ByOp[rec.OpName]++
		if rec.Status != string(errs.OK) {
			stats.Failed++
		}
		stats.FinalSNum = max(stats.FinalSNum, rec.After)
	}
	return stats
}

// formatArgs renders journal arguments for display.
func formatArgs(args []ir.Arg) []string {
	if len(args) == 0 {
		return nil
	}
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = formatArg(a)
	}
	return out
}

// formatArg renders one argument. Reals print in shortest round-trip
// form; opaque payloads (entity deltas) print their size only.
func formatArg(a ir.Arg) string {
	switch a.Tag {
	case ir.TagInt:
		return strconv.FormatInt(a.Int, 10)
	case ir.TagReal:
		f, _ := a.AsReal()
		return strconv.FormatFloat(f, 'g', -1, 64)
	case ir.TagString:
		return strconv.Quote(a.Str)
	case ir.TagRef:
		return formatRef(a.Ref)
	case ir.TagRefs:
		parts := make([]string, len(a.Refs))
		for i, r := range a.Refs {
			parts[i] = formatRef(r)
		}
		return "[" + strings.Join(parts, " ") + "]"
	case ir.TagArray:
		fs, _ := a.AsArray()
		parts := make([]string, len(fs))
		for i, f := range fs {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "[" + strings.Join(parts, " ") + "]"
	case ir.TagOpaque:
		return fmt.Sprintf("<%d bytes>", len(a.Opaque))
	case ir.TagErrors:
		codes := make([]string, len(a.Errors))
		for i, e := range a.Errors {
			codes[i] = e.Code
		}
		return "errors(" + strings.Join(codes, ",") + ")"
	default:
		return string(a.Tag)
	}
}

func formatRef(r ir.Ref) string {
	if r.Gen == 0 {
		return "-"
	}
	return fmt.Sprintf("#%d.%d", r.Index, r.Gen)
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputTraceText outputs the trace result as text.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Trace for Session: %s\n", result.Session.ID)
	fmt.Fprintf(w, "Problem: %s (spec %s)\n", result.Session.Problem, shortHash(result.Session.SpecHash))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no records)")
	} else {
		for _, event := range result.Timeline {
			formatTimelineEvent(w, event, verbose)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Records: %d\n", result.Stats.TotalRecords)
	fmt.Fprintf(w, "  Failed:        %d\n", result.Stats.Failed)
	fmt.Fprintf(w, "  Final s_num:   %d\n", result.Stats.FinalSNum)
	ops := make([]string, 0, len(result.Stats.ByOp))
	for op := range result.Stats.ByOp {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		fmt.Fprintf(w, "  %-20s %d\n", op, result.Stats.ByOp[op])
	}

	return nil
}

// formatTimelineEvent formats a single timeline event for text output.
func formatTimelineEvent(w io.Writer, event TraceEvent, verbose bool) {
	fmt.Fprintf(w, "  [%d] %s %s %s (s_num %d → %d)\n",
		event.Seq, event.Op, event.Entity, event.Status, event.Before, event.After)
	if event.Message != "" {
		fmt.Fprintf(w, "       %s\n", event.Message)
	}
	if !verbose {
		return
	}
	if len(event.Inputs) > 0 {
		fmt.Fprintf(w, "       In:  %s\n", strings.Join(event.Inputs, ", "))
	}
	if len(event.Outputs) > 0 {
		fmt.Fprintf(w, "       Out: %s\n", strings.Join(event.Outputs, ", "))
	}
	fmt.Fprintf(w, "       ID: %s\n", truncateID(event.ID))
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
