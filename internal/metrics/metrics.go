// Package metrics exposes Prometheus collectors for the caps core.
//
// Collectors register on the default registry at init. Label values are
// drawn from closed sets (opcode names, status names, transfer methods).
package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "caps"

var (
	// JournalRecords counts records appended, by opcode name and session mode.
	JournalRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "records_total",
			Help:      "Journal records appended by opcode and mode",
		},
		[]string{"op", "mode"},
	)

	// JournalReplayHits counts calls answered from the journal.
	JournalReplayHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "replay_hits_total",
			Help:      "Calls answered from recorded journal entries by opcode",
		},
		[]string{"op"},
	)

	// JournalErrors counts journal failures by kind ("mismatch", "window",
	// "restore", "io").
	JournalErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "errors_total",
			Help:      "Journal failures by kind",
		},
		[]string{"kind"},
	)

	// OracleQueries counts staleness queries by resulting status.
	OracleQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "queries_total",
			Help:      "Analysis staleness queries by status",
		},
		[]string{"status"},
	)

	// BoundTransitions counts bound state changes by target state.
	BoundTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bound",
			Name:      "transitions_total",
			Help:      "Bound state transitions by target state",
		},
		[]string{"state"},
	)

	// TransferPoints counts target points filled, by method.
	TransferPoints = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "points_total",
			Help:      "Target points transferred by method",
		},
		[]string{"method"},
	)

	// TransferNotFound counts target points whose source element could not be located.
	TransferNotFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "not_found_total",
			Help:      "Target points that could not be located on the source",
		},
	)

	// ConserveIterations observes conjugate-gradient iterations per rank solve.
	ConserveIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "conserve_iterations",
			Help:      "Conjugate-gradient iterations per conserve solve",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// QuiltFits counts quilt fits by result ("converged", "failed").
	QuiltFits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quilt",
			Name:      "fits_total",
			Help:      "Quilt reparameterization fits by result",
		},
		[]string{"result"},
	)

	// QuiltRMS observes the achieved RMS error of converged quilt fits.
	QuiltRMS = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "quilt",
			Name:      "rms_error",
			Help:      "RMS error of quilt fits",
			Buckets:   prometheus.ExponentialBuckets(1e-12, 10, 12),
		},
	)
)

// Sample is one scalar reading of a collector.
type Sample struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Snapshot gathers the caps counters from the default registry, summed
// over labels and sorted by name. Histograms report their sample count.
func Snapshot() ([]Sample, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, err
	}
	var out []Sample
	for _, mf := range families {
		name := mf.GetName()
		if len(name) < len(namespace)+1 || name[:len(namespace)+1] != namespace+"_" {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
		out = append(out, Sample{Name: name, Value: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
