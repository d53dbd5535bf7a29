package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/caps/internal/ir"
)

// CycleWarning reports analyses that feed each other.
//
// A cycle makes the dependency order undefined, so a problem holding one
// cannot be walked or synchronized. Self-loops are reported at level
// "info" since the walker skips them.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["aero", "struct", "aero"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "error" or "info"
}

// AnalyzeCycles performs static cycle analysis on the analysis graph of a
// problem description.
//
// The algorithm:
//  1. Build the producer → consumer graph from value links and FieldIn
//     data set sources
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops
//
// Nodes are visited in declaration order so the result is deterministic.
// A DAG returns an empty warning list.
func AnalyzeCycles(spec *ir.ProblemSpec) []CycleWarning {
	if spec == nil || len(spec.Analyses) == 0 {
		return []CycleWarning{}
	}

	graph := buildDependencyGraph(spec)
	sccs := tarjanSCC(graph)

	warnings := []CycleWarning{}
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	return warnings
}

// dependencyGraph maps analysis → analyses consuming its results. order
// keeps declaration order for deterministic traversal.
type dependencyGraph struct {
	order []string
	edges map[string][]string
}

func (g *dependencyGraph) addEdge(from, to string) {
	if _, ok := g.edges[from]; !ok || from == "" || to == "" {
		return
	}
	if _, ok := g.edges[to]; !ok {
		return
	}
	for _, n := range g.edges[from] {
		if n == to {
			return
		}
	}
	g.edges[from] = append(g.edges[from], to)
}

// buildDependencyGraph constructs the analysis dependency graph.
//
// Edges run from producer to consumer:
//   - "a.out" → "b.in" value link: a → b
//   - "bound.vs.ds" → "b.in" value link: producer of ds → b
//   - FieldIn data set on vs: producer of its source → analysis of vs
//
// The producer of a FieldOut data set is its vertex set's analysis; a
// FieldIn data set produces whatever its source produces. User and
// sensitivity data sets have no producer.
func buildDependencyGraph(spec *ir.ProblemSpec) *dependencyGraph {
	g := &dependencyGraph{edges: make(map[string][]string)}
	for _, a := range spec.Analyses {
		if _, ok := g.edges[a.Name]; ok {
			continue
		}
		g.order = append(g.order, a.Name)
		g.edges[a.Name] = []string{}
	}

	type dataSet struct {
		analysis string
		kind     string
		source   string // bound-qualified for FieldIn
	}
	dataSets := make(map[string]dataSet)
	for _, b := range spec.Bounds {
		for _, vs := range b.VertexSets {
			for _, ds := range vs.DataSets {
				d := dataSet{analysis: vs.Analysis, kind: ds.Kind}
				if ds.Source != "" {
					d.source = b.Name + "." + ds.Source
				}
				dataSets[b.Name+"."+vs.Name+"."+ds.Name] = d
			}
		}
	}

	producer := func(ref string) string {
		for range len(dataSets) + 1 {
			d, ok := dataSets[ref]
			if !ok {
				return ""
			}
			switch d.kind {
			case ir.KindFieldOut:
				return d.analysis
			case ir.KindFieldIn:
				ref = d.source
			default:
				return ""
			}
		}
		return ""
	}

	for _, l := range spec.Links {
		target := splitRef(l.Target)
		if len(target) != 2 {
			continue
		}
		src := splitRef(l.Source)
		switch len(src) {
		case 2:
			g.addEdge(src[0], target[0])
		case 3:
			g.addEdge(producer(l.Source), target[0])
		}
	}

	for _, b := range spec.Bounds {
		for _, vs := range b.VertexSets {
			for _, ds := range vs.DataSets {
				if ds.Kind != ir.KindFieldIn || ds.Source == "" {
					continue
				}
				g.addEdge(producer(b.Name+"."+ds.Source), vs.Analysis)
			}
		}
	}
	return g
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph *dependencyGraph) bool {
	for _, neighbor := range graph.edges[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Returns a list of SCCs, where each SCC is a list of analysis names.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph *dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph.edges[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range graph.order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
func cycleSCCToWarning(scc []string, graph *dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		name := scc[0]
		return CycleWarning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("Analysis consumes its own results: %s → %s", name, name),
			Level:   "info",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Circular analysis dependency: %s", strings.Join(path, " → ")),
		Level:   "error",
	}
}

// reconstructCyclePath builds a cycle path from an SCC, starting at the
// member declared first.
func reconstructCyclePath(scc []string, graph *dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	var start string
	for _, node := range graph.order {
		if sccSet[node] {
			start = node
			break
		}
	}

	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph.edges[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}

		if next == "" {
			break
		}

		path = append(path, next)

		if next == start {
			break
		}

		current = next
	}

	return path
}
