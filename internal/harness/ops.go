package harness

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/roach88/caps/internal/entity"
	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/problem"
)

const defaultTolerance = 1e-9

// execStep runs one step and records what it returned. The returned error
// is the operation's own error, already folded into the observation.
func execStep(ctx context.Context, p *problem.Problem, i int, step Step) (Observation, error) {
	obs := Observation{Step: i, Op: step.Op, Target: step.Target}
	err := dispatch(ctx, p, step, &obs)
	obs.Code = string(errs.CodeOf(err))
	obs.SNum = p.SNum()
	return obs, err
}

func dispatch(ctx context.Context, p *problem.Problem, step Step, obs *Observation) error {
	switch step.Op {
	case OpLoad:
		return p.Load(ctx)

	case OpSetValue:
		h, err := valueHandle(p, step.Target)
		if err != nil {
			return err
		}
		return p.SetValue(ctx, h, step.Value)

	case OpLinkValue:
		target, err := valueHandle(p, step.Target)
		if err != nil {
			return err
		}
		if strings.Count(step.Source, ".") == 2 {
			src, err := p.DataSet(step.Source)
			if err != nil {
				return err
			}
			return p.LinkValueToDataSet(ctx, target, src)
		}
		src, err := valueHandle(p, step.Source)
		if err != nil {
			return err
		}
		return p.LinkValue(ctx, target, src, step.Method)

	case OpUnlinkValue:
		h, err := valueHandle(p, step.Target)
		if err != nil {
			return err
		}
		return p.UnlinkValue(ctx, h)

	case OpPreAnalysis, OpExecute, OpPostAnalysis:
		h, err := p.Analysis(step.Target)
		if err != nil {
			return err
		}
		switch step.Op {
		case OpPreAnalysis:
			return p.PreAnalysis(ctx, h)
		case OpExecute:
			return p.Execute(ctx, h)
		default:
			return p.PostAnalysis(ctx, h)
		}

	case OpGetOutput:
		h, err := valueHandle(p, step.Target)
		if err != nil {
			return err
		}
		obs.Values, err = p.GetOutput(ctx, h)
		return err

	case OpStatus:
		h, err := p.Analysis(step.Target)
		if err != nil {
			return err
		}
		st, err := p.AnalysisStatus(ctx, h)
		if err != nil {
			return err
		}
		obs.Status = st.String()
		return nil

	case OpWalk:
		entries, err := p.Walk(ctx)
		if err != nil {
			return err
		}
		obs.Names = make([]string, 0, len(entries))
		for _, e := range entries {
			obs.Names = append(obs.Names, e.Name)
		}
		return nil

	case OpSync:
		ran, err := p.Sync(ctx)
		obs.Names = ran
		return err

	case OpSetGeometryParam:
		return p.SetGeometryParam(ctx, step.Target, step.Value[0])

	case OpRegisterSensitivity:
		return p.RegisterSensitivity(ctx, step.Target)

	case OpGeometrySensitivity:
		v, err := p.GeometrySensitivity(ctx, step.Target, step.Face, step.UV)
		if err != nil {
			return err
		}
		obs.Values = v[:]
		return nil

	case OpCloseBound, OpRebuildBound, OpDestroyBound:
		h, err := p.Bound(step.Target)
		if err != nil {
			return err
		}
		switch step.Op {
		case OpCloseBound:
			return p.CloseBound(ctx, h)
		case OpRebuildBound:
			return p.RebuildBound(ctx, h)
		default:
			return p.DestroyBound(ctx, h)
		}

	case OpGetData:
		h, err := p.DataSet(step.Target)
		if err != nil {
			return err
		}
		obs.Rank, obs.Values, err = p.GetData(ctx, h)
		return err

	case OpSetData:
		h, err := p.DataSet(step.Target)
		if err != nil {
			return err
		}
		return p.SetData(ctx, h, step.Value)

	case OpSetAttr, OpDeleteAttr:
		h, err := entityHandle(p, step.Target)
		if err != nil {
			return err
		}
		if step.Op == OpDeleteAttr {
			return p.DeleteAttr(ctx, h, step.Attr)
		}
		return p.SetAttr(ctx, h, entity.Attr{Name: step.Attr, Reals: step.Value})
	}
	return fmt.Errorf("unknown op %q", step.Op)
}

// valueHandle resolves "analysis.value", inputs first.
func valueHandle(p *problem.Problem, ref string) (entity.Handle, error) {
	analysis, name, ok := strings.Cut(ref, ".")
	if !ok {
		return entity.Null, errs.New(errs.RangeError, "value reference %q is not analysis.value", ref)
	}
	if h, err := p.Input(analysis, name); err == nil {
		return h, nil
	}
	return p.Output(analysis, name)
}

// entityHandle resolves any named entity: an analysis or bound, a value or
// vertex set, or a data set, by the number of path segments.
func entityHandle(p *problem.Problem, ref string) (entity.Handle, error) {
	parts := strings.Split(ref, ".")
	switch len(parts) {
	case 1:
		if h, err := p.Analysis(ref); err == nil {
			return h, nil
		}
		return p.Bound(ref)
	case 2:
		if h, err := valueHandle(p, ref); err == nil {
			return h, nil
		}
		return p.VertexSet(parts[0], parts[1])
	case 3:
		return p.DataSet(ref)
	}
	return entity.Null, errs.New(errs.RangeError, "entity reference %q", ref)
}

// checkExpect compares an observation with the step's expectation and
// returns the mismatches.
func checkExpect(step Step, obs Observation) []string {
	want := step.Expect
	if want == nil {
		want = &Expect{}
	}
	wantCode := want.Error
	if wantCode == "" {
		wantCode = string(errs.OK)
	}

	var problems []string
	if obs.Code != wantCode {
		problems = append(problems, fmt.Sprintf("expected %s, got %s", wantCode, obs.Code))
		return problems
	}
	if len(want.Value) > 0 {
		if msg := compareValues(want.Value, obs.Values, want.Tolerance); msg != "" {
			problems = append(problems, msg)
		}
	}
	if want.Count > 0 {
		got := len(obs.Values)
		if step.Op == OpWalk || step.Op == OpSync {
			got = len(obs.Names)
		}
		if got != want.Count {
			problems = append(problems, fmt.Sprintf("expected %d results, got %d", want.Count, got))
		}
	}
	if want.Names != nil && !slices.Equal(want.Names, obs.Names) {
		problems = append(problems, fmt.Sprintf("expected names %v, got %v", want.Names, obs.Names))
	}
	if want.Status != "" && want.Status != obs.Status {
		problems = append(problems, fmt.Sprintf("expected status %s, got %s", want.Status, obs.Status))
	}
	return problems
}

// compareValues returns a mismatch description, or "" when every entry is
// within tol.
func compareValues(want, got []float64, tol float64) string {
	if tol <= 0 {
		tol = defaultTolerance
	}
	if len(want) != len(got) {
		return fmt.Sprintf("expected %d values %v, got %d values %v", len(want), want, len(got), got)
	}
	for i := range want {
		if math.Abs(want[i]-got[i]) > tol {
			return fmt.Sprintf("value[%d]: expected %g, got %g (tolerance %g)", i, want[i], got[i], tol)
		}
	}
	return ""
}
