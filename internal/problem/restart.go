package problem

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/roach88/caps/internal/clock"
	"github.com/roach88/caps/internal/entity"
	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
	"github.com/roach88/caps/internal/restart"
)

// Snapshot is the persisted entity graph of a problem at one journal
// position.
type Snapshot struct {
	Session string        `json:"session"`
	Seq     int64         `json:"seq"`
	SNum    int64         `json:"s_num"`
	Root    entity.Handle `json:"root"`
	Slots   []slotRecord  `json:"slots"`
	Free    []uint32      `json:"free"`
}

// ValueDump is one value in an analysis dump.
type ValueDump struct {
	Name  string    `json:"name"`
	Data  []float64 `json:"data"`
	Units string    `json:"units,omitempty"`
	Link  string    `json:"link,omitempty"`
}

// AnalysisDump is the per-analysis directory of a restart.
type AnalysisDump struct {
	AIM     string      `json:"aim"`
	Mode    string      `json:"mode"`
	Pre     int64       `json:"pre"`
	Inputs  []ValueDump `json:"inputs"`
	Outputs []ValueDump `json:"outputs"`
}

// checkpointer is implemented by journal logs that index checkpoints.
type checkpointer interface {
	WriteCheckpoint(ctx context.Context, cp ir.Checkpoint) error
}

// Checkpoint writes the problem's restart directory and, when the journal
// log supports it, records the checkpoint against the session.
func (p *Problem) Checkpoint(ctx context.Context, dir *restart.Dir) (ir.Checkpoint, error) {
	if p.closed {
		return ir.Checkpoint{}, errs.New(errs.IllegalState, "problem %s is closed", p.spec.Name)
	}
	if err := p.session.Err(); err != nil {
		return ir.Checkpoint{}, err
	}
	snap := Snapshot{
		Session: p.session.ID(),
		Seq:     p.session.Seq(),
		SNum:    p.clk.Current(),
		Root:    p.root,
		Free:    p.arena.Free(),
	}
	for idx := range p.arena.Capacity() {
		rec, err := p.encodeSlot(uint32(idx))
		if err != nil {
			return ir.Checkpoint{}, err
		}
		snap.Slots = append(snap.Slots, rec)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return ir.Checkpoint{}, fmt.Errorf("encode snapshot: %w", err)
	}

	if err := dir.WriteSnapshot(data); err != nil {
		return ir.Checkpoint{}, err
	}
	root := p.rootObj()
	var lines []restart.AnalysisLine
	for _, h := range root.Analyses {
		dump, err := p.dump(h)
		if err != nil {
			return ir.Checkpoint{}, err
		}
		name := p.name(h)
		if err := dir.WriteDump(name, dump); err != nil {
			return ir.Checkpoint{}, err
		}
		lines = append(lines, restart.AnalysisLine{Inputs: len(dump.Inputs), Outputs: len(dump.Outputs), Name: name})
	}
	if err := dir.WriteAnalyses(lines); err != nil {
		return ir.Checkpoint{}, err
	}
	var bounds []restart.BoundLine
	for i, h := range root.Bounds {
		bounds = append(bounds, restart.BoundLine{Index: i + 1, Name: p.name(h)})
	}
	if err := dir.WriteBounds(bounds); err != nil {
		return ir.Checkpoint{}, err
	}
	// The serial number goes last; a restart without it is incomplete.
	if err := dir.WriteSNum(snap.SNum); err != nil {
		return ir.Checkpoint{}, err
	}

	cp := ir.Checkpoint{SessionID: snap.Session, Seq: snap.Seq, SNum: snap.SNum, Hash: ir.SnapshotHash(data)}
	if c, ok := p.log.(checkpointer); ok {
		if err := c.WriteCheckpoint(ctx, cp); err != nil {
			return cp, err
		}
	}
	p.logger.Info("checkpoint written", "dir", dir.Root(), "seq", cp.Seq, "s_num", cp.SNum)
	return cp, nil
}

func (p *Problem) dump(h entity.Handle) (AnalysisDump, error) {
	an, _, err := lookup[*Analysis](p, h, entity.KindAnalysis)
	if err != nil {
		return AnalysisDump{}, err
	}
	d := AnalysisDump{AIM: an.AIM, Mode: an.Mode, Pre: an.Pre.SNum, Inputs: []ValueDump{}, Outputs: []ValueDump{}}
	for _, set := range []struct {
		hs  []entity.Handle
		out *[]ValueDump
	}{{an.Inputs, &d.Inputs}, {an.Outputs, &d.Outputs}} {
		for _, vh := range set.hs {
			v, hdr, err := lookup[*Value](p, vh, entity.KindValue)
			if err != nil {
				return AnalysisDump{}, err
			}
			vd := ValueDump{Name: hdr.Name, Data: slices.Clone(v.Data), Units: v.Units}
			if !v.Link.IsNull() {
				vd.Link = p.label(v.Link)
			}
			*set.out = append(*set.out, vd)
		}
	}
	return d, nil
}

// Resume reopens a problem from its restart directory: the entity graph is
// restored from the snapshot and the journal records written after the
// checkpoint are replayed, after which the session continues live. The
// journal log holding the session must be passed with WithLog.
func Resume(ctx context.Context, spec *ir.ProblemSpec, dir *restart.Dir, opts ...Option) (*Problem, error) {
	data, err := dir.ReadSnapshot()
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errs.Wrap(errs.JournalCorrupt, err, "decode snapshot")
	}
	sNum, err := dir.ReadSNum()
	if err != nil {
		return nil, err
	}
	if sNum != snap.SNum {
		return nil, errs.New(errs.JournalCorrupt, "restart serial number %d does not match snapshot %d", sNum, snap.SNum)
	}

	opts = append(opts, withSnapshot(&snap), WithReplay(snap.Session, snap.Seq))
	p, err := New(ctx, spec, opts...)
	if err != nil {
		return nil, err
	}
	if err := p.verifyDumps(dir); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// verifyDumps checks the manifests and per-analysis dumps against the
// restored graph.
func (p *Problem) verifyDumps(dir *restart.Dir) error {
	lines, err := dir.ReadAnalyses()
	if err != nil {
		return err
	}
	root := p.rootObj()
	if len(lines) != len(root.Analyses) {
		return errs.New(errs.JournalCorrupt, "manifest lists %d analyses, snapshot holds %d", len(lines), len(root.Analyses))
	}
	for i, line := range lines {
		h := root.Analyses[i]
		want, err := p.dump(h)
		if err != nil {
			return err
		}
		if line.Name != p.name(h) || line.Inputs != len(want.Inputs) || line.Outputs != len(want.Outputs) {
			return errs.New(errs.JournalCorrupt, "manifest line %d (%d %d %s) does not match the snapshot", i+1, line.Inputs, line.Outputs, line.Name)
		}
		var got AnalysisDump
		if err := dir.ReadDump(line.Name, &got); err != nil {
			return err
		}
		if !dumpsEqual(got, want) {
			return errs.New(errs.JournalCorrupt, "dump of %s does not match the snapshot", line.Name)
		}
	}
	bounds, err := dir.ReadBounds()
	if err != nil {
		return err
	}
	if len(bounds) != len(root.Bounds) {
		return errs.New(errs.JournalCorrupt, "manifest lists %d bounds, snapshot holds %d", len(bounds), len(root.Bounds))
	}
	for i, b := range bounds {
		if b.Index != i+1 || b.Name != p.name(root.Bounds[i]) {
			return errs.New(errs.JournalCorrupt, "bound manifest line %d (%d %s) does not match the snapshot", i+1, b.Index, b.Name)
		}
	}
	return nil
}

func dumpsEqual(a, b AnalysisDump) bool {
	eq := func(x, y []ValueDump) bool {
		return slices.EqualFunc(x, y, func(u, v ValueDump) bool {
			return u.Name == v.Name && u.Units == v.Units && u.Link == v.Link && slices.Equal(u.Data, v.Data)
		})
	}
	return a.AIM == b.AIM && a.Mode == b.Mode && a.Pre == b.Pre && eq(a.Inputs, b.Inputs) && eq(a.Outputs, b.Outputs)
}

// restoreSnapshot installs a snapshot into a fresh arena and clock.
// Collaborator instances and geometry are rebuilt lazily on first use.
func (p *Problem) restoreSnapshot(s *Snapshot) error {
	p.clk = clock.NewSerialAt(s.SNum)
	p.arena = entity.NewArena[Object]()
	slots := slices.Clone(s.Slots)
	slices.SortFunc(slots, func(a, b slotRecord) int { return int(a.Index) - int(b.Index) })
	if err := p.install(slots, s.Free); err != nil {
		return errs.Wrap(errs.JournalCorrupt, err, "restore snapshot")
	}
	p.arena.ResetChanges()
	p.root = s.Root
	if _, _, err := lookup[*Root](p, p.root, entity.KindProblem); err != nil {
		return errs.Wrap(errs.JournalCorrupt, err, "snapshot root")
	}
	return nil
}
