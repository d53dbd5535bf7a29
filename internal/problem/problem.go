package problem

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/caps/internal/aim"
	"github.com/roach88/caps/internal/aim/planar"
	"github.com/roach88/caps/internal/clock"
	"github.com/roach88/caps/internal/entity"
	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
	"github.com/roach88/caps/internal/journal"
	"github.com/roach88/caps/internal/quilt"
	"github.com/roach88/caps/internal/transfer"
	"github.com/roach88/caps/internal/units"
)

// Problem is the root of one coupled analysis problem.
//
// Not safe for concurrent use; callers serialize access.
type Problem struct {
	spec     *ir.ProblemSpec
	arena    *entity.Arena[Object]
	root     entity.Handle
	clk      *clock.Serial
	log      journal.Log
	session  *journal.Session
	diags    errs.Diagnostics
	units    *units.Context
	ownUnits bool
	registry *aim.Registry
	modeler  aim.Modeler
	prov     entity.Provenance
	logger   *slog.Logger
	conserve transfer.Options
	quilt    quilt.Options

	instances map[entity.Handle]aim.AIM
	geom      aim.Geometry
	geomBuilt int64
	active    map[entity.Handle]bool

	op     opState
	closed bool
}

type opState struct {
	sNum    int64
	advance int
}

// Option configures a Problem.
type Option func(*config)

type config struct {
	log       journal.Log
	ids       journal.IDGenerator
	sessionID string
	replay    bool
	afterSeq  int64
	registry  *aim.Registry
	modeler   aim.Modeler
	prov      entity.Provenance
	logger    *slog.Logger
	conserve  transfer.Options
	quilt     quilt.Options
	units     *units.Context
	snapshot  *Snapshot
}

// WithLog sets the journal log. Default: a private in-memory log.
func WithLog(l journal.Log) Option {
	return func(c *config) { c.log = l }
}

// WithSessionIDs sets the generator for new session ids.
//
// Default: UUIDv7. Use journal.NewFixedGenerator in tests.
func WithSessionIDs(g journal.IDGenerator) Option {
	return func(c *config) { c.ids = g }
}

// WithReplay reopens a recorded session instead of starting a new one.
// Records after afterSeq are replayed; the session then continues live.
func WithReplay(sessionID string, afterSeq int64) Option {
	return func(c *config) {
		c.replay = true
		c.sessionID = sessionID
		c.afterSeq = afterSeq
	}
}

// WithRegistry sets the AIM registry. Default: the planar AIM only.
func WithRegistry(r *aim.Registry) Option {
	return func(c *config) { c.registry = r }
}

// WithModeler sets the geometry modeler. Default: a planar model of the
// description's geometry.
func WithModeler(m aim.Modeler) Option {
	return func(c *config) { c.modeler = m }
}

// WithProvenance sets the stamp source. Default: entity.SystemProvenance.
func WithProvenance(p entity.Provenance) Option {
	return func(c *config) { c.prov = p }
}

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithConserveOptions tunes conserving transfers.
func WithConserveOptions(o transfer.Options) Option {
	return func(c *config) { c.conserve = o }
}

// WithQuiltOptions tunes quilt fits.
func WithQuiltOptions(o quilt.Options) Option {
	return func(c *config) { c.quilt = o }
}

// WithUnits shares a unit context. The Problem does not close a shared
// context. Default: a private context closed with the Problem.
func WithUnits(u *units.Context) Option {
	return func(c *config) { c.units = u }
}

func withSnapshot(s *Snapshot) Option {
	return func(c *config) { c.snapshot = s }
}

// New creates a Problem for a compiled description and opens its journal
// session. The description's analyses and bounds are not created; call
// Load for that.
func New(ctx context.Context, spec *ir.ProblemSpec, opts ...Option) (*Problem, error) {
	if spec == nil {
		return nil, errs.New(errs.NullReference, "no problem description")
	}
	cfg := config{
		ids:  journal.UUIDv7Generator{},
		prov: entity.SystemProvenance{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.log == nil {
		cfg.log = journal.NewMemoryLog()
	}
	if cfg.registry == nil {
		cfg.registry = aim.NewRegistry()
		planar.Register(cfg.registry, nil)
	}
	if cfg.modeler == nil {
		cfg.modeler = planar.NewModel(spec.Name, spec.Geometry, nil)
	}

	hash, err := ir.SpecHash(spec)
	if err != nil {
		return nil, fmt.Errorf("new problem: %w", err)
	}

	p := &Problem{
		spec:      spec,
		log:       cfg.log,
		units:     cfg.units,
		registry:  cfg.registry,
		modeler:   cfg.modeler,
		prov:      cfg.prov,
		logger:    cfg.logger.With("problem", spec.Name),
		conserve:  cfg.conserve,
		quilt:     cfg.quilt,
		instances: make(map[entity.Handle]aim.AIM),
		geomBuilt: -1,
		active:    make(map[entity.Handle]bool),
	}
	p.conserve.Logger = p.logger
	p.quilt.Logger = p.logger
	if p.units == nil {
		p.units = units.New()
		p.ownUnits = true
	}

	if cfg.snapshot != nil {
		if err := p.restoreSnapshot(cfg.snapshot); err != nil {
			return nil, fmt.Errorf("new problem: %w", err)
		}
	} else {
		p.clk = clock.NewSerial()
		p.arena = entity.NewArena[Object]()
		p.root = p.arena.Create(entity.KindProblem, entity.Null, spec.Name, newRoot(spec), p.prov.Stamp(0, "new"))
		p.arena.ResetChanges()
	}

	info := ir.SessionInfo{
		Problem:       spec.Name,
		SpecHash:      hash,
		EngineVersion: ir.EngineVersion,
		IRVersion:     ir.IRVersion,
	}
	if cfg.replay {
		info.ID = cfg.sessionID
		p.session, err = journal.NewReplay(ctx, cfg.log, info, p.clk, p.logger, cfg.afterSeq)
	} else {
		info.ID = cfg.ids.Generate()
		p.session, err = journal.NewLive(ctx, cfg.log, info, p.clk, p.logger)
	}
	if err != nil {
		p.Close()
		return nil, err
	}
	p.logger.Debug("problem opened", "session", info.ID, "mode", p.session.Mode(), "s_num", p.clk.Current())
	return p, nil
}

func newRoot(spec *ir.ProblemSpec) *Root {
	r := &Root{Analyses: []entity.Handle{}, Bounds: []entity.Handle{}}
	for _, prm := range spec.Geometry.Params {
		r.Params = append(r.Params, Param{Name: prm.Name, Value: prm.Value})
	}
	r.Sensitivities = append(r.Sensitivities, spec.Geometry.Sensitivities...)
	return r
}

// Close tears the Problem down: collaborator instances are released and
// every entity is destroyed, so outstanding handles fail with
// InvalidHandle. Close is idempotent.
func (p *Problem) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	clear(p.instances)
	p.geom = nil
	if p.arena != nil {
		var live []entity.Handle
		p.arena.Each(func(h entity.Handle, _ *entity.Header, _ Object) bool {
			live = append(live, h)
			return true
		})
		for _, h := range live {
			_ = p.arena.Destroy(h)
		}
	}
	if p.ownUnits {
		return p.units.Close()
	}
	return nil
}

// call runs one journaled operation. body performs it and returns the
// operation's result arguments; the arena delta is appended and stripped
// transparently.
func (p *Problem) call(ctx context.Context, op journal.Opcode, target entity.Handle, inputs []ir.Arg, body func() ([]ir.Arg, error)) ([]ir.Arg, error) {
	if p.closed {
		return nil, errs.New(errs.IllegalState, "problem %s is closed", p.spec.Name)
	}
	p.diags.Reset()
	out, err := p.session.Do(ctx, journal.Call{
		Op:     op,
		Entity: refOf(target),
		Inputs: inputs,
		Exec: func() ([]ir.Arg, error) {
			p.begin()
			res, opErr := body()
			d, derr := p.encodeDelta()
			if derr != nil {
				return nil, errs.Wrap(errs.Internal, derr, "encode %s delta", op)
			}
			return append(res, d), opErr
		},
		Restore: func(recorded []ir.Arg) error {
			if len(recorded) == 0 {
				return fmt.Errorf("%s: no delta recorded", op)
			}
			return p.applyDelta(recorded[len(recorded)-1])
		},
	})
	if len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, err
}

func (p *Problem) begin() {
	p.op = opState{}
	p.arena.ResetChanges()
}

// tick returns the serial number of the running operation, advancing the
// clock on first use.
func (p *Problem) tick() int64 {
	if p.op.sNum == 0 {
		p.op.sNum = p.clk.Next()
		p.op.advance++
	}
	return p.op.sNum
}

func (p *Problem) stamp(phase string, lines ...string) entity.Stamp {
	st := p.prov.Stamp(p.tick(), phase)
	st.Lines = lines
	return st
}

// touch restamps an entity at the running operation's serial number.
func (p *Problem) touch(h entity.Handle, phase string, lines ...string) int64 {
	st := p.stamp(phase, lines...)
	if hdr, err := p.arena.Header(h); err == nil {
		hdr.Touch(st)
		p.arena.Mark(h)
	}
	return st.SNum
}

// fill restamps a cache fill at the serial number of its source data,
// never below the entity's current stamp.
func (p *Problem) fill(h entity.Handle, sNum int64, phase string) {
	hdr, err := p.arena.Header(h)
	if err != nil {
		return
	}
	hdr.Touch(p.prov.Stamp(max(sNum, hdr.Last.SNum), phase))
	p.arena.Mark(h)
}

func (p *Problem) create(kind entity.Kind, parent entity.Handle, name string, obj Object, phase string) entity.Handle {
	return p.arena.Create(kind, parent, name, obj, p.stamp(phase))
}

func lookup[T Object](p *Problem, h entity.Handle, kind entity.Kind) (T, *entity.Header, error) {
	var zero T
	obj, hdr, err := p.arena.Get(h, kind)
	if err != nil {
		return zero, nil, err
	}
	v, ok := obj.(T)
	if !ok {
		return zero, nil, errs.New(errs.WrongKind, "%s holds %T", h, obj)
	}
	return v, hdr, nil
}

func (p *Problem) rootObj() *Root {
	r, _, err := lookup[*Root](p, p.root, entity.KindProblem)
	if err != nil {
		panic(fmt.Sprintf("problem root unreachable: %v", err))
	}
	return r
}

func (p *Problem) label(h entity.Handle) string {
	if hdr, err := p.arena.Header(h); err == nil {
		return hdr.Label()
	}
	return h.String()
}

func refOf(h entity.Handle) ir.Ref {
	return ir.Ref{Index: h.Index, Gen: h.Gen}
}

func handleOf(r ir.Ref) entity.Handle {
	return entity.Handle{Index: r.Index, Gen: r.Gen}
}

func handleResult(out []ir.Arg, err error) (entity.Handle, error) {
	if err != nil {
		return entity.Null, err
	}
	if len(out) == 0 {
		return entity.Null, errs.New(errs.Internal, "operation returned no handle")
	}
	r, err := out[0].AsRef()
	if err != nil {
		return entity.Null, errs.Wrap(errs.Internal, err, "operation result")
	}
	return handleOf(r), nil
}

func arrayResult(out []ir.Arg, err error, idx int) ([]float64, error) {
	if err != nil {
		return nil, err
	}
	if len(out) <= idx {
		return nil, errs.New(errs.Internal, "operation returned %d results", len(out))
	}
	data, aerr := out[idx].AsArray()
	if aerr != nil {
		return nil, errs.Wrap(errs.Internal, aerr, "operation result")
	}
	return data, nil
}

// Name returns the problem name.
func (p *Problem) Name() string { return p.spec.Name }

// Spec returns the description the problem was created from.
func (p *Problem) Spec() *ir.ProblemSpec { return p.spec }

// Root returns the handle of the problem entity.
func (p *Problem) Root() entity.Handle { return p.root }

// SNum returns the current serial number.
func (p *Problem) SNum() int64 { return p.clk.Current() }

// Session returns the journal session.
func (p *Problem) Session() *journal.Session { return p.session }

// Diagnostics returns the diagnostics of the last operation and clears
// them.
func (p *Problem) Diagnostics() []errs.Diagnostic { return p.diags.Drain() }

// Header returns a copy of an entity's header.
func (p *Problem) Header(h entity.Handle) (entity.Header, error) {
	hdr, err := p.arena.Header(h)
	if err != nil {
		return entity.Header{}, err
	}
	return *hdr, nil
}

// Each visits every live entity in slot order.
func (p *Problem) Each(fn func(h entity.Handle, hdr entity.Header) bool) {
	p.arena.Each(func(h entity.Handle, hdr *entity.Header, _ Object) bool {
		return fn(h, *hdr)
	})
}
