package problem

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/caps/internal/entity"
	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
)

// slotRecord is the persisted form of one arena slot. Payloads are encoded
// by kind so they can be decoded back into their sealed variant.
type slotRecord struct {
	Index  uint32          `json:"index"`
	Gen    uint32          `json:"gen"`
	Live   bool            `json:"live"`
	Header entity.Header   `json:"header"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// delta is what one operation did to the problem, recorded as the last
// output argument of its journal record.
type delta struct {
	Slots       []slotRecord      `json:"slots"`
	Free        []uint32          `json:"free"`
	Advance     int               `json:"advance"`
	Diagnostics []errs.Diagnostic `json:"diagnostics,omitempty"`
}

func (p *Problem) encodeSlot(idx uint32) (slotRecord, error) {
	st, err := p.arena.Slot(idx)
	if err != nil {
		return slotRecord{}, err
	}
	rec := slotRecord{Index: idx, Gen: st.Gen, Live: st.Live, Header: st.Header}
	if st.Live && st.Value != nil {
		raw, err := json.Marshal(st.Value)
		if err != nil {
			return slotRecord{}, fmt.Errorf("encode slot %d: %w", idx, err)
		}
		rec.Value = raw
	}
	return rec, nil
}

func decodeSlot(rec slotRecord) (entity.SlotState[Object], error) {
	st := entity.SlotState[Object]{Gen: rec.Gen, Live: rec.Live, Header: rec.Header}
	if !rec.Live {
		return st, nil
	}
	obj := newObject(rec.Header.Kind)
	if obj == nil {
		return st, fmt.Errorf("slot %d: unknown kind %s", rec.Index, rec.Header.Kind)
	}
	if len(rec.Value) > 0 {
		if err := json.Unmarshal(rec.Value, obj); err != nil {
			return st, fmt.Errorf("slot %d: %w", rec.Index, err)
		}
	}
	st.Value = obj
	return st, nil
}

func (p *Problem) encodeDelta() (ir.Arg, error) {
	d := delta{
		Slots:       []slotRecord{},
		Free:        p.arena.Free(),
		Advance:     p.op.advance,
		Diagnostics: p.diags.Peek(),
	}
	for _, idx := range p.arena.Changes() {
		rec, err := p.encodeSlot(idx)
		if err != nil {
			return ir.Arg{}, err
		}
		d.Slots = append(d.Slots, rec)
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return ir.Arg{}, fmt.Errorf("encode delta: %w", err)
	}
	return ir.OpaqueArg(raw), nil
}

func (p *Problem) applyDelta(a ir.Arg) error {
	raw, err := a.AsOpaque()
	if err != nil {
		return fmt.Errorf("delta: %w", err)
	}
	var d delta
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("decode delta: %w", err)
	}
	if err := p.install(d.Slots, d.Free); err != nil {
		return err
	}
	for i := 0; i < d.Advance; i++ {
		p.clk.Next()
	}
	p.diags.Replace(d.Diagnostics)
	p.arena.ResetChanges()
	return nil
}

func (p *Problem) install(slots []slotRecord, free []uint32) error {
	for _, rec := range slots {
		st, err := decodeSlot(rec)
		if err != nil {
			return err
		}
		if err := p.arena.Install(rec.Index, st); err != nil {
			return err
		}
	}
	return p.arena.SetFree(free)
}
