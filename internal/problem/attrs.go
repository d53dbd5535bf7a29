package problem

import (
	"context"
	"encoding/json"

	"github.com/roach88/caps/internal/entity"
	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
	"github.com/roach88/caps/internal/journal"
)

// SetAttr sets or replaces a named attribute on any entity.
func (p *Problem) SetAttr(ctx context.Context, h entity.Handle, a entity.Attr) error {
	b, err := json.Marshal(a)
	if err != nil {
		return errs.Wrap(errs.RangeError, err, "attribute %q", a.Name)
	}
	_, err = p.call(ctx, journal.OpSetAttr, h, []ir.Arg{ir.StringArg(a.Name), ir.OpaqueArg(b)}, func() ([]ir.Arg, error) {
		if a.Name == "" {
			return nil, errs.New(errs.EmptyPayload, "attribute name is required")
		}
		hdr, err := p.arena.Header(h)
		if err != nil {
			return nil, err
		}
		hdr.SetAttr(a)
		p.touch(h, "setAttr", "attr "+a.Name)
		return nil, nil
	})
	return err
}

// DeleteAttr removes a named attribute.
func (p *Problem) DeleteAttr(ctx context.Context, h entity.Handle, name string) error {
	_, err := p.call(ctx, journal.OpDeleteAttr, h, []ir.Arg{ir.StringArg(name)}, func() ([]ir.Arg, error) {
		hdr, err := p.arena.Header(h)
		if err != nil {
			return nil, err
		}
		if !hdr.DeleteAttr(name) {
			return nil, errs.New(errs.NotFound, "%s has no attribute %q", hdr.Label(), name)
		}
		p.touch(h, "deleteAttr", "attr "+name)
		return nil, nil
	})
	return err
}

// Attr returns a named attribute.
func (p *Problem) Attr(h entity.Handle, name string) (entity.Attr, error) {
	hdr, err := p.arena.Header(h)
	if err != nil {
		return entity.Attr{}, err
	}
	a, ok := hdr.Attr(name)
	if !ok {
		return entity.Attr{}, errs.New(errs.NotFound, "%s has no attribute %q", hdr.Label(), name)
	}
	return a, nil
}
