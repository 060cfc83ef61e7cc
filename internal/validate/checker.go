// Package validate performs structural preflight checks over a tile module
// and its layout info before code generation, so that generation can assume
// a well-formed input and fail fast on anything else.
package validate

import (
	"fmt"

	"tilegen/internal/diag"
	"tilegen/internal/layout"
	"tilegen/internal/tir"
)

// CheckModule validates that the module only uses well-formed constructs and
// that every tile value carries the analysis results code generation needs.
func CheckModule(mod *tir.Module, info *layout.Info, reporter *diag.Reporter) error {
	if mod == nil {
		return fmt.Errorf("no module provided for validation")
	}
	if reporter == nil {
		return fmt.Errorf("no reporter provided for validation")
	}
	c := &checker{reporter: reporter, info: info}
	c.run(mod)
	if c.errCount > 0 {
		return fmt.Errorf("validation failed with %d issue(s)", c.errCount)
	}
	return nil
}

type checker struct {
	reporter *diag.Reporter
	info     *layout.Info
	errCount int
}

func (c *checker) run(mod *tir.Module) {
	for _, fn := range mod.Funcs {
		if len(fn.Blocks) == 0 {
			c.error(fn.Name(), "kernel has no blocks")
			continue
		}
		c.checkFunction(fn)
	}
}

func (c *checker) checkFunction(fn *tir.Function) {
	for _, blk := range fn.Blocks {
		where := fn.Name() + "." + blk.Name()
		term := blk.Terminator()
		if term == nil {
			c.error(where, "block does not end in a terminator")
		}
		sawNonPhi := false
		for n, inst := range blk.Instrs {
			if term != nil && n < len(blk.Instrs)-1 {
				switch inst.(type) {
				case *tir.Br, *tir.CondBr, *tir.Return:
					c.error(where, "terminator is not the final instruction")
				}
			}
			if phi, ok := inst.(*tir.Phi); ok {
				if sawNonPhi {
					c.error(where, "phi %s appears after non-phi instructions", phi.Name())
				}
				c.checkPhi(where, blk, phi)
			} else {
				sawNonPhi = true
			}
			c.checkInstruction(where, inst)
		}
	}
}

func (c *checker) checkPhi(where string, blk *tir.Block, phi *tir.Phi) {
	preds := blk.Preds()
	if len(phi.Incs) != len(preds) {
		c.error(where, "phi %s has %d incoming edges but the block has %d predecessors",
			phi.Name(), len(phi.Incs), len(preds))
		return
	}
	for _, inc := range phi.Incs {
		found := false
		for _, p := range preds {
			if p == inc.Block {
				found = true
				break
			}
		}
		if !found {
			c.error(where, "phi %s names %s, which is not a predecessor", phi.Name(), inc.Block.Name())
		}
		if inc.V == nil {
			c.error(where, "phi %s has a nil incoming value", phi.Name())
		} else if !tir.SameType(inc.V.Type(), phi.Type()) {
			c.error(where, "phi %s mixes %s and %s", phi.Name(), phi.Type(), inc.V.Type())
		}
	}
}

func (c *checker) checkInstruction(where string, inst tir.Instruction) {
	for _, op := range inst.Operands() {
		if op == nil {
			c.error(where, "%s has a nil operand", inst.Name())
			return
		}
	}
	c.checkLayout(where, inst)
	switch i := inst.(type) {
	case *tir.Load:
		if (i.Mask == nil) != (i.Other == nil) {
			c.error(where, "load %s must carry a mask and a fallback together", i.Name())
		}
	case *tir.Reduce:
		bt, ok := i.X.Type().(*tir.TileType)
		if !ok {
			c.error(where, "reduce %s operand is not a tile", i.Name())
			return
		}
		if i.Axis < 0 || i.Axis >= bt.Rank() {
			c.error(where, "reduce %s axis %d out of range for rank %d", i.Name(), i.Axis, bt.Rank())
		}
	case *tir.Cat:
		xt, xok := i.X.Type().(*tir.TileType)
		yt, yok := i.Y.Type().(*tir.TileType)
		if !xok || !yok || xt.Rank() != 1 || yt.Rank() != 1 {
			c.error(where, "cat %s requires two rank-1 tiles", i.Name())
		}
	}
}

func (c *checker) checkLayout(where string, inst tir.Instruction) {
	if c.info == nil {
		return
	}
	values := append([]tir.Value{}, inst.Operands()...)
	if tir.IsTile(inst.Type()) {
		values = append(values, inst)
	}
	for _, v := range values {
		bt, ok := v.Type().(*tir.TileType)
		if !ok {
			continue
		}
		l := c.info.LayoutOf(v)
		if l == nil {
			c.error(where, "tile value %s has no layout", v.Name())
			continue
		}
		shape := layout.ShapeOf(l)
		if len(shape) != bt.Rank() {
			c.error(where, "value %s has rank %d but its layout has rank %d", v.Name(), bt.Rank(), len(shape))
			continue
		}
		for d := range shape {
			if shape[d] != bt.Shape[d] {
				c.error(where, "value %s shape %v disagrees with layout shape %v", v.Name(), bt.Shape, shape)
				break
			}
		}
		if s, ok := l.(*layout.Shared); ok {
			c.checkShared(where, v, s)
		}
	}
}

func (c *checker) checkShared(where string, v tir.Value, s *layout.Shared) {
	if _, err := c.info.Alloc.Offset(s); err != nil {
		c.error(where, "shared value %s: %v", v.Name(), err)
	}
	switch b := s.Buffering.(type) {
	case *layout.Double:
		if b.Phi == nil || b.First == nil || b.Latch == nil {
			c.error(where, "double buffer #%d is missing a stage value", s.ID)
			return
		}
		if _, ok := b.Phi.(*tir.Phi); !ok {
			c.error(where, "double buffer #%d rotation head %s is not a phi", s.ID, b.Phi.Name())
		}
	case *layout.NStage:
		if b.Stages < 3 {
			c.error(where, "buffer #%d declares %d stages; multi-stage buffering needs at least 3", s.ID, b.Stages)
		}
		if b.Phi == nil || b.Latch == nil {
			c.error(where, "buffer #%d is missing its rotation head or latch", s.ID)
			return
		}
		if _, ok := b.Phi.(*tir.Phi); !ok {
			c.error(where, "buffer #%d rotation head %s is not a phi", s.ID, b.Phi.Name())
		}
		if len(b.Firsts) != b.Stages-1 {
			c.error(where, "buffer #%d has %d prologue fills for %d stages", s.ID, len(b.Firsts), b.Stages)
		}
	}
}

func (c *checker) error(where, format string, args ...any) {
	c.errCount++
	if c.reporter != nil {
		c.reporter.Error(where, fmt.Sprintf(format, args...))
	}
}
