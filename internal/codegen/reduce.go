package codegen

import (
	"math"

	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"tilegen/internal/tir"
)

// reduceCombine folds two partial values with the reduction op.
func (g *generator) reduceCombine(op tir.ReduceOp, a, b value.Value) (value.Value, error) {
	switch op {
	case tir.RedAdd:
		return g.cur.NewAdd(a, b), nil
	case tir.RedFAdd:
		return g.cur.NewFAdd(a, b), nil
	case tir.RedXor:
		return g.cur.NewXor(a, b), nil
	case tir.RedMin:
		return g.cur.NewSelect(g.cur.NewICmp(enum.IPredSLE, a, b), a, b), nil
	case tir.RedMax:
		return g.cur.NewSelect(g.cur.NewICmp(enum.IPredSGE, a, b), a, b), nil
	case tir.RedUMin:
		return g.cur.NewSelect(g.cur.NewICmp(enum.IPredULE, a, b), a, b), nil
	case tir.RedUMax:
		return g.cur.NewSelect(g.cur.NewICmp(enum.IPredUGE, a, b), a, b), nil
	case tir.RedFMin:
		f := g.intrinsic(minnumName(a.Type()), a.Type(), a.Type(), a.Type())
		return g.cur.NewCall(f, a, b), nil
	case tir.RedFMax:
		f := g.intrinsic(maxnumName(a.Type()), a.Type(), a.Type(), a.Type())
		return g.cur.NewCall(f, a, b), nil
	}
	return nil, g.internalf("reduction op %v has no lowering", op)
}

func floatSuffix(t types.Type) string {
	switch t {
	case types.Half:
		return "f16"
	case types.Double:
		return "f64"
	}
	return "f32"
}

func minnumName(t types.Type) string { return "llvm.minnum." + floatSuffix(t) }
func maxnumName(t types.Type) string { return "llvm.maxnum." + floatSuffix(t) }

// reduceNeutral is the value that leaves any partial unchanged under op,
// sized to the element width.
func (g *generator) reduceNeutral(op tir.ReduceOp, ty types.Type) (value.Value, error) {
	if it, ok := ty.(*types.IntType); ok {
		bits := uint(it.BitSize)
		switch op {
		case tir.RedAdd, tir.RedXor, tir.RedUMax:
			return constant.NewInt(it, 0), nil
		case tir.RedMax:
			return constant.NewInt(it, -(int64(1) << (bits - 1))), nil
		case tir.RedMin:
			return constant.NewInt(it, int64(1)<<(bits-1)-1), nil
		case tir.RedUMin:
			return constant.NewInt(it, -1), nil
		}
		return nil, g.unsupportedf("%v over %s elements", op, ty)
	}
	ft, ok := ty.(*types.FloatType)
	if !ok {
		return nil, g.unsupportedf("reduction over %s elements", ty)
	}
	switch op {
	case tir.RedFAdd:
		return constant.NewFloat(ft, 0), nil
	case tir.RedFMax:
		return constant.NewFloat(ft, math.Inf(-1)), nil
	case tir.RedFMin:
		return constant.NewFloat(ft, math.Inf(1)), nil
	}
	return nil, g.unsupportedf("%v over %s elements", op, ty)
}

// shflBfly exchanges v with the lane i apart through a butterfly shuffle.
// The instruction moves 32 bit registers, so wider values split into two
// halves and narrower ones ride in a widened register.
func (g *generator) shflBfly(v value.Value, i int) value.Value {
	ty := v.Type()
	if bits, isWide := wideBits(ty); isWide && bits > 32 {
		pair := types.NewVector(2, types.Float)
		cast := g.cur.NewBitCast(v, pair)
		var lo value.Value = g.cur.NewExtractElement(cast, g.i32(0))
		var hi value.Value = g.cur.NewExtractElement(cast, g.i32(1))
		lo = g.shflBfly(lo, i)
		hi = g.shflBfly(hi, i)
		var out value.Value = constant.NewUndef(pair)
		out = g.cur.NewInsertElement(out, lo, g.i32(0))
		out = g.cur.NewInsertElement(out, hi, g.i32(1))
		return g.cur.NewBitCast(out, ty)
	}
	if ty == types.Half {
		wide := g.cur.NewZExt(g.cur.NewBitCast(v, types.I16), types.I32)
		sh := g.cur.NewTrunc(g.shflBfly(wide, i), types.I16)
		return g.cur.NewBitCast(sh, types.Half)
	}
	if it, ok := ty.(*types.IntType); ok && it.BitSize < 32 {
		return g.cur.NewTrunc(g.shflBfly(g.cur.NewZExt(v, types.I32), i), it)
	}
	cstr := "=f,f,r"
	if _, ok := ty.(*types.IntType); ok {
		cstr = "=r,r,r"
	}
	asm := g.inlineASM(ty, []types.Type{ty, types.I32}, asmShfl, cstr, false)
	return g.cur.NewCall(asm, v, g.i32(int64(i)))
}

func wideBits(t types.Type) (int, bool) {
	switch tt := t.(type) {
	case *types.IntType:
		return int(tt.BitSize), true
	case *types.FloatType:
		switch tt {
		case types.Half:
			return 16, true
		case types.Double:
			return 64, true
		}
		return 32, true
	}
	return 0, false
}

func (g *generator) lowerReduce(x *tir.Reduce) error {
	st := tir.Scalar(x.X.Type())
	k := scalarKind(x.X.Type())
	if k == tir.KindBF16 || k == tir.KindFP8 {
		return g.unsupportedf("reduction over %s elements", st)
	}
	if bt, ok := x.X.Type().(*tir.TileType); ok && bt.Rank() == 1 {
		return g.lowerReduce1D(x)
	}
	return g.lowerReduceND(x)
}

// lowerReduce1D folds a rank-1 tile all the way to one scalar: local fold,
// butterfly within the warp, then a cross-warp pass through shared memory
// run by warp 0 alone.
func (g *generator) lowerReduce1D(x *tir.Reduce) error {
	if g.shmem == nil {
		return g.preconditionf("reduction %s needs a shared scratch allocation", x.Name())
	}
	ty := scalarTy(tir.Scalar(x.X.Type()))
	var acc value.Value
	for _, idx := range g.idxs[x.X.ID()] {
		v, err := g.elem(x.X, idx)
		if err != nil {
			return err
		}
		if acc == nil {
			acc = v
			continue
		}
		if acc, err = g.reduceCombine(x.Op, acc, v); err != nil {
			return err
		}
	}
	if acc == nil {
		return g.internalf("reduction %s has no elements", x.Name())
	}
	var err error
	for i := 16; i > 0; i >>= 1 {
		if acc, err = g.reduceCombine(x.Op, acc, g.shflBfly(acc, i)); err != nil {
			return err
		}
	}
	neutral, err := g.reduceNeutral(x.Op, ty)
	if err != nil {
		return err
	}
	base := constant.NewBitCast(g.shmem, ptrTo(ty, int(tir.Shared)))
	thread := g.threadID()
	warp := g.udiv(thread, g.i32(warpSize))
	lane := g.urem(thread, g.i32(warpSize))
	g.barrier()
	g.cur.NewStore(neutral, g.cur.NewGetElementPtr(ty, base, lane))
	g.barrier()
	g.cur.NewStore(acc, g.cur.NewGetElementPtr(ty, base, warp))
	g.barrier()
	warp0 := g.cur.NewICmp(enum.IPredEQ, warp, g.i32(0))
	thenB := g.newBlock()
	cont := g.newBlock()
	g.cur.NewCondBr(warp0, thenB, cont)
	g.cur = thenB
	var ret value.Value = g.cur.NewLoad(ty, g.cur.NewGetElementPtr(ty, base, thread))
	for i := (g.target.NumWarps + 1) / 2; i > 0; i >>= 1 {
		if ret, err = g.reduceCombine(x.Op, ret, g.shflBfly(ret, i)); err != nil {
			return err
		}
	}
	g.cur.NewStore(ret, g.cur.NewGetElementPtr(ty, base, thread))
	g.cur.NewBr(cont)
	g.cur = cont
	g.barrier()
	out := g.cur.NewLoad(ty, base)
	for _, idx := range g.idxs[x.ID()] {
		g.setElem(x, idx, out)
	}
	return nil
}

// lowerReduceND reduces one axis of a rank-2 tile through a scratch buffer:
// each lane folds its own elements, lanes along the axis tree-combine in
// shared memory, and every lane reads its row's result back.
func (g *generator) lowerReduceND(x *tir.Reduce) error {
	scratch := g.info.Scratch(x)
	if scratch == nil {
		return g.preconditionf("reduction %s has no scratch buffer", x.Name())
	}
	h := g.handles[scratch.ID]
	if h == nil {
		return g.internalf("scratch buffer #%d of %s was never materialized", scratch.ID, x.Name())
	}
	ty := scalarTy(tir.Scalar(x.X.Type()))
	base := bitcastPtr(g.cur, h.base, ptrTo(ty, int(tir.Shared)))
	axis := x.Axis
	ax, ok := g.axes[g.info.AxisOf(x.X, axis)]
	if !ok {
		return g.internalf("reduction axis of %s has no materialization", x.Name())
	}
	lane := ax.threadID

	// per-lane fold, keyed by the coordinates with the axis pinned to zero
	var accKeys []elemKey
	accs := make(map[elemKey]value.Value)
	accIdx := make(map[elemKey]elemIndex)
	for _, idx := range g.idxs[x.X.ID()] {
		pidx := make(elemIndex, len(idx))
		copy(pidx, idx)
		pidx[axis] = g.i32(0)
		key := keyOf(pidx)
		v, err := g.elem(x.X, idx)
		if err != nil {
			return err
		}
		if acc, ok := accs[key]; ok {
			if v, err = g.reduceCombine(x.Op, acc, v); err != nil {
				return err
			}
		} else {
			accKeys = append(accKeys, key)
			accIdx[key] = pidx
		}
		accs[key] = v
	}

	shape := scratch.Shape
	order := scratch.Order
	zero := make(elemIndex, len(shape))
	for d := range zero {
		zero[d] = g.i32(0)
	}
	for _, key := range accKeys {
		acc := accs[key]
		pidx := accIdx[key]
		writeIdx := make(elemIndex, len(pidx))
		copy(writeIdx, pidx)
		writeIdx[axis] = lane
		writePtr := g.cur.NewGetElementPtr(ty, base, g.sharedOff(shape, order, writeIdx))
		g.barrier()
		g.cur.NewStore(acc, writePtr)
		for i := int(shape[axis]) / 2; i > 0; i >>= 1 {
			step := make(elemIndex, len(zero))
			copy(step, zero)
			step[axis] = g.i32(int64(i))
			readMask := g.cur.NewICmp(enum.IPredULT, lane, g.i32(int64(i)))
			readOff := g.cur.NewSelect(readMask, g.sharedOff(shape, order, step), g.i32(0))
			readPtr := g.cur.NewGetElementPtr(ty, writePtr, readOff)
			g.barrier()
			var err error
			if acc, err = g.reduceCombine(x.Op, acc, g.cur.NewLoad(ty, readPtr)); err != nil {
				return err
			}
			g.barrier()
			g.cur.NewStore(acc, writePtr)
		}
	}
	g.barrier()
	for _, idx := range g.idxs[x.ID()] {
		readIdx := make(elemIndex, 0, len(idx)+1)
		readIdx = append(readIdx, idx[:axis]...)
		readIdx = append(readIdx, g.i32(0))
		readIdx = append(readIdx, idx[axis:]...)
		ptr := g.cur.NewGetElementPtr(ty, base, g.sharedOff(shape, order, readIdx))
		g.setElem(x, idx, g.cur.NewLoad(ty, ptr))
	}
	return nil
}
