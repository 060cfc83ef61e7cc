package codegen

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"tilegen/internal/layout"
	"tilegen/internal/tir"
)

// stageHandles are the rotation placeholders of one shared buffer, keyed by
// buffer identity rather than by the values that flow through it.
type stageHandles struct {
	pre      constant.Constant // stage 0, a constant offset from the heap base
	base     value.Value       // stage read by the current iteration
	next     value.Value       // stage the next iteration will read
	off      *ir.InstPhi       // double buffering: signed element offset between halves
	readIdx  *ir.InstPhi       // multi stage: index of the stage being read
	writeIdx *ir.InstPhi       // multi stage: index of the stage being filled
}

type generator struct {
	info   *layout.Info
	target Target

	mod   *ir.Module
	fn    *ir.Func
	cur   *ir.Block
	shmem constant.Constant

	head map[*tir.Block]*ir.Block
	tail map[*tir.Block]*ir.Block

	vals map[tir.ValueID]map[elemKey]value.Value
	idxs map[tir.ValueID][]elemIndex
	ords map[tir.ValueID][]int
	seen map[tir.ValueID]bool

	axes    map[int]coordAxis
	handles map[layout.BufferID]*stageHandles
	shPtr   map[tir.ValueID]value.Value

	ints  map[int64]*constant.Int
	funcs map[string]*ir.Func
}

func newGenerator(info *layout.Info, tgt Target) *generator {
	return &generator{
		info:   info,
		target: tgt,
		vals:   make(map[tir.ValueID]map[elemKey]value.Value),
		idxs:   make(map[tir.ValueID][]elemIndex),
		ords:   make(map[tir.ValueID][]int),
		seen:   make(map[tir.ValueID]bool),
		shPtr:  make(map[tir.ValueID]value.Value),
		ints:   make(map[int64]*constant.Int),
		funcs:  make(map[string]*ir.Func),
	}
}

func (g *generator) unsupportedf(format string, args ...any) error {
	return fmt.Errorf("codegen: %w: %s", ErrUnsupported, fmt.Sprintf(format, args...))
}

func (g *generator) internalf(format string, args ...any) error {
	return fmt.Errorf("codegen: %w: %s", ErrInternal, fmt.Sprintf(format, args...))
}

func (g *generator) preconditionf(format string, args ...any) error {
	return fmt.Errorf("codegen: %w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

// scalarTy maps a tile element type onto its per-lane LLVM type. The narrow
// float formats ride in integer containers and are re-encoded at
// conversion sites.
func scalarTy(t tir.Type) types.Type {
	switch tt := t.(type) {
	case *tir.ScalarType:
		switch tt.Kind {
		case tir.KindInt1:
			return types.I1
		case tir.KindInt8, tir.KindFP8:
			return types.I8
		case tir.KindInt16, tir.KindBF16:
			return types.I16
		case tir.KindInt32:
			return types.I32
		case tir.KindInt64:
			return types.I64
		case tir.KindFP16:
			return types.Half
		case tir.KindFP32:
			return types.Float
		case tir.KindFP64:
			return types.Double
		}
	case *tir.PointerType:
		p := types.NewPointer(scalarTy(tt.Elem))
		p.AddrSpace = types.AddrSpace(tt.Space)
		return p
	case *tir.TileType:
		return scalarTy(tt.Elem)
	}
	return types.Void
}

func ptrTo(elem types.Type, space int) *types.PointerType {
	p := types.NewPointer(elem)
	p.AddrSpace = types.AddrSpace(space)
	return p
}

// i32 returns the canonical i32 constant for v. Canonical coordinates are
// what lets elemKey compare by identity.
func (g *generator) i32(v int64) *constant.Int {
	if c, ok := g.ints[v]; ok {
		return c
	}
	c := constant.NewInt(types.I32, v)
	g.ints[v] = c
	return c
}

func (g *generator) foldInt(model *constant.Int, v int64) *constant.Int {
	if model.Typ.BitSize == 32 {
		return g.i32(v)
	}
	return constant.NewInt(model.Typ, v)
}

// The arithmetic helpers fold two-constant operands so that coordinate math
// over known extents collapses to plain constants, exactly where address
// folding downstream expects one.

func (g *generator) add(x, y value.Value) value.Value {
	if a, ok := x.(*constant.Int); ok {
		if b, ok := y.(*constant.Int); ok {
			return g.foldInt(a, a.X.Int64()+b.X.Int64())
		}
	}
	return g.cur.NewAdd(x, y)
}

func (g *generator) mul(x, y value.Value) value.Value {
	if a, ok := x.(*constant.Int); ok {
		if b, ok := y.(*constant.Int); ok {
			return g.foldInt(a, a.X.Int64()*b.X.Int64())
		}
	}
	return g.cur.NewMul(x, y)
}

func (g *generator) udiv(x, y value.Value) value.Value {
	if a, ok := x.(*constant.Int); ok {
		if b, ok := y.(*constant.Int); ok && b.X.Int64() != 0 {
			return g.foldInt(a, a.X.Int64()/b.X.Int64())
		}
	}
	return g.cur.NewUDiv(x, y)
}

func (g *generator) urem(x, y value.Value) value.Value {
	if a, ok := x.(*constant.Int); ok {
		if b, ok := y.(*constant.Int); ok && b.X.Int64() != 0 {
			return g.foldInt(a, a.X.Int64()%b.X.Int64())
		}
	}
	return g.cur.NewURem(x, y)
}

func (g *generator) and(x, y value.Value) value.Value {
	if a, ok := x.(*constant.Int); ok {
		if b, ok := y.(*constant.Int); ok {
			return g.foldInt(a, a.X.Int64()&b.X.Int64())
		}
	}
	return g.cur.NewAnd(x, y)
}

func (g *generator) xor(x, y value.Value) value.Value {
	if a, ok := x.(*constant.Int); ok {
		if b, ok := y.(*constant.Int); ok {
			return g.foldInt(a, a.X.Int64()^b.X.Int64())
		}
	}
	return g.cur.NewXor(x, y)
}

func (g *generator) elem(v tir.Value, idx elemIndex) (value.Value, error) {
	if m := g.vals[v.ID()]; m != nil {
		if x, ok := m[keyOf(idx)]; ok {
			return x, nil
		}
	}
	return nil, g.internalf("value %s has no lowered element", v.Name())
}

func (g *generator) setElem(v tir.Value, idx elemIndex, x value.Value) {
	m := g.vals[v.ID()]
	if m == nil {
		m = make(map[elemKey]value.Value)
		g.vals[v.ID()] = m
	}
	m[keyOf(idx)] = x
}

// intrinsic declares name once per module and returns the declaration.
func (g *generator) intrinsic(name string, ret types.Type, params ...types.Type) *ir.Func {
	if f, ok := g.funcs[name]; ok {
		return f
	}
	ps := make([]*ir.Param, len(params))
	for i, p := range params {
		ps[i] = ir.NewParam("", p)
	}
	f := g.mod.NewFunc(name, ret, ps...)
	g.funcs[name] = f
	return f
}

func (g *generator) threadID() value.Value {
	return g.cur.NewCall(g.intrinsic("llvm.nvvm.read.ptx.sreg.tid.x", types.I32))
}

func (g *generator) barrier() {
	g.cur.NewCall(g.intrinsic("llvm.nvvm.barrier0", types.Void))
}

func (g *generator) memfence() {
	g.cur.NewCall(g.intrinsic("llvm.nvvm.membar.gl", types.Void))
}

var dimSuffix = [3]string{"x", "y", "z"}

func (g *generator) blockID(axis int) (value.Value, error) {
	if axis < 0 || axis >= len(dimSuffix) {
		return nil, g.internalf("program id axis %d out of range", axis)
	}
	f := g.intrinsic("llvm.nvvm.read.ptx.sreg.ctaid."+dimSuffix[axis], types.I32)
	return g.cur.NewCall(f), nil
}

func (g *generator) gridDim(axis int) (value.Value, error) {
	if axis < 0 || axis >= len(dimSuffix) {
		return nil, g.internalf("program count axis %d out of range", axis)
	}
	f := g.intrinsic("llvm.nvvm.read.ptx.sreg.nctaid."+dimSuffix[axis], types.I32)
	return g.cur.NewCall(f), nil
}

// declareSharedBase declares the external shared heap and keeps a byte
// pointer to its start. Buffer placement hands out offsets into it.
func (g *generator) declareSharedBase() {
	arr := types.NewArray(0, types.I32)
	gbl := g.mod.NewGlobal("__shared_ptr", arr)
	gbl.AddrSpace = 3
	gbl.Typ = ptrTo(arr, 3)
	gbl.Linkage = enum.LinkageExternal
	g.shmem = constant.NewBitCast(gbl, ptrTo(types.I8, 3))
}

// newBlock appends an unnamed block to the current function. Generated
// control flow stays unnamed so kernel block labels keep their own names.
func (g *generator) newBlock() *ir.Block {
	return g.fn.NewBlock("")
}

// insertPhi places ph after the leading phis of blk, keeping the phi group
// at the block head no matter what was emitted there before.
func insertPhi(blk *ir.Block, ph *ir.InstPhi) {
	n := 0
	for n < len(blk.Insts) {
		if _, ok := blk.Insts[n].(*ir.InstPhi); !ok {
			break
		}
		n++
	}
	blk.Insts = append(blk.Insts, nil)
	copy(blk.Insts[n+1:], blk.Insts[n:])
	blk.Insts[n] = ph
}

// atEntry emits through the cursor at the end of the function's entry block
// body, ahead of any terminator it already has, then restores the cursor.
func (g *generator) atEntry(emit func() error) error {
	saved := g.cur
	g.cur = g.fn.Blocks[0]
	err := emit()
	g.cur = saved
	return err
}

func (g *generator) resetFunction() {
	g.head = make(map[*tir.Block]*ir.Block)
	g.tail = make(map[*tir.Block]*ir.Block)
	g.axes = make(map[int]coordAxis)
	g.handles = make(map[layout.BufferID]*stageHandles)
}

func (g *generator) visitFunction(fn *tir.Function) error {
	if len(fn.Blocks) == 0 {
		return g.preconditionf("kernel %s has no blocks", fn.Name())
	}
	g.resetFunction()
	params := make([]*ir.Param, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = ir.NewParam(p.Name(), scalarTy(p.Type()))
	}
	g.fn = g.mod.NewFunc(fn.Name(), scalarTy(fn.Sig.Ret), params...)
	for i, p := range fn.Params {
		g.idxs[p.ID()] = []elemIndex{{}}
		g.setElem(p, elemIndex{}, params[i])
		g.seen[p.ID()] = true
	}
	for _, b := range fn.Blocks {
		lb := g.fn.NewBlock(b.Name())
		g.head[b] = lb
		g.tail[b] = lb
	}
	g.cur = g.head[fn.Blocks[0]]
	for _, l := range g.info.AllLayouts() {
		if err := g.initLayout(l); err != nil {
			return err
		}
	}
	for _, b := range fn.Blocks {
		if err := g.visitBlock(b); err != nil {
			return err
		}
	}
	return g.finalizeFunction(fn)
}

func (g *generator) visitBlock(b *tir.Block) error {
	g.cur = g.head[b]
	for _, inst := range b.Instrs {
		if err := g.visitValue(inst); err != nil {
			return err
		}
	}
	// lowering may have split the block; later phi edges resolve against
	// whatever block the cursor ended up in
	g.tail[b] = g.cur
	return nil
}

func (g *generator) visitValue(v tir.Value) error {
	if v == nil {
		return g.internalf("nil value reached the generator")
	}
	if g.seen[v.ID()] {
		return nil
	}
	g.seen[v.ID()] = true
	if sh := g.info.SharedOf(v); sh != nil && tir.IsTile(v.Type()) {
		if err := g.bindSharedValue(v, sh); err != nil {
			return err
		}
	}
	inst, isInst := v.(tir.Instruction)
	_, isPhi := v.(*tir.Phi)
	if isInst {
		for _, op := range inst.Operands() {
			// phi operands are deferred to finalization; constants still
			// need their elements materialized here
			if isPhi && !tir.IsConstant(op) {
				continue
			}
			if err := g.visitValue(op); err != nil {
				return err
			}
		}
	}
	if err := g.initIndices(v); err != nil {
		return err
	}
	return g.lower(v)
}

// bindSharedValue resolves which stage pointer a shared-resident value
// refers to. Rotation placeholders come from the buffer handles; prologue
// fills and the steady-state refill get steered to their stage here.
func (g *generator) bindSharedValue(v tir.Value, sh *layout.Shared) error {
	h := g.handles[sh.ID]
	if h == nil {
		return g.internalf("shared buffer #%d of %s was never materialized", sh.ID, v.Name())
	}
	ptr := h.base
	switch b := sh.Buffering.(type) {
	case *layout.NStage:
		if at := stageIndexOf(b.Firsts, v); at >= 0 {
			ptr = constant.NewGetElementPtr(scalarTy(sh.Elem), h.pre, constant.NewInt(types.I32, int64(at)*int64(sh.StageElems())))
		} else if v == b.Latch {
			elems := g.mul(h.writeIdx, g.i32(int64(sh.StageElems())))
			ptr = g.cur.NewGetElementPtr(scalarTy(sh.Elem), h.pre, elems)
		}
	case *layout.Double:
		if v == b.Latch {
			ptr = h.next
		} else if v == b.First {
			ptr = h.pre
		}
	}
	g.shPtr[v.ID()] = ptr
	return nil
}

func stageIndexOf(vs []tir.Value, v tir.Value) int {
	for i, x := range vs {
		if x == v {
			return i
		}
	}
	return -1
}

func (g *generator) lower(v tir.Value) error {
	switch i := v.(type) {
	case *tir.Param:
		return nil
	case *tir.IntConst:
		return g.lowerIntConst(i)
	case *tir.FloatConst:
		return g.lowerFloatConst(i)
	case *tir.Undef:
		return g.lowerUndef(i)
	case *tir.Bin:
		return g.lowerBin(i)
	case *tir.ICmp:
		return g.lowerICmp(i)
	case *tir.FCmp:
		return g.lowerFCmp(i)
	case *tir.Select:
		return g.lowerSelect(i)
	case *tir.Cast:
		return g.lowerCast(i)
	case *tir.AddPtr:
		return g.lowerAddPtr(i)
	case *tir.Splat:
		return g.lowerSplat(i)
	case *tir.Broadcast:
		return g.lowerBroadcast(i)
	case *tir.Reshape:
		return g.lowerReshape(i)
	case *tir.Cat:
		return g.lowerCat(i)
	case *tir.Downcast:
		return g.lowerDowncast(i)
	case *tir.MakeRange:
		return g.lowerMakeRange(i)
	case *tir.GetProgramID:
		return g.lowerProgramID(i)
	case *tir.GetNumPrograms:
		return g.lowerNumPrograms(i)
	case *tir.Load:
		return g.lowerLoad(i)
	case *tir.Store:
		return g.lowerStore(i)
	case *tir.CopyToShared:
		return g.lowerCopyToShared(i)
	case *tir.AsyncCopy:
		return g.lowerAsyncCopy(i)
	case *tir.AsyncWait:
		return g.lowerAsyncWait(i)
	case *tir.Barrier:
		g.barrier()
		return nil
	case *tir.ConvertLayout:
		return g.lowerConvertLayout(i)
	case *tir.Dot:
		return g.lowerDot(i)
	case *tir.Reduce:
		return g.lowerReduce(i)
	case *tir.Math:
		return g.lowerMath(i)
	case *tir.UMulhi:
		return g.lowerUMulhi(i)
	case *tir.AtomicCAS:
		return g.lowerAtomicCAS(i)
	case *tir.AtomicRMW:
		return g.lowerAtomicRMW(i)
	case *tir.Phi:
		return g.lowerPhi(i)
	case *tir.Br:
		g.cur.NewBr(g.head[i.Target])
		return nil
	case *tir.CondBr:
		return g.lowerCondBr(i)
	case *tir.Return:
		return g.lowerReturn(i)
	}
	return g.unsupportedf("%T has no lowering", v)
}

// lowerPhi emits one placeholder phi per element at the head of the current
// block. Incoming edges are attached during finalization, once every
// predecessor has settled on its final tail block.
func (g *generator) lowerPhi(x *tir.Phi) error {
	ty := scalarTy(x.Type())
	for _, idx := range g.idxs[x.ID()] {
		ph := &ir.InstPhi{Typ: ty}
		insertPhi(g.cur, ph)
		g.setElem(x, idx, ph)
	}
	return nil
}

func (g *generator) lowerCondBr(x *tir.CondBr) error {
	cv, err := g.elem(x.Cond, elemIndex{})
	if err != nil {
		return err
	}
	g.cur.NewCondBr(cv, g.head[x.Then], g.head[x.Else])
	return nil
}

func (g *generator) lowerReturn(x *tir.Return) error {
	if x.X == nil {
		g.cur.NewRet(nil)
		return nil
	}
	rv, err := g.elem(x.X, elemIndex{})
	if err != nil {
		return err
	}
	g.cur.NewRet(rv)
	return nil
}

// finalizeFunction closes the loops: shared-buffer rotation first, since it
// rewrites block tails, then the incoming edges of every value phi.
func (g *generator) finalizeFunction(fn *tir.Function) error {
	for _, l := range g.info.AllLayouts() {
		sh, ok := l.(*layout.Shared)
		if !ok || sh.Buffering == nil {
			continue
		}
		if _, here := g.handles[sh.ID]; !here {
			continue
		}
		if err := g.finalizeShared(sh); err != nil {
			return err
		}
	}
	for _, b := range fn.Blocks {
		for _, inst := range b.Instrs {
			phi, ok := inst.(*tir.Phi)
			if !ok {
				continue
			}
			if _, shared := g.shPtr[phi.ID()]; shared {
				continue
			}
			if err := g.finalizePhi(phi); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *generator) finalizePhi(phi *tir.Phi) error {
	for _, inc := range phi.Incs {
		pred, ok := g.tail[inc.Block]
		if !ok {
			return g.internalf("phi %s has an incoming edge from an unvisited block", phi.Name())
		}
		for _, idx := range g.idxs[phi.ID()] {
			pv, err := g.elem(phi, idx)
			if err != nil {
				return err
			}
			ph, ok := pv.(*ir.InstPhi)
			if !ok {
				return g.internalf("element of %s should be a phi", phi.Name())
			}
			iv, err := g.elem(inc.V, idx)
			if err != nil {
				return err
			}
			ph.Incs = append(ph.Incs, ir.NewIncoming(iv, pred))
		}
	}
	return nil
}
