package codegen

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"tilegen/internal/layout"
	"tilegen/internal/tir"
)

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// sharedOff linearizes a coordinate tuple against the buffer order. The
// stride of the fastest dimension is 1 and each slower dimension strides by
// the extent below it; constant coordinates fold to a constant offset.
func (g *generator) sharedOff(shape []int64, order []int, idx elemIndex) value.Value {
	strides := make([]value.Value, len(order))
	strides[order[0]] = g.i32(1)
	for i := 1; i < len(order); i++ {
		strides[order[i]] = g.mul(strides[order[i-1]], g.i32(shape[order[i-1]]))
	}
	var off value.Value = g.i32(0)
	for d := range idx {
		off = g.add(off, g.mul(idx[d], strides[d]))
	}
	return off
}

// stagePlan fixes the vector widths and swizzle parameters of one
// global-to-shared transfer.
type stagePlan struct {
	inVec, outVec, minVec int
	s                     int // how many input vectors share one output vector
	perPhase, maxPhase    int
	inLD                  int // elements one lane row spans along the fastest dim
	nShared0, nShared1    int
	ord0, ord1            int
	shape0                int64
	mts0, mts1            int
}

func (g *generator) planStage(in *layout.Distributed, out *layout.Shared, shape []int64) (stagePlan, error) {
	var p stagePlan
	rank := len(shape)
	if rank < 1 || rank > 2 {
		return p, g.unsupportedf("staging a rank %d tile into shared memory", rank)
	}
	p.ord0 = in.Order[0]
	p.ord1 = -1
	if rank > 1 {
		p.ord1 = in.Order[1]
	}
	p.inVec = 1
	if ordersEqual(in.Order, out.Order) {
		p.inVec = in.PerLane[p.ord0]
	}
	p.outVec = out.Vec
	p.minVec = minInt(p.inVec, p.outVec)
	p.s = maxInt(p.outVec/p.inVec, 1)
	p.perPhase = out.PerPhase
	p.maxPhase = out.MaxPhase
	p.mts0 = in.Lanes[p.ord0]
	p.mts1 = 1
	if p.ord1 >= 0 {
		p.mts1 = in.Lanes[p.ord1]
	}
	p.shape0 = shape[p.ord0]
	p.inLD = int(shape[p.ord0]) / p.mts0
	if p.inLD < p.minVec || p.inLD%p.minVec != 0 {
		return p, g.internalf("lane rows of %d elements cannot carry vectors of %d", p.inLD, p.minVec)
	}
	p.nShared1 = maxInt(p.perPhase*p.maxPhase/p.mts1, 1)
	p.nShared0 = maxInt(p.inVec/p.outVec, 1)
	return p, nil
}

func ordersEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// swizzleOff computes the shared offset of one placement group, xor-rotating
// vectors within a phase so column reads bank cleanly. The math only touches
// entry-block coordinates, so it hoists out of whatever loop the transfer
// sits in.
func (g *generator) swizzleOff(arg tir.Value, p stagePlan, key [2]int) (value.Value, error) {
	idxs := g.idxs[arg.ID()]
	at := key[0] * p.inLD
	if at >= len(idxs) {
		return nil, g.internalf("placement row %d is outside the tile", key[0])
	}
	rep := idxs[at]
	var off value.Value
	err := g.atEntry(func() error {
		var coord1 value.Value = g.i32(0)
		if p.ord1 >= 0 {
			coord1 = rep[p.ord1]
		}
		phase := g.urem(g.udiv(coord1, g.i32(int64(p.perPhase))), g.i32(int64(p.maxPhase)))
		off0 := g.udiv(g.add(rep[p.ord0], g.i32(int64(key[1]*p.outVec))), g.i32(int64(p.minVec)))
		off0 = g.add(g.mul(g.xor(g.udiv(off0, g.i32(int64(p.s))), phase), g.i32(int64(p.s))), g.urem(off0, g.i32(int64(p.s))))
		off = g.add(g.mul(off0, g.i32(int64(p.minVec))), g.mul(coord1, g.i32(p.shape0)))
		return nil
	})
	return off, err
}

// groupKey places one vector of the transfer: the constant offset every
// group at the same position shares, and the swizzle key selecting its
// per-lane base pointer.
func (p stagePlan) groupKey(i int) (off int64, key [2]int) {
	id := i / p.minVec
	id0 := id % (p.inLD / p.minVec)
	id1 := id / (p.inLD / p.minVec)
	off0 := id0 / p.nShared0 * p.nShared0 * p.mts0
	off1 := id1 / p.nShared1 * p.nShared1 * p.mts1
	return int64(off1)*p.shape0 + int64(off0), [2]int{id1 % p.nShared1, id0 % p.nShared0}
}

// lowerCopyToShared stages a distributed tile through registers into its
// shared buffer, one swizzled vector store per group.
func (g *generator) lowerCopyToShared(x *tir.CopyToShared) error {
	out := g.info.SharedOf(x)
	if out == nil {
		return g.preconditionf("copy %s has no shared layout", x.Name())
	}
	in, ok := g.info.LayoutOf(x.X).(*layout.Distributed)
	if !ok {
		return g.unsupportedf("copy to shared from a non-scanline operand %s", x.X.Name())
	}
	p, err := g.planStage(in, out, tir.Shape(x.Type()))
	if err != nil {
		return err
	}
	base := g.shPtr[x.ID()]
	if base == nil {
		return g.internalf("copy %s has no stage pointer", x.Name())
	}
	elemTy := scalarTy(out.Elem)
	vecTy := types.NewVector(uint64(p.minVec), elemTy)
	idxs := g.idxs[x.X.ID()]
	bases := make(map[[2]int]value.Value)
	for i := 0; i < len(idxs); i += p.minVec {
		off, key := p.groupKey(i)
		keyBase, ok := bases[key]
		if !ok {
			swz, err := g.swizzleOff(x.X, p, key)
			if err != nil {
				return err
			}
			keyBase = g.cur.NewGetElementPtr(elemTy, base, swz)
			bases[key] = keyBase
		}
		var packed value.Value = constant.NewUndef(vecTy)
		for s := 0; s < p.minVec; s++ {
			v, err := g.elem(x.X, idxs[i+s])
			if err != nil {
				return err
			}
			packed = g.cur.NewInsertElement(packed, v, g.i32(int64(s)))
		}
		ptr := g.cur.NewGetElementPtr(elemTy, keyBase, g.i32(off))
		dst := g.cur.NewBitCast(ptr, ptrTo(vecTy, int(tir.Shared)))
		g.cur.NewStore(packed, dst)
	}
	return nil
}

// lowerAsyncCopy streams global lines straight into the shared buffer.
// Masked-off lines still land, zero-filled, so the buffer never holds stale
// data; the copies complete only after a matching wait.
func (g *generator) lowerAsyncCopy(x *tir.AsyncCopy) error {
	out := g.info.SharedOf(x)
	if out == nil {
		return g.preconditionf("async copy %s has no shared layout", x.Name())
	}
	in, ok := g.info.LayoutOf(x.Ptr).(*layout.Distributed)
	if !ok {
		return g.unsupportedf("async copy through a non-scanline pointer %s", x.Ptr.Name())
	}
	p, err := g.planStage(in, out, tir.Shape(x.Type()))
	if err != nil {
		return err
	}
	dtsize := tir.SizeOf(out.Elem)
	bytes := p.inVec * dtsize
	if bytes != 4 && bytes != 8 && bytes != 16 {
		return g.unsupportedf("async copy moves %d byte lines, the hardware takes 4, 8 or 16", bytes)
	}
	base := g.shPtr[x.ID()]
	if base == nil {
		return g.internalf("async copy %s has no stage pointer", x.Name())
	}
	elemTy := scalarTy(out.Elem)
	idxs := g.idxs[x.Ptr.ID()]
	type slot struct {
		base value.Value
		off  int64
	}
	slots := make([]slot, len(idxs))
	bases := make(map[[2]int]value.Value)
	for i := 0; i < len(idxs); i += p.minVec {
		off, key := p.groupKey(i)
		keyBase, ok := bases[key]
		if !ok {
			swz, err := g.swizzleOff(x.Ptr, p, key)
			if err != nil {
				return err
			}
			keyBase = g.cur.NewGetElementPtr(elemTy, base, swz)
			bases[key] = keyBase
		}
		for s := 0; s < p.minVec && i+s < len(slots); s++ {
			slots[i+s] = slot{base: keyBase, off: off}
		}
	}
	for i := 0; i < len(idxs); i += p.inVec {
		src, err := g.elem(x.Ptr, idxs[i])
		if err != nil {
			return err
		}
		src, srcOff := foldPtrOffset(src, int64(dtsize))
		msk, err := g.elem(x.Mask, idxs[i])
		if err != nil {
			return err
		}
		srcSize := g.cur.NewSelect(msk, g.i32(int64(bytes)), g.i32(0))
		dst := slots[i]
		asm := g.inlineASM(types.Void,
			[]types.Type{dst.base.Type(), src.Type(), types.I32},
			cpAsyncAsm(bytes, dst.off*int64(dtsize), srcOff), "r,l,r", true)
		g.cur.NewCall(asm, dst.base, src, srcSize)
	}
	g.cur.NewCall(g.inlineASM(types.Void, nil, asmCommitGroup, "", true))
	return nil
}

func (g *generator) lowerAsyncWait(x *tir.AsyncWait) error {
	g.cur.NewCall(g.inlineASM(types.Void, nil, cpAsyncWaitAsm(x.N), "", true))
	return nil
}

func (g *generator) finalizeShared(sh *layout.Shared) error {
	h := g.handles[sh.ID]
	if h == nil {
		return g.internalf("shared buffer #%d lost its handles", sh.ID)
	}
	switch b := sh.Buffering.(type) {
	case *layout.Double:
		return g.finalizeDouble(sh, b, h)
	case *layout.NStage:
		return g.finalizeNStage(sh, b, h)
	}
	return nil
}

// finalizeDouble closes the two-stage rotation: the base pointer phi picks
// up whichever half each edge produced, and the offset phi alternates sign
// so base+off always names the other half.
func (g *generator) finalizeDouble(sh *layout.Shared, b *layout.Double, h *stageHandles) error {
	phi, ok := b.Phi.(*tir.Phi)
	if !ok {
		return g.internalf("rotation head of shared buffer #%d is not a phi", sh.ID)
	}
	basePhi, ok := h.base.(*ir.InstPhi)
	if !ok {
		return g.internalf("stage pointer of shared buffer #%d should be a phi", sh.ID)
	}
	for _, inc := range phi.Incs {
		pred, ok := g.tail[inc.Block]
		if !ok {
			return g.internalf("rotation edge of buffer #%d comes from an unvisited block", sh.ID)
		}
		if inc.V == b.Latch {
			neg := pred.NewSub(g.i32(0), h.off)
			h.off.Incs = append(h.off.Incs, ir.NewIncoming(neg, pred))
		} else {
			h.off.Incs = append(h.off.Incs, ir.NewIncoming(g.i32(int64(sh.StageElems())), pred))
		}
		ptr := g.shPtr[inc.V.ID()]
		if ptr == nil {
			return g.internalf("stage value %s of buffer #%d was never bound", inc.V.Name(), sh.ID)
		}
		basePhi.Incs = append(basePhi.Incs, ir.NewIncoming(ptr, pred))
	}
	return nil
}

// finalizeNStage closes the multi-stage rotation. Both stage indices advance
// through a wrap-at-last diamond spliced into the loop header's tail; the
// pointer pair then cycles so the stage read N iterations after its fill is
// exactly the one the prologue or the in-flight copy produced.
func (g *generator) finalizeNStage(sh *layout.Shared, b *layout.NStage, h *stageHandles) error {
	phi, ok := b.Phi.(*tir.Phi)
	if !ok {
		return g.internalf("rotation head of shared buffer #%d is not a phi", sh.ID)
	}
	if len(phi.Incs) != 2 {
		return g.internalf("multi-stage rotation of buffer #%d needs a two-edge loop phi, got %d", sh.ID, len(phi.Incs))
	}
	basePhi, ok := h.base.(*ir.InstPhi)
	if !ok {
		return g.internalf("stage pointer of shared buffer #%d should be a phi", sh.ID)
	}
	nextPhi, ok := h.next.(*ir.InstPhi)
	if !ok {
		return g.internalf("lookahead pointer of shared buffer #%d should be a phi", sh.ID)
	}
	parent := phi.Parent()
	stages := int64(b.Stages)
	perStage := int64(sh.StageElems())
	// the pointer chain delays the read index by two iterations, so the
	// first steady-state lookahead must name stage 2
	nextRead := g.advanceStageIdx(parent, h.readIdx, stages)
	nextWrite := g.advanceStageIdx(parent, h.writeIdx, stages)
	header, ok := g.tail[phi.Incs[0].Block]
	if !ok {
		return g.internalf("rotation edge of buffer #%d comes from an unvisited block", sh.ID)
	}
	loop, ok := g.tail[phi.Incs[1].Block]
	if !ok {
		return g.internalf("rotation edge of buffer #%d comes from an unvisited block", sh.ID)
	}
	h.readIdx.Incs = append(h.readIdx.Incs,
		ir.NewIncoming(g.i32(2), header),
		ir.NewIncoming(nextRead, loop))
	h.writeIdx.Incs = append(h.writeIdx.Incs,
		ir.NewIncoming(g.i32(stages-1), header),
		ir.NewIncoming(nextWrite, loop))
	basePhi.Incs = append(basePhi.Incs,
		ir.NewIncoming(h.pre, header),
		ir.NewIncoming(nextPhi, loop))
	elemTy := scalarTy(sh.Elem)
	nextFirst := constant.NewGetElementPtr(elemTy, h.pre, constant.NewInt(types.I32, perStage))
	cursor := g.tail[parent]
	ldsOff := cursor.NewMul(h.readIdx, g.i32(perStage))
	nextIter := cursor.NewGetElementPtr(elemTy, h.pre, ldsOff)
	nextPhi.Incs = append(nextPhi.Incs,
		ir.NewIncoming(nextFirst, header),
		ir.NewIncoming(nextIter, loop))
	return nil
}

// advanceStageIdx steps idxPhi by one with a wrap to zero after the last
// stage. The wrap is a diamond spliced in front of the loop header tail's
// terminator; the header tail moves to the merge block so later splices and
// phi edges land after it. The caller wires the phi once every splice is in.
func (g *generator) advanceStageIdx(parent *tir.Block, idxPhi *ir.InstPhi, stages int64) value.Value {
	headTail := g.tail[parent]
	saved := headTail.Term
	cond := headTail.NewICmp(enum.IPredEQ, idxPhi, g.i32(stages-1))
	thenB := g.newBlock()
	elseB := g.newBlock()
	mergeB := g.newBlock()
	headTail.NewCondBr(cond, thenB, elseB)
	thenB.NewBr(mergeB)
	inc := elseB.NewAdd(idxPhi, g.i32(1))
	elseB.NewBr(mergeB)
	next := &ir.InstPhi{Typ: types.I32}
	next.Incs = append(next.Incs,
		ir.NewIncoming(g.i32(0), thenB),
		ir.NewIncoming(inc, elseB))
	mergeB.Insts = append(mergeB.Insts, next)
	mergeB.Term = saved
	g.tail[parent] = mergeB
	return next
}
