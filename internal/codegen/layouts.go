package codegen

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"tilegen/internal/layout"
	"tilegen/internal/tir"
)

// initLayout materializes one layout for the current function. Distributed
// layouts turn into per-lane coordinate lists in the entry block; shared
// layouts turn into stage pointers and rotation placeholders.
func (g *generator) initLayout(l layout.Layout) error {
	switch ll := l.(type) {
	case *layout.Distributed:
		g.initScanline(ll)
	case *layout.MatrixUnit:
		g.initMatrixUnit(ll)
	case *layout.Shared:
		return g.initShared(ll)
	}
	return nil
}

// initScanline delinearizes the flat lane id along the layout order and
// expands each dimension into the coordinates one lane covers. A lane owns
// PerLane consecutive elements, then strides by a full block worth.
func (g *generator) initScanline(l *layout.Distributed) {
	rank := len(l.Shape)
	tid := g.threadID()
	lane := g.urem(tid, g.i32(warpSize))
	warp := g.udiv(tid, g.i32(warpSize))
	full := g.add(g.mul(warp, g.i32(warpSize)), lane)
	threadID := make([]value.Value, rank)
	for k := 0; k < rank-1; k++ {
		dim := l.Order[k]
		mts := g.i32(int64(l.Lanes[dim]))
		threadID[dim] = g.urem(full, mts)
		full = g.udiv(full, mts)
	}
	threadID[l.Order[rank-1]] = full
	for k := 0; k < rank; k++ {
		nts := l.PerLane[k]
		perBlock := l.TilePerBlock(k)
		perThread := nts * int(l.Shape[k]) / perBlock
		if perThread < nts {
			perThread = nts
		}
		scaled := g.mul(threadID[k], g.i32(int64(nts)))
		vals := make([]value.Value, perThread)
		for n := 0; n < perThread; n++ {
			off := n/nts*perBlock + n%nts
			vals[n] = g.add(scaled, g.i32(int64(off)))
		}
		g.axes[g.info.LayoutAxis(l, k)] = coordAxis{contiguous: nts, values: vals, threadID: threadID[k]}
	}
}

// initMatrixUnit expands the accumulator coordinates of the tensor-core
// tiling. Lanes land on the fragment slots the mma instruction assigns, so
// neighbouring coordinates never belong to one lane and contiguity is 1.
func (g *generator) initMatrixUnit(l *layout.MatrixUnit) {
	tid := g.threadID()
	lane := g.urem(tid, g.i32(warpSize))
	warp := g.udiv(tid, g.i32(warpSize))
	warp0 := g.urem(warp, g.i32(int64(l.Warps[0])))
	warp1 := g.urem(g.udiv(warp, g.i32(int64(l.Warps[0]))), g.i32(int64(l.Warps[1])))
	offWarpM := g.mul(warp0, g.i32(int64(l.Span[0])))
	offWarpN := g.mul(warp1, g.i32(int64(l.Span[1])))
	var idxM, idxN []value.Value
	if g.target.SM >= 80 {
		// m16n8 fragments: a lane holds rows r and r+8, columns c and c+1
		offCM := g.add(g.udiv(lane, g.i32(4)), offWarpM)
		offCN := g.add(g.mul(g.i32(2), g.urem(lane, g.i32(4))), offWarpN)
		for m := 0; m < int(l.Shape[0]); m += l.TilePerBlock(0) {
			idxM = append(idxM, g.add(offCM, g.i32(int64(m))), g.add(offCM, g.i32(int64(m+8))))
		}
		for n := 0; n < int(l.Shape[1]); n += l.TilePerBlock(1) {
			idxN = append(idxN, g.add(offCN, g.i32(int64(n))), g.add(offCN, g.i32(int64(n+1))))
		}
	} else {
		fpw0, fpw1 := l.Frags[0], l.Frags[1]
		rep0, rep1 := l.Rep[0], l.Rep[1]
		offQuadM := g.mul(g.udiv(g.and(lane, g.i32(16)), g.i32(4)), g.i32(int64(fpw0*rep0/2)))
		offPairM := g.urem(g.udiv(g.urem(lane, g.i32(16)), g.i32(4)), g.i32(int64(fpw0)))
		offPairM = g.mul(g.mul(offPairM, g.i32(4)), g.i32(int64(rep0/2)))
		offPairN := g.urem(g.udiv(g.udiv(g.urem(lane, g.i32(16)), g.i32(4)), g.i32(int64(fpw0))), g.i32(int64(fpw1)))
		offPairN = g.mul(g.mul(offPairN, g.i32(4)), g.i32(int64(rep1/2)))
		offLaneM := g.add(offQuadM, offPairM)
		offCM := g.add(g.and(lane, g.i32(1)), g.add(offWarpM, offLaneM))
		offCN := g.add(g.and(lane, g.i32(2)), g.add(offWarpN, offPairN))
		for m := 0; m < int(l.Shape[0]); m += l.TilePerBlock(0) {
			for mm := 0; mm < rep0; mm++ {
				idxM = append(idxM, g.add(offCM, g.i32(int64(m+mm*2))))
			}
		}
		for n := 0; n < int(l.Shape[1]); n += l.TilePerBlock(1) {
			for nn := 0; nn < rep1; nn++ {
				base := n + nn/2*4 + (nn%2)*2*fpw1*rep1
				idxN = append(idxN, g.add(offCN, g.i32(int64(base))), g.add(offCN, g.i32(int64(base+1))))
			}
		}
	}
	g.axes[g.info.LayoutAxis(l, 0)] = coordAxis{contiguous: 1, values: idxM, threadID: warp0}
	g.axes[g.info.LayoutAxis(l, 1)] = coordAxis{contiguous: 1, values: idxN, threadID: warp1}
}

// initShared resolves the buffer's place in the shared heap and, for
// buffered layouts, plants the rotation placeholders at the head of the
// loop that carries them. Stage 0 is a constant offset from the heap base,
// so it folds instead of occupying the entry block.
func (g *generator) initShared(l *layout.Shared) error {
	off, err := g.info.Alloc.Offset(l)
	if err != nil {
		return g.preconditionf("%v", err)
	}
	elem := scalarTy(l.Elem)
	ptrTy := ptrTo(elem, int(tir.Shared))
	pre := constant.NewBitCast(
		constant.NewGetElementPtr(types.I8, g.shmem, constant.NewInt(types.I32, int64(off))),
		ptrTy,
	)
	h := &stageHandles{pre: pre, base: pre}
	g.handles[l.ID] = h
	switch b := l.Buffering.(type) {
	case nil:
	case *layout.Double:
		phi, ok := b.Phi.(*tir.Phi)
		if !ok {
			return g.internalf("rotation head of shared buffer #%d is not a phi", l.ID)
		}
		blk, ok := g.head[phi.Parent()]
		if !ok {
			return nil // carried by a loop in another kernel
		}
		base := &ir.InstPhi{Typ: ptrTy}
		offPhi := &ir.InstPhi{Typ: types.I32}
		insertPhi(blk, base)
		insertPhi(blk, offPhi)
		h.base = base
		h.off = offPhi
		h.next = blk.NewGetElementPtr(elem, base, offPhi)
	case *layout.NStage:
		phi, ok := b.Phi.(*tir.Phi)
		if !ok {
			return g.internalf("rotation head of shared buffer #%d is not a phi", l.ID)
		}
		blk, ok := g.head[phi.Parent()]
		if !ok {
			return nil
		}
		readIdx := &ir.InstPhi{Typ: types.I32}
		writeIdx := &ir.InstPhi{Typ: types.I32}
		base := &ir.InstPhi{Typ: ptrTy}
		next := &ir.InstPhi{Typ: ptrTy}
		insertPhi(blk, next)
		insertPhi(blk, base)
		insertPhi(blk, writeIdx)
		insertPhi(blk, readIdx)
		h.base = base
		h.next = next
		h.readIdx = readIdx
		h.writeIdx = writeIdx
	}
	return nil
}
