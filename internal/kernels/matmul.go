package kernels

import (
	"fmt"

	"tilegen/internal/layout"
	"tilegen/internal/tir"
)

const (
	matTileM  = 32
	matTileN  = 32
	matTileK  = 32
	matKTiles = 3
	matStages = 3
)

// MatmulPipelined multiplies a row-major 32x96 A by a row-major 96x32 B into
// a 32x32 C. The K dimension walks in three 32-wide tiles behind a
// three-stage pipeline: both operand buffers rotate through shared memory,
// filled by 16-byte async copies two iterations ahead of the fused
// multiply-adds that read them. Fetches past the last tile stay issued but
// masked, so the trailing stages land zero-filled and are never consumed.
func MatmulPipelined(threads int) (*tir.Module, *layout.Info, error) {
	if threads%32 != 0 || threads < 32 || threads > 256 {
		return nil, nil, fmt.Errorf("kernels: matmul_pipelined runs with 1 to 8 warps (got %d threads)", threads)
	}
	mod := tir.NewModule()
	b := tir.NewBuilder(mod)
	info := layout.NewInfo()

	tf := tir.Tile(tir.FP32, matTileM, matTileN)
	ti := tir.Tile(tir.I32, matTileM, matTileN)
	tm := tir.Tile(tir.I1, matTileM, matTileN)
	tp := tir.Tile(tir.Ptr(tir.FP32, tir.Global), matTileM, matTileN)

	// dimension 1 varies fastest and carries four-element runs per lane, so
	// every staged line is 16 contiguous bytes
	dist := layout.FitDistributed([]int64{matTileM, matTileN}, []int{1, 0}, threads, []int{1, 4})
	r32 := layout.FitDistributed([]int64{matTileM}, []int{0}, threads, nil)
	colD := layout.FitDistributed([]int64{matTileM, 1}, []int{0, 1}, threads, nil)
	rowD := layout.FitDistributed([]int64{1, matTileN}, []int{0, 1}, threads, nil)
	ax0 := info.LayoutAxis(dist, 0)
	ax1 := info.LayoutAxis(dist, 1)

	shA := info.NewShared([]int64{matTileM, matTileK}, []int{1, 0}, tir.FP32)
	shB := info.NewShared([]int64{matTileK, matTileN}, []int{1, 0}, tir.FP32)
	info.Alloc.Place(shA)
	info.Alloc.Place(shB)

	a := b.Param("a", tir.Ptr(tir.FP32, tir.Global))
	bm := b.Param("b", tir.Ptr(tir.FP32, tir.Global))
	c := b.Param("c", tir.Ptr(tir.FP32, tir.Global))
	b.Func("matmul_pipelined", tir.Void, a, bm, c)
	entry := b.Block("entry")
	loop := b.Block("loop")
	exit := b.Block("exit")

	b.SetBlock(entry)
	r0 := b.MakeRange(0, matTileM)
	r1 := b.MakeRange(0, matTileN)
	rc := b.Reshape(r0, matTileM, 1)
	rr := b.Reshape(r1, 1, matTileN)
	rowIdx := b.Broadcast(rc, matTileM, matTileN)
	colIdx := b.Broadcast(rr, matTileM, matTileN)
	ldA := b.SplatInt(ti, matTileK*matKTiles)
	ldB := b.SplatInt(ti, matTileN)
	aOff := b.Bin(tir.Add, b.Bin(tir.Mul, rowIdx, ldA), colIdx)
	bOff := b.Bin(tir.Add, b.Bin(tir.Mul, rowIdx, ldB), colIdx)
	aS := b.Splat(a, matTileM, matTileN)
	bS := b.Splat(bm, matTileM, matTileN)
	cS := b.Splat(c, matTileM, matTileN)
	aP0 := b.AddPtr(aS, aOff)
	bP0 := b.AddPtr(bS, bOff)
	cP := b.AddPtr(cS, bOff)
	stepA := b.SplatInt(ti, matTileK)
	stepB := b.SplatInt(ti, matTileK*matTileN)
	aP1 := b.AddPtr(aP0, stepA)
	bP1 := b.AddPtr(bP0, stepB)
	aP2 := b.AddPtr(aP1, stepA)
	bP2 := b.AddPtr(bP1, stepB)
	always := b.SplatInt(tm, 1)
	aF0 := b.AsyncCopy(aP0, always)
	bF0 := b.AsyncCopy(bP0, always)
	aF1 := b.AsyncCopy(aP1, always)
	bF1 := b.AsyncCopy(bP1, always)
	zeroAcc := b.SplatFloat(tf, 0)
	b.Br(loop)

	b.SetBlock(loop)
	acc := b.Phi(tf)
	aBuf := b.Phi(tf)
	bBuf := b.Phi(tf)
	ap := b.Phi(tp)
	bp := b.Phi(tp)
	i := b.Phi(tir.I32)
	// each stage fill commits two copy groups, one per operand buffer
	b.AsyncWait(2 * (matStages - 2))
	b.Barrier()
	d := b.Dot(aBuf, bBuf, acc)
	ahead := b.ICmp(tir.IntSLT, b.Add(i, b.Int32(matStages-1)), b.Int32(matKTiles))
	aheadT := b.Splat(ahead, matTileM, matTileN)
	aL := b.AsyncCopy(ap, aheadT)
	bL := b.AsyncCopy(bp, aheadT)
	apNext := b.AddPtr(ap, stepA)
	bpNext := b.AddPtr(bp, stepB)
	iNext := b.Add(i, b.Int32(1))
	b.CondBr(b.ICmp(tir.IntSLT, iNext, b.Int32(matKTiles)), loop, exit)

	b.SetBlock(exit)
	b.Store(cP, d)
	b.Return(nil)

	acc.AddIncoming(zeroAcc, entry)
	acc.AddIncoming(d, loop)
	aBuf.AddIncoming(aF0, entry)
	aBuf.AddIncoming(aL, loop)
	bBuf.AddIncoming(bF0, entry)
	bBuf.AddIncoming(bL, loop)
	ap.AddIncoming(aP2, entry)
	ap.AddIncoming(apNext, loop)
	bp.AddIncoming(bP2, entry)
	bp.AddIncoming(bpNext, loop)
	i.AddIncoming(b.Int32(0), entry)
	i.AddIncoming(iNext, loop)

	shA.Buffering = &layout.NStage{Phi: aBuf, Firsts: []tir.Value{aF0, aF1}, Latch: aL, Stages: matStages}
	shB.Buffering = &layout.NStage{Phi: bBuf, Firsts: []tir.Value{bF0, bF1}, Latch: bL, Stages: matStages}

	info.SetLayout(r0, r32)
	info.SetAxis(r0, 0, ax0)
	info.SetLayout(r1, r32)
	info.SetAxis(r1, 0, ax1)
	info.SetLayout(rc, colD)
	info.SetAxis(rc, 0, ax0)
	info.SetLayout(rr, rowD)
	info.SetAxis(rr, 1, ax1)
	for _, v := range []tir.Value{
		rowIdx, colIdx, ldA, ldB, aOff, bOff, aS, bS, cS,
		aP0, bP0, cP, stepA, stepB, aP1, bP1, aP2, bP2, always,
		zeroAcc, acc, d, aheadT, ap, bp, apNext, bpNext,
	} {
		info.SetLayout(v, dist)
	}
	for _, v := range []tir.Value{aF0, aF1, aL, aBuf} {
		info.SetLayout(v, shA)
	}
	for _, v := range []tir.Value{bF0, bF1, bL, bBuf} {
		info.SetLayout(v, shB)
	}
	info.SetContiguity(cP, 1, 4)
	return mod, info, nil
}
