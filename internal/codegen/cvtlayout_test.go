package codegen

import (
	"errors"
	"strings"
	"testing"

	"tilegen/internal/layout"
	"tilegen/internal/tir"
)

func TestConvertLayoutRoundTripsThroughScratch(t *testing.T) {
	mod := tir.NewModule()
	b := tir.NewBuilder(mod)
	info := layout.NewInfo()
	dist := layout.FitDistributed([]int64{64}, []int{0}, 32, nil)
	dist2 := layout.FitDistributed([]int64{64}, []int{0}, 32, []int{2})
	out := b.Param("out", tir.Ptr(tir.I32, tir.Global))
	b.Func("regroup", tir.Void, out)
	b.Block("entry")
	rng := b.MakeRange(0, 64)
	cvt := b.ConvertLayout(rng)
	rng2 := b.MakeRange(0, 64)
	outs := b.Splat(out, 64)
	op := b.AddPtr(outs, rng2)
	b.Store(op, cvt)
	b.Return(nil)
	info.SetLayout(rng, dist)
	for _, v := range []tir.Value{cvt, rng2, outs, op} {
		info.SetLayout(v, dist2)
	}
	sc := info.NewShared([]int64{64}, []int{0}, tir.I32)
	info.SetScratch(cvt, sc)
	info.Alloc.Place(sc)
	got := lowerKernel(t, mod, info, Target{SM: 80, NumWarps: 1})
	if n := strings.Count(got, "call void @llvm.nvvm.barrier0()"); n != 2 {
		t.Fatalf("one window needs 2 fences, got %d:\n%s", n, got)
	}
	if n := strings.Count(got, "store i32 "); n != 2 {
		t.Fatalf("expected 2 scratch writes, got %d:\n%s", n, got)
	}
	if n := strings.Count(got, "load i32, i32 addrspace(3)*"); n != 2 {
		t.Fatalf("expected 2 scratch reads, got %d:\n%s", n, got)
	}
	if n := strings.Count(got, "store <1 x i32>"); n != 2 {
		t.Fatalf("regrouped tile should store out per element, got %d:\n%s", n, got)
	}
}

func TestConvertLayoutNeedsScratch(t *testing.T) {
	mod := tir.NewModule()
	b := tir.NewBuilder(mod)
	info := layout.NewInfo()
	dist := layout.FitDistributed([]int64{64}, []int{0}, 32, nil)
	dist2 := layout.FitDistributed([]int64{64}, []int{0}, 32, []int{2})
	b.Func("regroup", tir.Void)
	b.Block("entry")
	rng := b.MakeRange(0, 64)
	cvt := b.ConvertLayout(rng)
	b.Return(nil)
	info.SetLayout(rng, dist)
	info.SetLayout(cvt, dist2)
	_, err := Generate(mod, info, Target{SM: 80, NumWarps: 1})
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected a precondition failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "has no scratch buffer") {
		t.Fatalf("unexpected message %q", err)
	}
}

func TestConvertLayoutRejectsSharedEndpoints(t *testing.T) {
	mod := tir.NewModule()
	b := tir.NewBuilder(mod)
	info := layout.NewInfo()
	dist := layout.FitDistributed([]int64{64}, []int{0}, 32, nil)
	b.Func("regroup", tir.Void)
	b.Block("entry")
	x := b.SplatInt(tir.Tile(tir.I32, 64), 1)
	cs := b.CopyToShared(x)
	cvt := b.ConvertLayout(cs)
	b.Return(nil)
	info.SetLayout(x, dist)
	sh := info.NewShared([]int64{64}, []int{0}, tir.I32)
	info.SetLayout(cs, sh)
	info.SetLayout(cvt, dist)
	info.Alloc.Place(sh)
	_, err := Generate(mod, info, Target{SM: 80, NumWarps: 1})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected an unsupported failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "out of a shared buffer") {
		t.Fatalf("unexpected message %q", err)
	}
}

func TestConvertLayoutRejectsRankThree(t *testing.T) {
	mod := tir.NewModule()
	b := tir.NewBuilder(mod)
	info := layout.NewInfo()
	dist3 := &layout.Distributed{
		Shape: []int64{4, 4, 4}, Order: []int{0, 1, 2},
		Lanes: []int{4, 4, 2}, PerLane: []int{1, 1, 1},
	}
	dist3b := &layout.Distributed{
		Shape: []int64{4, 4, 4}, Order: []int{2, 1, 0},
		Lanes: []int{2, 4, 4}, PerLane: []int{1, 1, 1},
	}
	b.Func("regroup", tir.Void)
	b.Block("entry")
	x := b.SplatInt(tir.Tile(tir.I32, 4, 4, 4), 1)
	cvt := b.ConvertLayout(x)
	b.Return(nil)
	info.SetLayout(x, dist3)
	info.SetLayout(cvt, dist3b)
	_, err := Generate(mod, info, Target{SM: 80, NumWarps: 1})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected an unsupported failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "rank-3") {
		t.Fatalf("unexpected message %q", err)
	}
}
