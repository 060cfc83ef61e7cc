package layout

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tilegen/internal/tir"
)

func TestAxisSharingAcrossLayouts(t *testing.T) {
	mod := tir.NewModule()
	b := tir.NewBuilder(mod)
	b.Func("k", tir.Void)
	b.Block("entry")
	rng := b.MakeRange(0, 32)
	col := b.Reshape(rng, 32, 1)
	grid := b.Broadcast(col, 32, 32)
	other := b.Broadcast(b.Reshape(rng, 1, 32), 32, 32)

	info := NewInfo()
	dist := FitDistributed([]int64{32, 32}, []int{1, 0}, 64, nil)
	r32 := FitDistributed([]int64{32}, []int{0}, 64, nil)
	info.SetLayout(grid, dist)
	info.SetLayout(other, dist)
	info.SetLayout(rng, r32)
	info.SetAxis(rng, 0, info.LayoutAxis(dist, 0))

	if got, want := info.AxisOf(rng, 0), info.AxisOf(grid, 0); got != want {
		t.Fatalf("axis override ignored: %d vs %d", got, want)
	}
	if info.AxisOf(grid, 0) == info.AxisOf(grid, 1) {
		t.Fatalf("dimensions of one layout share axis %d", info.AxisOf(grid, 0))
	}
	if got, want := info.AxisOf(other, 1), info.AxisOf(grid, 1); got != want {
		t.Fatalf("values sharing a layout diverge: %d vs %d", got, want)
	}
	if got := info.AxisOf(col, 0); got != -1 {
		t.Fatalf("value without layout reports axis %d", got)
	}
}

func TestLayoutRegistryKeepsOrderAndKinds(t *testing.T) {
	mod := tir.NewModule()
	b := tir.NewBuilder(mod)
	b.Func("k", tir.Void)
	b.Block("entry")
	staged := b.MakeRange(0, 32)
	spread := b.MakeRange(0, 32)

	info := NewInfo()
	sh := info.NewShared([]int64{32}, []int{0}, tir.FP32)
	dist := FitDistributed([]int64{32}, []int{0}, 32, nil)
	info.SetLayout(staged, sh)
	info.SetLayout(spread, dist)
	info.SetLayout(spread, dist)

	if sh.Vec != 1 || sh.PerPhase != 1 || sh.MaxPhase != 1 {
		t.Fatalf("fresh shared buffer carries a swizzle: %+v", sh)
	}
	if sh2 := info.NewShared([]int64{32}, []int{0}, tir.FP32); sh2.ID == sh.ID {
		t.Fatalf("buffer identities collide at #%d", sh.ID)
	}
	all := info.AllLayouts()
	if len(all) != 3 || all[0] != Layout(sh) || all[1] != Layout(dist) {
		t.Fatalf("registration order lost: %v", all)
	}
	if info.SharedOf(staged) != sh {
		t.Fatalf("SharedOf misses the shared value")
	}
	if info.SharedOf(spread) != nil {
		t.Fatalf("SharedOf invents a buffer for a distributed value")
	}
	if info.LayoutOf(staged) != Layout(sh) || info.LayoutOf(spread) != Layout(dist) {
		t.Fatalf("LayoutOf lost an assignment")
	}
}

func TestContiguityAndScratchDefaults(t *testing.T) {
	mod := tir.NewModule()
	b := tir.NewBuilder(mod)
	b.Func("k", tir.Void)
	b.Block("entry")
	ptrs := b.MakeRange(0, 64)
	red := b.Reduce(tir.RedAdd, ptrs, 0)

	info := NewInfo()
	if info.Contiguity(ptrs, 0) != 1 {
		t.Fatalf("default contiguity %d, want 1", info.Contiguity(ptrs, 0))
	}
	info.SetContiguity(ptrs, 0, 4)
	if info.Contiguity(ptrs, 0) != 4 || info.Contiguity(ptrs, 1) != 1 {
		t.Fatalf("contiguity fact lost: %d/%d", info.Contiguity(ptrs, 0), info.Contiguity(ptrs, 1))
	}

	if info.Scratch(red) != nil {
		t.Fatalf("scratch invented for %s", red.Name())
	}
	s := info.NewShared([]int64{64}, []int{0}, tir.FP32)
	info.SetScratch(red, s)
	if info.Scratch(red) != s {
		t.Fatalf("scratch assignment lost")
	}
	if info.Scratch(ptrs) != nil {
		t.Fatalf("scratch leaks to other values")
	}
}

func TestAllocationPlacesAligned(t *testing.T) {
	info := NewInfo()
	small := info.NewShared([]int64{5}, []int{0}, tir.FP32)
	staged := info.NewShared([]int64{4}, []int{0}, tir.FP32)
	staged.Buffering = &NStage{Stages: 3}

	if off := info.Alloc.Place(small); off != 0 {
		t.Fatalf("first placement at %d, want 0", off)
	}
	if off := info.Alloc.Place(staged); off != 32 {
		t.Fatalf("second placement at %d, want 32", off)
	}
	if got := info.Alloc.Size(); got != 80 {
		t.Fatalf("total size %d, want 80", got)
	}
	if off, err := info.Alloc.Offset(small); err != nil || off != 0 {
		t.Fatalf("Offset(small) = %d, %v", off, err)
	}
	orphan := &Shared{ID: 99, Shape: []int64{1}, Elem: tir.FP32}
	if _, err := info.Alloc.Offset(orphan); err == nil || !strings.Contains(err.Error(), "no allocation") {
		t.Fatalf("missing allocation not reported: %v", err)
	}

	fixed := NewAllocation()
	fixed.Assign(small, 64)
	if off, err := fixed.Offset(small); err != nil || off != 64 {
		t.Fatalf("assigned offset = %d, %v", off, err)
	}
	if fixed.Size() != 64+small.TotalBytes() {
		t.Fatalf("size %d after assign, want %d", fixed.Size(), 64+small.TotalBytes())
	}
}

func TestSharedBufferFootprint(t *testing.T) {
	info := NewInfo()
	s := info.NewShared([]int64{32, 32}, []int{1, 0}, tir.FP16)
	if s.StageElems() != 1024 {
		t.Fatalf("stage elements %d, want 1024", s.StageElems())
	}
	if s.Stages() != 1 || s.TotalBytes() != 2048 {
		t.Fatalf("single buffering: %d stages, %d bytes", s.Stages(), s.TotalBytes())
	}
	s.Buffering = &Double{}
	if s.Stages() != 2 || s.TotalBytes() != 4096 {
		t.Fatalf("double buffering: %d stages, %d bytes", s.Stages(), s.TotalBytes())
	}
	s.Buffering = &NStage{Stages: 3}
	if s.Stages() != 3 || s.TotalBytes() != 6144 {
		t.Fatalf("three stages: %d stages, %d bytes", s.Stages(), s.TotalBytes())
	}
}

func TestOrderAndShapeHelpers(t *testing.T) {
	d := FitDistributed([]int64{4, 8}, []int{1, 0}, 32, nil)
	if diff := cmp.Diff([]int{1, 0}, OrderOf(d)); diff != "" {
		t.Errorf("distributed order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{4, 8}, ShapeOf(d)); diff != "" {
		t.Errorf("distributed shape mismatch (-want +got):\n%s", diff)
	}

	m := NewMatrixUnit([]int64{16, 16}, []int{2, 2}, 80)
	if diff := cmp.Diff([]int{0, 1}, OrderOf(m)); diff != "" {
		t.Errorf("matrix-unit order mismatch (-want +got):\n%s", diff)
	}
	if m.Span[0] != 16 || m.Span[1] != 8 || m.Frags != nil {
		t.Errorf("sm80 defaults wrong: %+v", m)
	}
	if m.TilePerBlock(0) != 32 {
		t.Errorf("matrix-unit per-block tile %d, want 32", m.TilePerBlock(0))
	}
	old := NewMatrixUnit([]int64{16, 16}, []int{2, 2}, 70)
	if old.Span[1] != 16 || len(old.Frags) != 2 {
		t.Errorf("pre-80 defaults wrong: %+v", old)
	}
}
