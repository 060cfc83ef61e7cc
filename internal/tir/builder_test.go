package tir

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuilderTracksBlocksAndPreds(t *testing.T) {
	mod := NewModule()
	b := NewBuilder(mod)
	b.Func("walk", Void)
	entry := b.Block("entry")
	loop := b.Block("loop")
	exit := b.Block("exit")
	b.SetBlock(entry)
	b.Br(loop)
	b.SetBlock(loop)
	iv := b.Phi(I32)
	next := b.Add(iv, b.Int32(1))
	b.CondBr(b.ICmp(IntSLT, next, b.Int32(3)), loop, exit)
	b.SetBlock(exit)
	b.Return(nil)
	iv.AddIncoming(b.Int32(0), entry)
	iv.AddIncoming(next, loop)

	fn := mod.Funcs[0]
	if fn.Entry() != entry {
		t.Fatalf("Entry() = %v, want the first block", fn.Entry())
	}
	if diff := cmp.Diff([]string{"entry", "loop", "exit"}, blockNames(fn.Blocks)); diff != "" {
		t.Fatalf("block order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"entry", "loop"}, blockNames(loop.Preds())); diff != "" {
		t.Fatalf("loop preds mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"loop"}, blockNames(exit.Preds())); diff != "" {
		t.Fatalf("exit preds mismatch (-want +got):\n%s", diff)
	}
	for _, blk := range fn.Blocks {
		if blk.Terminator() == nil {
			t.Fatalf("block %s has no terminator", blk.Name())
		}
	}
	if len(iv.Incs) != 2 || iv.Incs[0].Block != entry || iv.Incs[1].Block != loop {
		t.Fatalf("phi edges not recorded in order")
	}
}

func TestConstantsAreFreeValues(t *testing.T) {
	mod := NewModule()
	b := NewBuilder(mod)
	b.Func("k", Void)
	blk := b.Block("entry")
	c := b.Int32(7)
	f := b.SplatFloat(Tile(FP32, 4), 1)
	u := b.UndefOf(I32)
	ret := b.Return(nil)

	if len(blk.Instrs) != 1 || blk.Instrs[0] != ret {
		t.Fatalf("constants occupy the block: %d instructions", len(blk.Instrs))
	}
	for _, v := range []Value{c, f, u} {
		if !IsConstant(v) {
			t.Errorf("IsConstant(%s) = false", v.Name())
		}
	}
	if IsConstant(ret) {
		t.Errorf("IsConstant reports true for an instruction")
	}
	if blk.Terminator() != ret {
		t.Fatalf("terminator not the return")
	}
}

func TestBuilderResultTypes(t *testing.T) {
	mod := NewModule()
	b := NewBuilder(mod)
	p := b.Param("p", Ptr(FP16, Global))
	b.Func("typed", Void, p)
	b.Block("entry")
	rng := b.MakeRange(0, 16)
	ptrs := b.AddPtr(b.Splat(p, 16), rng)
	vals := b.Load(ptrs, CacheCA)
	grid := b.Reshape(vals, 4, 4)
	wide := b.Broadcast(b.Reshape(vals, 1, 16), 4, 16)
	pair := b.Cat(rng, rng)
	row := b.Reduce(RedFAdd, grid, 0)
	total := b.Reduce(RedFAdd, vals, 0)
	one := b.Downcast(b.Splat(total, 1))
	mask := b.ICmp(IntSLT, rng, b.SplatInt(Tile(I32, 16), 8))
	b.Return(nil)

	tests := []struct {
		v    Value
		want string
	}{
		{rng, "tile<16 x i32>"},
		{ptrs, "tile<16 x *fp16 space(1)>"},
		{vals, "tile<16 x fp16>"},
		{grid, "tile<4x4 x fp16>"},
		{wide, "tile<4x16 x fp16>"},
		{pair, "tile<32 x i32>"},
		{row, "tile<4 x fp16>"},
		{total, "fp16"},
		{one, "fp16"},
		{mask, "tile<16 x i1>"},
	}
	for _, tc := range tests {
		if got := tc.v.Type().String(); got != tc.want {
			t.Errorf("%s: type %s, want %s", tc.v.Name(), got, tc.want)
		}
	}
}

func TestBuilderUniqueNames(t *testing.T) {
	mod := NewModule()
	b := NewBuilder(mod)
	p1 := b.Param("x", I32)
	p2 := b.Param("x", I32)
	b.Func("named", Void, p1, p2)
	b1 := b.Block("body")
	b2 := b.Block("body")

	if p1.Name() != "x" || p2.Name() != "x1" {
		t.Fatalf("param names %q, %q, want x, x1", p1.Name(), p2.Name())
	}
	if b1.Name() != "body" || b2.Name() != "body1" {
		t.Fatalf("block names %q, %q, want body, body1", b1.Name(), b2.Name())
	}
}

func TestValueIDsAreModuleWide(t *testing.T) {
	mod := NewModule()
	b := NewBuilder(mod)
	b.Func("first", Void)
	b.Block("entry")
	a := b.MakeRange(0, 4)
	b.Return(nil)
	b.Func("second", Void)
	b.Block("entry")
	c := b.MakeRange(0, 4)
	b.Return(nil)

	if a.ID() == c.ID() {
		t.Fatalf("value IDs collide across functions: %d", a.ID())
	}
	if mod.NumValues() <= int(c.ID()) {
		t.Fatalf("NumValues() = %d does not cover ID %d", mod.NumValues(), c.ID())
	}
}

func blockNames(blocks []*Block) []string {
	names := make([]string, len(blocks))
	for i, blk := range blocks {
		names[i] = blk.Name()
	}
	return names
}
