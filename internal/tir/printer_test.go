package tir

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDumpListsModuleText(t *testing.T) {
	mod := NewModule()
	b := NewBuilder(mod)

	x := b.Param("x", Ptr(FP32, Global))
	n := b.Param("n", I32)
	b.Func("axpy", Void, x, n)
	b.Block("entry")
	rng := b.MakeRange(0, 8)
	bound := b.Splat(n, 8)
	mask := b.ICmp(IntSLT, rng, bound)
	xs := b.Splat(x, 8)
	xp := b.AddPtr(xs, rng)
	other := b.SplatFloat(Tile(FP32, 8), 0)
	xv := b.MaskedLoad(xp, mask, other, CacheCG)
	sum := b.Bin(FAdd, xv, xv)
	b.MaskedStore(xp, sum, mask)
	b.Return(nil)

	b.Func("count", Void)
	start := b.Block("start")
	step := b.Block("step")
	done := b.Block("done")
	b.SetBlock(start)
	b.Br(step)
	b.SetBlock(step)
	iv := b.Phi(I32)
	next := b.Add(iv, b.Int32(1))
	b.CondBr(b.ICmp(IntSLT, next, b.Int32(4)), step, done)
	b.SetBlock(done)
	b.Return(nil)
	iv.AddIncoming(b.Int32(0), start)
	iv.AddIncoming(next, step)

	want := `func @axpy(%x: *fp32 space(1), %n: i32) {
entry:
  %v2 = range 0, 8 : tile<8 x i32>
  %v3 = splat %n : tile<8 x i32>
  %v4 = icmp slt %v2, %v3
  %v5 = splat %x : tile<8 x *fp32 space(1)>
  %v6 = addptr %v5, %v2
  %v8 = load %v6, mask %v4, other 0 cg : tile<8 x fp32>
  %v9 = fadd %v8, %v8 : tile<8 x fp32>
  store %v6, %v9, mask %v4
  ret
}

func @count() {
start:
  br step
step:
  %v13 = phi [0, start], [%v15, step] : i32
  %v15 = add %v13, 1 : i32
  %v17 = icmp slt %v15, 4
  br %v17, step, done
done:
  ret
}
`
	var buf strings.Builder
	Dump(mod, &buf)
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("dump mismatch (-want +got):\n%s", diff)
	}
}

func TestOpNamesRoundOut(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{UDiv.String(), "udiv"},
		{AShr.String(), "ashr"},
		{FRem.String(), "frem"},
		{IntUGE.String(), "uge"},
		{FloatUNE.String(), "une"},
		{AddrSpaceCast.String(), "addrspacecast"},
		{RedUMax.String(), "umax"},
		{RMWXchg.String(), "xchg"},
		{MathSqrt.String(), "sqrt"},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("String() = %q, want %q", tc.got, tc.want)
		}
	}
}
