package codegen

import (
	"testing"

	"tilegen/internal/tir"
)

func TestLoadAsmSingleWord(t *testing.T) {
	got := ldGlobalAsm(1, 32, tir.CacheNone, 0, nil)
	want := "@$1 ld.global.b32 {$0}, [ $2 + 0];"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLoadAsmVectorWithCachePolicy(t *testing.T) {
	got := ldGlobalAsm(4, 32, tir.CacheCG, 16, nil)
	want := "@$4 ld.global.cg.v4.b32 {$0,$1,$2,$3}, [ $5 + 16];"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLoadAsmWideWord(t *testing.T) {
	got := ldGlobalAsm(1, 64, tir.CacheCA, 8, nil)
	want := "@$1 ld.global.ca.b64 {$0}, [ $2 + 8];"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLoadAsmLiteralFallbacks(t *testing.T) {
	others := []ldOther{
		{literal: true, bits: 0x3f800000},
		{literal: true, bits: 0},
	}
	got := ldGlobalAsm(2, 32, tir.CacheNone, 0, others)
	want := "@$2 ld.global.v2.b32 {$0,$1}, [ $3 + 0];" +
		"\n        @!$2 mov.u32 $0, 0x3f800000;" +
		"\n        @!$2 mov.u32 $1, 0x0;"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLoadAsmRegisterFallbacks(t *testing.T) {
	got := ldGlobalAsm(2, 32, tir.CacheNone, 0, make([]ldOther, 2))
	want := "@$2 ld.global.v2.b32 {$0,$1}, [ $3 + 0];" +
		"\n        @!$2 mov.u32 $0, $4;" +
		"\n        @!$2 mov.u32 $1, $5;"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLoadConstraints(t *testing.T) {
	cases := []struct {
		nWords, width, extras int
		want                  string
	}{
		{1, 32, 0, "=r,b,l"},
		{4, 32, 0, "=r,=r,=r,=r,b,l"},
		{1, 64, 1, "=l,b,l,l"},
		{2, 16, 0, "=c,=c,b,l"},
	}
	for _, c := range cases {
		if got := ldGlobalConstraint(c.nWords, c.width, c.extras); got != c.want {
			t.Errorf("constraint(%d, %d, %d) = %q, want %q", c.nWords, c.width, c.extras, got, c.want)
		}
	}
}

func TestCpAsyncLinePolicy(t *testing.T) {
	got := cpAsyncAsm(16, 0, 0)
	want := "cp.async.cg.shared.global [$0 + 0], [$1 + 0], 16, $2;"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	got = cpAsyncAsm(8, 128, 64)
	want = "cp.async.ca.shared.global [$0 + 128], [$1 + 64], 8, $2;"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCpAsyncWait(t *testing.T) {
	if got, want := cpAsyncWaitAsm(2), "cp.async.wait_group 2;"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAtomAsmForms(t *testing.T) {
	cases := []struct {
		name, class string
		nbits, vec  int
		off         int64
		want        string
	}{
		{"add", "f", 32, 1, 0, "@$1 atom.global.gpu.add.f32 $0, [$2], $3;"},
		{"add", "f", 16, 2, 8, "@$1 atom.global.gpu.add.noftz.f16x2 $0, [$2 + 8], $3;"},
		{"max", "s", 32, 1, 0, "@$1 atom.global.gpu.max.s32 $0, [$2], $3;"},
		{"exch", "b", 32, 1, 4, "@$1 atom.global.gpu.exch.b32 $0, [$2 + 4], $3;"},
	}
	for _, c := range cases {
		got := atomRMWAsm(c.name, c.class, c.nbits, c.vec, c.off)
		if got != c.want {
			t.Errorf("atomRMWAsm(%s): got %q, want %q", c.name, got, c.want)
		}
	}
}

func TestAtomConstraints(t *testing.T) {
	if got, want := atomRMWConstraint(32, 1), "=r,b,l,r"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got, want := atomRMWConstraint(16, 1), "=h,b,l,h"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got, want := atomRMWConstraint(16, 2), "=r,b,l,r"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRMWSpecCoversEveryOp(t *testing.T) {
	ops := []tir.RMWOp{
		tir.RMWAnd, tir.RMWOr, tir.RMWXor, tir.RMWAdd, tir.RMWFAdd,
		tir.RMWMin, tir.RMWMax, tir.RMWUMin, tir.RMWUMax, tir.RMWXchg,
	}
	for _, op := range ops {
		if _, _, ok := rmwSpec(op); !ok {
			t.Errorf("op %v has no spec", op)
		}
	}
	if _, _, ok := rmwSpec(tir.RMWOp(200)); ok {
		t.Fatalf("expected an unknown op to have no spec")
	}
}

func TestRMWSpecClasses(t *testing.T) {
	name, class, _ := rmwSpec(tir.RMWFAdd)
	if name != "add" || class != "f" {
		t.Fatalf("float add maps to %s.%s", name, class)
	}
	name, class, _ = rmwSpec(tir.RMWUMax)
	if name != "max" || class != "u" {
		t.Fatalf("unsigned max maps to %s.%s", name, class)
	}
	name, class, _ = rmwSpec(tir.RMWXchg)
	if name != "exch" || class != "b" {
		t.Fatalf("exchange maps to %s.%s", name, class)
	}
}
