package tir

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTypeStrings(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{I1, "i1"},
		{I32, "i32"},
		{BF16, "bf16"},
		{FP64, "fp64"},
		{Ptr(I8, Generic), "*i8"},
		{Ptr(FP32, Global), "*fp32 space(1)"},
		{Ptr(FP32, Shared), "*fp32 space(3)"},
		{Tile(I32, 128), "tile<128 x i32>"},
		{Tile(FP16, 32, 8), "tile<32x8 x fp16>"},
		{Tile(Ptr(FP32, Global), 16), "tile<16 x *fp32 space(1)>"},
		{&FuncType{Ret: Void, Params: []Type{I32, Ptr(FP32, Global)}}, "func(i32, *fp32 space(1)) void"},
	}
	for _, tc := range tests {
		if got := tc.typ.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestSameTypeIsStructural(t *testing.T) {
	tests := []struct {
		a, b Type
		want bool
	}{
		{I32, I32, true},
		{I32, I64, false},
		{Ptr(FP32, Global), Ptr(FP32, Global), true},
		{Ptr(FP32, Global), Ptr(FP32, Shared), false},
		{Ptr(FP32, Global), Ptr(FP16, Global), false},
		{Tile(FP32, 8, 4), Tile(FP32, 8, 4), true},
		{Tile(FP32, 8, 4), Tile(FP32, 4, 8), false},
		{Tile(FP32, 8), Tile(FP32, 8, 1), false},
		{Tile(FP32, 8), FP32, false},
	}
	for _, tc := range tests {
		if got := SameType(tc.a, tc.b); got != tc.want {
			t.Errorf("SameType(%s, %s) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestScalarWidths(t *testing.T) {
	tests := []struct {
		typ   Type
		bits  int
		bytes int
	}{
		{I1, 1, 1},
		{I8, 8, 1},
		{FP8, 8, 1},
		{FP16, 16, 2},
		{BF16, 16, 2},
		{I32, 32, 4},
		{FP32, 32, 4},
		{I64, 64, 8},
		{FP64, 64, 8},
		{Ptr(FP32, Global), 64, 8},
	}
	for _, tc := range tests {
		if got := Bits(tc.typ); got != tc.bits {
			t.Errorf("Bits(%s) = %d, want %d", tc.typ, got, tc.bits)
		}
		if got := SizeOf(tc.typ); got != tc.bytes {
			t.Errorf("SizeOf(%s) = %d, want %d", tc.typ, got, tc.bytes)
		}
	}
}

func TestKindPredicates(t *testing.T) {
	for _, typ := range []Type{FP8, FP16, BF16, FP32, FP64} {
		if !IsFloat(typ) {
			t.Errorf("IsFloat(%s) = false", typ)
		}
		if IsInt(typ) {
			t.Errorf("IsInt(%s) = true", typ)
		}
	}
	for _, typ := range []Type{I1, I8, I16, I32, I64} {
		if !IsInt(typ) {
			t.Errorf("IsInt(%s) = false", typ)
		}
		if IsFloat(typ) {
			t.Errorf("IsFloat(%s) = true", typ)
		}
	}
	if IsFloat(Ptr(FP32, Global)) || IsInt(Ptr(I32, Global)) {
		t.Errorf("pointers classified as scalar kinds")
	}
}

func TestTileAccessors(t *testing.T) {
	grid := Tile(I32, 2, 3)
	if !IsTile(grid) || IsTile(I32) {
		t.Fatalf("IsTile misclassifies")
	}
	if grid.Rank() != 2 || grid.NumElements() != 6 {
		t.Fatalf("rank/elements = %d/%d, want 2/6", grid.Rank(), grid.NumElements())
	}
	if !SameType(Scalar(grid), I32) || !SameType(Scalar(FP16), FP16) {
		t.Fatalf("Scalar unwraps wrong element")
	}
	if diff := cmp.Diff([]int64{2, 3}, Shape(grid)); diff != "" {
		t.Fatalf("Shape mismatch (-want +got):\n%s", diff)
	}
	if Shape(I32) != nil {
		t.Fatalf("Shape of scalar = %v, want nil", Shape(I32))
	}
}
