package tir

import (
	"fmt"
	"strings"
)

// Kind enumerates the scalar element kinds a tile program can carry.
type Kind uint8

const (
	KindVoid Kind = iota
	KindInt1
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindFP8
	KindFP16
	KindBF16
	KindFP32
	KindFP64
)

// AddrSpace identifies the memory space a pointer refers to.
type AddrSpace int

const (
	Generic  AddrSpace = 0
	Global   AddrSpace = 1
	Shared   AddrSpace = 3
	Constant AddrSpace = 4
)

// Type is the closed set of tile IR types.
type Type interface {
	String() string
	isType()
}

// ScalarType is a plain per-lane scalar.
type ScalarType struct {
	Kind Kind
}

// PointerType points at Elem within Space.
type PointerType struct {
	Elem  Type
	Space AddrSpace
}

// TileType is a multi-dimensional value distributed over the program's lanes.
// Rank is between 1 and 3.
type TileType struct {
	Elem  Type
	Shape []int64
}

// FuncType describes a kernel signature.
type FuncType struct {
	Ret    Type
	Params []Type
}

func (*ScalarType) isType()  {}
func (*PointerType) isType() {}
func (*TileType) isType()    {}
func (*FuncType) isType()    {}

// Predeclared scalar types.
var (
	Void = &ScalarType{KindVoid}
	I1   = &ScalarType{KindInt1}
	I8   = &ScalarType{KindInt8}
	I16  = &ScalarType{KindInt16}
	I32  = &ScalarType{KindInt32}
	I64  = &ScalarType{KindInt64}
	FP8  = &ScalarType{KindFP8}
	FP16 = &ScalarType{KindFP16}
	BF16 = &ScalarType{KindBF16}
	FP32 = &ScalarType{KindFP32}
	FP64 = &ScalarType{KindFP64}
)

// Ptr returns a pointer type to elem in the given space.
func Ptr(elem Type, space AddrSpace) *PointerType {
	return &PointerType{Elem: elem, Space: space}
}

// Tile returns a tile type with the given element type and shape.
func Tile(elem Type, shape ...int64) *TileType {
	return &TileType{Elem: elem, Shape: append([]int64(nil), shape...)}
}

func (t *ScalarType) String() string {
	switch t.Kind {
	case KindVoid:
		return "void"
	case KindInt1:
		return "i1"
	case KindInt8:
		return "i8"
	case KindInt16:
		return "i16"
	case KindInt32:
		return "i32"
	case KindInt64:
		return "i64"
	case KindFP8:
		return "fp8"
	case KindFP16:
		return "fp16"
	case KindBF16:
		return "bf16"
	case KindFP32:
		return "fp32"
	case KindFP64:
		return "fp64"
	}
	return fmt.Sprintf("scalar(%d)", t.Kind)
}

func (t *PointerType) String() string {
	if t.Space == Generic {
		return "*" + t.Elem.String()
	}
	return fmt.Sprintf("*%s space(%d)", t.Elem, t.Space)
}

func (t *TileType) String() string {
	dims := make([]string, len(t.Shape))
	for i, s := range t.Shape {
		dims[i] = fmt.Sprintf("%d", s)
	}
	return fmt.Sprintf("tile<%s x %s>", strings.Join(dims, "x"), t.Elem)
}

func (t *FuncType) String() string {
	params := make([]string, len(t.Params))
	for i, p := range t.Params {
		params[i] = p.String()
	}
	return fmt.Sprintf("func(%s) %s", strings.Join(params, ", "), t.Ret)
}

// Rank reports the number of tile dimensions.
func (t *TileType) Rank() int { return len(t.Shape) }

// NumElements reports the total element count of the tile.
func (t *TileType) NumElements() int64 {
	n := int64(1)
	for _, s := range t.Shape {
		n *= s
	}
	return n
}

// IsTile reports whether t is a tile type.
func IsTile(t Type) bool {
	_, ok := t.(*TileType)
	return ok
}

// Scalar returns the per-lane element type: the element of a tile, or t
// itself for scalars and pointers.
func Scalar(t Type) Type {
	if bt, ok := t.(*TileType); ok {
		return bt.Elem
	}
	return t
}

// Shape returns the tile shape, or nil for scalars.
func Shape(t Type) []int64 {
	if bt, ok := t.(*TileType); ok {
		return bt.Shape
	}
	return nil
}

// IsFloat reports whether t is a floating scalar kind. The bf16 container is
// floating for selection purposes even though the target carries it in i16.
func IsFloat(t Type) bool {
	st, ok := t.(*ScalarType)
	if !ok {
		return false
	}
	switch st.Kind {
	case KindFP8, KindFP16, KindBF16, KindFP32, KindFP64:
		return true
	}
	return false
}

// IsInt reports whether t is an integer scalar kind (including i1).
func IsInt(t Type) bool {
	st, ok := t.(*ScalarType)
	if !ok {
		return false
	}
	switch st.Kind {
	case KindInt1, KindInt8, KindInt16, KindInt32, KindInt64:
		return true
	}
	return false
}

// Bits reports the bit width of a scalar kind, 64 for pointers.
func Bits(t Type) int {
	switch tt := t.(type) {
	case *ScalarType:
		switch tt.Kind {
		case KindInt1:
			return 1
		case KindInt8, KindFP8:
			return 8
		case KindInt16, KindFP16, KindBF16:
			return 16
		case KindInt32, KindFP32:
			return 32
		case KindInt64, KindFP64:
			return 64
		}
		return 0
	case *PointerType:
		return 64
	}
	return 0
}

// SizeOf reports the byte size of a scalar or pointer type.
func SizeOf(t Type) int {
	b := Bits(t)
	if b < 8 {
		return 1
	}
	return b / 8
}

// SameType reports structural equality of two types.
func SameType(a, b Type) bool {
	switch at := a.(type) {
	case *ScalarType:
		bt, ok := b.(*ScalarType)
		return ok && at.Kind == bt.Kind
	case *PointerType:
		bt, ok := b.(*PointerType)
		return ok && at.Space == bt.Space && SameType(at.Elem, bt.Elem)
	case *TileType:
		bt, ok := b.(*TileType)
		if !ok || len(at.Shape) != len(bt.Shape) {
			return false
		}
		for i := range at.Shape {
			if at.Shape[i] != bt.Shape[i] {
				return false
			}
		}
		return SameType(at.Elem, bt.Elem)
	case *FuncType:
		bt, ok := b.(*FuncType)
		if !ok || len(at.Params) != len(bt.Params) || !SameType(at.Ret, bt.Ret) {
			return false
		}
		for i := range at.Params {
			if !SameType(at.Params[i], bt.Params[i]) {
				return false
			}
		}
		return true
	}
	return false
}
