package codegen

import (
	"math"

	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/x448/float16"

	"tilegen/internal/layout"
	"tilegen/internal/tir"
)

// bf16Bits encodes f as bfloat16 with round-to-nearest-even, the rounding
// cvt.rn uses on device.
func bf16Bits(f float32) uint16 {
	bits := math.Float32bits(f)
	bits += 0x7fff + (bits>>16)&1
	return uint16(bits >> 16)
}

// f16Bits encodes f as IEEE half precision.
func f16Bits(f float32) uint16 {
	return float16.Fromfloat32(f).Bits()
}

func scalarKind(t tir.Type) tir.Kind {
	if st, ok := tir.Scalar(t).(*tir.ScalarType); ok {
		return st.Kind
	}
	return tir.KindVoid
}

func (g *generator) lowerCast(x *tir.Cast) error {
	src := scalarKind(x.X.Type())
	dst := scalarKind(x.Type())
	if src == tir.KindFP8 || dst == tir.KindFP8 {
		return g.lowerFP8Cast(x, src, dst)
	}
	if src == tir.KindBF16 || dst == tir.KindBF16 {
		return g.lowerBF16Cast(x, src, dst)
	}
	ty := scalarTy(x.Type())
	for _, idx := range g.idxs[x.ID()] {
		v, err := g.elem(x.X, idx)
		if err != nil {
			return err
		}
		var r value.Value
		switch x.Op {
		case tir.Trunc:
			r = g.cur.NewTrunc(v, ty)
		case tir.ZExt:
			r = g.cur.NewZExt(v, ty)
		case tir.SExt:
			r = g.cur.NewSExt(v, ty)
		case tir.FPTrunc:
			r = g.cur.NewFPTrunc(v, ty)
		case tir.FPExt:
			r = g.cur.NewFPExt(v, ty)
		case tir.UIToFP:
			r = g.cur.NewUIToFP(v, ty)
		case tir.SIToFP:
			r = g.cur.NewSIToFP(v, ty)
		case tir.FPToUI:
			r = g.cur.NewFPToUI(v, ty)
		case tir.FPToSI:
			r = g.cur.NewFPToSI(v, ty)
		case tir.PtrToInt:
			r = g.cur.NewPtrToInt(v, ty)
		case tir.IntToPtr:
			r = g.cur.NewIntToPtr(v, ty)
		case tir.Bitcast:
			r = g.cur.NewBitCast(v, ty)
		case tir.AddrSpaceCast:
			r = g.cur.NewAddrSpaceCast(v, ty)
		default:
			return g.internalf("cast op %v has no lowering", x.Op)
		}
		g.setElem(x, idx, r)
	}
	return nil
}

func (g *generator) lowerFP8Cast(x *tir.Cast, src, dst tir.Kind) error {
	switch {
	case src == tir.KindFP8 && dst == tir.KindFP16:
		return g.expandFP8(x, false)
	case src == tir.KindFP8 && dst == tir.KindFP32:
		return g.expandFP8(x, true)
	case src == tir.KindFP32 && dst == tir.KindFP8:
		// no packing sequence exists yet; only the zero constant converts
		zero := constant.NewInt(types.I8, 0)
		for _, idx := range g.idxs[x.ID()] {
			v, err := g.elem(x.X, idx)
			if err != nil {
				return err
			}
			cf, ok := v.(*constant.Float)
			if !ok || cf.X.Sign() != 0 {
				return g.unsupportedf("cast of a non-zero fp32 value to fp8")
			}
			g.setElem(x, idx, zero)
		}
		return nil
	}
	return g.unsupportedf("cast between %s and %s", tir.Scalar(x.X.Type()), tir.Scalar(x.Type()))
}

// expandFP8 widens packed fp8 in groups of four through the prmt/lop3
// sequence. The grouping only lines up when each lane owns a multiple of
// four consecutive elements along the fastest dimension.
func (g *generator) expandFP8(x *tir.Cast, toF32 bool) error {
	l, ok := g.info.LayoutOf(x).(*layout.Distributed)
	if !ok || l.PerLane[l.Order[0]]%4 != 0 {
		return g.unsupportedf("fp8 expansion of %s needs per-lane runs of four contiguous elements", x.Name())
	}
	idxs := g.idxs[x.ID()]
	srcIdxs := g.idxs[x.X.ID()]
	if len(idxs)%4 != 0 || len(srcIdxs) != len(idxs) {
		return g.internalf("fp8 expansion of %s sees %d elements", x.Name(), len(idxs))
	}
	v2f16 := types.NewVector(2, types.Half)
	retTy := types.NewStruct(v2f16, v2f16)
	asm := g.inlineASM(retTy, []types.Type{types.I32}, asmFP8x4ToF16x4, "=r,=r,r", false)
	for i := 0; i < len(idxs); i += 4 {
		var packed value.Value = constant.NewUndef(types.NewVector(4, types.I8))
		for k := 0; k < 4; k++ {
			v, err := g.elem(x.X, srcIdxs[i+k])
			if err != nil {
				return err
			}
			packed = g.cur.NewInsertElement(packed, v, g.i32(int64(k)))
		}
		word := g.cur.NewBitCast(packed, types.I32)
		ret := g.cur.NewCall(asm, word)
		lo := g.cur.NewExtractValue(ret, 0)
		hi := g.cur.NewExtractValue(ret, 1)
		halves := []value.Value{
			g.cur.NewExtractElement(lo, g.i32(0)),
			g.cur.NewExtractElement(lo, g.i32(1)),
			g.cur.NewExtractElement(hi, g.i32(0)),
			g.cur.NewExtractElement(hi, g.i32(1)),
		}
		for k, h := range halves {
			if toF32 {
				g.setElem(x, idxs[i+k], g.cur.NewFPExt(h, types.Float))
			} else {
				g.setElem(x, idxs[i+k], h)
			}
		}
	}
	return nil
}

func (g *generator) lowerBF16Cast(x *tir.Cast, src, dst tir.Kind) error {
	v2i16 := types.NewVector(2, types.I16)
	switch {
	case src == tir.KindFP32 && dst == tir.KindBF16:
		for _, idx := range g.idxs[x.ID()] {
			v, err := g.elem(x.X, idx)
			if err != nil {
				return err
			}
			if g.target.SM >= 80 {
				asm := g.inlineASM(types.I16, []types.Type{types.Float}, asmCvtBF16FromF32, "=h,r", false)
				g.setElem(x, idx, g.cur.NewCall(asm, v))
			} else {
				pair := g.cur.NewBitCast(v, v2i16)
				g.setElem(x, idx, g.cur.NewExtractElement(pair, g.i32(1)))
			}
		}
		return nil
	case src == tir.KindBF16 && dst == tir.KindFP32:
		for _, idx := range g.idxs[x.ID()] {
			v, err := g.elem(x.X, idx)
			if err != nil {
				return err
			}
			var pair value.Value = constant.NewUndef(v2i16)
			pair = g.cur.NewInsertElement(pair, constant.NewInt(types.I16, 0), g.i32(0))
			pair = g.cur.NewInsertElement(pair, v, g.i32(1))
			g.setElem(x, idx, g.cur.NewBitCast(pair, types.Float))
		}
		return nil
	}
	return g.unsupportedf("cast between %s and %s", tir.Scalar(x.X.Type()), tir.Scalar(x.Type()))
}
