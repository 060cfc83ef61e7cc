package codegen

import (
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"tilegen/internal/tir"
)

// rowStrides gives the element stride of each dimension under a buffer
// order: the fastest dimension strides by 1, the other by its extent.
func rowStrides(shape []int64, order []int) [2]int64 {
	var s [2]int64
	s[order[0]] = 1
	s[order[1]] = shape[order[0]]
	return s
}

// lowerDot accumulates A times B onto C with scalar fused multiply-adds,
// reading both operands out of their shared stages. Stage rotation is free:
// the reads go through the same stage pointers the pipeline advances.
func (g *generator) lowerDot(x *tir.Dot) error {
	aSh := g.info.SharedOf(x.A)
	bSh := g.info.SharedOf(x.B)
	if aSh == nil || bSh == nil {
		return g.unsupportedf("dot %s needs both operands staged in shared memory", x.Name())
	}
	if aSh.MaxPhase != 1 || bSh.MaxPhase != 1 {
		return g.unsupportedf("dot %s needs unswizzled operand buffers", x.Name())
	}
	ck := scalarKind(x.C.Type())
	if scalarKind(x.A.Type()) != ck || scalarKind(x.B.Type()) != ck {
		return g.unsupportedf("dot %s mixes operand and accumulator precision", x.Name())
	}
	ty := scalarTy(tir.Scalar(x.C.Type()))
	if _, ok := ty.(*types.FloatType); !ok {
		return g.unsupportedf("dot over %s elements", tir.Scalar(x.C.Type()))
	}
	aShape := tir.Shape(x.A.Type())
	bShape := tir.Shape(x.B.Type())
	if len(aShape) != 2 || len(bShape) != 2 || len(tir.Shape(x.Type())) != 2 {
		return g.internalf("dot %s operands are not rank 2", x.Name())
	}
	aPtr := g.shPtr[x.A.ID()]
	bPtr := g.shPtr[x.B.ID()]
	if aPtr == nil || bPtr == nil {
		return g.internalf("dot %s operands have no stage pointers", x.Name())
	}
	aStride := rowStrides(aSh.Shape, aSh.Order)
	bStride := rowStrides(bSh.Shape, bSh.Order)
	fma := g.intrinsic("llvm.fmuladd."+floatSuffix(ty), ty, ty, ty, ty)
	type opKey struct {
		coord value.Value
		k     int64
	}
	aCache := make(map[opKey]value.Value)
	bCache := make(map[opKey]value.Value)
	K := aShape[1]
	for _, idx := range g.idxs[x.ID()] {
		acc, err := g.elem(x.C, idx)
		if err != nil {
			return err
		}
		for k := int64(0); k < K; k++ {
			av, ok := aCache[opKey{idx[0], k}]
			if !ok {
				off := g.add(g.mul(idx[0], g.i32(aStride[0])), g.i32(k*aStride[1]))
				av = g.cur.NewLoad(ty, g.cur.NewGetElementPtr(ty, aPtr, off))
				aCache[opKey{idx[0], k}] = av
			}
			bv, ok := bCache[opKey{idx[1], k}]
			if !ok {
				off := g.add(g.mul(idx[1], g.i32(bStride[1])), g.i32(k*bStride[0]))
				bv = g.cur.NewLoad(ty, g.cur.NewGetElementPtr(ty, bPtr, off))
				bCache[opKey{idx[1], k}] = bv
			}
			acc = g.cur.NewCall(fma, av, bv, acc)
		}
		g.setElem(x, idx, acc)
	}
	return nil
}
