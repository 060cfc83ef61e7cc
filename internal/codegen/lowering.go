package codegen

import (
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"tilegen/internal/tir"
)

func (g *generator) lowerIntConst(x *tir.IntConst) error {
	it, ok := scalarTy(x.Type()).(*types.IntType)
	if !ok {
		return g.internalf("integer constant %s has type %s", x.Name(), x.Type())
	}
	var c value.Value
	if it.BitSize == 32 {
		c = g.i32(x.V)
	} else {
		c = constant.NewInt(it, x.V)
	}
	for _, idx := range g.idxs[x.ID()] {
		g.setElem(x, idx, c)
	}
	return nil
}

func (g *generator) lowerFloatConst(x *tir.FloatConst) error {
	st, ok := tir.Scalar(x.Type()).(*tir.ScalarType)
	if !ok {
		return g.internalf("float constant %s has type %s", x.Name(), x.Type())
	}
	var c constant.Constant
	switch st.Kind {
	case tir.KindBF16:
		c = constant.NewInt(types.I16, int64(bf16Bits(float32(x.V))))
	case tir.KindFP8:
		if x.V != 0 {
			return g.unsupportedf("only the zero fp8 constant can be materialized")
		}
		c = constant.NewInt(types.I8, 0)
	case tir.KindFP16:
		c = constant.NewFloat(types.Half, x.V)
	case tir.KindFP32:
		c = constant.NewFloat(types.Float, x.V)
	case tir.KindFP64:
		c = constant.NewFloat(types.Double, x.V)
	default:
		return g.internalf("float constant %s has kind %v", x.Name(), st.Kind)
	}
	for _, idx := range g.idxs[x.ID()] {
		g.setElem(x, idx, c)
	}
	return nil
}

func (g *generator) lowerUndef(x *tir.Undef) error {
	c := constant.NewUndef(scalarTy(x.Type()))
	for _, idx := range g.idxs[x.ID()] {
		g.setElem(x, idx, c)
	}
	return nil
}

func (g *generator) lowerBin(x *tir.Bin) error {
	for _, idx := range g.idxs[x.ID()] {
		a, err := g.elem(x.X, idx)
		if err != nil {
			return err
		}
		b, err := g.elem(x.Y, idx)
		if err != nil {
			return err
		}
		var r value.Value
		switch x.Op {
		case tir.Add:
			r = g.cur.NewAdd(a, b)
		case tir.Sub:
			r = g.cur.NewSub(a, b)
		case tir.Mul:
			r = g.cur.NewMul(a, b)
		case tir.UDiv:
			r = g.cur.NewUDiv(a, b)
		case tir.SDiv:
			r = g.cur.NewSDiv(a, b)
		case tir.URem:
			r = g.cur.NewURem(a, b)
		case tir.SRem:
			r = g.cur.NewSRem(a, b)
		case tir.And:
			r = g.cur.NewAnd(a, b)
		case tir.Or:
			r = g.cur.NewOr(a, b)
		case tir.Xor:
			r = g.cur.NewXor(a, b)
		case tir.Shl:
			r = g.cur.NewShl(a, b)
		case tir.LShr:
			r = g.cur.NewLShr(a, b)
		case tir.AShr:
			r = g.cur.NewAShr(a, b)
		case tir.FAdd:
			r = g.cur.NewFAdd(a, b)
		case tir.FSub:
			r = g.cur.NewFSub(a, b)
		case tir.FMul:
			r = g.cur.NewFMul(a, b)
		case tir.FDiv:
			r = g.cur.NewFDiv(a, b)
		case tir.FRem:
			r = g.cur.NewFRem(a, b)
		default:
			return g.internalf("binary op %v has no lowering", x.Op)
		}
		g.setElem(x, idx, r)
	}
	return nil
}

var intPreds = map[tir.IntPred]enum.IPred{
	tir.IntEQ:  enum.IPredEQ,
	tir.IntNE:  enum.IPredNE,
	tir.IntULT: enum.IPredULT,
	tir.IntULE: enum.IPredULE,
	tir.IntUGT: enum.IPredUGT,
	tir.IntUGE: enum.IPredUGE,
	tir.IntSLT: enum.IPredSLT,
	tir.IntSLE: enum.IPredSLE,
	tir.IntSGT: enum.IPredSGT,
	tir.IntSGE: enum.IPredSGE,
}

func (g *generator) lowerICmp(x *tir.ICmp) error {
	pred, ok := intPreds[x.Pred]
	if !ok {
		return g.internalf("integer predicate %v has no lowering", x.Pred)
	}
	for _, idx := range g.idxs[x.ID()] {
		a, err := g.elem(x.X, idx)
		if err != nil {
			return err
		}
		b, err := g.elem(x.Y, idx)
		if err != nil {
			return err
		}
		g.setElem(x, idx, g.cur.NewICmp(pred, a, b))
	}
	return nil
}

var floatPreds = map[tir.FloatPred]enum.FPred{
	tir.FloatOEQ: enum.FPredOEQ,
	tir.FloatOGT: enum.FPredOGT,
	tir.FloatOGE: enum.FPredOGE,
	tir.FloatOLT: enum.FPredOLT,
	tir.FloatOLE: enum.FPredOLE,
	tir.FloatONE: enum.FPredONE,
	tir.FloatORD: enum.FPredORD,
	tir.FloatUNO: enum.FPredUNO,
	tir.FloatUEQ: enum.FPredUEQ,
	tir.FloatUGT: enum.FPredUGT,
	tir.FloatUGE: enum.FPredUGE,
	tir.FloatULT: enum.FPredULT,
	tir.FloatULE: enum.FPredULE,
	tir.FloatUNE: enum.FPredUNE,
}

func (g *generator) lowerFCmp(x *tir.FCmp) error {
	pred, ok := floatPreds[x.Pred]
	if !ok {
		return g.internalf("float predicate %v has no lowering", x.Pred)
	}
	for _, idx := range g.idxs[x.ID()] {
		a, err := g.elem(x.X, idx)
		if err != nil {
			return err
		}
		b, err := g.elem(x.Y, idx)
		if err != nil {
			return err
		}
		g.setElem(x, idx, g.cur.NewFCmp(pred, a, b))
	}
	return nil
}

func (g *generator) lowerSelect(x *tir.Select) error {
	for _, idx := range g.idxs[x.ID()] {
		c, err := g.elem(x.Cond, idx)
		if err != nil {
			return err
		}
		a, err := g.elem(x.X, idx)
		if err != nil {
			return err
		}
		b, err := g.elem(x.Y, idx)
		if err != nil {
			return err
		}
		g.setElem(x, idx, g.cur.NewSelect(c, a, b))
	}
	return nil
}

func (g *generator) lowerAddPtr(x *tir.AddPtr) error {
	pt, ok := tir.Scalar(x.Type()).(*tir.PointerType)
	if !ok {
		return g.internalf("%s offsets a non-pointer", x.Name())
	}
	elem := scalarTy(pt.Elem)
	for _, idx := range g.idxs[x.ID()] {
		p, err := g.elem(x.Ptr, idx)
		if err != nil {
			return err
		}
		off, err := g.elem(x.Off, idx)
		if err != nil {
			return err
		}
		g.setElem(x, idx, g.cur.NewGetElementPtr(elem, p, off))
	}
	return nil
}

func (g *generator) lowerSplat(x *tir.Splat) error {
	v, err := g.elem(x.X, elemIndex{})
	if err != nil {
		return err
	}
	for _, idx := range g.idxs[x.ID()] {
		g.setElem(x, idx, v)
	}
	return nil
}

// lowerBroadcast maps each result coordinate back onto the operand by
// pinning the stretched dimensions at zero. Canonical coordinates make the
// operand lookup a plain map hit.
func (g *generator) lowerBroadcast(x *tir.Broadcast) error {
	opShape := tir.Shape(x.X.Type())
	for _, idx := range g.idxs[x.ID()] {
		in := make(elemIndex, len(idx))
		copy(in, idx)
		for d, extent := range opShape {
			if extent == 1 {
				in[d] = g.i32(0)
			}
		}
		v, err := g.elem(x.X, in)
		if err != nil {
			return err
		}
		g.setElem(x, idx, v)
	}
	return nil
}

func (g *generator) lowerReshape(x *tir.Reshape) error {
	src := g.idxs[x.X.ID()]
	dst := g.idxs[x.ID()]
	if len(src) != len(dst) {
		return g.internalf("%s reshapes %d elements into %d", x.Name(), len(src), len(dst))
	}
	for i, idx := range dst {
		v, err := g.elem(x.X, src[i])
		if err != nil {
			return err
		}
		g.setElem(x, idx, v)
	}
	return nil
}

func (g *generator) lowerCat(x *tir.Cat) error {
	lhs := g.idxs[x.X.ID()]
	rhs := g.idxs[x.Y.ID()]
	dst := g.idxs[x.ID()]
	if len(lhs)+len(rhs) != len(dst) {
		return g.internalf("%s concatenates %d+%d elements into %d", x.Name(), len(lhs), len(rhs), len(dst))
	}
	for i, idx := range dst {
		var v value.Value
		var err error
		if i < len(lhs) {
			v, err = g.elem(x.X, lhs[i])
		} else {
			v, err = g.elem(x.Y, rhs[i-len(lhs)])
		}
		if err != nil {
			return err
		}
		g.setElem(x, idx, v)
	}
	return nil
}

func (g *generator) lowerDowncast(x *tir.Downcast) error {
	src := g.idxs[x.X.ID()]
	if len(src) == 0 {
		return g.internalf("%s downcasts a value with no elements", x.Name())
	}
	v, err := g.elem(x.X, src[0])
	if err != nil {
		return err
	}
	g.setElem(x, elemIndex{}, v)
	return nil
}

func (g *generator) lowerMakeRange(x *tir.MakeRange) error {
	first := g.i32(x.First)
	for _, idx := range g.idxs[x.ID()] {
		g.setElem(x, idx, g.add(first, idx[0]))
	}
	return nil
}

func (g *generator) lowerProgramID(x *tir.GetProgramID) error {
	v, err := g.blockID(x.Axis)
	if err != nil {
		return err
	}
	g.setElem(x, elemIndex{}, v)
	return nil
}

func (g *generator) lowerNumPrograms(x *tir.GetNumPrograms) error {
	v, err := g.gridDim(x.Axis)
	if err != nil {
		return err
	}
	g.setElem(x, elemIndex{}, v)
	return nil
}

// lowerMath emits the PTX approximation sequences for the transcendentals
// and the sqrt intrinsic for exact square roots. The approximations exist
// only at fp32.
func (g *generator) lowerMath(x *tir.Math) error {
	st := tir.Scalar(x.X.Type())
	if x.Op == tir.MathSqrt {
		var name string
		switch scalarTy(st) {
		case types.Half:
			name = "llvm.sqrt.f16"
		case types.Float:
			name = "llvm.sqrt.f32"
		case types.Double:
			name = "llvm.sqrt.f64"
		default:
			return g.unsupportedf("sqrt of %s", st)
		}
		ty := scalarTy(st)
		f := g.intrinsic(name, ty, ty)
		for _, idx := range g.idxs[x.ID()] {
			v, err := g.elem(x.X, idx)
			if err != nil {
				return err
			}
			g.setElem(x, idx, g.cur.NewCall(f, v))
		}
		return nil
	}
	if scalarTy(st) != types.Float {
		return g.unsupportedf("%v of %s, the approximation only exists at fp32", x.Op, st)
	}
	for _, idx := range g.idxs[x.ID()] {
		v, err := g.elem(x.X, idx)
		if err != nil {
			return err
		}
		var r value.Value
		switch x.Op {
		case tir.MathExp:
			// ex2 computes 2^x, so fold the base change into the operand
			scaled := g.cur.NewFMul(v, constant.NewFloat(types.Float, log2E))
			r = g.cur.NewCall(g.inlineASM(types.Float, []types.Type{types.Float}, asmEx2, "=f,0", false), scaled)
		case tir.MathLog:
			lg2 := g.cur.NewCall(g.inlineASM(types.Float, []types.Type{types.Float}, asmLg2, "=f,f", false), v)
			r = g.cur.NewFMul(lg2, constant.NewFloat(types.Float, ln2))
		case tir.MathCos:
			r = g.cur.NewCall(g.inlineASM(types.Float, []types.Type{types.Float}, asmCos, "=f,0", false), v)
		case tir.MathSin:
			r = g.cur.NewCall(g.inlineASM(types.Float, []types.Type{types.Float}, asmSin, "=f,0", false), v)
		default:
			return g.internalf("math op %v has no lowering", x.Op)
		}
		g.setElem(x, idx, r)
	}
	return nil
}

func (g *generator) lowerUMulhi(x *tir.UMulhi) error {
	if scalarTy(tir.Scalar(x.Type())) != types.I32 {
		return g.unsupportedf("mulhi of %s", tir.Scalar(x.Type()))
	}
	for _, idx := range g.idxs[x.ID()] {
		a, err := g.elem(x.X, idx)
		if err != nil {
			return err
		}
		b, err := g.elem(x.Y, idx)
		if err != nil {
			return err
		}
		asm := g.inlineASM(types.I32, []types.Type{types.I32, types.I32}, asmMulHi, "=r,r,r", false)
		g.setElem(x, idx, g.cur.NewCall(asm, a, b))
	}
	return nil
}
