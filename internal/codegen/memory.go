package codegen

import (
	"math"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"tilegen/internal/layout"
	"tilegen/internal/tir"
)

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// foldPtrOffset peels a single constant-index gep off ptr so the byte
// offset can ride in the asm text instead of an address instruction.
func foldPtrOffset(ptr value.Value, dtsize int64) (value.Value, int64) {
	gep, ok := ptr.(*ir.InstGetElementPtr)
	if !ok || len(gep.Indices) != 1 {
		return ptr, 0
	}
	cst, ok := gep.Indices[0].(*constant.Int)
	if !ok {
		return ptr, 0
	}
	return gep.Src, cst.X.Int64() * dtsize
}

// constantBits returns the raw bit pattern of a scalar constant, if v is
// one, masked to nbits.
func constantBits(v value.Value, nbits int) (uint64, bool) {
	var bits uint64
	switch c := v.(type) {
	case *constant.Int:
		bits = uint64(c.X.Int64())
	case *constant.Float:
		f, _ := c.X.Float64()
		switch c.Typ {
		case types.Half:
			bits = uint64(f16Bits(float32(f)))
		case types.Float:
			bits = uint64(math.Float32bits(float32(f)))
		case types.Double:
			bits = math.Float64bits(f)
		default:
			return 0, false
		}
	default:
		return 0, false
	}
	if nbits < 64 {
		bits &= 1<<uint(nbits) - 1
	}
	return bits, true
}

// loadVec picks the widest per-access vector a load may use: the number of
// elements the result layout keeps consecutive along the fastest pointer
// dimension, capped by the pointer's proven contiguity.
func (g *generator) loadVec(x *tir.Load) int {
	if !tir.IsTile(x.Ptr.Type()) {
		return 1
	}
	dl, ok := g.info.LayoutOf(x).(*layout.Distributed)
	if !ok {
		return 1
	}
	ord := g.ords[x.Ptr.ID()]
	if len(ord) == 0 {
		return 1
	}
	vec := minInt(dl.PerLane[ord[0]], g.info.Contiguity(x.Ptr, ord[0]))
	if vec < 1 {
		vec = 1
	}
	return vec
}

// lowerLoad emits predicated ld.global sequences. Wide accesses split into
// 32 bit words (or wider for 64 bit elements); each word carries a mov
// under the negated predicate when a fallback value exists.
func (g *generator) lowerLoad(x *tir.Load) error {
	elemScalar := tir.Scalar(x.Type())
	ty := scalarTy(elemScalar)
	dtsize := tir.SizeOf(elemScalar)
	nbits := dtsize * 8
	vec := g.loadVec(x)
	maxWord := 32
	if nbits > maxWord {
		maxWord = nbits
	}
	idxs := g.idxs[x.ID()]
	srcIdxs := g.idxs[x.Ptr.ID()]
	if len(srcIdxs) != len(idxs) {
		return g.internalf("load %s has %d pointers for %d elements", x.Name(), len(srcIdxs), len(idxs))
	}
	for i := 0; i < len(idxs); i += vec {
		totWidth := nbits * vec
		width := minInt(totWidth, maxWord)
		nWords := totWidth / width
		if nWords < 1 {
			nWords = 1
		}
		wordElems := width / nbits
		ptr, err := g.elem(x.Ptr, srcIdxs[i])
		if err != nil {
			return err
		}
		ptr, inOff := foldPtrOffset(ptr, int64(dtsize))
		var pred value.Value = constant.True
		if x.Mask != nil {
			if pred, err = g.elem(x.Mask, idxs[i]); err != nil {
				return err
			}
		}
		var others []ldOther
		var extra []value.Value
		if x.Other != nil {
			wordTy := types.NewInt(uint64(width))
			type fallback struct {
				bits  uint64
				elems []value.Value
				lit   bool
			}
			fbs := make([]fallback, nWords)
			allConst := true
			for ii := 0; ii < nWords; ii++ {
				fb := fallback{lit: true, elems: make([]value.Value, wordElems)}
				for s := 0; s < wordElems; s++ {
					ov, err := g.elem(x.Other, idxs[i+ii*wordElems+s])
					if err != nil {
						return err
					}
					fb.elems[s] = ov
					if bits, ok := constantBits(ov, nbits); ok {
						fb.bits |= bits << uint(s*nbits)
					} else {
						fb.lit = false
						allConst = false
					}
				}
				fbs[ii] = fb
			}
			// literal and register fallbacks never mix, so operand
			// numbering stays dense
			for _, fb := range fbs {
				if allConst {
					others = append(others, ldOther{literal: true, bits: fb.bits})
					continue
				}
				var packed value.Value = constant.NewUndef(types.NewVector(uint64(wordElems), ty))
				for s, ov := range fb.elems {
					packed = g.cur.NewInsertElement(packed, ov, g.i32(int64(s)))
				}
				others = append(others, ldOther{})
				extra = append(extra, g.cur.NewBitCast(packed, wordTy))
			}
		}
		wordTy := types.NewInt(uint64(width))
		var retTy types.Type = wordTy
		if nWords > 1 {
			members := make([]types.Type, nWords)
			for ii := range members {
				members[ii] = wordTy
			}
			retTy = types.NewStruct(members...)
		}
		args := append([]value.Value{pred, ptr}, extra...)
		params := make([]types.Type, len(args))
		for k, a := range args {
			params[k] = a.Type()
		}
		asm := g.inlineASM(retTy, params,
			ldGlobalAsm(nWords, width, x.Cache, inOff, others),
			ldGlobalConstraint(nWords, width, len(extra)), true)
		ret := g.cur.NewCall(asm, args...)
		words := make([]value.Value, nWords)
		for ii := 0; ii < nWords; ii++ {
			var w value.Value = ret
			if nWords > 1 {
				w = g.cur.NewExtractValue(ret, uint64(ii))
			}
			words[ii] = g.cur.NewBitCast(w, types.NewVector(uint64(wordElems), ty))
		}
		for k := 0; k < vec; k++ {
			g.setElem(x, idxs[i+k], g.cur.NewExtractElement(words[k/wordElems], g.i32(int64(k%wordElems))))
		}
	}
	return nil
}

// lowerStore writes through the pointer tile in the widest vectors the
// pointer's contiguity allows. Masked stores branch around the access per
// vector instead of predicating it.
func (g *generator) lowerStore(x *tir.Store) error {
	ty := scalarTy(tir.Scalar(x.Val.Type()))
	// booleans widen to bytes; i1 has no addressable store
	fromBool := ty == types.I1
	if fromBool {
		ty = types.I8
	}
	vec := 1
	if tir.IsTile(x.Ptr.Type()) {
		ord := g.ords[x.Ptr.ID()]
		if len(ord) > 0 {
			if ax, ok := g.axes[g.info.AxisOf(x.Ptr, ord[0])]; ok {
				vec = minInt(ax.contiguous, g.info.Contiguity(x.Ptr, ord[0]))
			}
		}
	}
	if vec < 1 {
		vec = 1
	}
	idxs := g.idxs[x.Val.ID()]
	for i := 0; i < len(idxs); i += vec {
		idx := idxs[i]
		vecTy := types.NewVector(uint64(vec), ty)
		var packed value.Value = constant.NewUndef(vecTy)
		for s := 0; s < vec; s++ {
			v, err := g.elem(x.Val, idxs[i+s])
			if err != nil {
				return err
			}
			if fromBool {
				v = g.cur.NewSExt(v, types.I8)
			}
			packed = g.cur.NewInsertElement(packed, v, g.i32(int64(s)))
		}
		ptr, err := g.elem(x.Ptr, idx)
		if err != nil {
			return err
		}
		space := int(tir.Global)
		if pt, ok := tir.Scalar(x.Ptr.Type()).(*tir.PointerType); ok {
			space = int(pt.Space)
		}
		dst := g.cur.NewBitCast(ptr, ptrTo(vecTy, space))
		if x.Mask == nil {
			g.cur.NewStore(packed, dst)
			continue
		}
		m, err := g.elem(x.Mask, idx)
		if err != nil {
			return err
		}
		then := g.newBlock()
		cont := g.newBlock()
		g.cur.NewCondBr(m, then, cont)
		then.NewStore(packed, dst)
		then.NewBr(cont)
		g.cur = cont
	}
	return nil
}

// lowerAtomicCAS serializes the swap behind lane 0 and broadcasts the old
// value through a shared scratch word so every lane observes it.
func (g *generator) lowerAtomicCAS(x *tir.AtomicCAS) error {
	if tir.Bits(tir.Scalar(x.Type())) != 32 {
		return g.unsupportedf("compare-and-swap of %s, only 32 bit operands", tir.Scalar(x.Type()))
	}
	sc := g.info.Scratch(x)
	if sc == nil {
		return g.preconditionf("atomic %s has no scratch buffer", x.Name())
	}
	h := g.handles[sc.ID]
	if h == nil {
		return g.internalf("scratch buffer #%d of %s was never materialized", sc.ID, x.Name())
	}
	ty := scalarTy(tir.Scalar(x.Type()))
	scratch := bitcastPtr(g.cur, h.base, ptrTo(ty, int(tir.Shared)))
	g.barrier()
	g.memfence()
	tid := g.threadID()
	pred := g.cur.NewICmp(enum.IPredEQ, tid, g.i32(0))
	ptr, err := g.elem(x.Ptr, elemIndex{})
	if err != nil {
		return err
	}
	cmp, err := g.elem(x.Cmp, elemIndex{})
	if err != nil {
		return err
	}
	val, err := g.elem(x.Val, elemIndex{})
	if err != nil {
		return err
	}
	casASM := g.inlineASM(ty, []types.Type{types.I1, ptr.Type(), ty, ty}, asmCAS, "=r,b,l,r,r", true)
	old := g.cur.NewCall(casASM, pred, ptr, cmp, val)
	g.barrier()
	stASM := g.inlineASM(types.Void, []types.Type{types.I1, scratch.Type(), ty}, asmStSharedB32, "b,r,r", true)
	g.cur.NewCall(stASM, pred, scratch, old)
	g.memfence()
	g.barrier()
	out := g.cur.NewLoad(ty, scratch)
	g.barrier()
	g.setElem(x, elemIndex{}, out)
	return nil
}

// lowerAtomicRMW emits predicated atom.global sequences. Tiles go element
// by element, pairing adjacent f16 into the x2 form when contiguity allows;
// scalars run on lane 0 and broadcast the old value through scratch.
func (g *generator) lowerAtomicRMW(x *tir.AtomicRMW) error {
	name, class, ok := rmwSpec(x.Op)
	if !ok {
		return g.internalf("atomic op %v has no lowering", x.Op)
	}
	elemScalar := tir.Scalar(x.Val.Type())
	ty := scalarTy(elemScalar)
	nbits := tir.Bits(elemScalar)
	if tir.IsTile(x.Ptr.Type()) {
		vec := 1
		if dl, ok := g.info.LayoutOf(x.Val).(*layout.Distributed); ok {
			ord := g.ords[x.Ptr.ID()]
			if len(ord) > 0 {
				vec = minInt(dl.PerLane[ord[0]], g.info.Contiguity(x.Ptr, ord[0]))
			}
		}
		if scalarKind(x.Val.Type()) == tir.KindFP16 {
			vec = minInt(vec, 2)
		} else {
			vec = 1
		}
		idxs := g.idxs[x.ID()]
		for i := 0; i < len(idxs); i += vec {
			var opTy types.Type = ty
			if vec > 1 {
				opTy = types.NewVector(uint64(vec), ty)
			}
			var val value.Value
			if vec > 1 {
				var packed value.Value = constant.NewUndef(opTy)
				for s := 0; s < vec; s++ {
					v, err := g.elem(x.Val, idxs[i+s])
					if err != nil {
						return err
					}
					packed = g.cur.NewInsertElement(packed, v, g.i32(int64(s)))
				}
				val = packed
			} else {
				v, err := g.elem(x.Val, idxs[i])
				if err != nil {
					return err
				}
				val = v
			}
			ptr, err := g.elem(x.Ptr, idxs[i])
			if err != nil {
				return err
			}
			ptr, off := foldPtrOffset(ptr, int64(nbits/8))
			msk, err := g.rmwMask(x, idxs[i])
			if err != nil {
				return err
			}
			asm := g.inlineASM(opTy, []types.Type{types.I1, ptr.Type(), opTy},
				atomRMWAsm(name, class, nbits, vec, off), atomRMWConstraint(nbits, vec), true)
			old := g.cur.NewCall(asm, msk, ptr, val)
			if vec == 1 {
				g.setElem(x, idxs[i], old)
				continue
			}
			for s := 0; s < vec; s++ {
				g.setElem(x, idxs[i+s], g.cur.NewExtractElement(old, g.i32(int64(s))))
			}
		}
		return nil
	}
	sc := g.info.Scratch(x)
	if sc == nil {
		return g.preconditionf("atomic %s has no scratch buffer", x.Name())
	}
	h := g.handles[sc.ID]
	if h == nil {
		return g.internalf("scratch buffer #%d of %s was never materialized", sc.ID, x.Name())
	}
	g.memfence()
	g.barrier()
	tid := g.threadID()
	msk, err := g.rmwMask(x, elemIndex{})
	if err != nil {
		return err
	}
	lane0 := g.cur.NewICmp(enum.IPredEQ, tid, g.i32(0))
	pred := g.cur.NewAnd(msk, lane0)
	ptr, err := g.elem(x.Ptr, elemIndex{})
	if err != nil {
		return err
	}
	val, err := g.elem(x.Val, elemIndex{})
	if err != nil {
		return err
	}
	asm := g.inlineASM(ty, []types.Type{types.I1, ptr.Type(), ty},
		atomRMWAsm(name, class, nbits, 1, 0), atomRMWConstraint(nbits, 1), true)
	old := g.cur.NewCall(asm, pred, ptr, val)
	scratch := bitcastPtr(g.cur, h.base, ptrTo(ty, int(tir.Shared)))
	g.barrier()
	stASM := g.inlineASM(types.Void, []types.Type{types.I1, scratch.Type(), ty}, asmStSharedB32, "b,r,r", true)
	g.cur.NewCall(stASM, pred, scratch, old)
	g.memfence()
	g.barrier()
	out := g.cur.NewLoad(ty, scratch)
	g.barrier()
	g.setElem(x, elemIndex{}, out)
	return nil
}

func (g *generator) rmwMask(x *tir.AtomicRMW, idx elemIndex) (value.Value, error) {
	if x.Mask == nil {
		return constant.True, nil
	}
	return g.elem(x.Mask, idx)
}

// bitcastPtr stays a constant expression when the operand is one, so
// scratch pointers fold instead of spilling into the entry block.
func bitcastPtr(blk *ir.Block, v value.Value, to types.Type) value.Value {
	if v.Type().Equal(to) {
		return v
	}
	if c, ok := v.(constant.Constant); ok {
		return constant.NewBitCast(c, to)
	}
	return blk.NewBitCast(v, to)
}
