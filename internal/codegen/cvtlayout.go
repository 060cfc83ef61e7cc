package codegen

import (
	"github.com/llir/llvm/ir/value"

	"tilegen/internal/layout"
	"tilegen/internal/tir"
)

// tilePerBlock reports the elements one block pass covers along d for a
// register-resident layout.
func tilePerBlock(l layout.Layout, d int) int {
	switch ll := l.(type) {
	case *layout.Distributed:
		return ll.TilePerBlock(d)
	case *layout.MatrixUnit:
		return ll.TilePerBlock(d)
	}
	return 0
}

// dimCoords is the coordinate list of v along d. Extent-1 dimensions pin to
// the canonical zero instead of materializing an axis.
func (g *generator) dimCoords(v tir.Value, d int, extent int64) ([]value.Value, error) {
	if extent == 1 {
		return []value.Value{g.i32(0)}, nil
	}
	a, ok := g.axes[g.info.AxisOf(v, d)]
	if !ok {
		return nil, g.internalf("dimension %d of %s has no materialized axis", d, v.Name())
	}
	return a.values, nil
}

// lowerConvertLayout moves a tile between two register layouts by round-
// tripping it through scratch shared memory. Each rep writes one block-sized
// window with the source coordinates and reads it back with the destination
// coordinates; the window is addressed in the destination order on both
// sides so the cells pair up. Rank-1 tiles run the same loop over a virtual
// second dimension of extent one.
func (g *generator) lowerConvertLayout(x *tir.ConvertLayout) error {
	inL := g.info.LayoutOf(x.X)
	outL := g.info.LayoutOf(x)
	if _, ok := inL.(*layout.Shared); ok {
		return g.unsupportedf("layout conversion %s out of a shared buffer", x.Name())
	}
	if _, ok := outL.(*layout.Shared); ok {
		return g.unsupportedf("layout conversion %s into a shared buffer", x.Name())
	}
	shape := tir.Shape(x.Type())
	rank := len(shape)
	if rank > 2 {
		return g.unsupportedf("layout conversion %s of a rank-%d tile", x.Name(), rank)
	}
	sc := g.info.Scratch(x)
	if sc == nil {
		return g.preconditionf("layout conversion %s has no scratch buffer", x.Name())
	}
	h := g.handles[sc.ID]
	if h == nil {
		return g.internalf("scratch buffer #%d of %s was never materialized", sc.ID, x.Name())
	}
	ty := scalarTy(tir.Scalar(x.Type()))
	base := bitcastPtr(g.cur, h.base, ptrTo(ty, int(tir.Shared)))

	ext := [2]int64{shape[0], 1}
	if rank == 2 {
		ext[1] = shape[1]
	}
	// A matrix-unit layout has no storage order of its own, so it borrows
	// the natural order of the other side.
	outOrd := pad2(ordOf(outL, rank))
	if _, ok := outL.(*layout.MatrixUnit); ok {
		outOrd = pad2(ordOf(inL, rank))
	}
	outLD := ext[outOrd[0]]

	nRep := [2]int{1, 1}
	for d := 0; d < rank; d++ {
		per := tilePerBlock(inL, d)
		if p := tilePerBlock(outL, d); p > per {
			per = p
		}
		if n := int(ext[d]) / per; n > 1 {
			nRep[d] = n
		}
	}
	var inAx, outAx [2][]value.Value
	for d := 0; d < 2; d++ {
		e := ext[d]
		if d >= rank {
			e = 1
		}
		var err error
		if inAx[d], err = g.dimCoords(x.X, d, e); err != nil {
			return err
		}
		if outAx[d], err = g.dimCoords(x, d, e); err != nil {
			return err
		}
		if len(inAx[d])%nRep[d] != 0 || len(outAx[d])%nRep[d] != 0 {
			return g.internalf("replication of %s does not divide its coordinates", x.Name())
		}
	}
	key := func(c0, c1 value.Value) elemIndex {
		if rank == 1 {
			return elemIndex{c0}
		}
		return elemIndex{c0, c1}
	}

	inII, inJJ := len(inAx[0])/nRep[0], len(inAx[1])/nRep[1]
	outII, outJJ := len(outAx[0])/nRep[0], len(outAx[1])/nRep[1]
	for i := 0; i < nRep[0]; i++ {
		for j := 0; j < nRep[1]; j++ {
			g.barrier()
			for ii := 0; ii < inII; ii++ {
				for jj := 0; jj < inJJ; jj++ {
					offs := [2]value.Value{inAx[0][ii], inAx[1][jj]}
					off := g.add(offs[outOrd[0]], g.mul(g.i32(outLD), offs[outOrd[1]]))
					v, err := g.elem(x.X, key(inAx[0][i*inII+ii], inAx[1][j*inJJ+jj]))
					if err != nil {
						return err
					}
					g.cur.NewStore(v, g.cur.NewGetElementPtr(ty, base, off))
				}
			}
			g.barrier()
			for ii := 0; ii < outII; ii++ {
				for jj := 0; jj < outJJ; jj++ {
					offs := [2]value.Value{outAx[0][ii], outAx[1][jj]}
					off := g.add(offs[outOrd[0]], g.mul(g.i32(outLD), offs[outOrd[1]]))
					ld := g.cur.NewLoad(ty, g.cur.NewGetElementPtr(ty, base, off))
					g.setElem(x, key(outAx[0][i*outII+ii], outAx[1][j*outJJ+jj]), ld)
				}
			}
		}
	}
	return nil
}

// pad2 extends a rank-1 order with the virtual second dimension.
func pad2(ord []int) [2]int {
	if len(ord) >= 2 {
		return [2]int{ord[0], ord[1]}
	}
	return [2]int{ord[0], 1}
}
