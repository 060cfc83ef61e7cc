// Package kernels holds the built-in tile programs. Each builder returns a
// complete module together with the layout assignment the generator
// consumes, sized for one launch width. The programs double as the compile
// targets of the command line tool and as end-to-end exercises of the
// lowering pipeline.
package kernels

import (
	"fmt"
	"math"

	"github.com/samber/lo"

	"tilegen/internal/layout"
	"tilegen/internal/tir"
)

// BuildFunc constructs one program. threads is the launch width in threads,
// a multiple of the 32-lane warp.
type BuildFunc func(threads int) (*tir.Module, *layout.Info, error)

// Program is one catalog entry.
type Program struct {
	Name  string
	Brief string
	Build BuildFunc
}

var catalog = []Program{
	{Name: "vector_add", Brief: "masked elementwise sum of two fp32 vectors", Build: VecAdd},
	{Name: "softmax_row", Brief: "numerically stable softmax over one fp32 row", Build: SoftmaxRow},
	{Name: "matmul_pipelined", Brief: "tiled fp32 matmul through a three-stage async copy pipeline", Build: MatmulPipelined},
}

// Catalog lists the built-in programs in a stable order.
func Catalog() []Program {
	return append([]Program(nil), catalog...)
}

// Names lists the program names in catalog order.
func Names() []string {
	return lo.Map(catalog, func(p Program, _ int) string { return p.Name })
}

// Lookup finds a program by name.
func Lookup(name string) (Program, bool) {
	return lo.Find(catalog, func(p Program) bool { return p.Name == name })
}

const vecAddElems = 1024

// VecAdd sums two fp32 vectors of up to vecAddElems entries. The tail past
// the runtime length n never touches memory: loads fall back to zero and the
// store is masked off.
func VecAdd(threads int) (*tir.Module, *layout.Info, error) {
	if threads <= 0 || vecAddElems%threads != 0 {
		return nil, nil, fmt.Errorf("kernels: vector_add spreads %d elements, the thread count must divide that (got %d)", vecAddElems, threads)
	}
	mod := tir.NewModule()
	b := tir.NewBuilder(mod)
	info := layout.NewInfo()
	dist := layout.FitDistributed([]int64{vecAddElems}, []int{0}, threads, nil)
	x := b.Param("x", tir.Ptr(tir.FP32, tir.Global))
	y := b.Param("y", tir.Ptr(tir.FP32, tir.Global))
	out := b.Param("out", tir.Ptr(tir.FP32, tir.Global))
	n := b.Param("n", tir.I32)
	b.Func("vector_add", tir.Void, x, y, out, n)
	b.Block("entry")
	rng := b.MakeRange(0, vecAddElems)
	bound := b.Splat(n, vecAddElems)
	mask := b.ICmp(tir.IntSLT, rng, bound)
	other := b.SplatFloat(tir.Tile(tir.FP32, vecAddElems), 0)
	xs := b.Splat(x, vecAddElems)
	xp := b.AddPtr(xs, rng)
	xv := b.MaskedLoad(xp, mask, other, tir.CacheNone)
	ys := b.Splat(y, vecAddElems)
	yp := b.AddPtr(ys, rng)
	yv := b.MaskedLoad(yp, mask, other, tir.CacheNone)
	sum := b.Bin(tir.FAdd, xv, yv)
	os := b.Splat(out, vecAddElems)
	op := b.AddPtr(os, rng)
	b.MaskedStore(op, sum, mask)
	b.Return(nil)
	for _, v := range []tir.Value{rng, bound, mask, other, xs, xp, xv, ys, yp, yv, sum, os, op} {
		info.SetLayout(v, dist)
	}
	return mod, info, nil
}

const softmaxElems = 128

// SoftmaxRow computes a numerically stable softmax over one fp32 row of up
// to softmaxElems entries. Entries past n load as -inf, which drop out of
// the max and contribute zero to the sum, so the padding never skews the
// result.
func SoftmaxRow(threads int) (*tir.Module, *layout.Info, error) {
	if threads <= 0 || softmaxElems%threads != 0 {
		return nil, nil, fmt.Errorf("kernels: softmax_row spreads %d elements, the thread count must divide that (got %d)", softmaxElems, threads)
	}
	mod := tir.NewModule()
	b := tir.NewBuilder(mod)
	info := layout.NewInfo()
	tf := tir.Tile(tir.FP32, softmaxElems)
	dist := layout.FitDistributed([]int64{softmaxElems}, []int{0}, threads, nil)
	x := b.Param("x", tir.Ptr(tir.FP32, tir.Global))
	out := b.Param("out", tir.Ptr(tir.FP32, tir.Global))
	n := b.Param("n", tir.I32)
	b.Func("softmax_row", tir.Void, x, out, n)
	b.Block("entry")
	rng := b.MakeRange(0, softmaxElems)
	bound := b.Splat(n, softmaxElems)
	mask := b.ICmp(tir.IntSLT, rng, bound)
	ninf := b.SplatFloat(tf, math.Inf(-1))
	xs := b.Splat(x, softmaxElems)
	xp := b.AddPtr(xs, rng)
	xv := b.MaskedLoad(xp, mask, ninf, tir.CacheNone)
	mx := b.Reduce(tir.RedFMax, xv, 0)
	mxs := b.Splat(mx, softmaxElems)
	shifted := b.Bin(tir.FSub, xv, mxs)
	e := b.Math(tir.MathExp, shifted)
	sum := b.Reduce(tir.RedFAdd, e, 0)
	sums := b.Splat(sum, softmaxElems)
	p := b.Bin(tir.FDiv, e, sums)
	os := b.Splat(out, softmaxElems)
	op := b.AddPtr(os, rng)
	b.MaskedStore(op, p, mask)
	b.Return(nil)
	// both cross-warp folds run through the heap base, one slot per lane
	scratch := info.NewShared([]int64{32}, []int{0}, tir.FP32)
	info.Alloc.Place(scratch)
	for _, v := range []tir.Value{rng, bound, mask, ninf, xs, xp, xv, mxs, shifted, e, sums, p, os, op} {
		info.SetLayout(v, dist)
	}
	return mod, info, nil
}
