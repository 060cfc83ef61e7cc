// Package codegen lowers tile kernels into per-lane LLVM IR with inline PTX
// for the few operations LLVM cannot express directly. Lowering walks each
// kernel block by block behind an explicit cursor, materializes the per-lane
// coordinates of every distributed value up front, and closes loop-carried
// state (value phis and shared-buffer rotation) only after every block has
// been emitted.
package codegen

import (
	"errors"
	"fmt"

	"github.com/llir/llvm/ir"

	"tilegen/internal/layout"
	"tilegen/internal/tir"
)

// Failure categories. Every error returned by Generate wraps exactly one of
// these, and any failure discards the module under construction.
var (
	// ErrUnsupported marks constructs this target generation cannot express.
	ErrUnsupported = errors.New("unsupported construct")
	// ErrInternal marks a violated invariant of the generator itself.
	ErrInternal = errors.New("internal inconsistency")
	// ErrPrecondition marks kernels that arrived without the analysis
	// results lowering depends on.
	ErrPrecondition = errors.New("missing precondition")
)

// Target selects the device generation code is produced for.
type Target struct {
	SM       int // compute capability as an integer, e.g. 80 for sm_80
	NumWarps int // warps launched per program
}

// Threads reports the number of lanes per program.
func (t Target) Threads() int { return t.NumWarps * warpSize }

const warpSize = 32

const (
	targetTriple     = "nvptx64-nvidia-cuda"
	targetDataLayout = "e-i64:64-i128:128-v16:16-v32:32-n16:32:64"
)

// Generate lowers mod for tgt and returns a fresh LLVM module. The input
// module must already carry a layout for every tile value and an allocation
// for every shared buffer; Generate reports anything missing instead of
// guessing.
func Generate(mod *tir.Module, info *layout.Info, tgt Target) (*ir.Module, error) {
	if mod == nil || info == nil {
		return nil, fmt.Errorf("codegen: %w: nil module or layout info", ErrPrecondition)
	}
	if tgt.NumWarps <= 0 {
		return nil, fmt.Errorf("codegen: %w: target needs at least one warp", ErrPrecondition)
	}
	g := newGenerator(info, tgt)
	g.mod = ir.NewModule()
	g.mod.TargetTriple = targetTriple
	g.mod.DataLayout = targetDataLayout
	if info.Alloc.Size() > 0 {
		g.declareSharedBase()
	}
	for _, fn := range mod.Funcs {
		if err := g.visitFunction(fn); err != nil {
			return nil, err
		}
	}
	return g.mod, nil
}
