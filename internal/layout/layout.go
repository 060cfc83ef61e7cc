// Package layout carries the results of the upstream tile analyses the code
// generator consumes: per-value layout descriptors, axis identifiers,
// contiguity facts, swizzle parameters, and the shared-memory allocation
// table. The analyses themselves run elsewhere; this package only models
// their outputs.
package layout

import (
	"fmt"

	"tilegen/internal/tir"
)

// Layout is the closed set of layout descriptors.
type Layout interface {
	isLayout()
	String() string
}

// Distributed spreads a tile across lanes in a scanline pattern: Lanes[d]
// threads along dimension d, each owning PerLane[d] contiguous elements per
// block-sized step.
type Distributed struct {
	Shape   []int64
	Order   []int // dimensions fastest-varying first
	Lanes   []int
	PerLane []int
}

// TilePerBlock reports the elements covered along d by one pass of all lanes.
func (d *Distributed) TilePerBlock(dim int) int {
	return d.Lanes[dim] * d.PerLane[dim]
}

// MatrixUnit is the accumulator/operand layout dictated by the hardware
// matrix instruction. Span is the per-warp footprint, Rep the replication
// per axis, Frags the pre-80 fragment arrangement.
type MatrixUnit struct {
	Shape []int64
	Warps []int
	Span  []int
	Rep   []int
	Frags []int
}

// NewMatrixUnit fills the generation defaults for the given target.
func NewMatrixUnit(shape []int64, warps []int, sm int) *MatrixUnit {
	m := &MatrixUnit{Shape: shape, Warps: warps}
	if sm >= 80 {
		m.Span = []int{16, 8}
		m.Rep = []int{2, 2}
	} else {
		m.Frags = []int{2, 2}
		m.Rep = []int{2, 2}
		m.Span = []int{16, 16}
	}
	return m
}

// TilePerBlock reports the elements covered along d by one warp pass.
func (m *MatrixUnit) TilePerBlock(dim int) int {
	return m.Warps[dim] * m.Span[dim]
}

// BufferID is the stable identity of a shared buffer, assigned at
// registration and used by the allocation table and the generator's
// placeholder maps.
type BufferID int

// Shared places a tile in shared memory. Vec/PerPhase/MaxPhase are the
// swizzle parameters; Buffering is nil for single buffering.
type Shared struct {
	ID        BufferID
	Shape     []int64
	Order     []int
	Elem      tir.Type
	Vec       int
	PerPhase  int
	MaxPhase  int
	Buffering Buffering
}

// StageElems reports the element count of one stage.
func (s *Shared) StageElems() int64 {
	n := int64(1)
	for _, d := range s.Shape {
		n *= d
	}
	return n
}

// Stages reports the buffering depth (1 for single buffering).
func (s *Shared) Stages() int {
	switch b := s.Buffering.(type) {
	case *Double:
		return 2
	case *NStage:
		return b.Stages
	}
	return 1
}

// TotalBytes reports the allocation footprint across all stages.
func (s *Shared) TotalBytes() int64 {
	return s.StageElems() * int64(s.Stages()) * int64(tir.SizeOf(s.Elem))
}

// Buffering describes the multi-stage rotation of a shared buffer.
type Buffering interface {
	isBuffering()
}

// Double rotates between two halves: Phi is the loop-carried tile value,
// First its initial stage, Latch the value produced for the next iteration.
type Double struct {
	Phi   tir.Value
	First tir.Value
	Latch tir.Value
}

// NStage rotates across Stages slots. Firsts are the prologue fills in stage
// order; Latch is the in-loop fill steered by the write index.
type NStage struct {
	Phi    tir.Value
	Firsts []tir.Value
	Latch  tir.Value
	Stages int
}

func (*Distributed) isLayout() {}
func (*MatrixUnit) isLayout()  {}
func (*Shared) isLayout()      {}

func (*Double) isBuffering() {}
func (*NStage) isBuffering() {}

func (d *Distributed) String() string {
	return fmt.Sprintf("distributed{shape %v, order %v, lanes %v, per-lane %v}", d.Shape, d.Order, d.Lanes, d.PerLane)
}

func (m *MatrixUnit) String() string {
	return fmt.Sprintf("matrix-unit{shape %v, warps %v}", m.Shape, m.Warps)
}

func (s *Shared) String() string {
	return fmt.Sprintf("shared{#%d, shape %v, order %v, stages %d}", s.ID, s.Shape, s.Order, s.Stages())
}

// OrderOf reports the dimension order of a layout, fastest-varying first.
func OrderOf(l Layout) []int {
	switch ll := l.(type) {
	case *Distributed:
		return ll.Order
	case *Shared:
		return ll.Order
	case *MatrixUnit:
		ord := make([]int, len(ll.Shape))
		for i := range ord {
			ord[i] = i
		}
		return ord
	}
	return nil
}

// ShapeOf reports the layout's tile shape.
func ShapeOf(l Layout) []int64 {
	switch ll := l.(type) {
	case *Distributed:
		return ll.Shape
	case *MatrixUnit:
		return ll.Shape
	case *Shared:
		return ll.Shape
	}
	return nil
}
