package layout

import (
	"fmt"

	"tilegen/internal/tir"
)

type axisKey struct {
	layout Layout
	dim    int
}

type alignKey struct {
	id  tir.ValueID
	dim int
}

// Info bundles the analysis results for one module. Values sharing a layout
// share axis identifiers per dimension, which is what lets the generator
// reuse one materialized coordinate list across them.
type Info struct {
	layouts  map[tir.ValueID]Layout
	axes     map[axisKey]int
	override map[alignKey]int
	align    map[alignKey]int
	scratch  map[tir.ValueID]*Shared
	all      []Layout
	seen     map[Layout]bool
	Alloc    *Allocation
	nextAxis int
	nextBuf  BufferID
}

// NewInfo returns an empty analysis bundle with a fresh allocation table.
func NewInfo() *Info {
	return &Info{
		layouts:  make(map[tir.ValueID]Layout),
		axes:     make(map[axisKey]int),
		override: make(map[alignKey]int),
		align:    make(map[alignKey]int),
		scratch:  make(map[tir.ValueID]*Shared),
		seen:     make(map[Layout]bool),
		Alloc:    NewAllocation(),
	}
}

// NewShared registers a shared buffer descriptor with a fresh identity.
func (in *Info) NewShared(shape []int64, order []int, elem tir.Type) *Shared {
	s := &Shared{
		ID:       in.nextBuf,
		Shape:    append([]int64(nil), shape...),
		Order:    append([]int(nil), order...),
		Elem:     elem,
		Vec:      1,
		PerPhase: 1,
		MaxPhase: 1,
	}
	in.nextBuf++
	in.register(s)
	return s
}

func (in *Info) register(l Layout) {
	if l == nil || in.seen[l] {
		return
	}
	in.seen[l] = true
	in.all = append(in.all, l)
}

// SetLayout assigns v's layout descriptor.
func (in *Info) SetLayout(v tir.Value, l Layout) {
	in.layouts[v.ID()] = l
	in.register(l)
}

// LayoutOf returns v's layout descriptor, or nil when none was assigned.
func (in *Info) LayoutOf(v tir.Value) Layout {
	return in.layouts[v.ID()]
}

// SharedOf returns v's layout when it is shared.
func (in *Info) SharedOf(v tir.Value) *Shared {
	s, _ := in.layouts[v.ID()].(*Shared)
	return s
}

// AllLayouts lists every registered layout in registration order.
func (in *Info) AllLayouts() []Layout {
	return in.all
}

// AxisOf returns the axis identifier of v's dimension d. Values with the
// same layout get the same identifier per dimension; SetAxis installs
// explicit sharing across layouts.
func (in *Info) AxisOf(v tir.Value, d int) int {
	if ax, ok := in.override[alignKey{v.ID(), d}]; ok {
		return ax
	}
	l := in.LayoutOf(v)
	if l == nil {
		return -1
	}
	return in.LayoutAxis(l, d)
}

// LayoutAxis returns the axis identifier owned by dimension d of l,
// allocating a fresh one on first use.
func (in *Info) LayoutAxis(l Layout, d int) int {
	key := axisKey{l, d}
	if ax, ok := in.axes[key]; ok {
		return ax
	}
	ax := in.nextAxis
	in.nextAxis++
	in.axes[key] = ax
	return ax
}

// SetAxis pins v's dimension d to an existing axis identifier.
func (in *Info) SetAxis(v tir.Value, d, axis int) {
	in.override[alignKey{v.ID(), d}] = axis
}

// SetContiguity records the proven contiguous run length of v along d.
func (in *Info) SetContiguity(v tir.Value, d, width int) {
	in.align[alignKey{v.ID(), d}] = width
}

// Contiguity reports the proven run length of v along d, defaulting to 1.
func (in *Info) Contiguity(v tir.Value, d int) int {
	if w, ok := in.align[alignKey{v.ID(), d}]; ok {
		return w
	}
	return 1
}

// SetScratch attaches a scratch shared buffer to an instruction (reductions,
// layout conversions, scalar atomics).
func (in *Info) SetScratch(v tir.Value, s *Shared) {
	in.scratch[v.ID()] = s
	in.register(s)
}

// Scratch returns the scratch buffer attached to v, or nil.
func (in *Info) Scratch(v tir.Value) *Shared {
	return in.scratch[v.ID()]
}

// Allocation is the shared-memory placement computed by the external
// allocator: byte offsets per buffer identity plus the total extent.
type Allocation struct {
	offsets map[BufferID]int64
	size    int64
}

// NewAllocation returns an empty table.
func NewAllocation() *Allocation {
	return &Allocation{offsets: make(map[BufferID]int64)}
}

// Assign places s at a fixed byte offset.
func (a *Allocation) Assign(s *Shared, off int64) {
	a.offsets[s.ID] = off
	if end := off + s.TotalBytes(); end > a.size {
		a.size = end
	}
}

// Place appends s after the current extent, 16-byte aligned, and returns the
// chosen offset.
func (a *Allocation) Place(s *Shared) int64 {
	off := (a.size + 15) &^ 15
	a.Assign(s, off)
	return off
}

// Offset reports s's byte offset.
func (a *Allocation) Offset(s *Shared) (int64, error) {
	off, ok := a.offsets[s.ID]
	if !ok {
		return 0, fmt.Errorf("layout: shared buffer #%d has no allocation", s.ID)
	}
	return off, nil
}

// Size reports the total shared bytes the module needs.
func (a *Allocation) Size() int64 { return a.size }
