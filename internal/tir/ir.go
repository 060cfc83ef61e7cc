// Package tir defines the tile-level intermediate representation consumed by
// the code generator: typed values distributed over a block of lanes,
// grouped into basic blocks and kernel functions.
package tir

import "fmt"

// ValueID is the stable integer handle assigned to every value at creation.
// The generator keys all of its side tables by it.
type ValueID int

// Value is anything an instruction can reference.
type Value interface {
	ID() ValueID
	Name() string
	Type() Type
}

type valueBase struct {
	id   ValueID
	name string
	typ  Type
}

func (v *valueBase) ID() ValueID { return v.id }
func (v *valueBase) Type() Type  { return v.typ }

func (v *valueBase) Name() string {
	if v.name != "" {
		return v.name
	}
	return fmt.Sprintf("v%d", v.id)
}

// Module is a collection of kernel functions sharing one value ID space.
type Module struct {
	Funcs  []*Function
	nextID ValueID
}

// NewModule returns an empty module.
func NewModule() *Module { return &Module{} }

func (m *Module) newID() ValueID {
	id := m.nextID
	m.nextID++
	return id
}

// NumValues reports the number of value IDs handed out so far. Side tables
// sized by it cover every value in the module.
func (m *Module) NumValues() int { return int(m.nextID) }

// Function is a single kernel.
type Function struct {
	name   string
	Sig    *FuncType
	Params []*Param
	Blocks []*Block
	mod    *Module
}

func (f *Function) Name() string    { return f.name }
func (f *Function) Module() *Module { return f.mod }

// Entry returns the first basic block.
func (f *Function) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// Param is a kernel argument.
type Param struct {
	valueBase
}

// Block is a basic block of instructions ending in a terminator.
type Block struct {
	name   string
	fn     *Function
	Instrs []Instruction
}

func (b *Block) Name() string        { return b.name }
func (b *Block) Parent() *Function   { return b.fn }
func (b *Block) append(i Instruction) { b.Instrs = append(b.Instrs, i) }

// Terminator returns the block's final instruction when it terminates
// control flow, nil otherwise.
func (b *Block) Terminator() Instruction {
	if len(b.Instrs) == 0 {
		return nil
	}
	last := b.Instrs[len(b.Instrs)-1]
	switch last.(type) {
	case *Br, *CondBr, *Return:
		return last
	}
	return nil
}

// Preds returns the blocks branching into b, in function block order.
func (b *Block) Preds() []*Block {
	if b.fn == nil {
		return nil
	}
	var preds []*Block
	for _, blk := range b.fn.Blocks {
		switch term := blk.Terminator().(type) {
		case *Br:
			if term.Target == b {
				preds = append(preds, blk)
			}
		case *CondBr:
			if term.Then == b || term.Else == b {
				preds = append(preds, blk)
			}
		}
	}
	return preds
}

// Instruction is a value computed inside a block. Instructions that produce
// no result carry the void type.
type Instruction interface {
	Value
	Parent() *Block
	Operands() []Value
	isInstruction()
}

type instBase struct {
	valueBase
	blk *Block
}

func (i *instBase) Parent() *Block { return i.blk }
func (i *instBase) isInstruction() {}

// Constants.

// IntConst is an integer (or integer-typed tile splat source) constant.
type IntConst struct {
	valueBase
	V int64
}

// FloatConst is a floating constant.
type FloatConst struct {
	valueBase
	V float64
}

// Undef is an undefined value of its type.
type Undef struct {
	valueBase
}

// IsConstant reports whether v is a constant or undef.
func IsConstant(v Value) bool {
	switch v.(type) {
	case *IntConst, *FloatConst, *Undef:
		return true
	}
	return false
}

// BinOp enumerates binary arithmetic operations.
type BinOp uint8

const (
	Add BinOp = iota
	Sub
	Mul
	UDiv
	SDiv
	URem
	SRem
	And
	Or
	Xor
	Shl
	LShr
	AShr
	FAdd
	FSub
	FMul
	FDiv
	FRem
)

// IntPred enumerates integer comparison predicates.
type IntPred uint8

const (
	IntEQ IntPred = iota
	IntNE
	IntULT
	IntULE
	IntUGT
	IntUGE
	IntSLT
	IntSLE
	IntSGT
	IntSGE
)

// FloatPred enumerates ordered/unordered float comparison predicates.
type FloatPred uint8

const (
	FloatOEQ FloatPred = iota
	FloatOGT
	FloatOGE
	FloatOLT
	FloatOLE
	FloatONE
	FloatORD
	FloatUNO
	FloatUEQ
	FloatUGT
	FloatUGE
	FloatULT
	FloatULE
	FloatUNE
)

// CastOp enumerates conversion operations.
type CastOp uint8

const (
	Trunc CastOp = iota
	ZExt
	SExt
	FPTrunc
	FPExt
	UIToFP
	SIToFP
	FPToUI
	FPToSI
	PtrToInt
	IntToPtr
	Bitcast
	AddrSpaceCast
)

// ReduceOp enumerates reduction combine operations.
type ReduceOp uint8

const (
	RedAdd ReduceOp = iota
	RedFAdd
	RedMin
	RedMax
	RedUMin
	RedUMax
	RedFMin
	RedFMax
	RedXor
)

// RMWOp enumerates atomic read-modify-write operations.
type RMWOp uint8

const (
	RMWAnd RMWOp = iota
	RMWOr
	RMWXor
	RMWAdd
	RMWFAdd
	RMWMin
	RMWMax
	RMWUMin
	RMWUMax
	RMWXchg
)

// MathOp enumerates unary math operations lowered to approximate hardware
// fragments or intrinsics.
type MathOp uint8

const (
	MathExp MathOp = iota
	MathLog
	MathSin
	MathCos
	MathSqrt
)

// CachePolicy selects the cache operator on global loads.
type CachePolicy uint8

const (
	CacheNone CachePolicy = iota
	CacheCA
	CacheCG
)

// Bin is a binary arithmetic instruction.
type Bin struct {
	instBase
	Op   BinOp
	X, Y Value
}

// ICmp compares integers or pointers.
type ICmp struct {
	instBase
	Pred IntPred
	X, Y Value
}

// FCmp compares floats.
type FCmp struct {
	instBase
	Pred FloatPred
	X, Y Value
}

// Select picks X or Y per element based on Cond.
type Select struct {
	instBase
	Cond Value
	X, Y Value
}

// Cast converts X to the instruction's result type.
type Cast struct {
	instBase
	Op CastOp
	X  Value
}

// AddPtr offsets a pointer (tile) by an element count.
type AddPtr struct {
	instBase
	Ptr Value
	Off Value
}

// Splat replicates a scalar across a tile.
type Splat struct {
	instBase
	X Value
}

// Broadcast expands size-1 dimensions of X to the result shape.
type Broadcast struct {
	instBase
	X Value
}

// Reshape reinterprets X's elements in index order under a new shape.
type Reshape struct {
	instBase
	X Value
}

// Cat concatenates two tiles along their only axis.
type Cat struct {
	instBase
	X, Y Value
}

// Downcast extracts the single element of a one-element tile.
type Downcast struct {
	instBase
	X Value
}

// MakeRange materializes the half-open integer range [First, Last).
type MakeRange struct {
	instBase
	First, Last int64
}

// Load reads per-element values through a pointer tile. Mask and Other are
// nil for unmasked loads.
type Load struct {
	instBase
	Ptr   Value
	Mask  Value
	Other Value
	Cache CachePolicy
}

// Store writes Val through Ptr. Mask is nil for unmasked stores.
type Store struct {
	instBase
	Ptr  Value
	Val  Value
	Mask Value
}

// CopyToShared writes a distributed tile into its shared-layout result.
type CopyToShared struct {
	instBase
	X Value
}

// AsyncCopy copies global memory into the shared-layout result without
// passing through registers. Elements with a false mask are skipped.
type AsyncCopy struct {
	instBase
	Ptr  Value
	Mask Value
}

// AsyncWait blocks until at most N async copy groups are in flight.
type AsyncWait struct {
	instBase
	N int
}

// Barrier synchronizes all lanes of the program.
type Barrier struct {
	instBase
}

// ConvertLayout rewrites X into the result's distributed layout.
type ConvertLayout struct {
	instBase
	X Value
}

// Dot accumulates A times B onto C.
type Dot struct {
	instBase
	A, B, C Value
}

// Reduce combines X along Axis with Op. Rank-1 operands reduce to a scalar.
type Reduce struct {
	instBase
	X    Value
	Op   ReduceOp
	Axis int
}

// GetProgramID reads the program (block) index along Axis.
type GetProgramID struct {
	instBase
	Axis int
}

// GetNumPrograms reads the launch extent along Axis.
type GetNumPrograms struct {
	instBase
	Axis int
}

// Math applies a unary math operation per element.
type Math struct {
	instBase
	Op MathOp
	X  Value
}

// UMulhi computes the high half of the 32-bit unsigned product.
type UMulhi struct {
	instBase
	X, Y Value
}

// AtomicCAS performs a compare-and-swap at Ptr.
type AtomicCAS struct {
	instBase
	Ptr, Cmp, Val Value
}

// AtomicRMW performs an atomic read-modify-write at Ptr under Mask.
type AtomicRMW struct {
	instBase
	Op   RMWOp
	Ptr  Value
	Val  Value
	Mask Value
}

// Incoming is one phi edge.
type Incoming struct {
	V     Value
	Block *Block
}

// Phi merges values flowing in from predecessor blocks.
type Phi struct {
	instBase
	Incs []*Incoming
}

// AddIncoming appends an edge to the phi.
func (p *Phi) AddIncoming(v Value, blk *Block) {
	p.Incs = append(p.Incs, &Incoming{V: v, Block: blk})
}

// Br branches unconditionally.
type Br struct {
	instBase
	Target *Block
}

// CondBr branches on Cond.
type CondBr struct {
	instBase
	Cond Value
	Then *Block
	Else *Block
}

// Return ends the kernel. X is nil for void returns.
type Return struct {
	instBase
	X Value
}

func (i *Bin) Operands() []Value    { return []Value{i.X, i.Y} }
func (i *ICmp) Operands() []Value   { return []Value{i.X, i.Y} }
func (i *FCmp) Operands() []Value   { return []Value{i.X, i.Y} }
func (i *Select) Operands() []Value { return []Value{i.Cond, i.X, i.Y} }
func (i *Cast) Operands() []Value   { return []Value{i.X} }
func (i *AddPtr) Operands() []Value { return []Value{i.Ptr, i.Off} }

func (i *Splat) Operands() []Value     { return []Value{i.X} }
func (i *Broadcast) Operands() []Value { return []Value{i.X} }
func (i *Reshape) Operands() []Value   { return []Value{i.X} }
func (i *Cat) Operands() []Value       { return []Value{i.X, i.Y} }
func (i *Downcast) Operands() []Value  { return []Value{i.X} }
func (i *MakeRange) Operands() []Value { return nil }

func (i *Load) Operands() []Value {
	ops := []Value{i.Ptr}
	if i.Mask != nil {
		ops = append(ops, i.Mask)
	}
	if i.Other != nil {
		ops = append(ops, i.Other)
	}
	return ops
}

func (i *Store) Operands() []Value {
	ops := []Value{i.Ptr, i.Val}
	if i.Mask != nil {
		ops = append(ops, i.Mask)
	}
	return ops
}

func (i *CopyToShared) Operands() []Value { return []Value{i.X} }
func (i *AsyncCopy) Operands() []Value    { return []Value{i.Ptr, i.Mask} }
func (i *AsyncWait) Operands() []Value    { return nil }
func (i *Barrier) Operands() []Value      { return nil }

func (i *ConvertLayout) Operands() []Value { return []Value{i.X} }
func (i *Dot) Operands() []Value           { return []Value{i.A, i.B, i.C} }
func (i *Reduce) Operands() []Value        { return []Value{i.X} }

func (i *GetProgramID) Operands() []Value   { return nil }
func (i *GetNumPrograms) Operands() []Value { return nil }
func (i *Math) Operands() []Value           { return []Value{i.X} }
func (i *UMulhi) Operands() []Value         { return []Value{i.X, i.Y} }
func (i *AtomicCAS) Operands() []Value      { return []Value{i.Ptr, i.Cmp, i.Val} }

func (i *AtomicRMW) Operands() []Value {
	ops := []Value{i.Ptr, i.Val}
	if i.Mask != nil {
		ops = append(ops, i.Mask)
	}
	return ops
}

func (i *Phi) Operands() []Value {
	ops := make([]Value, len(i.Incs))
	for n, inc := range i.Incs {
		ops[n] = inc.V
	}
	return ops
}

func (i *Br) Operands() []Value     { return nil }
func (i *CondBr) Operands() []Value { return []Value{i.Cond} }

func (i *Return) Operands() []Value {
	if i.X == nil {
		return nil
	}
	return []Value{i.X}
}
