package tir

import "fmt"

// Builder constructs modules instruction by instruction. It keeps an insert
// block the way the printer-visible order expects and hands out unique value
// names on demand.
type Builder struct {
	mod   *Module
	fn    *Function
	blk   *Block
	names map[string]int
}

// NewBuilder returns a builder appending into mod.
func NewBuilder(mod *Module) *Builder {
	return &Builder{mod: mod, names: make(map[string]int)}
}

// Module returns the module under construction.
func (b *Builder) Module() *Module { return b.mod }

// Param creates a function parameter. Parameters are bound to a function by
// Func.
func (b *Builder) Param(name string, typ Type) *Param {
	return &Param{valueBase{id: b.mod.newID(), name: b.uniqueName(name), typ: typ}}
}

// Func creates a kernel and makes it current.
func (b *Builder) Func(name string, ret Type, params ...*Param) *Function {
	sig := &FuncType{Ret: ret}
	for _, p := range params {
		sig.Params = append(sig.Params, p.Type())
	}
	fn := &Function{name: name, Sig: sig, Params: params, mod: b.mod}
	b.mod.Funcs = append(b.mod.Funcs, fn)
	b.fn = fn
	b.blk = nil
	return fn
}

// Block creates a basic block in the current function and makes it the
// insert block.
func (b *Builder) Block(name string) *Block {
	if b.fn == nil {
		panic("tir: block created outside a function")
	}
	blk := &Block{name: b.uniqueName(name), fn: b.fn}
	b.fn.Blocks = append(b.fn.Blocks, blk)
	b.blk = blk
	return blk
}

// SetBlock moves the insert point to blk.
func (b *Builder) SetBlock(blk *Block) { b.blk = blk }

// InsertBlock returns the current insert block.
func (b *Builder) InsertBlock() *Block { return b.blk }

func (b *Builder) uniqueName(base string) string {
	if base == "" {
		return ""
	}
	n := b.names[base]
	b.names[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s%d", base, n)
}

func (b *Builder) place(i Instruction, base *instBase, typ Type) {
	base.id = b.mod.newID()
	base.typ = typ
	if b.blk == nil {
		panic("tir: instruction created outside a block")
	}
	base.blk = b.blk
	b.blk.append(i)
}

// Int returns an integer constant of typ.
func (b *Builder) Int(typ Type, v int64) *IntConst {
	return &IntConst{valueBase{id: b.mod.newID(), typ: typ}, v}
}

// Int32 returns an i32 constant.
func (b *Builder) Int32(v int64) *IntConst { return b.Int(I32, v) }

// Float returns a floating constant of typ.
func (b *Builder) Float(typ Type, v float64) *FloatConst {
	return &FloatConst{valueBase{id: b.mod.newID(), typ: typ}, v}
}

// SplatInt returns a tile-typed integer constant.
func (b *Builder) SplatInt(typ *TileType, v int64) *IntConst {
	return &IntConst{valueBase{id: b.mod.newID(), typ: typ}, v}
}

// SplatFloat returns a tile-typed floating constant.
func (b *Builder) SplatFloat(typ *TileType, v float64) *FloatConst {
	return &FloatConst{valueBase{id: b.mod.newID(), typ: typ}, v}
}

// UndefOf returns an undef value of typ.
func (b *Builder) UndefOf(typ Type) *Undef {
	return &Undef{valueBase{id: b.mod.newID(), typ: typ}}
}

// Bin emits a binary operation typed after its left operand.
func (b *Builder) Bin(op BinOp, x, y Value) *Bin {
	i := &Bin{Op: op, X: x, Y: y}
	b.place(i, &i.instBase, x.Type())
	return i
}

// Add emits an integer add.
func (b *Builder) Add(x, y Value) *Bin { return b.Bin(Add, x, y) }

// Mul emits an integer multiply.
func (b *Builder) Mul(x, y Value) *Bin { return b.Bin(Mul, x, y) }

func boolTypeFor(x Value) Type {
	if bt, ok := x.Type().(*TileType); ok {
		return Tile(I1, bt.Shape...)
	}
	return I1
}

// ICmp emits an integer comparison.
func (b *Builder) ICmp(pred IntPred, x, y Value) *ICmp {
	i := &ICmp{Pred: pred, X: x, Y: y}
	b.place(i, &i.instBase, boolTypeFor(x))
	return i
}

// FCmp emits a float comparison.
func (b *Builder) FCmp(pred FloatPred, x, y Value) *FCmp {
	i := &FCmp{Pred: pred, X: x, Y: y}
	b.place(i, &i.instBase, boolTypeFor(x))
	return i
}

// Select emits a per-element select.
func (b *Builder) Select(cond, x, y Value) *Select {
	i := &Select{Cond: cond, X: x, Y: y}
	b.place(i, &i.instBase, x.Type())
	return i
}

// Cast emits a conversion to typ.
func (b *Builder) Cast(op CastOp, x Value, typ Type) *Cast {
	i := &Cast{Op: op, X: x}
	b.place(i, &i.instBase, typ)
	return i
}

// AddPtr emits a pointer offset; the result keeps the pointer's type.
func (b *Builder) AddPtr(ptr, off Value) *AddPtr {
	i := &AddPtr{Ptr: ptr, Off: off}
	b.place(i, &i.instBase, ptr.Type())
	return i
}

// Splat replicates scalar x into a tile of the given shape.
func (b *Builder) Splat(x Value, shape ...int64) *Splat {
	i := &Splat{X: x}
	b.place(i, &i.instBase, Tile(x.Type(), shape...))
	return i
}

// Broadcast expands x to shape.
func (b *Builder) Broadcast(x Value, shape ...int64) *Broadcast {
	i := &Broadcast{X: x}
	b.place(i, &i.instBase, Tile(Scalar(x.Type()), shape...))
	return i
}

// Reshape reinterprets x under shape.
func (b *Builder) Reshape(x Value, shape ...int64) *Reshape {
	i := &Reshape{X: x}
	b.place(i, &i.instBase, Tile(Scalar(x.Type()), shape...))
	return i
}

// Cat concatenates two rank-1 tiles.
func (b *Builder) Cat(x, y Value) *Cat {
	i := &Cat{X: x, Y: y}
	n := x.Type().(*TileType).Shape[0] + y.Type().(*TileType).Shape[0]
	b.place(i, &i.instBase, Tile(Scalar(x.Type()), n))
	return i
}

// Downcast extracts the only element of a one-element tile.
func (b *Builder) Downcast(x Value) *Downcast {
	i := &Downcast{X: x}
	b.place(i, &i.instBase, Scalar(x.Type()))
	return i
}

// MakeRange emits the i32 range [first, last).
func (b *Builder) MakeRange(first, last int64) *MakeRange {
	i := &MakeRange{First: first, Last: last}
	b.place(i, &i.instBase, Tile(I32, last-first))
	return i
}

func loadResultType(ptr Value) Type {
	pt, ok := Scalar(ptr.Type()).(*PointerType)
	if !ok {
		panic(fmt.Sprintf("tir: load through non-pointer %s", ptr.Type()))
	}
	if bt, ok := ptr.Type().(*TileType); ok {
		return Tile(pt.Elem, bt.Shape...)
	}
	return pt.Elem
}

// Load emits an unmasked load.
func (b *Builder) Load(ptr Value, cache CachePolicy) *Load {
	i := &Load{Ptr: ptr, Cache: cache}
	b.place(i, &i.instBase, loadResultType(ptr))
	return i
}

// MaskedLoad emits a load with a mask and a fallback value.
func (b *Builder) MaskedLoad(ptr, mask, other Value, cache CachePolicy) *Load {
	i := &Load{Ptr: ptr, Mask: mask, Other: other, Cache: cache}
	b.place(i, &i.instBase, loadResultType(ptr))
	return i
}

// Store emits an unmasked store.
func (b *Builder) Store(ptr, val Value) *Store {
	i := &Store{Ptr: ptr, Val: val}
	b.place(i, &i.instBase, Void)
	return i
}

// MaskedStore emits a store under mask.
func (b *Builder) MaskedStore(ptr, val, mask Value) *Store {
	i := &Store{Ptr: ptr, Val: val, Mask: mask}
	b.place(i, &i.instBase, Void)
	return i
}

// CopyToShared stages x into shared memory.
func (b *Builder) CopyToShared(x Value) *CopyToShared {
	i := &CopyToShared{X: x}
	b.place(i, &i.instBase, x.Type())
	return i
}

// AsyncCopy stages global memory into shared memory asynchronously.
func (b *Builder) AsyncCopy(ptr, mask Value) *AsyncCopy {
	i := &AsyncCopy{Ptr: ptr, Mask: mask}
	b.place(i, &i.instBase, loadResultType(ptr))
	return i
}

// AsyncWait waits until at most n copy groups remain in flight.
func (b *Builder) AsyncWait(n int) *AsyncWait {
	i := &AsyncWait{N: n}
	b.place(i, &i.instBase, Void)
	return i
}

// Barrier synchronizes the program's lanes.
func (b *Builder) Barrier() *Barrier {
	i := &Barrier{}
	b.place(i, &i.instBase, Void)
	return i
}

// ConvertLayout re-distributes x; the result type is unchanged.
func (b *Builder) ConvertLayout(x Value) *ConvertLayout {
	i := &ConvertLayout{X: x}
	b.place(i, &i.instBase, x.Type())
	return i
}

// Dot emits c + a@b typed after the accumulator.
func (b *Builder) Dot(a, bv, c Value) *Dot {
	i := &Dot{A: a, B: bv, C: c}
	b.place(i, &i.instBase, c.Type())
	return i
}

// Reduce combines x along axis.
func (b *Builder) Reduce(op ReduceOp, x Value, axis int) *Reduce {
	bt := x.Type().(*TileType)
	var rt Type
	if bt.Rank() == 1 {
		rt = bt.Elem
	} else {
		shape := make([]int64, 0, bt.Rank()-1)
		for d, s := range bt.Shape {
			if d != axis {
				shape = append(shape, s)
			}
		}
		rt = Tile(bt.Elem, shape...)
	}
	i := &Reduce{X: x, Op: op, Axis: axis}
	b.place(i, &i.instBase, rt)
	return i
}

// ProgramID reads the program index along axis.
func (b *Builder) ProgramID(axis int) *GetProgramID {
	i := &GetProgramID{Axis: axis}
	b.place(i, &i.instBase, I32)
	return i
}

// NumPrograms reads the launch extent along axis.
func (b *Builder) NumPrograms(axis int) *GetNumPrograms {
	i := &GetNumPrograms{Axis: axis}
	b.place(i, &i.instBase, I32)
	return i
}

// Math emits a unary math op.
func (b *Builder) Math(op MathOp, x Value) *Math {
	i := &Math{Op: op, X: x}
	b.place(i, &i.instBase, x.Type())
	return i
}

// UMulhi emits the unsigned high product.
func (b *Builder) UMulhi(x, y Value) *UMulhi {
	i := &UMulhi{X: x, Y: y}
	b.place(i, &i.instBase, x.Type())
	return i
}

// AtomicCAS emits a compare-and-swap.
func (b *Builder) AtomicCAS(ptr, cmp, val Value) *AtomicCAS {
	i := &AtomicCAS{Ptr: ptr, Cmp: cmp, Val: val}
	b.place(i, &i.instBase, val.Type())
	return i
}

// AtomicRMW emits an atomic read-modify-write.
func (b *Builder) AtomicRMW(op RMWOp, ptr, val, mask Value) *AtomicRMW {
	i := &AtomicRMW{Op: op, Ptr: ptr, Val: val, Mask: mask}
	b.place(i, &i.instBase, val.Type())
	return i
}

// Phi emits an empty phi of typ; edges are attached with AddIncoming.
func (b *Builder) Phi(typ Type) *Phi {
	i := &Phi{}
	b.place(i, &i.instBase, typ)
	return i
}

// Br emits an unconditional branch.
func (b *Builder) Br(target *Block) *Br {
	i := &Br{Target: target}
	b.place(i, &i.instBase, Void)
	return i
}

// CondBr emits a conditional branch.
func (b *Builder) CondBr(cond Value, then, els *Block) *CondBr {
	i := &CondBr{Cond: cond, Then: then, Else: els}
	b.place(i, &i.instBase, Void)
	return i
}

// Return emits a return; x is nil for void kernels.
func (b *Builder) Return(x Value) *Return {
	i := &Return{X: x}
	b.place(i, &i.instBase, Void)
	return i
}
