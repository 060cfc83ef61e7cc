package tir

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a human-readable listing of the module.
func Dump(m *Module, w io.Writer) {
	for fi, fn := range m.Funcs {
		if fi > 0 {
			fmt.Fprintln(w)
		}
		params := make([]string, len(fn.Params))
		for i, p := range fn.Params {
			params[i] = fmt.Sprintf("%%%s: %s", p.Name(), p.Type())
		}
		fmt.Fprintf(w, "func @%s(%s) {\n", fn.Name(), strings.Join(params, ", "))
		for _, blk := range fn.Blocks {
			fmt.Fprintf(w, "%s:\n", blk.Name())
			for _, inst := range blk.Instrs {
				fmt.Fprintf(w, "  %s\n", formatInstr(inst))
			}
		}
		fmt.Fprintln(w, "}")
	}
}

func formatInstr(inst Instruction) string {
	lhs := ""
	if inst.Type() != Void {
		lhs = fmt.Sprintf("%%%s = ", inst.Name())
	}
	switch i := inst.(type) {
	case *Bin:
		return fmt.Sprintf("%s%s %s, %s : %s", lhs, i.Op, ref(i.X), ref(i.Y), i.Type())
	case *ICmp:
		return fmt.Sprintf("%sicmp %s %s, %s", lhs, i.Pred, ref(i.X), ref(i.Y))
	case *FCmp:
		return fmt.Sprintf("%sfcmp %s %s, %s", lhs, i.Pred, ref(i.X), ref(i.Y))
	case *Select:
		return fmt.Sprintf("%sselect %s, %s, %s", lhs, ref(i.Cond), ref(i.X), ref(i.Y))
	case *Cast:
		return fmt.Sprintf("%s%s %s to %s", lhs, i.Op, ref(i.X), i.Type())
	case *AddPtr:
		return fmt.Sprintf("%saddptr %s, %s", lhs, ref(i.Ptr), ref(i.Off))
	case *Splat:
		return fmt.Sprintf("%ssplat %s : %s", lhs, ref(i.X), i.Type())
	case *Broadcast:
		return fmt.Sprintf("%sbroadcast %s : %s", lhs, ref(i.X), i.Type())
	case *Reshape:
		return fmt.Sprintf("%sreshape %s : %s", lhs, ref(i.X), i.Type())
	case *Cat:
		return fmt.Sprintf("%scat %s, %s : %s", lhs, ref(i.X), ref(i.Y), i.Type())
	case *Downcast:
		return fmt.Sprintf("%sdowncast %s : %s", lhs, ref(i.X), i.Type())
	case *MakeRange:
		return fmt.Sprintf("%srange %d, %d : %s", lhs, i.First, i.Last, i.Type())
	case *Load:
		s := fmt.Sprintf("%sload %s", lhs, ref(i.Ptr))
		if i.Mask != nil {
			s += fmt.Sprintf(", mask %s, other %s", ref(i.Mask), ref(i.Other))
		}
		switch i.Cache {
		case CacheCA:
			s += " ca"
		case CacheCG:
			s += " cg"
		}
		return s + " : " + i.Type().String()
	case *Store:
		s := fmt.Sprintf("store %s, %s", ref(i.Ptr), ref(i.Val))
		if i.Mask != nil {
			s += fmt.Sprintf(", mask %s", ref(i.Mask))
		}
		return s
	case *CopyToShared:
		return fmt.Sprintf("%scopy_to_shared %s : %s", lhs, ref(i.X), i.Type())
	case *AsyncCopy:
		return fmt.Sprintf("%sasync_copy %s, mask %s : %s", lhs, ref(i.Ptr), ref(i.Mask), i.Type())
	case *AsyncWait:
		return fmt.Sprintf("async_wait %d", i.N)
	case *Barrier:
		return "barrier"
	case *ConvertLayout:
		return fmt.Sprintf("%sconvert_layout %s : %s", lhs, ref(i.X), i.Type())
	case *Dot:
		return fmt.Sprintf("%sdot %s, %s, %s : %s", lhs, ref(i.A), ref(i.B), ref(i.C), i.Type())
	case *Reduce:
		return fmt.Sprintf("%sreduce %s %s, axis %d : %s", lhs, i.Op, ref(i.X), i.Axis, i.Type())
	case *GetProgramID:
		return fmt.Sprintf("%sprogram_id %d", lhs, i.Axis)
	case *GetNumPrograms:
		return fmt.Sprintf("%snum_programs %d", lhs, i.Axis)
	case *Math:
		return fmt.Sprintf("%s%s %s : %s", lhs, i.Op, ref(i.X), i.Type())
	case *UMulhi:
		return fmt.Sprintf("%sumulhi %s, %s", lhs, ref(i.X), ref(i.Y))
	case *AtomicCAS:
		return fmt.Sprintf("%satomic_cas %s, %s, %s", lhs, ref(i.Ptr), ref(i.Cmp), ref(i.Val))
	case *AtomicRMW:
		s := fmt.Sprintf("%satomic_%s %s, %s", lhs, i.Op, ref(i.Ptr), ref(i.Val))
		if i.Mask != nil {
			s += fmt.Sprintf(", mask %s", ref(i.Mask))
		}
		return s
	case *Phi:
		edges := make([]string, len(i.Incs))
		for n, inc := range i.Incs {
			edges[n] = fmt.Sprintf("[%s, %s]", ref(inc.V), inc.Block.Name())
		}
		return fmt.Sprintf("%sphi %s : %s", lhs, strings.Join(edges, ", "), i.Type())
	case *Br:
		return fmt.Sprintf("br %s", i.Target.Name())
	case *CondBr:
		return fmt.Sprintf("br %s, %s, %s", ref(i.Cond), i.Then.Name(), i.Else.Name())
	case *Return:
		if i.X == nil {
			return "ret"
		}
		return fmt.Sprintf("ret %s", ref(i.X))
	}
	return fmt.Sprintf("%s<%T>", lhs, inst)
}

func ref(v Value) string {
	switch c := v.(type) {
	case *IntConst:
		return fmt.Sprintf("%d", c.V)
	case *FloatConst:
		return fmt.Sprintf("%g", c.V)
	case *Undef:
		return "undef"
	}
	return "%" + v.Name()
}

func (op BinOp) String() string {
	switch op {
	case Add:
		return "add"
	case Sub:
		return "sub"
	case Mul:
		return "mul"
	case UDiv:
		return "udiv"
	case SDiv:
		return "sdiv"
	case URem:
		return "urem"
	case SRem:
		return "srem"
	case And:
		return "and"
	case Or:
		return "or"
	case Xor:
		return "xor"
	case Shl:
		return "shl"
	case LShr:
		return "lshr"
	case AShr:
		return "ashr"
	case FAdd:
		return "fadd"
	case FSub:
		return "fsub"
	case FMul:
		return "fmul"
	case FDiv:
		return "fdiv"
	case FRem:
		return "frem"
	}
	return fmt.Sprintf("bin(%d)", uint8(op))
}

func (p IntPred) String() string {
	switch p {
	case IntEQ:
		return "eq"
	case IntNE:
		return "ne"
	case IntULT:
		return "ult"
	case IntULE:
		return "ule"
	case IntUGT:
		return "ugt"
	case IntUGE:
		return "uge"
	case IntSLT:
		return "slt"
	case IntSLE:
		return "sle"
	case IntSGT:
		return "sgt"
	case IntSGE:
		return "sge"
	}
	return fmt.Sprintf("ipred(%d)", uint8(p))
}

func (p FloatPred) String() string {
	switch p {
	case FloatOEQ:
		return "oeq"
	case FloatOGT:
		return "ogt"
	case FloatOGE:
		return "oge"
	case FloatOLT:
		return "olt"
	case FloatOLE:
		return "ole"
	case FloatONE:
		return "one"
	case FloatORD:
		return "ord"
	case FloatUNO:
		return "uno"
	case FloatUEQ:
		return "ueq"
	case FloatUGT:
		return "ugt"
	case FloatUGE:
		return "uge"
	case FloatULT:
		return "ult"
	case FloatULE:
		return "ule"
	case FloatUNE:
		return "une"
	}
	return fmt.Sprintf("fpred(%d)", uint8(p))
}

func (op CastOp) String() string {
	switch op {
	case Trunc:
		return "trunc"
	case ZExt:
		return "zext"
	case SExt:
		return "sext"
	case FPTrunc:
		return "fptrunc"
	case FPExt:
		return "fpext"
	case UIToFP:
		return "uitofp"
	case SIToFP:
		return "sitofp"
	case FPToUI:
		return "fptoui"
	case FPToSI:
		return "fptosi"
	case PtrToInt:
		return "ptrtoint"
	case IntToPtr:
		return "inttoptr"
	case Bitcast:
		return "bitcast"
	case AddrSpaceCast:
		return "addrspacecast"
	}
	return fmt.Sprintf("cast(%d)", uint8(op))
}

func (op ReduceOp) String() string {
	switch op {
	case RedAdd:
		return "add"
	case RedFAdd:
		return "fadd"
	case RedMin:
		return "min"
	case RedMax:
		return "max"
	case RedUMin:
		return "umin"
	case RedUMax:
		return "umax"
	case RedFMin:
		return "fmin"
	case RedFMax:
		return "fmax"
	case RedXor:
		return "xor"
	}
	return fmt.Sprintf("red(%d)", uint8(op))
}

func (op RMWOp) String() string {
	switch op {
	case RMWAnd:
		return "and"
	case RMWOr:
		return "or"
	case RMWXor:
		return "xor"
	case RMWAdd:
		return "add"
	case RMWFAdd:
		return "fadd"
	case RMWMin:
		return "min"
	case RMWMax:
		return "max"
	case RMWUMin:
		return "umin"
	case RMWUMax:
		return "umax"
	case RMWXchg:
		return "xchg"
	}
	return fmt.Sprintf("rmw(%d)", uint8(op))
}

func (op MathOp) String() string {
	switch op {
	case MathExp:
		return "exp"
	case MathLog:
		return "log"
	case MathSin:
		return "sin"
	case MathCos:
		return "cos"
	case MathSqrt:
		return "sqrt"
	}
	return fmt.Sprintf("math(%d)", uint8(op))
}
