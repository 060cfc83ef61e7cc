package codegen

import (
	"fmt"
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"

	"tilegen/internal/tir"
)

// Inline PTX fragments. Everything the asm text and its constraint string
// encode is decided here, so the memory and reduction lowerings share one
// source of truth.

const (
	asmEx2   = "ex2.approx.f32 $0, $0;"
	asmLg2   = "lg2.approx.f32 $0, $1;"
	asmCos   = "cos.approx.f32 $0, $0;"
	asmSin   = "sin.approx.f32 $0, $0;"
	asmMulHi = "mul.hi.u32 $0, $1, $2;"

	asmShfl           = "shfl.sync.bfly.b32 $0, $1, $2, 0x1f, 0xffffffff;"
	asmCAS            = "@$1 atom.global.cas.b32 $0, [$2], $3, $4;"
	asmStSharedB32    = "@$0 st.shared.b32 [$1], $2;"
	asmCommitGroup    = "cp.async.commit_group;"
	asmCvtBF16FromF32 = "cvt.rn.bf16.f32 $0, $1;"
)

const (
	log2E = 1.4426950408889634
	ln2   = 0.6931471805599453
)

func (g *generator) inlineASM(ret types.Type, params []types.Type, asm, constraint string, sideEffect bool) *ir.InlineAsm {
	ia := ir.NewInlineAsm(types.NewPointer(types.NewFunc(ret, params...)), asm, constraint)
	ia.SideEffect = sideEffect
	return ia
}

// ldOther is the masked-off fallback of one load word: either a literal bit
// pattern folded into the asm text, or a reference to an extra operand.
type ldOther struct {
	literal bool
	bits    uint64
}

// ldWordClass maps a word width onto its PTX register constraint letter.
func ldWordClass(width int) string {
	switch width {
	case 64:
		return "l"
	case 32:
		return "r"
	default:
		return "c"
	}
}

// ldGlobalAsm renders one predicated vector load. When fallbacks are
// present, each word gets a mov under the negated predicate so masked-off
// lanes still define every output register.
func ldGlobalAsm(nWords, width int, policy tir.CachePolicy, off int64, others []ldOther) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "@$%d ld.global", nWords)
	switch policy {
	case tir.CacheCA:
		sb.WriteString(".ca")
	case tir.CacheCG:
		sb.WriteString(".cg")
	}
	if nWords > 1 {
		fmt.Fprintf(&sb, ".v%d", nWords)
	}
	fmt.Fprintf(&sb, ".b%d {", width)
	for i := 0; i < nWords; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, "$%d", i)
	}
	fmt.Fprintf(&sb, "}, [ $%d + %d];", nWords+1, off)
	for ii, o := range others {
		fmt.Fprintf(&sb, "\n        @!$%d mov.u%d $%d, ", nWords, width, ii)
		if o.literal {
			fmt.Fprintf(&sb, "0x%x;", o.bits)
		} else {
			fmt.Fprintf(&sb, "$%d;", nWords+2+ii)
		}
	}
	return sb.String()
}

// ldGlobalConstraint pairs ldGlobalAsm: one output per word, the predicate,
// the pointer, then one extra input per non-literal fallback.
func ldGlobalConstraint(nWords, width, extras int) string {
	var sb strings.Builder
	cls := ldWordClass(width)
	for i := 0; i < nWords; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("=" + cls)
	}
	sb.WriteString(",b,l")
	for i := 0; i < extras; i++ {
		sb.WriteString("," + cls)
	}
	return sb.String()
}

// cpAsyncAsm renders one asynchronous global-to-shared copy. Full 16 byte
// lines stream through L2; anything narrower takes the L1 path. The third
// operand shrinks the source read for masked-off lanes.
func cpAsyncAsm(bytes int, outOff, inOff int64) string {
	mod := ".ca"
	if bytes == 16 {
		mod = ".cg"
	}
	return fmt.Sprintf("cp.async%s.shared.global [$0 + %d], [$1 + %d], %d, $2;", mod, outOff, inOff, bytes)
}

func cpAsyncWaitAsm(n int) string {
	return fmt.Sprintf("cp.async.wait_group %d;", n)
}

// rmwSpec maps an atomic op onto its PTX name and operand class.
func rmwSpec(op tir.RMWOp) (name, class string, ok bool) {
	switch op {
	case tir.RMWAnd:
		return "and", "b", true
	case tir.RMWOr:
		return "or", "b", true
	case tir.RMWXor:
		return "xor", "b", true
	case tir.RMWAdd:
		return "add", "s", true
	case tir.RMWMin:
		return "min", "s", true
	case tir.RMWMax:
		return "max", "s", true
	case tir.RMWUMin:
		return "min", "u", true
	case tir.RMWUMax:
		return "max", "u", true
	case tir.RMWFAdd:
		return "add", "f", true
	case tir.RMWXchg:
		return "exch", "b", true
	}
	return "", "", false
}

// atomRMWAsm renders one predicated read-modify-write. Packed f16 pairs ride
// the x2 form; everything narrower than a full register is flushed-to-zero
// exempt.
func atomRMWAsm(name, class string, nbits, vec int, off int64) string {
	mod := ""
	if nbits != 32 {
		mod = ".noftz"
	}
	width := fmt.Sprintf("%d", nbits)
	if vec == 2 {
		width += "x2"
	}
	offset := ""
	if off != 0 {
		offset = fmt.Sprintf(" + %d", off)
	}
	return fmt.Sprintf("@$1 atom.global.gpu.%s%s.%s%s $0, [$2%s], $3;", name, mod, class, width, offset)
}

func atomRMWConstraint(nbits, vec int) string {
	cls := "h"
	if nbits*vec == 32 {
		cls = "r"
	}
	return fmt.Sprintf("=%s,b,l,%s", cls, cls)
}

// asmFP8x4ToF16x4 expands four packed fp8 values into four f16. The fp8
// format shares the f16 exponent bias, so the conversion is a shift that
// restores the sign bit afterwards.
const asmFP8x4ToF16x4 = "{" +
	".reg .b32 a<2>, b<2>;                  \n\t" +
	"prmt.b32 a0, 0, $2, 0x5140;            \n\t" +
	"prmt.b32 a1, 0, $2, 0x7362;            \n\t" +
	"lop3.b32 b0, a0, 0x7fff7fff, 0, 0xc0;  \n\t" +
	"lop3.b32 b1, a1, 0x7fff7fff, 0, 0xc0;  \n\t" +
	"shr.b32  b0, b0, 1;                    \n\t" +
	"shr.b32  b1, b1, 1;                    \n\t" +
	"lop3.b32 $0, b0, 0x80008000, a0, 0xf8; \n\t" +
	"lop3.b32 $1, b1, 0x80008000, a1, 0xf8; \n\t" +
	"}"
