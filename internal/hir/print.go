package hir

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// WriteModule renders `m` in the textual HIR form accepted by ParseModule.
func WriteModule(w io.Writer, m *Module) error {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("module %s %s\n", m.Name, m.Kind))
	for _, g := range m.Globals() {
		sb.WriteString(fmt.Sprintf("global %s : %s %s", g.Name, g.Type, g.Linkage))
		if len(g.Init) > 0 {
			sb.WriteString(" = 0x")
			sb.WriteString(hexBytes(g.Init))
		}
		sb.WriteByte('\n')
	}
	for _, seg := range m.DataSegments() {
		sb.WriteString(fmt.Sprintf("segment %#x size %d", seg.Offset, seg.Size))
		if seg.Readonly {
			sb.WriteString(" readonly")
		}
		if len(seg.Data) > 0 {
			sb.WriteString(" = 0x")
			sb.WriteString(hexBytes(seg.Data))
		}
		sb.WriteByte('\n')
	}
	for _, f := range m.Functions() {
		sb.WriteByte('\n')
		writeFunction(&sb, f)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// FormatModule renders `m` to a string.
func FormatModule(m *Module) string {
	var sb strings.Builder
	if err := WriteModule(&sb, m); err != nil {
		panic(err)
	}
	return sb.String()
}

// FormatFunction renders a single function, for debugging output.
func FormatFunction(f *Function) string {
	var sb strings.Builder
	writeFunction(&sb, f)
	return sb.String()
}

func writeFunction(sb *strings.Builder, f *Function) {
	sb.WriteString("fn ")
	sb.WriteString(f.ID.String())
	sb.WriteString(" ")
	writeSignature(sb, &f.Signature)
	sb.WriteString(" {\n")

	imports := f.DFG.Imports()
	sort.Slice(imports, func(i, j int) bool {
		return imports[i].ID.String() < imports[j].ID.String()
	})
	for _, ext := range imports {
		sb.WriteString("    import ")
		sb.WriteString(ext.ID.String())
		sb.WriteString(" ")
		writeSignature(sb, &ext.Signature)
		sb.WriteByte('\n')
	}

	for _, b := range f.DFG.Blocks() {
		sb.WriteString(b.String())
		sb.WriteByte('(')
		for i, p := range f.DFG.BlockParams(b) {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s: %s", p, f.DFG.ValueType(p)))
		}
		sb.WriteString("):\n")
		for _, inst := range f.DFG.BlockInsts(b) {
			sb.WriteString("    ")
			writeInst(sb, f.DFG, inst)
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("}\n")
}

func writeSignature(sb *strings.Builder, sig *Signature) {
	sb.WriteByte('(')
	for i, p := range sig.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeAbiParam(sb, p)
	}
	sb.WriteString(") -> (")
	for i, r := range sig.Results {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeAbiParam(sb, r)
	}
	sb.WriteString(") ")
	sb.WriteString(sig.CallConv.String())
	sb.WriteByte(' ')
	sb.WriteString(sig.Linkage.String())
}

func writeAbiParam(sb *strings.Builder, p AbiParam) {
	if p.Purpose == PurposeStructReturn {
		sb.WriteString("sret ")
	}
	switch p.Extension {
	case ExtensionZext:
		sb.WriteString("zext ")
	case ExtensionSext:
		sb.WriteString("sext ")
	}
	sb.WriteString(p.Type.String())
}

func writeInst(sb *strings.Builder, dfg *DataFlowGraph, inst Inst) {
	results := dfg.InstResults(inst)
	for i, r := range results {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(r.String())
	}
	if len(results) > 0 {
		sb.WriteString(" = ")
	}

	op := dfg.InstOpcode(inst)
	sb.WriteString(op.String())
	if overflow := dfg.InstOverflow(inst); overflow != OverflowUnchecked {
		sb.WriteByte('.')
		sb.WriteString(overflow.String())
	}

	args := dfg.InstArgs(inst)
	imm, hasImm := dfg.InstImm(inst)

	switch op {
	case OpcodeConst:
		sb.WriteString(fmt.Sprintf(" %s $%s", imm.Type, imm))
	case OpcodeBr:
		dest := dfg.InstDests(inst)[0]
		sb.WriteByte(' ')
		writeBlockCall(sb, dfg, dest)
	case OpcodeCondBr:
		dests := dfg.InstDests(inst)
		sb.WriteString(fmt.Sprintf(" %s, ", args[0]))
		writeBlockCall(sb, dfg, dests[0])
		sb.WriteString(", ")
		writeBlockCall(sb, dfg, dests[1])
	case OpcodeSwitch:
		dests := dfg.InstDests(inst)
		arms := dfg.InstArms(inst)
		sb.WriteString(fmt.Sprintf(" %s", args[0]))
		for i, arm := range arms {
			sb.WriteString(fmt.Sprintf(", %d => ", arm))
			writeBlockCall(sb, dfg, dests[i+1])
		}
		sb.WriteString(", default ")
		writeBlockCall(sb, dfg, dests[0])
	case OpcodeCall, OpcodeSyscall:
		sb.WriteString(fmt.Sprintf(" %s(", dfg.InstCallee(inst)))
		for i, a := range args {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(a.String())
		}
		sb.WriteByte(')')
	default:
		for i, a := range args {
			if i == 0 {
				sb.WriteByte(' ')
			} else {
				sb.WriteString(", ")
			}
			sb.WriteString(a.String())
		}
		if hasImm {
			if len(args) > 0 {
				sb.WriteString(", ")
			} else {
				sb.WriteByte(' ')
			}
			sb.WriteString(fmt.Sprintf("$%s", imm))
		}
	}

	// The controlling type annotation makes the text form unambiguous for
	// the parser.
	switch op {
	case OpcodeCall, OpcodeSyscall:
		if len(results) > 0 {
			sb.WriteString(" : (")
			for i, r := range results {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(dfg.ValueType(r).String())
			}
			sb.WriteByte(')')
		}
	default:
		if len(results) > 0 || op == OpcodeLoad || op == OpcodeStore {
			if ty := dfg.InstType(inst); ty != nil {
				sb.WriteString(" : ")
				sb.WriteString(ty.String())
			}
		}
	}
}

func writeBlockCall(sb *strings.Builder, dfg *DataFlowGraph, call BlockCall) {
	sb.WriteString(call.Block.String())
	sb.WriteByte('(')
	for i, a := range dfg.ValueLists.Slice(call.Args) {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.String())
	}
	sb.WriteByte(')')
}

func hexBytes(data []byte) string {
	const digits = "0123456789abcdef"
	var sb strings.Builder
	for _, b := range data {
		sb.WriteByte(digits[b>>4])
		sb.WriteByte(digits[b&0xf])
	}
	return sb.String()
}
