package hir

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/0xpolygonmiden/midenc/internal/types"
)

// ParseModule parses the textual HIR form produced by WriteModule.
//
// The parser exists to make the textual form a first-class artifact: any
// module that survives validation can be printed and re-parsed into an
// equivalent module.
func ParseModule(source string) (*Module, error) {
	p := &parser{lines: strings.Split(source, "\n")}
	return p.parseModule()
}

type parser struct {
	lines []string
	pos   int
}

func (p *parser) next() (string, bool) {
	for p.pos < len(p.lines) {
		line := strings.TrimSpace(p.lines[p.pos])
		p.pos++
		if line != "" {
			return line, true
		}
	}
	return "", false
}

func (p *parser) peek() (string, bool) {
	save := p.pos
	line, ok := p.next()
	p.pos = save
	return line, ok
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("line %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) parseModule() (*Module, error) {
	header, ok := p.next()
	if !ok {
		return nil, fmt.Errorf("empty module source")
	}
	fields := strings.Fields(header)
	if len(fields) != 3 || fields[0] != "module" {
		return nil, p.errorf("expected 'module <name> <kind>', got %q", header)
	}
	var kind ModuleKind
	switch fields[2] {
	case "library":
		kind = ModuleLibrary
	case "kernel":
		kind = ModuleKernel
	case "executable":
		kind = ModuleExecutable
	default:
		return nil, p.errorf("unrecognized module kind %q", fields[2])
	}
	m := NewModule(Ident(fields[1]), kind)

	for {
		line, ok := p.peek()
		if !ok {
			return m, nil
		}
		switch {
		case strings.HasPrefix(line, "global "):
			p.next()
			if err := p.parseGlobal(m, line); err != nil {
				return nil, err
			}
		case strings.HasPrefix(line, "segment "):
			p.next()
			if err := p.parseSegment(m, line); err != nil {
				return nil, err
			}
		case strings.HasPrefix(line, "fn "):
			f, err := p.parseFunction(m)
			if err != nil {
				return nil, err
			}
			if err := m.AddFunction(f); err != nil {
				return nil, p.errorf("%v", err)
			}
		default:
			return nil, p.errorf("unexpected line %q", line)
		}
	}
}

func (p *parser) parseGlobal(m *Module, line string) error {
	// global <name> : <ty> <linkage> [= 0x<hex>]
	rest := strings.TrimPrefix(line, "global ")
	name, rest, ok := strings.Cut(rest, " : ")
	if !ok {
		return p.errorf("malformed global %q", line)
	}
	var init []byte
	if body, data, found := strings.Cut(rest, " = 0x"); found {
		decoded, err := hex.DecodeString(strings.TrimSpace(data))
		if err != nil {
			return p.errorf("malformed global initializer: %v", err)
		}
		init = decoded
		rest = body
	}
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return p.errorf("malformed global %q", line)
	}
	ty, err := parseType(strings.Join(fields[:len(fields)-1], " "))
	if err != nil {
		return p.errorf("malformed global type: %v", err)
	}
	linkage, err := parseLinkage(fields[len(fields)-1])
	if err != nil {
		return p.errorf("%v", err)
	}
	return m.DeclareGlobal(GlobalVariable{
		Name: Ident(name), Type: ty, Linkage: linkage, Init: init,
	})
}

func (p *parser) parseSegment(m *Module, line string) error {
	// segment <offset> size <n> [readonly] [= 0x<hex>]
	var data []byte
	if body, hexData, found := strings.Cut(line, " = 0x"); found {
		decoded, err := hex.DecodeString(strings.TrimSpace(hexData))
		if err != nil {
			return p.errorf("malformed segment data: %v", err)
		}
		data = decoded
		line = body
	}
	fields := strings.Fields(line)
	if len(fields) < 4 || fields[2] != "size" {
		return p.errorf("malformed segment %q", line)
	}
	offset, err := strconv.ParseUint(fields[1], 0, 32)
	if err != nil {
		return p.errorf("malformed segment offset: %v", err)
	}
	size, err := strconv.ParseUint(fields[3], 0, 32)
	if err != nil {
		return p.errorf("malformed segment size: %v", err)
	}
	readonly := len(fields) > 4 && fields[4] == "readonly"
	return m.DeclareDataSegment(DataSegment{
		Offset: uint32(offset), Size: uint32(size), Data: data, Readonly: readonly,
	})
}

func (p *parser) parseFunction(m *Module) (*Function, error) {
	header, _ := p.next()
	rest := strings.TrimSuffix(strings.TrimPrefix(header, "fn "), " {")
	name, sigText, ok := strings.Cut(rest, " ")
	if !ok {
		return nil, p.errorf("malformed function header %q", header)
	}
	id, err := parseFunctionIdent(name)
	if err != nil {
		return nil, p.errorf("%v", err)
	}
	sig, err := parseSignature(sigText)
	if err != nil {
		return nil, p.errorf("malformed signature: %v", err)
	}

	// Collect the body lines up to the closing brace, then parse in two
	// passes: blocks and parameters first, so branches can refer forward.
	var body []string
	for {
		line, ok := p.next()
		if !ok {
			return nil, p.errorf("unterminated function %s", id)
		}
		if line == "}" {
			break
		}
		body = append(body, line)
	}

	fn := &Function{ID: id, Signature: *sig, DFG: NewDataFlowGraph()}
	fp := &funcParser{
		parser: p,
		dfg:    fn.DFG,
		blocks: make(map[string]Block),
		values: make(map[string]Value),
	}
	if err := fp.declareBlocks(body); err != nil {
		return nil, err
	}
	if err := fp.parseBody(body); err != nil {
		return nil, err
	}
	return fn, nil
}

type funcParser struct {
	*parser
	dfg    *DataFlowGraph
	blocks map[string]Block
	values map[string]Value
}

func (fp *funcParser) declareBlocks(body []string) error {
	for _, line := range body {
		if !strings.HasPrefix(line, "blk") || !strings.HasSuffix(line, "):") {
			continue
		}
		name, params, ok := strings.Cut(strings.TrimSuffix(line, "):"), "(")
		if !ok {
			return fp.errorf("malformed block header %q", line)
		}
		if _, dup := fp.blocks[name]; dup {
			return fp.errorf("duplicate block %s", name)
		}
		b := fp.dfg.CreateBlock()
		fp.blocks[name] = b
		for _, param := range splitTopLevel(params) {
			pname, tyText, ok := strings.Cut(param, ": ")
			if !ok {
				return fp.errorf("malformed block parameter %q", param)
			}
			ty, err := parseType(tyText)
			if err != nil {
				return fp.errorf("malformed parameter type: %v", err)
			}
			fp.values[strings.TrimSpace(pname)] = fp.dfg.AppendBlockParam(b, ty)
		}
	}
	if len(fp.blocks) == 0 {
		return fp.errorf("function has no blocks")
	}
	return nil
}

func (fp *funcParser) parseBody(body []string) error {
	var cur Block
	for _, line := range body {
		switch {
		case strings.HasPrefix(line, "blk") && strings.HasSuffix(line, "):"):
			name, _, _ := strings.Cut(line, "(")
			cur = fp.blocks[name]
		case strings.HasPrefix(line, "import "):
			if err := fp.parseImport(line); err != nil {
				return err
			}
		default:
			if !cur.Valid() {
				return fp.errorf("instruction %q outside of a block", line)
			}
			if err := fp.parseInst(cur, line); err != nil {
				return err
			}
		}
	}
	return nil
}

func (fp *funcParser) parseImport(line string) error {
	rest := strings.TrimPrefix(line, "import ")
	name, sigText, ok := strings.Cut(rest, " ")
	if !ok {
		return fp.errorf("malformed import %q", line)
	}
	id, err := parseFunctionIdent(name)
	if err != nil {
		return fp.errorf("%v", err)
	}
	sig, err := parseSignature(sigText)
	if err != nil {
		return fp.errorf("malformed import signature: %v", err)
	}
	fp.dfg.ImportFunction(id, *sig)
	return nil
}

func (fp *funcParser) parseInst(b Block, line string) error {
	// [vN[, vN...] = ] opcode[.overflow] operands [ : annot]
	var resultNames []string
	if lhs, rhs, found := strings.Cut(line, " = "); found && strings.HasPrefix(lhs, "v") {
		for _, r := range splitTopLevel(lhs) {
			resultNames = append(resultNames, strings.TrimSpace(r))
		}
		line = rhs
	}

	var annot string
	if body, a, found := cutLastAnnotation(line); found {
		line, annot = body, a
	}

	mnemonic, operands, _ := strings.Cut(line, " ")
	opName, overflowName, hasOverflow := strings.Cut(mnemonic, ".")
	op, ok := OpcodeByName(opName)
	if !ok {
		return fp.errorf("unrecognized opcode %q", opName)
	}
	overflow := OverflowUnchecked
	if hasOverflow {
		overflow, ok = overflowByName[overflowName]
		if !ok {
			return fp.errorf("unrecognized overflow behavior %q", overflowName)
		}
	}

	fields := InstFields{Opcode: op, Overflow: overflow}
	var resultTypes []types.Type

	switch op {
	case OpcodeConst:
		tyText, immText, ok := strings.Cut(operands, " $")
		if !ok {
			return fp.errorf("malformed const %q", line)
		}
		ty, err := parseType(tyText)
		if err != nil {
			return fp.errorf("malformed const type: %v", err)
		}
		bits, err := parseImmBits(immText, ty)
		if err != nil {
			return fp.errorf("%v", err)
		}
		fields.Imm, fields.HasImm = Imm(ty, bits), true
		fields.Type = ty
		resultTypes = []types.Type{ty}

	case OpcodeBr:
		dest, err := fp.parseBlockCall(operands)
		if err != nil {
			return err
		}
		fields.Dests = []DestFields{dest}

	case OpcodeCondBr:
		parts := splitTopLevel(operands)
		if len(parts) != 3 {
			return fp.errorf("malformed condbr %q", line)
		}
		cond, err := fp.lookupValue(parts[0])
		if err != nil {
			return err
		}
		then, err := fp.parseBlockCall(parts[1])
		if err != nil {
			return err
		}
		els, err := fp.parseBlockCall(parts[2])
		if err != nil {
			return err
		}
		fields.Args = []Value{cond}
		fields.Dests = []DestFields{then, els}

	case OpcodeSwitch:
		parts := splitTopLevel(operands)
		if len(parts) < 2 {
			return fp.errorf("malformed switch %q", line)
		}
		selector, err := fp.lookupValue(parts[0])
		if err != nil {
			return err
		}
		fields.Args = []Value{selector}
		var armDests []DestFields
		var fallback DestFields
		for _, part := range parts[1:] {
			part = strings.TrimSpace(part)
			if rest, found := strings.CutPrefix(part, "default "); found {
				fallback, err = fp.parseBlockCall(rest)
				if err != nil {
					return err
				}
				continue
			}
			armText, destText, ok := strings.Cut(part, " => ")
			if !ok {
				return fp.errorf("malformed switch arm %q", part)
			}
			arm, err := strconv.ParseUint(strings.TrimSpace(armText), 10, 32)
			if err != nil {
				return fp.errorf("malformed switch arm selector: %v", err)
			}
			dest, err := fp.parseBlockCall(destText)
			if err != nil {
				return err
			}
			fields.Arms = append(fields.Arms, uint32(arm))
			armDests = append(armDests, dest)
		}
		fields.Dests = append([]DestFields{fallback}, armDests...)

	case OpcodeCall, OpcodeSyscall:
		calleeText, argText, ok := strings.Cut(operands, "(")
		if !ok {
			return fp.errorf("malformed call %q", line)
		}
		id, err := parseFunctionIdent(strings.TrimSpace(calleeText))
		if err != nil {
			return fp.errorf("%v", err)
		}
		fields.Callee = id
		for _, a := range splitTopLevel(strings.TrimSuffix(strings.TrimSpace(argText), ")")) {
			v, err := fp.lookupValue(a)
			if err != nil {
				return err
			}
			fields.Args = append(fields.Args, v)
		}
		if annot != "" {
			tys, err := parseTypeList(annot)
			if err != nil {
				return fp.errorf("malformed call annotation: %v", err)
			}
			resultTypes = tys
			annot = ""
		}

	default:
		for _, a := range splitTopLevel(operands) {
			a = strings.TrimSpace(a)
			if a == "" {
				continue
			}
			if immText, found := strings.CutPrefix(a, "$"); found {
				ty := types.U64Type
				if annot != "" {
					if parsed, err := parseType(annot); err == nil {
						ty = parsed
					}
				}
				bits, err := parseImmBits(immText, ty)
				if err != nil {
					return fp.errorf("%v", err)
				}
				fields.Imm, fields.HasImm = Imm(ty, bits), true
				continue
			}
			v, err := fp.lookupValue(a)
			if err != nil {
				return err
			}
			fields.Args = append(fields.Args, v)
		}
		if annot != "" {
			ty, err := parseType(annot)
			if err != nil {
				return fp.errorf("malformed type annotation: %v", err)
			}
			fields.Type = ty
			if len(resultNames) > 0 {
				resultTypes = make([]types.Type, len(resultNames))
				for i := range resultTypes {
					resultTypes[i] = ty
				}
				// Comparisons return i1 regardless of operand type.
				switch op {
				case OpcodeEq, OpcodeNeq, OpcodeGt, OpcodeGte, OpcodeLt, OpcodeLte,
					OpcodeIsOdd, OpcodeNot:
					resultTypes[len(resultTypes)-1] = types.I1Type
				}
			}
		}
	}

	if len(resultNames) != len(resultTypes) {
		return fp.errorf("instruction %q defines %d results but %d types are known",
			line, len(resultNames), len(resultTypes))
	}

	inst := fp.dfg.MakeInst(fields)
	results := fp.dfg.MakeInstResults(inst, resultTypes...)
	for i, name := range resultNames {
		fp.values[name] = results[i]
	}
	fp.dfg.AppendInst(b, inst)
	return nil
}

func (fp *funcParser) parseBlockCall(text string) (DestFields, error) {
	text = strings.TrimSpace(text)
	name, argText, ok := strings.Cut(text, "(")
	if !ok {
		return DestFields{}, fp.errorf("malformed block reference %q", text)
	}
	b, ok := fp.blocks[name]
	if !ok {
		return DestFields{}, fp.errorf("branch to undefined block %q", name)
	}
	dest := DestFields{Block: b}
	for _, a := range splitTopLevel(strings.TrimSuffix(argText, ")")) {
		v, err := fp.lookupValue(a)
		if err != nil {
			return DestFields{}, err
		}
		dest.Args = append(dest.Args, v)
	}
	return dest, nil
}

func (fp *funcParser) lookupValue(name string) (Value, error) {
	name = strings.TrimSpace(name)
	v, ok := fp.values[name]
	if !ok {
		return ValueInvalid, fp.errorf("use of undefined value %q", name)
	}
	return v, nil
}

func parseFunctionIdent(text string) (FunctionIdent, error) {
	i := strings.LastIndex(text, "::")
	if i < 0 {
		return FunctionIdent{}, fmt.Errorf("malformed function identifier %q", text)
	}
	return FunctionIdent{Module: Ident(text[:i]), Function: Ident(text[i+2:])}, nil
}

func parseSignature(text string) (*Signature, error) {
	// (params) -> (results) cc linkage
	paramText, rest, ok := strings.Cut(strings.TrimPrefix(text, "("), ") -> (")
	if !ok {
		return nil, fmt.Errorf("malformed signature %q", text)
	}
	resultText, tail, ok := strings.Cut(rest, ")")
	if !ok {
		return nil, fmt.Errorf("malformed signature %q", text)
	}
	fields := strings.Fields(tail)
	if len(fields) != 2 {
		return nil, fmt.Errorf("malformed signature trailer %q", tail)
	}
	var cc CallConv
	switch fields[0] {
	case "fast":
		cc = CallConvFast
	case "C":
		cc = CallConvSystemV
	case "kernel":
		cc = CallConvKernel
	default:
		return nil, fmt.Errorf("unrecognized calling convention %q", fields[0])
	}
	linkage, err := parseLinkage(fields[1])
	if err != nil {
		return nil, err
	}
	sig := &Signature{CallConv: cc, Linkage: linkage}
	if sig.Params, err = parseAbiParams(paramText); err != nil {
		return nil, err
	}
	if sig.Results, err = parseAbiParams(resultText); err != nil {
		return nil, err
	}
	return sig, nil
}

func parseAbiParams(text string) ([]AbiParam, error) {
	var params []AbiParam
	for _, part := range splitTopLevel(text) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var p AbiParam
		for {
			if rest, found := strings.CutPrefix(part, "sret "); found {
				p.Purpose = PurposeStructReturn
				part = rest
				continue
			}
			if rest, found := strings.CutPrefix(part, "zext "); found {
				p.Extension = ExtensionZext
				part = rest
				continue
			}
			if rest, found := strings.CutPrefix(part, "sext "); found {
				p.Extension = ExtensionSext
				part = rest
				continue
			}
			break
		}
		ty, err := parseType(part)
		if err != nil {
			return nil, err
		}
		p.Type = ty
		params = append(params, p)
	}
	return params, nil
}

func parseLinkage(text string) (Linkage, error) {
	switch text {
	case "external":
		return LinkageExternal, nil
	case "internal":
		return LinkageInternal, nil
	case "odr":
		return LinkageOdr, nil
	default:
		return 0, fmt.Errorf("unrecognized linkage %q", text)
	}
}

var primTypes = map[string]types.Type{
	"?":     types.UnknownType,
	"()":    types.UnitType,
	"!":     types.NeverType,
	"i1":    types.I1Type,
	"i8":    types.I8Type,
	"u8":    types.U8Type,
	"i16":   types.I16Type,
	"u16":   types.U16Type,
	"i32":   types.I32Type,
	"u32":   types.U32Type,
	"i64":   types.I64Type,
	"u64":   types.U64Type,
	"i128":  types.I128Type,
	"u128":  types.U128Type,
	"u256":  types.U256Type,
	"isize": types.IsizeType,
	"usize": types.UsizeType,
	"f64":   types.F64Type,
	"felt":  types.FeltType,
}

func parseType(text string) (types.Type, error) {
	text = strings.TrimSpace(text)
	if ty, ok := primTypes[text]; ok {
		return ty, nil
	}
	switch {
	case strings.HasPrefix(text, "*"):
		elem, err := parseType(text[1:])
		if err != nil {
			return nil, err
		}
		return types.Ptr(elem), nil
	case strings.HasPrefix(text, "&"):
		elem, err := parseType(text[1:])
		if err != nil {
			return nil, err
		}
		return types.NativePtr(elem), nil
	case strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}"):
		fields, err := parseTypeList(text[1 : len(text)-1])
		if err != nil {
			return nil, err
		}
		return types.StructOf(fields...), nil
	case strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]"):
		elemText, lenText, ok := cutLastTopLevel(text[1:len(text)-1], ';')
		if !ok {
			return nil, fmt.Errorf("malformed array type %q", text)
		}
		elem, err := parseType(elemText)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseUint(strings.TrimSpace(lenText), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("malformed array length in %q", text)
		}
		return types.ArrayOf(elem, uint32(n)), nil
	default:
		return nil, fmt.Errorf("unrecognized type %q", text)
	}
}

func parseTypeList(text string) ([]types.Type, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(strings.TrimPrefix(text, "("), ")")
	var tys []types.Type
	for _, part := range splitTopLevel(text) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ty, err := parseType(part)
		if err != nil {
			return nil, err
		}
		tys = append(tys, ty)
	}
	return tys, nil
}

func parseImmBits(text string, ty types.Type) (uint64, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "-") {
		v, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed immediate %q", text)
		}
		width := types.Bitwidth(ty)
		bits := uint64(v)
		if width > 0 && width < 64 {
			bits &= (1 << width) - 1
		}
		return bits, nil
	}
	v, err := strconv.ParseUint(text, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed immediate %q", text)
	}
	return v, nil
}

// splitTopLevel splits on commas not nested inside (), {}, or [].
func splitTopLevel(text string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '(', '{', '[':
			depth++
		case ')', '}', ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(text[start:i]))
				start = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		parts = append(parts, tail)
	}
	return parts
}

// cutLastAnnotation splits `line` at the final top-level " : " separator.
func cutLastAnnotation(line string) (string, string, bool) {
	depth := 0
	for i := len(line) - 1; i > 0; i-- {
		switch line[i] {
		case ')', '}', ']':
			depth++
		case '(', '{', '[':
			depth--
		case ':':
			if depth == 0 && line[i-1] == ' ' && i+1 < len(line) && line[i+1] == ' ' {
				return strings.TrimSpace(line[:i-1]), strings.TrimSpace(line[i+2:]), true
			}
		}
	}
	return line, "", false
}

// cutLastTopLevel splits at the final occurrence of `sep` not nested inside
// brackets.
func cutLastTopLevel(text string, sep byte) (string, string, bool) {
	depth := 0
	for i := len(text) - 1; i >= 0; i-- {
		switch text[i] {
		case ')', '}', ']':
			depth++
		case '(', '{', '[':
			depth--
		}
		if depth == 0 && text[i] == sep {
			return text[:i], text[i+1:], true
		}
	}
	return text, "", false
}
