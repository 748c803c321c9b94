package scanner

import (
	"fmt"
	"strings"

	"github.com/sansecio/yaracore/ast"
)

// evalContext carries everything a condition expression might reference:
// this rule's own matches, the global external variables, and the two
// scan-wide identifiers (filesize, entrypoint).
type evalContext struct {
	rule      *compiledRule
	store     *matchStore
	bufBase   int // store.sourceBuf[0] corresponds to this absolute offset
	filesize  int64
	entryOff  int64
	entrySet  bool
	externals map[string]externalVar
}

// evalExpr evaluates cond as a boolean. Numeric sub-results are coerced
// the way YARA's own condition language does: integers are truthy when
// non-zero. A string-valued external variable used as a value is an
// error.
func evalExpr(ctx *evalContext, cond ast.Expr) (bool, error) {
	switch e := cond.(type) {
	case nil:
		return true, nil

	case ast.ParenExpr:
		return evalExpr(ctx, e.Inner)

	case ast.NotExpr:
		v, err := evalExpr(ctx, e.Inner)
		if err != nil {
			return false, err
		}
		return !v, nil

	case ast.BinaryExpr:
		return evalBinaryExpr(ctx, e)

	case ast.StringRef:
		return ctx.store.Count(e.Name) > 0, nil

	case ast.AtExpr:
		return evalAtExpr(ctx, e)

	case ast.AnyOf:
		return evalOfExpr(ctx, ast.OfExpr{Pattern: e.Pattern})

	case ast.AllOf:
		names := matchingStringNames(ctx.rule, e.Pattern)
		return evalAllOf(ctx, names)

	case ast.OfExpr:
		return evalOfExpr(ctx, e)

	case ast.IntLit:
		return e.Value != 0, nil

	default:
		v, err := evalExprInt(ctx, cond)
		if err != nil {
			return false, err
		}
		return v != 0, nil
	}
}

// evalExprInt evaluates cond as an integer, for the arithmetic-ish nodes
// (counts, offsets, lengths, function calls, filesize/entrypoint).
func evalExprInt(ctx *evalContext, cond ast.Expr) (int64, error) {
	switch e := cond.(type) {
	case ast.IntLit:
		return e.Value, nil

	case ast.CountExpr:
		return int64(ctx.store.Count(e.Name)), nil

	case ast.OffsetExpr:
		return evalIndexedMatch(ctx, e.Name, e.Index, func(m Match) int64 { return int64(m.Offset) })

	case ast.LengthExpr:
		return evalIndexedMatch(ctx, e.Name, e.Index, func(m Match) int64 { return int64(m.Length) })

	case ast.FuncCall:
		return evalFuncCall(ctx, e)

	case ast.Ident:
		switch e.Name {
		case "filesize":
			return ctx.filesize, nil
		case "entrypoint":
			if !ctx.entrySet {
				return 0, fmt.Errorf("scanner: entrypoint is undefined for this scan")
			}
			return ctx.entryOff, nil
		}
		if v, ok := ctx.externals[e.Name]; ok {
			return v.intValue()
		}
		return 0, fmt.Errorf("scanner: undefined identifier %q", e.Name)

	case ast.ParenExpr:
		return evalExprInt(ctx, e.Inner)

	case ast.BinaryExpr:
		b, err := evalBinaryExpr(ctx, e)
		if err != nil {
			return 0, err
		}
		if b {
			return 1, nil
		}
		return 0, nil

	default:
		return 0, fmt.Errorf("scanner: cannot evaluate %T as an integer", cond)
	}
}

func evalIndexedMatch(ctx *evalContext, name string, index ast.Expr, get func(Match) int64) (int64, error) {
	i := 1
	if index != nil {
		n, err := evalExprInt(ctx, index)
		if err != nil {
			return 0, err
		}
		i = int(n)
	}
	matches := ctx.store.Matches(name)
	if i < 1 || i > len(matches) {
		return 0, fmt.Errorf("scanner: %s has no match at index %d", name, i)
	}
	return get(matches[i-1]), nil
}

func evalAtExpr(ctx *evalContext, e ast.AtExpr) (bool, error) {
	pos, err := evalExprInt(ctx, e.Pos)
	if err != nil {
		return false, err
	}
	for _, m := range ctx.store.Matches(e.Ref.Name) {
		if int64(m.Offset) == pos {
			return true, nil
		}
	}
	return false, nil
}

func evalFuncCall(ctx *evalContext, f ast.FuncCall) (int64, error) {
	if len(f.Args) != 1 {
		return 0, fmt.Errorf("scanner: %s takes exactly one argument", f.Name)
	}
	offI, err := evalExprInt(ctx, f.Args[0])
	if err != nil {
		return 0, err
	}
	off := int(offI)

	data := ctx.store.sourceBuf
	local := off - ctx.bufBase
	read := func(n int) ([]byte, error) {
		if local < 0 || local+n > len(data) {
			return nil, fmt.Errorf("scanner: %s(%d) out of range", f.Name, off)
		}
		return data[local : local+n], nil
	}

	switch f.Name {
	case "uint8":
		b, err := read(1)
		if err != nil {
			return 0, err
		}
		return int64(b[0]), nil
	case "uint16":
		b, err := read(2)
		if err != nil {
			return 0, err
		}
		return int64(uint16(b[0]) | uint16(b[1])<<8), nil
	case "uint16be":
		b, err := read(2)
		if err != nil {
			return 0, err
		}
		return int64(uint16(b[1]) | uint16(b[0])<<8), nil
	case "uint32":
		b, err := read(4)
		if err != nil {
			return 0, err
		}
		return int64(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24), nil
	case "uint32be":
		b, err := read(4)
		if err != nil {
			return 0, err
		}
		return int64(uint32(b[3]) | uint32(b[2])<<8 | uint32(b[1])<<16 | uint32(b[0])<<24), nil
	default:
		return 0, fmt.Errorf("scanner: unknown function %s", f.Name)
	}
}

func evalBinaryExpr(ctx *evalContext, e ast.BinaryExpr) (bool, error) {
	switch e.Op {
	case "and":
		l, err := evalExpr(ctx, e.Left)
		if err != nil || !l {
			return false, err
		}
		return evalExpr(ctx, e.Right)

	case "or":
		l, err := evalExpr(ctx, e.Left)
		if err != nil {
			return false, err
		}
		if l {
			return true, nil
		}
		return evalExpr(ctx, e.Right)

	case "==", "!=", "<", "<=", ">", ">=":
		l, err := evalExprInt(ctx, e.Left)
		if err != nil {
			return false, err
		}
		r, err := evalExprInt(ctx, e.Right)
		if err != nil {
			return false, err
		}
		switch e.Op {
		case "==":
			return l == r, nil
		case "!=":
			return l != r, nil
		case "<":
			return l < r, nil
		case "<=":
			return l <= r, nil
		case ">":
			return l > r, nil
		default:
			return l >= r, nil
		}

	default:
		return false, fmt.Errorf("scanner: unknown operator %q", e.Op)
	}
}

// evalOfExpr evaluates "N of (pattern)", "any of (pattern)" (Quantity
// nil), and "P% of (pattern)".
func evalOfExpr(ctx *evalContext, e ast.OfExpr) (bool, error) {
	names := matchingStringNames(ctx.rule, e.Pattern)
	if len(names) == 0 {
		return false, fmt.Errorf("scanner: %q matches no strings", e.Pattern)
	}

	need := 1
	if e.Quantity != nil {
		n, err := evalExprInt(ctx, e.Quantity)
		if err != nil {
			return false, err
		}
		if e.Percentage {
			need = (int(n)*len(names) + 99) / 100
		} else {
			need = int(n)
		}
	}

	have := 0
	for _, name := range names {
		if ctx.store.Count(name) > 0 {
			have++
		}
	}
	return have >= need, nil
}

func evalAllOf(ctx *evalContext, names []string) (bool, error) {
	if len(names) == 0 {
		return false, fmt.Errorf("scanner: \"all of\" matches no strings")
	}
	for _, name := range names {
		if ctx.store.Count(name) == 0 {
			return false, nil
		}
	}
	return true, nil
}

// matchingStringNames expands a string-set pattern ("them", "a*", or a
// parenthesized explicit list already flattened by the parser into a
// comma-joined string such as "a,b*,c") into this rule's own string names,
// preserving rule.strings order and de-duplicating names matched by more
// than one part of the list.
func matchingStringNames(rule *compiledRule, pattern string) []string {
	if pattern == "them" {
		return rule.strings
	}

	parts := strings.Split(pattern, ",")
	var out []string
	seen := make(map[string]bool)
	for _, name := range rule.strings {
		for _, part := range parts {
			matched := false
			if len(part) > 0 && part[len(part)-1] == '*' {
				prefix := part[:len(part)-1]
				matched = len(name) >= len(prefix) && name[:len(prefix)] == prefix
			} else {
				matched = name == part
			}
			if matched && !seen[name] {
				out = append(out, name)
				seen[name] = true
				break
			}
		}
	}
	return out
}
