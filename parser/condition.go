package parser

import (
	"strconv"
	"strings"

	"github.com/sansecio/yaracore/ast"
)

// The condition grammar below is plain recursive descent with one
// precedence level per function, the same shape yacc would have generated
// from a precedence-annotated grammar but written out by hand since the
// goyacc-generated table the teacher depended on isn't part of this
// build.
//
//	expr    := orExpr
//	orExpr  := andExpr ("or" andExpr)*
//	andExpr := notExpr ("and" notExpr)*
//	notExpr := "not" notExpr | cmpExpr
//	cmpExpr := atom (("=="|"!="|"<"|"<="|">"|">=") atom)?
func parseExpr(s *tokenStream) ast.Expr {
	return parseOr(s)
}

func parseOr(s *tokenStream) ast.Expr {
	left := parseAnd(s)
	for s.atKeyword("or") {
		s.next()
		right := parseAnd(s)
		left = ast.BinaryExpr{Op: "or", Left: left, Right: right}
	}
	return left
}

func parseAnd(s *tokenStream) ast.Expr {
	left := parseNot(s)
	for s.atKeyword("and") {
		s.next()
		right := parseNot(s)
		left = ast.BinaryExpr{Op: "and", Left: left, Right: right}
	}
	return left
}

func parseNot(s *tokenStream) ast.Expr {
	if s.atKeyword("not") {
		s.next()
		return ast.NotExpr{Inner: parseNot(s)}
	}
	return parseCmp(s)
}

var cmpOps = map[string]string{
	"==": "==", "!=": "!=", "<": "<", "<=": "<=", ">": ">", ">=": ">=",
}

func parseCmp(s *tokenStream) ast.Expr {
	left := parseAtExpr(s)
	if op, ok := cmpOps[cmpTokenValue(s)]; ok {
		s.next()
		right := parseAtExpr(s)
		return ast.BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left
}

// cmpTokenValue normalizes the comparator tokens, which the lexer splits
// into distinct types (Eq/NotEq/Le/Ge/Lt/Gt) rather than one generic
// "operator" token.
func cmpTokenValue(s *tokenStream) string {
	switch symName(s.peek()) {
	case "Eq", "NotEq", "Le", "Ge", "Lt", "Gt":
		return s.peek().Value
	}
	return ""
}

func parseAtExpr(s *tokenStream) ast.Expr {
	left := parseAtom(s)
	if s.atKeyword("at") {
		s.next()
		ref, ok := left.(ast.StringRef)
		if !ok {
			panic(parseErr(s.peek(), "'at' requires a string reference on the left"))
		}
		pos := parseAtom(s)
		return ast.AtExpr{Ref: ref, Pos: pos}
	}
	return left
}

func parseAtom(s *tokenStream) ast.Expr {
	switch {
	case s.atValue("("):
		s.next()
		inner := parseExpr(s)
		s.expectValue(")")
		return ast.ParenExpr{Inner: inner}

	case s.atKeyword("true"):
		s.next()
		return ast.IntLit{Value: 1}

	case s.atKeyword("false"):
		s.next()
		return ast.IntLit{Value: 0}

	case s.atKeyword("filesize"), s.atKeyword("entrypoint"):
		name := s.next().Value
		return ast.Ident{Name: name}

	case s.atKeyword("any"), s.atKeyword("all"):
		kind := s.next().Value
		if !s.atKeyword("of") {
			panic(parseErr(s.peek(), "expected 'of' after %q", kind))
		}
		s.next()
		pattern := parseOfPattern(s)
		if kind == "any" {
			return ast.AnyOf{Pattern: pattern}
		}
		return ast.AllOf{Pattern: pattern}

	case s.atType("Number") && peekIsPercentOf(s):
		n := s.next().Value
		s.expectValue("%")
		if !s.atKeyword("of") {
			panic(parseErr(s.peek(), "expected 'of' after percentage"))
		}
		s.next()
		pattern := parseOfPattern(s)
		val, _ := strconv.ParseInt(n, 10, 64)
		return ast.OfExpr{Quantity: ast.IntLit{Value: val}, Percentage: true, Pattern: pattern}

	case s.atType("Number") && peekIsNumberOf(s):
		n := parseIntToken(s)
		if !s.atKeyword("of") {
			panic(parseErr(s.peek(), "expected 'of' after quantity"))
		}
		s.next()
		pattern := parseOfPattern(s)
		val, _ := strconv.ParseInt(n, 10, 64)
		return ast.OfExpr{Quantity: ast.IntLit{Value: val}, Pattern: pattern}

	case s.atType("Number"), s.atType("HexNumber"):
		n := parseIntToken(s)
		val, _ := strconv.ParseInt(n, 10, 64)
		return ast.IntLit{Value: val}

	case s.atType("StringVar"):
		name := strings.TrimPrefix(s.next().Value, "$")
		return ast.StringRef{Name: name}

	case s.atType("CountVar"):
		name := strings.TrimPrefix(s.next().Value, "#")
		return ast.CountExpr{Name: name}

	case s.atType("OffsetVar"):
		name := strings.TrimPrefix(s.next().Value, "@")
		var idx ast.Expr
		if s.atValue("[") {
			s.next()
			idx = parseExpr(s)
			s.expectValue("]")
		}
		return ast.OffsetExpr{Name: name, Index: idx}

	case s.atType("LengthVar"):
		name := strings.TrimPrefix(s.next().Value, "!")
		var idx ast.Expr
		if s.atValue("[") {
			s.next()
			idx = parseExpr(s)
			s.expectValue("]")
		}
		return ast.LengthExpr{Name: name, Index: idx}

	case s.atType("Ident"):
		name := s.next().Value
		if s.atValue("(") {
			s.next()
			var args []ast.Expr
			for !s.atValue(")") {
				args = append(args, parseExpr(s))
				if s.atValue(",") {
					s.next()
				}
			}
			s.expectValue(")")
			return ast.FuncCall{Name: name, Args: args}
		}
		return ast.Ident{Name: name}

	default:
		panic(parseErr(s.peek(), "unexpected token in condition: %q", s.peek().Value))
	}
}

// parseOfPattern reads the set reference after "of": "them", a bare
// wildcard group like ($a*), or a parenthesized list of string refs. Each
// captured token has its leading "$" stripped, matching the unprefixed
// names StringDef.Name/StringRef.Name use elsewhere, so matchingStringNames
// in condeval.go can compare them directly against a rule's string list.
func parseOfPattern(s *tokenStream) string {
	if s.atKeyword("them") {
		s.next()
		return "them"
	}
	if s.atValue("(") {
		s.next()
		var parts []string
		for !s.atValue(")") {
			if s.atType("StringVar") {
				parts = append(parts, strings.TrimPrefix(s.next().Value, "$"))
			} else {
				s.next()
			}
			if s.atValue(",") {
				s.next()
			}
		}
		s.expectValue(")")
		return strings.Join(parts, ",")
	}
	if s.atType("StringVar") {
		return strings.TrimPrefix(s.next().Value, "$")
	}
	panic(parseErr(s.peek(), "expected string set after 'of'"))
}

func peekIsNumberOf(s *tokenStream) bool {
	return lookaheadKeyword(s, 1, "of")
}

func peekIsPercentOf(s *tokenStream) bool {
	return lookaheadValue(s, 1, "%")
}

func lookaheadKeyword(s *tokenStream, n int, kw string) bool {
	idx := s.pos + n
	if idx >= len(s.toks) {
		return false
	}
	t := s.toks[idx]
	return symName(t) == "Ident" && t.Value == kw
}

func lookaheadValue(s *tokenStream, n int, v string) bool {
	idx := s.pos + n
	if idx >= len(s.toks) {
		return false
	}
	return s.toks[idx].Value == v
}
