// Package parser turns YARA-dialect rule text into an ast.RuleSet.
package parser

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"

	"github.com/sansecio/yaracore/ast"
)

// Parser parses rule files. It holds no state between calls and is safe
// for concurrent use.
type Parser struct{}

// New creates a Parser.
func New() *Parser {
	return &Parser{}
}

// Parse parses a single rule-file's text into the default ("") namespace.
func (p *Parser) Parse(input string) (*ast.RuleSet, error) {
	return p.ParseNamespace("", input)
}

// ParseNamespace parses input and tags every rule it contains with ns,
// mirroring yr_compiler_add_file's per-file namespace argument in the
// original implementation: rules compiled under different namespaces may
// reuse identifiers without colliding.
func (p *Parser) ParseNamespace(ns, input string) (*ast.RuleSet, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, fmt.Errorf("parser: lex: %w", err)
	}
	s := &tokenStream{toks: toks}
	rs := &ast.RuleSet{}
	for !s.atEOF() {
		if s.atKeyword("import") {
			s.next()
			s.expectType("String")
			s.next()
			continue
		}
		rule, err := parseRule(s, ns)
		if err != nil {
			return nil, err
		}
		rs.Rules = append(rs.Rules, rule)
	}
	return rs, nil
}

// ParseFile reads path and parses it into the default namespace.
func (p *Parser) ParseFile(path string) (*ast.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return p.Parse(string(data))
}

type tokenStream struct {
	toks []lexer.Token
	pos  int
}

func (s *tokenStream) peek() lexer.Token {
	return s.toks[s.pos]
}

func (s *tokenStream) atEOF() bool {
	return s.peek().EOF()
}

func (s *tokenStream) next() lexer.Token {
	t := s.toks[s.pos]
	if s.pos < len(s.toks)-1 {
		s.pos++
	}
	return t
}

func symName(t lexer.Token) string {
	for name, id := range yaraLexer.Symbols() {
		if id == t.Type {
			return name
		}
	}
	return "?"
}

func (s *tokenStream) atType(name string) bool {
	return symName(s.peek()) == name
}

func (s *tokenStream) atValue(v string) bool {
	return s.peek().Value == v
}

// atKeyword matches an Ident token whose literal text equals kw. YARA
// keywords aren't distinguished from identifiers at the lexer level, same
// tradeoff the teacher's lexer made for its string-section identifiers.
func (s *tokenStream) atKeyword(kw string) bool {
	return s.atType("Ident") && s.peek().Value == kw
}

func (s *tokenStream) expectType(name string) lexer.Token {
	if !s.atType(name) {
		panic(parseErr(s.peek(), "expected %s, got %s %q", name, symName(s.peek()), s.peek().Value))
	}
	return s.peek()
}

func (s *tokenStream) expectValue(v string) lexer.Token {
	if !s.atValue(v) {
		panic(parseErr(s.peek(), "expected %q, got %q", v, s.peek().Value))
	}
	return s.next()
}

type parseError struct {
	pos lexer.Position
	msg string
}

func (e *parseError) Error() string {
	return fmt.Sprintf("%s: %s", e.pos, e.msg)
}

func parseErr(t lexer.Token, format string, args ...any) *parseError {
	return &parseError{pos: t.Pos, msg: fmt.Sprintf(format, args...)}
}

// parseRule recovers from parseError panics raised by expectType/expectValue
// so callers get a normal error return, the same shape the teacher's
// yyParse/Error pairing gave callers.
func parseRule(s *tokenStream, ns string) (rule *ast.Rule, err error) {
	defer func() {
		if r := recover(); r != nil {
			if pe, ok := r.(*parseError); ok {
				err = pe
				return
			}
			panic(r)
		}
	}()
	return doParseRule(s, ns), nil
}

func doParseRule(s *tokenStream, ns string) *ast.Rule {
	r := &ast.Rule{Namespace: ns}
	for {
		switch {
		case s.atKeyword("global"):
			s.next()
			r.Global = true
		case s.atKeyword("private"):
			s.next()
			r.Private = true
		default:
			goto header
		}
	}
header:
	if !s.atKeyword("rule") {
		panic(parseErr(s.peek(), "expected 'rule', got %q", s.peek().Value))
	}
	s.next()
	r.Name = s.expectType("Ident").Value
	s.next()

	if s.atValue(":") {
		s.next()
		for s.atType("Ident") && !s.atValue("{") {
			s.next() // tag, not modeled in ast.Rule beyond being consumed
		}
	}

	s.expectValue("{")
	for !s.atValue("}") {
		switch {
		case s.atKeyword("meta"):
			s.next()
			s.expectValue(":")
			r.Meta = append(r.Meta, parseMetaEntries(s)...)
		case s.atKeyword("strings"):
			s.next()
			s.expectValue(":")
			r.Strings = append(r.Strings, parseStringDefs(s)...)
		case s.atKeyword("condition"):
			s.next()
			s.expectValue(":")
			r.Condition = parseExpr(s)
		default:
			panic(parseErr(s.peek(), "unexpected token in rule body: %q", s.peek().Value))
		}
	}
	s.expectValue("}")
	return r
}

func parseMetaEntries(s *tokenStream) []*ast.MetaEntry {
	var out []*ast.MetaEntry
	for s.atType("Ident") && !s.atKeyword("strings") && !s.atKeyword("condition") {
		name := s.next().Value
		s.expectValue("=")
		var val any
		switch {
		case s.atType("String"):
			val = unquote(s.next().Value)
		case s.atKeyword("true"):
			s.next()
			val = true
		case s.atKeyword("false"):
			s.next()
			val = false
		case s.atValue("-"):
			s.next()
			n, _ := strconv.ParseInt(s.expectType("Number").Value, 10, 64)
			val = -n
			s.next()
		default:
			n, _ := strconv.ParseInt(parseIntToken(s), 10, 64)
			val = n
		}
		out = append(out, &ast.MetaEntry{Key: name, Value: val})
	}
	return out
}

func parseStringDefs(s *tokenStream) []*ast.StringDef {
	var out []*ast.StringDef
	for s.atType("StringVar") && !s.atKeyword("condition") {
		name := strings.TrimPrefix(s.next().Value, "$")
		s.expectValue("=")
		def := &ast.StringDef{Name: name}
		switch {
		case s.atType("String"):
			def.Value = ast.TextString{Value: unquote(s.next().Value)}
		case s.atType("RegexLit"):
			def.Value = parseRegexLit(s.next().Value)
		case s.atValue("{"):
			def.Value = parseHexString(s)
		default:
			panic(parseErr(s.peek(), "expected string value, got %q", s.peek().Value))
		}
		for s.atType("Ident") && isStringModifier(s.peek().Value) {
			applyModifier(&def.Modifiers, s.next().Value)
		}
		out = append(out, def)
	}
	return out
}

func isStringModifier(v string) bool {
	switch v {
	case "ascii", "wide", "nocase", "fullword", "private", "xor", "base64", "base64wide":
		return true
	}
	return false
}

func applyModifier(m *ast.StringModifiers, v string) {
	switch v {
	case "ascii":
		m.Ascii = true
	case "wide":
		m.Wide = true
	case "nocase":
		m.Nocase = true
	case "fullword":
		m.Fullword = true
	case "private":
		m.Private = true
	case "xor":
		m.Xor = true
	case "base64":
		m.Base64 = true
	case "base64wide":
		m.Base64Wide = true
	}
}

func parseRegexLit(raw string) ast.RegexString {
	last := strings.LastIndexByte(raw, '/')
	body, flags := raw[1:last], raw[last+1:]
	rs := ast.RegexString{Pattern: body}
	for _, f := range flags {
		switch f {
		case 'i':
			rs.Modifiers.CaseInsensitive = true
		case 's':
			rs.Modifiers.DotMatchesAll = true
		case 'm':
			rs.Modifiers.Multiline = true
		}
	}
	return rs
}

func parseHexString(s *tokenStream) ast.HexString {
	s.expectValue("{")
	var toks []ast.HexToken
	for !s.atValue("}") {
		switch {
		case s.atType("HexByte"):
			v, _ := strconv.ParseUint(s.next().Value, 16, 8)
			toks = append(toks, ast.HexByte{Value: byte(v)})
		case s.atType("Wildcard"):
			s.next()
			toks = append(toks, ast.HexWildcard{})
		case s.atValue("["):
			toks = append(toks, parseHexJump(s))
		case s.atValue("("):
			toks = append(toks, parseHexAlt(s))
		default:
			panic(parseErr(s.peek(), "unexpected token in hex string: %q", s.peek().Value))
		}
	}
	s.expectValue("}")
	return ast.HexString{Tokens: toks}
}

func parseHexJump(s *tokenStream) ast.HexJump {
	s.expectValue("[")
	j := ast.HexJump{}
	if s.atType("Number") {
		n, _ := strconv.Atoi(s.next().Value)
		j.Min = &n
		j.Max = &n
	}
	if s.atValue("-") {
		s.next()
		j.Max = nil
		if s.atType("Number") {
			n, _ := strconv.Atoi(s.next().Value)
			j.Max = &n
		}
	}
	s.expectValue("]")
	return j
}

func parseHexAlt(s *tokenStream) ast.HexAlt {
	s.expectValue("(")
	alt := ast.HexAlt{}
	for {
		item := ast.HexAltItem{}
		if s.atType("Wildcard") {
			s.next()
			item.Wildcard = true
		} else {
			v, _ := strconv.ParseUint(s.expectType("HexByte").Value, 16, 8)
			s.next()
			b := byte(v)
			item.Byte = &b
		}
		alt.Alternatives = append(alt.Alternatives, item)
		if s.atValue("|") {
			s.next()
			continue
		}
		break
	}
	s.expectValue(")")
	return alt
}

func unquote(raw string) string {
	inner := raw[1 : len(raw)-1]
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) {
			i++
			switch inner[i] {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(inner[i])
			}
			continue
		}
		b.WriteByte(inner[i])
	}
	return b.String()
}

func parseIntToken(s *tokenStream) string {
	switch {
	case s.atType("HexNumber"):
		v, _ := strconv.ParseInt(s.peek().Value[2:], 16, 64)
		s.next()
		return strconv.FormatInt(v, 10)
	default:
		tok := s.expectType("Number")
		s.next()
		return strings.TrimSuffix(strings.TrimSuffix(tok.Value, "KB"), "MB")
	}
}
