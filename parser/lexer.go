package parser

import (
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/alecthomas/participle/v2/lexer/stateful"
)

// The teacher's hand-rolled lexer kept an explicit mode stack (root, rule
// body, string value, hex string, condition) because its goyacc grammar
// needed the token shape to vary by where in a rule the cursor sat. Of
// those, only one distinction is actually lexically ambiguous without
// grammar context: a bare "/" opening a regex string. This lexer has a
// single state and matches a whole regex literal as one RegexLit token,
// after the comment rules. Hex-string and condition tokens are flat
// punctuation and identifier tokens; the recursive-descent parser tells
// them apart by where it is in the grammar.
var yaraLexer = stateful.MustSimple([]stateful.Rule{
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "BlockComment", Pattern: `/\*[\s\S]*?\*/`},
	{Name: "LineComment", Pattern: `//[^\n]*`},
	{Name: "RegexLit", Pattern: `/(?:\\.|[^/\\\n])+/[a-zA-Z]*`},
	{Name: "String", Pattern: `"(?:\\.|[^"\\])*"`},
	{Name: "StringVar", Pattern: `\$[A-Za-z_][A-Za-z0-9_]*\*|\$[A-Za-z_][A-Za-z0-9_]*|\$\*|\$`},
	{Name: "CountVar", Pattern: `#[A-Za-z_][A-Za-z0-9_]*\*|#[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "OffsetVar", Pattern: `@[A-Za-z_][A-Za-z0-9_]*\*|@[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "NotEq", Pattern: `!=`},
	{Name: "LengthVar", Pattern: `![A-Za-z_][A-Za-z0-9_]*\*|![A-Za-z_][A-Za-z0-9_]*`},
	{Name: "HexNumber", Pattern: `0x[0-9a-fA-F]+`},
	{Name: "Number", Pattern: `[0-9]+(?:KB|MB)?`},
	{Name: "Wildcard", Pattern: `\?\?|\?[0-9a-fA-F]|[0-9a-fA-F]\?`},
	{Name: "HexByte", Pattern: `[0-9a-fA-F]{2}`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Eq", Pattern: `==`},
	{Name: "Le", Pattern: `<=`},
	{Name: "Ge", Pattern: `>=`},
	{Name: "Lt", Pattern: `<`},
	{Name: "Gt", Pattern: `>`},
	{Name: "Punct", Pattern: `[{}()\[\]|:,;=+\-*.~%]`},
})

// lex tokenizes input, dropping whitespace and comments, into a flat
// random-access slice the recursive-descent parser below steps through.
func lex(input string) ([]lexer.Token, error) {
	l, err := yaraLexer.Lex("", strings.NewReader(input))
	if err != nil {
		return nil, err
	}
	var toks []lexer.Token
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, err
		}
		if tok.EOF() {
			toks = append(toks, tok)
			return toks, nil
		}
		switch tok.Type {
		case yaraLexer.Symbols()["Whitespace"], yaraLexer.Symbols()["BlockComment"], yaraLexer.Symbols()["LineComment"]:
			continue
		}
		toks = append(toks, tok)
	}
}
