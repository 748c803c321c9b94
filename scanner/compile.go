package scanner

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/sansecio/yaracore/ahocorasick"
	"github.com/sansecio/yaracore/ast"
)

// CompileOptions configures compilation behavior.
type CompileOptions struct {
	// SkipInvalidRegex silently skips regexes that are invalid or require
	// a full buffer scan instead of returning an error.
	SkipInvalidRegex bool

	// SkipSubtypes filters out rules whose meta "subtype" field matches
	// any of the given values. Rules without a "subtype" meta, or with an
	// empty one, are never filtered.
	SkipSubtypes []string

	// MaxThreads caps concurrent Rules.Acquire checkouts. 0 (default)
	// means unbounded, matching the original's MAX_THREADS/
	// TOO_MANY_SCAN_THREADS contract but as an opt-in limit instead of a
	// TLS-enforced hard ceiling; see DESIGN.md.
	MaxThreads int32
}

// minAtomLength is the minimum length of atoms extracted from regexes for
// use in the Aho-Corasick matcher. 3 bytes gives 16M possible values
// (256^3), making false positives rare while still allowing generic
// regexes.
const minAtomLength = 3

// compiledString holds everything the scan path needs to verify one
// occurrence of a rule's string once the AC prefilter (or a regex atom)
// has pointed at a candidate offset.
type compiledString struct {
	ruleIndex int
	name      string
	mods      ast.StringModifiers
	wide      bool // this variant is the interleaved-with-zero-bytes form
	re        *reProgram

	// Fast-hex bytecode (component B), split around the Aho-Corasick atom
	// that triggers verification: hexFwd runs forward from the atom's end,
	// hexBwd runs backward (hexBackwards|hexExhaustive, enumerating every
	// valid start) from just before the atom's start. Both are nil when
	// this string is verified via re instead.
	hexFwd     []byte
	hexBwd     []byte
	hexAtomLen int
	hexFlags   hexFlags
}

// patternRef maps an Aho-Corasick pattern index back to the compiled
// string (and, for regex-backed strings, the atom's owning regex) it
// belongs to.
type patternRef struct {
	stringIdx int
	isAtom    bool
}

// compiledRule holds the compiled form of a single rule.
type compiledRule struct {
	name      string
	namespace string
	global    bool
	private   bool
	metas     []Meta
	condition ast.Expr
	strings   []string // names of this rule's strings, in declaration order
}

// Meta is a single rule metadata entry.
type Meta struct {
	Identifier string
	Value      any
}

// Rules holds compiled rules ready for scanning.
type Rules struct {
	rules   []*compiledRule
	byName  map[string]int
	strs    []*compiledString
	matcher *ahocorasick.AhoCorasick
	pattMap []patternRef

	externalVars map[string]externalVar
	threads      *threadLimiter
}

// NumRules returns the number of compiled rules.
func (r *Rules) NumRules() int { return len(r.rules) }

// Stats returns compilation statistics: the number of Aho-Corasick
// patterns registered (literal strings plus regex atoms) and the number
// of strings verified through the general regex executor.
func (r *Rules) Stats() (acPatterns, regexStrings int) {
	regexStrings = 0
	for _, cs := range r.strs {
		if cs.re != nil {
			regexStrings++
		}
	}
	return len(r.pattMap), regexStrings
}

// Compile compiles an AST RuleSet into Rules ready for scanning.
func Compile(rs *ast.RuleSet) (*Rules, error) {
	return CompileWithOptions(rs, CompileOptions{})
}

// CompileWithOptions compiles an AST RuleSet with the given options.
func CompileWithOptions(rs *ast.RuleSet, opts CompileOptions) (*Rules, error) {
	rules := &Rules{byName: make(map[string]int)}
	if opts.MaxThreads > 0 {
		rules.threads = &threadLimiter{max: opts.MaxThreads}
	}

	skip := make(map[string]bool, len(opts.SkipSubtypes))
	for _, t := range opts.SkipSubtypes {
		if t != "" {
			skip[t] = true
		}
	}

	var allPatterns [][]byte
	var errs []error

	for _, r := range rs.Rules {
		if r.Condition == nil {
			continue
		}
		if len(skip) > 0 {
			if subtype := metaValue(r, "subtype"); subtype != "" && skip[subtype] {
				continue
			}
		}

		cr := &compiledRule{
			name:      r.Name,
			namespace: r.Namespace,
			global:    r.Global,
			private:   r.Private,
			condition: r.Condition,
		}
		for _, m := range r.Meta {
			cr.metas = append(cr.metas, Meta{Identifier: m.Key, Value: m.Value})
		}
		ruleIdx := len(rules.rules)
		rules.rules = append(rules.rules, cr)
		rules.byName[namespacedName(r.Namespace, r.Name)] = ruleIdx

		for _, sd := range r.Strings {
			cr.strings = append(cr.strings, sd.Name)
			var err error
			allPatterns, err = compileString(rules, sd, ruleIdx, allPatterns, opts)
			if err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if len(allPatterns) > 0 {
		builder := ahocorasick.NewAhoCorasickBuilder()
		ac := builder.BuildByte(allPatterns)
		rules.matcher = &ac
	}
	return rules, nil
}

// compileString lowers one string definition into either direct
// Aho-Corasick literal patterns (the common, fast path) or a regex
// backing (component C), registering whichever atoms the regex path needs
// for prefiltering.
func compileString(rules *Rules, sd *ast.StringDef, ruleIdx int, allPatterns [][]byte, opts CompileOptions) ([][]byte, error) {
	if hx, ok := sd.Value.(ast.HexString); ok && isSimpleHexString(hx) {
		variants := literalVariants(sd)
		for _, v := range variants {
			cs := &compiledString{ruleIndex: ruleIdx, name: sd.Name, mods: sd.Modifiers, wide: v.wide}
			idx := len(rules.strs)
			rules.strs = append(rules.strs, cs)
			rules.pattMap = append(rules.pattMap, patternRef{stringIdx: idx})
			allPatterns = append(allPatterns, v.bytes)
		}
		return allPatterns, nil
	}

	if _, ok := sd.Value.(ast.TextString); ok && !sd.Modifiers.Nocase {
		variants := literalVariants(sd)
		for _, v := range variants {
			cs := &compiledString{ruleIndex: ruleIdx, name: sd.Name, mods: sd.Modifiers, wide: v.wide}
			idx := len(rules.strs)
			rules.strs = append(rules.strs, cs)
			rules.pattMap = append(rules.pattMap, patternRef{stringIdx: idx})
			allPatterns = append(allPatterns, v.bytes)
		}
		return allPatterns, nil
	}

	if hx, ok := sd.Value.(ast.HexString); ok {
		if atom, atomStart, atomEnd, ok := hexExtractAtom(hx, minAtomLength); ok {
			if fwd, bwd, ok := hexCompileSplit(hx, atomStart, atomEnd); ok {
				var flags hexFlags
				if sd.Modifiers.Nocase {
					flags |= hexNoCase
				}
				if sd.Modifiers.Wide {
					flags |= hexWide
				}
				cs := &compiledString{
					ruleIndex:  ruleIdx,
					name:       sd.Name,
					mods:       sd.Modifiers,
					hexFwd:     fwd,
					hexBwd:     bwd,
					hexAtomLen: len(atom),
					hexFlags:   flags,
				}
				idx := len(rules.strs)
				rules.strs = append(rules.strs, cs)
				rules.pattMap = append(rules.pattMap, patternRef{stringIdx: idx, isAtom: true})
				allPatterns = append(allPatterns, atom)
				return allPatterns, nil
			}
		}
		// No usable fixed byte anywhere in the string (e.g. an all-
		// wildcard/jump pattern): fall through to the regex path, which
		// derives its own atoms from the equivalent regex text.
	}

	pattern, caseInsensitive, err := regexSourceFor(sd)
	if err != nil {
		if opts.SkipInvalidRegex {
			return allPatterns, nil
		}
		return nil, fmt.Errorf("rule string %s: %w", sd.Name, err)
	}

	prog, err := compileRE2(pattern)
	if err != nil {
		if opts.SkipInvalidRegex {
			return allPatterns, nil
		}
		return nil, fmt.Errorf("rule string %s: invalid regex: %w", sd.Name, err)
	}

	atoms, hasAtoms := extractAtoms(pattern, minAtomLength)
	if !hasAtoms {
		if opts.SkipInvalidRegex {
			return allPatterns, nil
		}
		return nil, fmt.Errorf("rule string %s: regex requires full buffer scan", sd.Name)
	}

	if caseInsensitive {
		var variants [][]byte
		for _, atom := range atoms {
			variants = append(variants, caseVariants(atom)...)
		}
		atoms = variants
	}

	cs := &compiledString{ruleIndex: ruleIdx, name: sd.Name, mods: sd.Modifiers, re: prog}
	idx := len(rules.strs)
	rules.strs = append(rules.strs, cs)

	for _, atom := range atoms {
		rules.pattMap = append(rules.pattMap, patternRef{stringIdx: idx, isAtom: true})
		allPatterns = append(allPatterns, atom)
	}
	return allPatterns, nil
}

// caseVariants expands atom into every case-folding of its alphabetic
// bytes, so a case-insensitive regex's Aho-Corasick atom still catches
// every spelling that can appear in the scanned buffer. The atom is
// trimmed to its first few alphabetic bytes first to keep the expansion
// (2^n) from blowing up on long all-letters atoms.
func caseVariants(atom []byte) [][]byte {
	const maxAlpha = 6
	trimmed := atom
	alpha := 0
	for i, b := range atom {
		if isAlpha(b) {
			alpha++
			if alpha > maxAlpha {
				trimmed = atom[:i]
				break
			}
		}
	}
	if len(trimmed) < minAtomLength {
		trimmed = atom
		if len(trimmed) > minAtomLength*2 {
			trimmed = trimmed[:minAtomLength*2]
		}
	}

	variants := [][]byte{append([]byte(nil), trimmed...)}
	for i, b := range trimmed {
		if !isAlpha(b) {
			continue
		}
		flipped := flipCase(b)
		next := make([][]byte, 0, len(variants)*2)
		for _, v := range variants {
			next = append(next, v)
			withFlip := append([]byte(nil), v...)
			withFlip[i] = flipped
			next = append(next, withFlip)
		}
		variants = next
	}
	return variants
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func flipCase(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	if b >= 'A' && b <= 'Z' {
		return b - 'A' + 'a'
	}
	return b
}

type literalVariant struct {
	bytes []byte
	wide  bool
}

// literalVariants expands a literal (text, simple hex, or base64/xor
// modified) string into the concrete byte patterns the Aho-Corasick
// automaton should index, one per ascii/wide/base64-offset/xor-key
// combination requested by its modifiers.
func literalVariants(sd *ast.StringDef) []literalVariant {
	var bases [][]byte
	switch v := sd.Value.(type) {
	case ast.TextString:
		bases = [][]byte{[]byte(v.Value)}
	case ast.HexString:
		bases = [][]byte{hexStringToBytes(v)}
	}

	if sd.Modifiers.Base64 || sd.Modifiers.Base64Wide {
		var out []literalVariant
		for _, b := range bases {
			for _, p := range generateBase64Patterns(b) {
				if sd.Modifiers.Base64Wide {
					p = widen(p)
				}
				out = append(out, literalVariant{bytes: p, wide: sd.Modifiers.Base64Wide})
			}
		}
		return out
	}

	if sd.Modifiers.Xor {
		var out []literalVariant
		for _, b := range bases {
			for _, p := range generateXorPatterns(b) {
				out = append(out, literalVariant{bytes: p})
			}
		}
		return out
	}

	var out []literalVariant
	for _, b := range bases {
		if sd.Modifiers.Ascii || !sd.Modifiers.Wide {
			out = append(out, literalVariant{bytes: b})
		}
		if sd.Modifiers.Wide {
			out = append(out, literalVariant{bytes: widen(b), wide: true})
		}
	}
	return out
}

func widen(b []byte) []byte {
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = c
	}
	return out
}

func generateXorPatterns(data []byte) [][]byte {
	out := make([][]byte, 0, 256)
	for key := 0; key < 256; key++ {
		p := make([]byte, len(data))
		for i, b := range data {
			p[i] = b ^ byte(key)
		}
		out = append(out, p)
	}
	return out
}

func isSimpleHexString(h ast.HexString) bool {
	for _, t := range h.Tokens {
		if _, ok := t.(ast.HexByte); !ok {
			return false
		}
	}
	return true
}

func hexStringToBytes(h ast.HexString) []byte {
	result := make([]byte, 0, len(h.Tokens))
	for _, t := range h.Tokens {
		if b, ok := t.(ast.HexByte); ok {
			result = append(result, b.Value)
		}
	}
	return result
}

// regexSourceFor builds the RE2-Latin1 pattern text backing a string,
// whichever of its three shapes (already-a-regex, complex hex, or a
// nocase literal) drove it down the regex path.
func regexSourceFor(sd *ast.StringDef) (pattern string, caseInsensitive bool, err error) {
	switch v := sd.Value.(type) {
	case ast.RegexString:
		mods := v.Modifiers
		if sd.Modifiers.Nocase {
			mods.CaseInsensitive = true
		}
		return buildRE2Pattern(v.Pattern, mods), mods.CaseInsensitive, nil
	case ast.HexString:
		return "(?s)" + hexStringToRegex(v), false, nil
	case ast.TextString:
		escaped := escapeRE2Literal(v.Value)
		prefix := ""
		if sd.Modifiers.Nocase {
			prefix = "(?i)"
		}
		return prefix + escaped, sd.Modifiers.Nocase, nil
	default:
		return "", false, fmt.Errorf("unsupported string value type")
	}
}

func escapeRE2Literal(s string) string {
	var b strings.Builder
	for _, c := range []byte(s) {
		switch c {
		case '\\', '.', '+', '*', '?', '(', ')', '|', '[', ']', '{', '}', '^', '$':
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

func hexStringToRegex(h ast.HexString) string {
	var sb strings.Builder
	i := 0
	for i < len(h.Tokens) {
		switch t := h.Tokens[i].(type) {
		case ast.HexByte:
			fmt.Fprintf(&sb, "\\x%02x", t.Value)
		case ast.HexWildcard:
			count := 1
			for i+count < len(h.Tokens) {
				if _, ok := h.Tokens[i+count].(ast.HexWildcard); ok {
					count++
				} else {
					break
				}
			}
			if count == 1 {
				sb.WriteByte('.')
			} else {
				fmt.Fprintf(&sb, ".{%d}", count)
			}
			i += count - 1
		case ast.HexJump:
			writeJump(&sb, t)
		case ast.HexAlt:
			writeAlt(&sb, t)
		}
		i++
	}
	return sb.String()
}

func writeJump(sb *strings.Builder, j ast.HexJump) {
	switch {
	case j.Min == nil && j.Max == nil:
		sb.WriteString(".*")
	case j.Min != nil && j.Max != nil && *j.Min == *j.Max:
		fmt.Fprintf(sb, ".{%d}", *j.Min)
	case j.Min != nil && j.Max != nil:
		fmt.Fprintf(sb, ".{%d,%d}", *j.Min, *j.Max)
	case j.Min != nil:
		fmt.Fprintf(sb, ".{%d,}", *j.Min)
	case j.Max != nil:
		fmt.Fprintf(sb, ".{0,%d}", *j.Max)
	}
}

func writeAlt(sb *strings.Builder, a ast.HexAlt) {
	sb.WriteString("(?:")
	for i, item := range a.Alternatives {
		if i > 0 {
			sb.WriteByte('|')
		}
		if item.Wildcard {
			sb.WriteByte('.')
		} else if item.Byte != nil {
			fmt.Fprintf(sb, "\\x%02x", *item.Byte)
		}
	}
	sb.WriteByte(')')
}

func generateBase64Patterns(data []byte) [][]byte {
	// Each offset aligns data differently within base64's 3-byte groups;
	// the padding and number of leading chars to skip depend on the
	// unknown preceding context.
	offsets := [3]struct{ pad, skip int }{{0, 0}, {1, 2}, {2, 3}}
	patterns := make([][]byte, 0, 3)

	for _, o := range offsets {
		padded := append(make([]byte, o.pad), data...)
		enc := base64.StdEncoding.EncodeToString(padded)
		if len(enc) <= o.skip {
			continue
		}
		trimmed := strings.TrimRight(enc[o.skip:], "=")
		if trim := trailingUnstableChars(len(data) + o.pad); trim > 0 && len(trimmed) > trim {
			trimmed = trimmed[:len(trimmed)-trim]
		}
		if len(trimmed) > 0 {
			patterns = append(patterns, []byte(trimmed))
		}
	}
	return patterns
}

func trailingUnstableChars(dataLen int) int {
	switch dataLen % 3 {
	case 1, 2:
		return 1
	default:
		return 0
	}
}

func buildRE2Pattern(pattern string, mods ast.RegexModifiers) string {
	var prefix string
	if mods.CaseInsensitive {
		prefix = "(?i)"
	}
	if mods.DotMatchesAll {
		prefix += "(?s)"
	}
	if mods.Multiline {
		prefix += "(?m)"
	}
	return prefix + fixCommaQuantifiers(pattern)
}

// fixCommaQuantifiers rewrites {,N} to {0,N} because RE2 treats {,N} as
// literal text rather than a quantifier.
func fixCommaQuantifiers(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '\\' && i+1 < len(pattern) {
			b.WriteByte(pattern[i])
			b.WriteByte(pattern[i+1])
			i++
			continue
		}
		if pattern[i] == '{' && i+1 < len(pattern) && pattern[i+1] == ',' {
			b.WriteString("{0")
			continue
		}
		b.WriteByte(pattern[i])
	}
	return b.String()
}

func metaValue(r *ast.Rule, key string) string {
	for _, m := range r.Meta {
		if m.Key == key {
			if s, ok := m.Value.(string); ok {
				return s
			}
			return ""
		}
	}
	return ""
}

func namespacedName(ns, name string) string {
	if ns == "" {
		return name
	}
	return ns + "::" + name
}
