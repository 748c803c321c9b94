// Package ahocorasick builds a multi-pattern Aho-Corasick automaton over a
// rule set's literal strings and regex/hex atoms, the prefilter stage
// (component F's first pass) that narrows a scan buffer down to candidate
// offsets before the scanner's own per-string verifiers re-check each one.
package ahocorasick

import "unsafe"

// unsafeBytes views a Go string as its underlying bytes without copying,
// since pattern text handed in by the scanner (rule strings, extracted
// regex/hex atoms) is immutable for the lifetime of the build.
func unsafeBytes(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// stateID indexes into an automaton's state table. 0 and 1 are reserved
// sentinels (below) so every real state starts at 2.
type stateID uint32

const (
	// failedStateID marks "no transition recorded yet"; NextStateNoFail
	// never returns it to a caller, since every state's failure link
	// eventually resolves through the root.
	failedStateID stateID = 0
	// deadStateID is a permanent sink: once entered (only possible for an
	// anchored automaton whose prefix stopped matching), every further
	// byte stays there.
	deadStateID stateID = 1
)

// AhoCorasick is a built automaton ready to drive byte-at-a-time via Start/
// Step/CandidatesAt (see step.go), the API the incremental scan loop
// (scanner/acscan.go) actually walks.
type AhoCorasick struct {
	i *iNFA
}

// AhoCorasickBuilder configures and builds an AhoCorasick from a rule set's
// compiled patterns.
type AhoCorasickBuilder struct {
	nfaBuilder *iNFABuilder
}

// NewAhoCorasickBuilder creates a builder with the defaults compile.go
// relies on: a dense/sparse transition split at depth 3 and an
// unanchored (can-match-anywhere) automaton, matching how rule strings are
// scanned within an arbitrary buffer rather than only at its start.
func NewAhoCorasickBuilder() AhoCorasickBuilder {
	return AhoCorasickBuilder{
		nfaBuilder: newNFABuilder(),
	}
}

// Build builds an automaton from string patterns, for callers (tests,
// mostly) that have patterns as text rather than already-extracted bytes.
func (a AhoCorasickBuilder) Build(patterns []string) AhoCorasick {
	bytePatterns := make([][]byte, len(patterns))
	for pati, pat := range patterns {
		bytePatterns[pati] = unsafeBytes(pat)
	}
	return a.BuildByte(bytePatterns)
}

// BuildByte builds an automaton from byte-slice patterns: the path
// compile.go uses, since rule strings and extracted atoms are already
// []byte by the time a Rules value is assembled.
func (a AhoCorasickBuilder) BuildByte(patterns [][]byte) AhoCorasick {
	nfa := a.nfaBuilder.build(patterns)
	return AhoCorasick{nfa}
}
