package scanner

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync/atomic"
)

func init() {
	// Meta.Value holds whichever of these concrete types a rule's meta
	// entry parsed as; gob requires every concrete type that can flow
	// through an interface{} field to be registered up front.
	gob.Register("")
	gob.Register(int64(0))
	gob.Register(false)
}

// externalVarKind tags what an externalVar actually holds. The original
// C implementation reuses an untagged union slot for integers and
// booleans; per the tightened Open Question decision, this keeps a
// type tag instead so later introspection can tell the two apart.
type externalVarKind uint8

const (
	varInt externalVarKind = iota
	varBool
	varString
)

type externalVar struct {
	kind   externalVarKind
	intVal int64
	strVal string
}

func (v externalVar) intValue() (int64, error) {
	switch v.kind {
	case varInt, varBool:
		return v.intVal, nil
	default:
		return 0, fmt.Errorf("scanner: external variable is a string, not a number")
	}
}

// DefineInt defines or updates an integer external variable.
func (r *Rules) DefineInt(name string, value int64) {
	r.defineExternal(name, externalVar{kind: varInt, intVal: value})
}

// DefineBool defines or updates a boolean external variable.
func (r *Rules) DefineBool(name string, value bool) {
	v := int64(0)
	if value {
		v = 1
	}
	r.defineExternal(name, externalVar{kind: varBool, intVal: v})
}

// DefineString defines or updates a string external variable.
func (r *Rules) DefineString(name, value string) {
	r.defineExternal(name, externalVar{kind: varString, strVal: value})
}

func (r *Rules) defineExternal(name string, v externalVar) {
	if r.externalVars == nil {
		r.externalVars = make(map[string]externalVar)
	}
	r.externalVars[name] = v
}

// gobRuleMeta is the exported mirror of compiledRule's bookkeeping fields:
// gob only transmits exported fields, so compiledRule itself (all lowercase)
// would silently serialize as empty structs.
type gobRuleMeta struct {
	Name      string
	Namespace string
	Global    bool
	Private   bool
	Metas     []Meta
	Strings   []string
}

// gobExternalVar is the exported mirror of externalVar, for the same
// reason gobRuleMeta mirrors compiledRule.
type gobExternalVar struct {
	Kind   externalVarKind
	IntVal int64
	StrVal string
}

// gobRules is the serializable projection of Rules: rule bookkeeping
// (names, namespaces, meta, global/private flags, external variables) good
// enough for listing and introspection tools. It is deliberately NOT a
// ready-to-scan snapshot: the compiled Aho-Corasick matcher, the per-string
// regex/hex programs, and each rule's condition tree are not serialized, so
// LoadMeta cannot reconstruct a Rules capable of ScanMem/ScanFile - the
// original's yr_rules_save/yr_rules_load round-trip a fully compiled arena
// including its condition bytecode, which spec.md's Open Question on save
// format explicitly leaves unfixed ("this spec does not fix the byte
// layout"). Callers that need a scan-ready Rules after a restart recompile
// from rule source; Save/LoadMeta here cover the introspection use case only.
type gobRules struct {
	Rules        []gobRuleMeta
	ByName       map[string]int
	ExternalVars map[string]gobExternalVar
}

// Save serializes the rule bookkeeping described on gobRules using gob.
func (r *Rules) Save() ([]byte, error) {
	g := gobRules{ByName: r.byName}
	for _, cr := range r.rules {
		g.Rules = append(g.Rules, gobRuleMeta{
			Name: cr.name, Namespace: cr.namespace,
			Global: cr.global, Private: cr.private,
			Metas: cr.metas, Strings: cr.strings,
		})
	}
	if len(r.externalVars) > 0 {
		g.ExternalVars = make(map[string]gobExternalVar, len(r.externalVars))
		for name, v := range r.externalVars {
			g.ExternalVars[name] = gobExternalVar{Kind: v.kind, IntVal: v.intVal, StrVal: v.strVal}
		}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&g); err != nil {
		return nil, fmt.Errorf("scanner: save rules: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadMeta decodes rule bookkeeping previously written by Save, for
// introspection tools that list rule names/namespaces/metadata without
// needing a scan-ready Rules.
func LoadMeta(data []byte) (*gobRules, error) {
	var g gobRules
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return nil, fmt.Errorf("scanner: load rules: %w", err)
	}
	return &g, nil
}

// threadLimiter enforces CompileOptions.MaxThreads: it caps the number of
// *ScanState values that may be concurrently checked out via Acquire, mirroring MAX_THREADS/
// TOO_MANY_SCAN_THREADS from the original implementation as an opt-in
// limit rather than a TLS-backed hard ceiling (see incremental.go).
type threadLimiter struct {
	max   int32
	inUse int32
}

// ErrTooManyScanThreads is returned by Acquire when MaxThreads is set
// and already at capacity.
var ErrTooManyScanThreads = fmt.Errorf("scanner: too many concurrent scan threads")

// Acquire checks out a scan slot, enforcing CompileOptions.MaxThreads if
// one was set at compile time. Release the slot by calling the returned
// func once the scan finishes.
func (r *Rules) Acquire() (release func(), err error) {
	if r.threads == nil || r.threads.max == 0 {
		return func() {}, nil
	}
	if atomic.AddInt32(&r.threads.inUse, 1) > r.threads.max {
		atomic.AddInt32(&r.threads.inUse, -1)
		return nil, ErrTooManyScanThreads
	}
	return func() { atomic.AddInt32(&r.threads.inUse, -1) }, nil
}
