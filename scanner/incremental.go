package scanner

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ScanFlags controls scanning behavior.
type ScanFlags int

const (
	// ScanFlagsReportPrivate includes private rules' matches in callback
	// notifications. Off by default, matching the original's
	// RULE_IS_PRIVATE contract: a private rule is evaluated like any other
	// (a private global rule still gates its namespace), but is not itself
	// reported. Conditions cannot refer to other rules by name.
	ScanFlagsReportPrivate ScanFlags = 1 << iota
)

// ScanCallback is the interface for receiving match notifications.
type ScanCallback interface {
	RuleMatching(r *MatchRule) (abort bool, err error)
}

// MatchString represents one matched occurrence of a string.
type MatchString struct {
	Name   string
	Offset int
	Data   []byte
}

// MatchRule represents a rule that matched during scanning.
type MatchRule struct {
	Rule      string
	Namespace string
	Metas     []Meta
	Strings   []MatchString
}

// Meta returns the value of the meta field with the given identifier, or nil.
func (m *MatchRule) Meta(identifier string) any {
	for _, meta := range m.Metas {
		if meta.Identifier == identifier {
			return meta.Value
		}
	}
	return nil
}

// MetaString returns the string value of the meta field, or defValue if missing or not a string.
func (m *MatchRule) MetaString(identifier, defValue string) string {
	if val, ok := m.Meta(identifier).(string); ok {
		return val
	}
	return defValue
}

// MatchRules collects matching rules and implements ScanCallback.
type MatchRules []MatchRule

// RuleMatching implements ScanCallback, collecting all matching rules.
func (m *MatchRules) RuleMatching(r *MatchRule) (abort bool, err error) {
	*m = append(*m, *r)
	return false, nil
}

// ErrTimeout is returned when a scan's deadline passes before the buffer
// is fully consumed.
var ErrTimeout = errors.New("scanner: scan timed out")

// maxMatchLen bounds how far back from a candidate position
// verifyRegexAtom starts searching for the regex path's true match span.
const maxMatchLen = 4096

// ScanState is a scan's mutable working set: the per-string match lists
// built up as blocks arrive, plus the running absolute offset. Each
// concurrent scan owns its own ScanState explicitly (see Rules.Acquire)
// instead of indexing into per-thread global storage the way the
// original's TLS-based tidx scheme does.
type ScanState struct {
	rules    *Rules
	store    *matchStore
	base     int
	filesize int64
	entryOff int64
	entrySet bool
	timeout  time.Time
	hasDline bool
	release  func()

	// fullBuf accumulates contiguous block bytes so uint8/uint16/uint32
	// condition functions (condeval.go) can index into them at Finish
	// time. It is only kept while every block handed to AddBlockWithBase
	// has continued exactly where the last one left off; a caller that
	// scans disjoint regions (e.g. ScanProc) falls out of this fast path:
	// fullBuf is dropped and those functions have no bytes to read for the
	// rest of the scan.
	fullBuf     []byte
	fullBufBase int
	fullBufOK   bool
}

// Init begins an incremental scan against r. timeout of 0 means no
// deadline.
func (r *Rules) Init(timeout time.Duration) (*ScanState, error) {
	release, err := r.Acquire()
	if err != nil {
		return nil, err
	}
	st := &ScanState{rules: r, store: newMatchStore(), release: release, fullBufOK: true}
	if timeout > 0 {
		st.timeout = time.Now().Add(timeout)
		st.hasDline = true
	}
	return st, nil
}

// SetEntrypoint records the entrypoint offset the "entrypoint" condition
// identifier resolves to. Scans that never call this leave "entrypoint"
// undefined, matching the original's PE/ELF-module-supplied contract
// (entrypoint detection itself is out of scope; see spec.md Non-goals).
func (s *ScanState) SetEntrypoint(offset int64) {
	s.entryOff = offset
	s.entrySet = true
}

// AddBlock feeds the next contiguous block of the scanned input,
// continuing from wherever the previous block left off.
func (s *ScanState) AddBlock(buf []byte) error {
	return s.AddBlockWithBase(s.base, buf)
}

// AddBlockWithBase feeds a block whose first byte is at absolute offset
// base, for callers (e.g. ScanProc) that scan disjoint regions rather
// than one contiguous stream.
func (s *ScanState) AddBlockWithBase(base int, buf []byte) (err error) {
	if s.fullBufOK {
		if len(s.fullBuf) == 0 {
			s.fullBufBase = base
			s.fullBuf = append(s.fullBuf, buf...)
		} else if base == s.fullBufBase+len(s.fullBuf) {
			s.fullBuf = append(s.fullBuf, buf...)
		} else {
			s.fullBufOK = false
			s.fullBuf = nil
		}
	}

	s.base = base + len(buf)
	s.filesize += int64(len(buf))

	// A panic raised while verifying or recording candidates (such as an
	// oversized allocation in the match store's insert path) is reported
	// as a hard scan error instead of propagating. The Go runtime's own
	// out-of-memory failure is fatal and is not caught here.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("scanner: match store allocation failed: %v", rec)
		}
	}()

	var verifyErr error
	scanErr := scanBufferAbs(s.rules, buf, base, s.timedOut, s.store, &verifyErr)
	if scanErr != nil {
		return scanErr
	}
	return verifyErr
}

func (s *ScanState) timedOut() bool {
	return s.hasDline && time.Now().After(s.timeout)
}

// Finish evaluates every rule's condition against the matches
// accumulated so far and reports the satisfied ones through cb, honoring
// global-rule, private-rule, and namespace semantics:
//
//   - a failed global rule marks its whole namespace unsatisfied; no
//     rule in that namespace is reported even if its own condition would
//     otherwise hold, whatever the rules' declaration order (every
//     condition is evaluated before any rule is reported; RULE_IS_GLOBAL
//     in the original);
//   - a private rule is evaluated like any other, but it is never itself
//     reported unless ScanFlagsReportPrivate is set (RULE_IS_PRIVATE).
//
// A callback returning abort=true ends the scan early and Finish returns
// nil, matching the original's CALLBACK_ABORT-is-success contract.
func (s *ScanState) Finish(flags ScanFlags, cb ScanCallback) error {
	if s.fullBufOK {
		s.store.sourceBuf = s.fullBuf
	}
	unsatisfiedNamespace := make(map[string]bool)

	matched := make([]bool, len(s.rules.rules))
	for i, cr := range s.rules.rules {
		evalCtx := &evalContext{
			rule:      cr,
			store:     s.store,
			bufBase:   s.fullBufBase,
			filesize:  s.filesize,
			entryOff:  s.entryOff,
			entrySet:  s.entrySet,
			externals: s.rules.externalVars,
		}

		m, err := evalExpr(evalCtx, cr.condition)
		if err != nil {
			return fmt.Errorf("scanner: rule %s: %w", cr.name, err)
		}
		matched[i] = m
		if cr.global && !m {
			unsatisfiedNamespace[cr.namespace] = true
		}
	}

	for i, cr := range s.rules.rules {
		if !matched[i] || unsatisfiedNamespace[cr.namespace] {
			continue
		}
		if cr.private && flags&ScanFlagsReportPrivate == 0 {
			continue
		}

		var strs []MatchString
		for _, name := range cr.strings {
			for _, m := range s.store.Matches(name) {
				strs = append(strs, MatchString{Name: name, Offset: m.Offset, Data: m.Data})
			}
		}

		abort, err := cb.RuleMatching(&MatchRule{
			Rule:      cr.name,
			Namespace: cr.namespace,
			Metas:     cr.metas,
			Strings:   strs,
		})
		if err != nil {
			return err
		}
		if abort {
			return nil
		}
	}
	return nil
}

// ScanMem scans a single in-memory buffer for matching rules: the
// one-shot equivalent of Init/AddBlock/Finish for callers that already
// have the whole input available, mirroring the original's
// yr_rules_scan_mem entry point.
func (r *Rules) ScanMem(buf []byte, flags ScanFlags, timeout time.Duration, cb ScanCallback) error {
	st, err := r.Init(timeout)
	if err != nil {
		return err
	}
	defer st.release()

	if err := st.AddBlock(buf); err != nil {
		return err
	}
	return st.Finish(flags, cb)
}

// ScanFile scans a file for matching rules, memory-mapping it so large
// files don't need to be read fully into the Go heap first.
func (r *Rules) ScanFile(filename string, flags ScanFlags, timeout time.Duration, cb ScanCallback) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	size := fi.Size()
	if size == 0 {
		return r.ScanMem(nil, flags, timeout, cb)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("scanner: mmap %s: %w", filename, err)
	}
	defer func() { _ = unix.Munmap(data) }()

	return r.ScanMem(data, flags, timeout, cb)
}
