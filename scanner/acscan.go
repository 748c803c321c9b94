package scanner

// timeoutCheckInterval bounds how many bytes scanBufferAbs walks between
// timeout checks, mirroring yr_rules_scan_mem_block's own polling
// cadence so a ScanState with a deadline notices it's out of time within
// a bounded number of bytes even on a long non-matching stretch.
const timeoutCheckInterval = 256

// timeoutFunc reports whether the scan's deadline has passed. Returning
// true aborts the scan with ErrTimeout.
type timeoutFunc func() bool

// scanBufferAbs walks buf through r's Aho-Corasick automaton one byte at
// a time (via ahocorasick's Step/CandidatesAt primitives) so timedOut can
// be polled every timeoutCheckInterval bytes even across long
// non-matching runs. base is buf's absolute offset within the overall
// scanned input; candidates are verified and recorded into store with
// absolute offsets. *verifyErr is checked after each candidate and, when
// set, aborts the walk; verifyCandidate itself never sets it.
func scanBufferAbs(r *Rules, buf []byte, base int, timedOut timeoutFunc, store *matchStore, verifyErr *error) error {
	if r.matcher == nil || len(buf) == 0 {
		return nil
	}

	ac := r.matcher
	st := ac.Start()
	for i, b := range buf {
		st = ac.Step(st, b)
		for _, cand := range ac.CandidatesAt(st) {
			verifyCandidate(r, buf, base, i+1, cand, store)
			if *verifyErr != nil {
				return *verifyErr
			}
		}

		if timedOut != nil && (i+1)%timeoutCheckInterval == 0 {
			if timedOut() {
				return ErrTimeout
			}
		}
	}
	return nil
}
