package ahocorasick

// State is an opaque automaton state, exposed so a caller can drive the
// machine one byte at a time and check for timeouts or I/O backpressure
// between bytes instead of handing over a whole buffer at once.
type State struct {
	id stateID
}

// Candidate is a pattern whose match ends at the position the caller most
// recently stepped to. Length is the number of preceding bytes the match
// covers, so the match's start offset is (position - Length).
type Candidate struct {
	Pattern int
	Length  int
}

// Start returns the automaton's initial state.
func (ac AhoCorasick) Start() State {
	return State{id: ac.i.startID}
}

// Step advances s by consuming one byte, following failure links as needed.
// It never blocks and never fails outright: states form a total function
// once the root's self-loop is installed at build time.
func (ac AhoCorasick) Step(s State, b byte) State {
	return State{id: ac.i.NextStateNoFail(s.id, b)}
}

// CandidatesAt reports every pattern whose match ends at state s, in a
// freshly allocated slice (nil when there are none).
func (ac AhoCorasick) CandidatesAt(s State) []Candidate {
	st := ac.i.state(s.id)
	if len(st.matches) == 0 {
		return nil
	}
	out := make([]Candidate, len(st.matches))
	for i, m := range st.matches {
		out[i] = Candidate{Pattern: m.PatternID, Length: m.PatternLength}
	}
	return out
}

// MaxPatternLen returns the length of the longest pattern built into ac.
func (ac AhoCorasick) MaxPatternLen() int {
	return ac.i.MaxPatternLen()
}

// PatternCount returns the number of patterns built into ac.
func (ac AhoCorasick) PatternCount() int {
	return ac.i.PatternCount()
}
