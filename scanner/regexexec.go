package scanner

import (
	"fmt"

	regexp "github.com/wasilibs/go-re2"
	"github.com/wasilibs/go-re2/experimental"
)

// reProgram is the general regex executor, component C: an opaque
// collaborator that searches a buffer and reports a match span.
// verifier.go picks between it and the fast-hex executor in hexexec.go
// per string (a string with compiled hex bytecode uses the latter).
type reProgram struct {
	re *regexp.Regexp
}

// compileRE2 compiles pattern (already rewritten to RE2-Latin1 syntax by
// buildRE2Pattern in compile.go) into a reProgram.
func compileRE2(pattern string) (*reProgram, error) {
	re, err := experimental.CompileLatin1(pattern)
	if err != nil {
		return nil, fmt.Errorf("scanner: compile regex: %w", err)
	}
	return &reProgram{re: re}, nil
}

// findAt searches buf starting no earlier than from for a match, returning
// its [start,end) span. Matches go-re2's leftmost-first semantics.
func (p *reProgram) findAt(buf []byte, from int) (start, end int, ok bool) {
	if from < 0 {
		from = 0
	}
	if from > len(buf) {
		return 0, 0, false
	}
	loc := p.re.FindIndex(buf[from:])
	if loc == nil {
		return 0, 0, false
	}
	return from + loc[0], from + loc[1], true
}

// findAll returns every non-overlapping match in buf.
func (p *reProgram) findAll(buf []byte) [][2]int {
	locs := p.re.FindAllIndex(buf, -1)
	out := make([][2]int, len(locs))
	for i, l := range locs {
		out[i] = [2]int{l[0], l[1]}
	}
	return out
}

func (p *reProgram) String() string {
	return p.re.String()
}
