package scanner

import (
	"testing"

	"github.com/sansecio/yaracore/ast"
)

func TestScanBufferAbsFindsMatchAndRespectsBase(t *testing.T) {
	rs := textStringRule("R", "$a", "needle", ast.StringModifiers{}, ast.StringRef{Name: "$a"})
	rules, err := Compile(rs)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	store := newMatchStore()
	var verifyErr error
	buf := []byte("xxxneedlexxx")
	const base = 1000
	if err := scanBufferAbs(rules, buf, base, nil, store, &verifyErr); err != nil {
		t.Fatalf("scanBufferAbs() error: %v", err)
	}

	matches := store.Matches("$a")
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].Offset != base+3 {
		t.Fatalf("match offset = %d, want %d (base-relative)", matches[0].Offset, base+3)
	}
}

func TestScanBufferAbsNoMatcherIsNoop(t *testing.T) {
	var empty Rules
	store := newMatchStore()
	var verifyErr error
	if err := scanBufferAbs(&empty, []byte("anything"), 0, nil, store, &verifyErr); err != nil {
		t.Fatalf("scanBufferAbs() error: %v", err)
	}
	if store.Count("$a") != 0 {
		t.Fatal("expected no matches against a Rules with no matcher")
	}
}

func TestScanBufferAbsTimeoutAborts(t *testing.T) {
	rs := textStringRule("R", "$a", "needle", ast.StringModifiers{}, ast.StringRef{Name: "$a"})
	rules, err := Compile(rs)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	store := newMatchStore()
	var verifyErr error
	buf := make([]byte, timeoutCheckInterval*2)
	calls := 0
	timedOut := func() bool {
		calls++
		return true
	}
	err = scanBufferAbs(rules, buf, 0, timedOut, store, &verifyErr)
	if err != ErrTimeout {
		t.Fatalf("scanBufferAbs() error = %v, want ErrTimeout", err)
	}
	if calls == 0 {
		t.Fatal("expected timedOut to be polled at least once")
	}
}
