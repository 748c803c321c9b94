package scanner

import "testing"

func TestMatchStoreAddAndCount(t *testing.T) {
	s := newMatchStore()
	s.add("$a", 10, 5, []byte("hello"))
	s.add("$a", 100, 3, []byte("bye"))

	if got := s.Count("$a"); got != 2 {
		t.Fatalf("Count = %d, want 2", got)
	}
	if got := s.Count("$b"); got != 0 {
		t.Fatalf("Count of unknown string = %d, want 0", got)
	}

	matches := s.Matches("$a")
	if len(matches) != 2 {
		t.Fatalf("len(Matches) = %d, want 2", len(matches))
	}
	if matches[0].Offset != 10 || matches[1].Offset != 100 {
		t.Fatalf("matches out of order: %+v", matches)
	}
}

func TestMatchStoreDropsExactDuplicate(t *testing.T) {
	s := newMatchStore()
	s.add("$a", 10, 10, []byte("0123456789"))
	s.add("$a", 10, 10, []byte("0123456789"))

	if got := s.Count("$a"); got != 1 {
		t.Fatalf("Count = %d, want 1 (identical offset+length should be dropped as a duplicate)", got)
	}
}

func TestMatchStoreExtendsRunForward(t *testing.T) {
	// Same length, consecutive start offsets: a run, collapsed to one
	// record but still reporting one Match per occurrence.
	s := newMatchStore()
	s.add("$a", 0, 3, []byte("aaa"))
	s.add("$a", 1, 3, []byte("aaa"))
	s.add("$a", 2, 3, []byte("aaa"))

	matches := s.Matches("$a")
	if len(matches) != 3 {
		t.Fatalf("len(Matches) = %d, want 3 (one per occurrence in the run)", len(matches))
	}
	for i, m := range matches {
		if m.Offset != i || m.Length != 3 {
			t.Fatalf("matches[%d] = %+v, want offset %d length 3", i, m, i)
		}
	}
	if got := s.Count("$a"); got != 3 {
		t.Fatalf("Count = %d, want 3", got)
	}
}

func TestMatchStoreExtendsRunBackward(t *testing.T) {
	s := newMatchStore()
	s.add("$a", 5, 3, []byte("bbb"))
	s.add("$a", 4, 3, []byte("bbb"))

	matches := s.Matches("$a")
	if len(matches) != 2 {
		t.Fatalf("len(Matches) = %d, want 2", len(matches))
	}
	if matches[0].Offset != 4 || matches[1].Offset != 5 {
		t.Fatalf("matches = %+v, want offsets [4 5]", matches)
	}
}

func TestMatchStoreDifferentLengthsNeverMerge(t *testing.T) {
	// Overlapping byte ranges but different lengths must stay separate
	// records, even though a naive interval-merge would combine them.
	s := newMatchStore()
	s.add("$a", 0, 5, []byte("hello"))
	s.add("$a", 1, 4, []byte("ello"))

	matches := s.Matches("$a")
	if len(matches) != 2 {
		t.Fatalf("len(Matches) = %d, want 2 (different-length overlaps must not merge)", len(matches))
	}
	if matches[0].Offset != 0 || matches[0].Length != 5 {
		t.Fatalf("matches[0] = %+v, want offset 0 length 5", matches[0])
	}
	if matches[1].Offset != 1 || matches[1].Length != 4 {
		t.Fatalf("matches[1] = %+v, want offset 1 length 4", matches[1])
	}
}

func TestMatchStoreRepeatedPatternStaysSeparate(t *testing.T) {
	// The spec's own worked example: "foo" over "xfoofoofoox" must
	// produce three distinct records, since consecutive starts differ by
	// 3 (the pattern length), not by 1.
	s := newMatchStore()
	s.add("$a", 1, 3, []byte("foo"))
	s.add("$a", 4, 3, []byte("foo"))
	s.add("$a", 7, 3, []byte("foo"))

	matches := s.Matches("$a")
	if len(matches) != 3 {
		t.Fatalf("len(Matches) = %d, want 3", len(matches))
	}
	wantOffsets := []int{1, 4, 7}
	for i, m := range matches {
		if m.Offset != wantOffsets[i] {
			t.Fatalf("matches[%d].Offset = %d, want %d", i, m.Offset, wantOffsets[i])
		}
	}
}

func TestMatchStoreSeparateNonOverlapping(t *testing.T) {
	s := newMatchStore()
	s.add("$a", 0, 3, []byte("abc"))
	s.add("$a", 10, 3, []byte("xyz"))

	if got := s.Count("$a"); got != 2 {
		t.Fatalf("Count = %d, want 2 (non-overlapping matches must stay separate)", got)
	}
}

func TestMatchStoreNames(t *testing.T) {
	s := newMatchStore()
	s.add("$a", 0, 1, []byte("a"))
	s.add("$b", 0, 1, []byte("b"))

	names := s.Names()
	if len(names) != 2 {
		t.Fatalf("Names() = %v, want 2 entries", names)
	}
}
