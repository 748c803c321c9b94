package scanner

// Fixed-length byte comparators used to verify a literal string match once
// the Aho-Corasick prefilter (or an atom derived from a regex) has pointed
// at a candidate offset. Each one reports whether buf[at:at+len(pattern)]
// (or its wide/nocase variant) equals pattern, without allocating.

// compareExact checks buf[at:] against pattern byte-for-byte.
func compareExact(buf []byte, at int, pattern []byte) bool {
	if at < 0 || at+len(pattern) > len(buf) {
		return false
	}
	for i, p := range pattern {
		if buf[at+i] != p {
			return false
		}
	}
	return true
}

// compareNocase is compareExact with ASCII case folded on both sides.
func compareNocase(buf []byte, at int, pattern []byte) bool {
	if at < 0 || at+len(pattern) > len(buf) {
		return false
	}
	for i, p := range pattern {
		if lower(buf[at+i]) != lower(p) {
			return false
		}
	}
	return true
}

// compareWide checks buf[at:] against pattern interleaved with zero bytes
// (UTF-16LE of an ASCII string, YARA's "wide" modifier). Unlike the
// original C `_yr_scan_wcompare`, which only checked the low byte of every
// pair and silently ignored whatever sat in the high byte, this rejects a
// candidate outright if a high byte isn't zero: a decision documented in
// SPEC_FULL.md as tightening a known bug rather than reproducing it, since
// reproducing it would make "wide" matches trivially spoofable by stray
// non-zero high bytes.
func compareWide(buf []byte, at int, pattern []byte) bool {
	need := len(pattern) * 2
	if at < 0 || at+need > len(buf) {
		return false
	}
	for i, p := range pattern {
		lo := buf[at+i*2]
		hi := buf[at+i*2+1]
		if hi != 0 || lo != p {
			return false
		}
	}
	return true
}

// compareWideNocase is compareWide with ASCII case folded on the low byte.
func compareWideNocase(buf []byte, at int, pattern []byte) bool {
	need := len(pattern) * 2
	if at < 0 || at+need > len(buf) {
		return false
	}
	for i, p := range pattern {
		lo := buf[at+i*2]
		hi := buf[at+i*2+1]
		if hi != 0 || lower(lo) != lower(p) {
			return false
		}
	}
	return true
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

// isWordChar reports whether b can be part of a YARA fullword match: ASCII
// isalnum, matching the original's fullword boundary checks (rules.c calls
// isalnum directly; it never special-cases '_').
func isWordChar(b byte) bool {
	return (b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// checkWordBoundary reports whether the match at buf[start:end] is flanked
// by non-word bytes (or buffer edges) on both sides, as required by a
// "fullword" string modifier.
func checkWordBoundary(buf []byte, start, end int) bool {
	if start > 0 && isWordChar(buf[start-1]) {
		return false
	}
	if end < len(buf) && isWordChar(buf[end]) {
		return false
	}
	return true
}
