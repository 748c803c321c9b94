package scanner

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// memRegion is one mapped, readable region of a process's address space
// as reported by /proc/<pid>/maps.
type memRegion struct {
	start, end uint64
	perms      string
}

// readable reports whether the kernel will let us read this region via
// /proc/<pid>/mem; write-only or execute-only-without-read mappings
// (rare, but possible with PROT_EXEC-only JIT pages) are skipped rather
// than attempted and failed.
func (r memRegion) readable() bool {
	return len(r.perms) > 0 && r.perms[0] == 'r'
}

// parseMaps reads and parses a /proc/<pid>/maps-format stream.
func parseMaps(path string) ([]memRegion, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var regions []memRegion
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		bounds := strings.SplitN(fields[0], "-", 2)
		if len(bounds) != 2 {
			continue
		}
		start, err := strconv.ParseUint(bounds[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(bounds[1], 16, 64)
		if err != nil {
			continue
		}
		regions = append(regions, memRegion{start: start, end: end, perms: fields[1]})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return regions, nil
}

// ScanProc scans a running process's readable memory regions, feeding
// each one to rules as a separate AddBlockWithBase block so string and
// condition offsets come out relative to the process's own address
// space, matching the original's process-memory block-list contract
// (yr_process_get_memory). Regions the kernel refuses to read
// (permission denied, a since-exited process, a page unmapped mid-scan)
// are skipped rather than failing the whole scan, since that is expected
// and common when scanning other users' or short-lived processes.
func (r *Rules) ScanProc(pid int, flags ScanFlags, timeout time.Duration, cb ScanCallback) error {
	mapsPath := fmt.Sprintf("/proc/%d/maps", pid)
	memPath := fmt.Sprintf("/proc/%d/mem", pid)

	regions, err := parseMaps(mapsPath)
	if err != nil {
		return fmt.Errorf("scanner: read %s: %w", mapsPath, err)
	}

	memFile, err := os.Open(memPath)
	if err != nil {
		return fmt.Errorf("scanner: open %s: %w", memPath, err)
	}
	defer memFile.Close()

	st, err := r.Init(timeout)
	if err != nil {
		return err
	}
	defer st.release()

	const maxRegionSize = 256 * 1024 * 1024
	for _, reg := range regions {
		if !reg.readable() {
			continue
		}
		size := reg.end - reg.start
		if size == 0 || size > maxRegionSize {
			continue
		}

		buf := make([]byte, size)
		n, _ := memFile.ReadAt(buf, int64(reg.start))
		if n == 0 {
			continue
		}
		buf = buf[:n]

		if err := st.AddBlockWithBase(int(reg.start), buf); err != nil {
			return err
		}
	}

	return st.Finish(flags, cb)
}
