package feedsync

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ReadProcMeminfo returns MemAvailable in MiB from /proc/meminfo. No
// example repo in the pack parses meminfo, and there is no third-party
// dependency for it in the ecosystem worth pulling in for nine lines of
// line-oriented text parsing, so this stays on the standard library.
func ReadProcMeminfo() (int, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, fmt.Errorf("open /proc/meminfo: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("parsing MemAvailable line %q", line)
		}
		kib, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, fmt.Errorf("parsing MemAvailable value %q: %w", fields[1], err)
		}
		return kib / 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("reading /proc/meminfo: %w", err)
	}
	return 0, fmt.Errorf("MemAvailable not found in /proc/meminfo")
}
