// Package usage samples the resource consumption of the current process.
// Readings come from procfs and cgroup files when they exist; on other
// platforms only the Go runtime figures are filled in.
package usage

import (
	"bufio"
	"errors"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Linux reports process times in USER_HZ ticks.
const clockTicks = 100.0

type Sample struct {
	Timestamp      time.Time
	CPUSeconds     float64
	RSSBytes       uint64
	HeapAllocBytes uint64
	// Zero when the process is not inside a memory cgroup.
	ContainerBytes uint64
}

// Delta is the difference between two samples.
type Delta struct {
	Wall       time.Duration
	CPUSeconds float64
	// CPUPercent is relative to one core.
	CPUPercent float64
	PeakRSS    uint64
}

func Collect() Sample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := Sample{
		Timestamp:      time.Now(),
		HeapAllocBytes: ms.HeapAlloc,
	}
	if ut, st, rss, ok := readProcSelfStat(); ok {
		s.CPUSeconds = float64(ut+st) / clockTicks
		s.RSSBytes = rss
	}
	if u, ok := readCgroupMemory(); ok {
		s.ContainerBytes = u
	}

	return s
}

func Since(before Sample) Delta {
	return Between(before, Collect())
}

func Between(before, after Sample) Delta {
	d := Delta{
		Wall:       after.Timestamp.Sub(before.Timestamp),
		CPUSeconds: max(after.CPUSeconds-before.CPUSeconds, 0),
		PeakRSS:    max(before.RSSBytes, after.RSSBytes),
	}
	if d.Wall > 0 {
		d.CPUPercent = d.CPUSeconds / d.Wall.Seconds() * 100
	}

	return d
}

func readProcSelfStat() (utime, stime, rssBytes uint64, ok bool) {
	b, err := os.ReadFile("/proc/self/stat")
	if err != nil {
		return 0, 0, 0, false
	}

	return parseStat(string(b))
}

// parseStat reads utime, stime and rss from a /proc/<pid>/stat line. The
// command name may contain spaces, so fields are counted from its closing
// parenthesis.
func parseStat(s string) (utime, stime, rssBytes uint64, ok bool) {
	rp := strings.LastIndexByte(s, ')')
	if rp < 0 || rp+2 > len(s) {
		return 0, 0, 0, false
	}
	fields := strings.Fields(s[rp+2:])
	if len(fields) < 22 {
		return 0, 0, 0, false
	}

	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return 0, 0, 0, false
	}
	stime, err = strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return 0, 0, 0, false
	}
	rssPages, err := strconv.ParseInt(fields[21], 10, 64)
	if err != nil || rssPages < 0 {
		return 0, 0, 0, false
	}

	return utime, stime, uint64(rssPages) * uint64(os.Getpagesize()), true
}

func readCgroupMemory() (uint64, bool) {
	// cgroup v2.
	if u, err := readUint("/sys/fs/cgroup/memory.current"); err == nil {
		return u, true
	}
	// cgroup v1.
	if u, err := readUint("/sys/fs/cgroup/memory/memory.usage_in_bytes"); err == nil {
		return u, true
	}

	return 0, false
}

func readUint(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, errors.New("empty value")
	}

	return strconv.ParseUint(strings.TrimSpace(sc.Text()), 10, 64)
}
