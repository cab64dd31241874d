//go:build linux || darwin

package pluginrt

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// processMemory samples the current process's peak RSS (getrusage
// maxrss) and
// virtual size (via /proc/self/statm on Linux; 0 on darwin, where no
// equivalent syscall exists without cgo). maxrss units differ by OS
// (KB on Linux, bytes on darwin) so the Linux value is scaled to bytes.
func processMemory() (rssBytes, vmsBytes int64) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err == nil {
		rssBytes = rusageMaxRSSBytes(ru)
	}
	vmsBytes = statmVMSBytes()
	return rssBytes, vmsBytes
}

func statmVMSBytes() int64 {
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	pages, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0
	}
	return pages * int64(os.Getpagesize())
}
