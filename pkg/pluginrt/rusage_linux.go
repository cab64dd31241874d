//go:build linux

package pluginrt

import "golang.org/x/sys/unix"

// rusageMaxRSSBytes converts Linux's Maxrss, reported in kilobytes, to
// bytes.
func rusageMaxRSSBytes(ru unix.Rusage) int64 {
	return ru.Maxrss * 1024
}
