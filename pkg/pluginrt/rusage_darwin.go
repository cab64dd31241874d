//go:build darwin

package pluginrt

import "golang.org/x/sys/unix"

// rusageMaxRSSBytes: darwin already reports Maxrss in bytes.
func rusageMaxRSSBytes(ru unix.Rusage) int64 {
	return ru.Maxrss
}
