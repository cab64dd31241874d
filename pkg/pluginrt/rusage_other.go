//go:build !linux && !darwin

package pluginrt

// processMemory has no portable implementation outside linux/darwin;
// audit rows on other platforms carry zero-valued memory diagnostics.
func processMemory() (rssBytes, vmsBytes int64) { return 0, 0 }
