//go:build !linux && !darwin

package main

func statFS(path string, out *diskStat) error {
	return errStatUnsupported
}
