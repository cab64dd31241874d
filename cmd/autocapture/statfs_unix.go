//go:build linux || darwin

package main

import "golang.org/x/sys/unix"

func statFS(path string, out *diskStat) error {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return err
	}
	out.AvailBytes = int64(st.Bavail) * int64(st.Bsize)
	return nil
}
