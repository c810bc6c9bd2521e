//go:build unix

package registry

import "golang.org/x/sys/unix"

// checkAccess reports whether the process can read and write path.
func checkAccess(path string) error {
	return unix.Access(path, unix.R_OK|unix.W_OK)
}
