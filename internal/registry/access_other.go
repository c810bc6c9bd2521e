//go:build !unix

package registry

import "os"

// checkAccess reports whether the process can read and write path by
// opening it and creating a scratch file inside it.
func checkAccess(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return err
	}
	_ = d.Close()

	f, err := os.CreateTemp(path, ".access-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
