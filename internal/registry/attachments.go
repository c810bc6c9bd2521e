package registry

import (
	"io/fs"
	"os"
	"strings"
)

// attachmentsDirMode is owner-only.
const attachmentsDirMode fs.FileMode = 0o700

// CheckAttachmentsDir validates an attachments directory and returns the
// trimmed path. A blank path means no directory is configured and is
// returned as "" without touching the filesystem. A missing directory is
// created when createIfMissing is set and reported as
// ErrDirectoryCreateFailed otherwise.
func CheckAttachmentsDir(path string, createIfMissing bool) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}

	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return "", &Error{Kind: ErrNotADirectory, Path: path}
		}
		if err := checkAccess(path); err != nil {
			return "", &Error{Kind: ErrInsufficientPermissions, Path: path, Err: err}
		}
		return path, nil
	}

	// Anything that cannot be stat'ed is treated as missing.
	if !createIfMissing {
		return "", &Error{Kind: ErrDirectoryCreateFailed, Path: path, Err: err}
	}

	if err := os.MkdirAll(path, attachmentsDirMode); err != nil {
		// Another process may have created it in the meantime.
		if info, statErr := os.Stat(path); statErr != nil || !info.IsDir() {
			return "", &Error{Kind: ErrDirectoryCreateFailed, Path: path, Err: err}
		}
	}
	return path, nil
}
