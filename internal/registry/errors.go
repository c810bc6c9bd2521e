package registry

import (
	"errors"
	"fmt"

	"github.com/nhle/imap-registry/internal/catalog"
)

// Error kinds. Match them with errors.Is.
var (
	ErrUnknownConnection       = catalog.ErrUnknownConnection
	ErrNotADirectory           = errors.New("exists but is not a directory")
	ErrInsufficientPermissions = errors.New("does not have expected access permissions")
	ErrDirectoryCreateFailed   = errors.New("cannot create the attachments directory")
	ErrClientConstruction      = errors.New("cannot construct mailbox client")
	ErrConnectionFailed        = errors.New("cannot open mailbox stream")
)

// Error describes a failed registry operation on one connection.
type Error struct {
	// Kind is one of the Err* values above.
	Kind       error
	Connection string
	// Path is set for attachments directory failures.
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Path != "" {
		msg = fmt.Sprintf("%q %s", e.Path, msg)
	}
	if e.Connection != "" {
		msg = fmt.Sprintf("imap connection %s: %s", e.Connection, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// IsUnknownConnection reports whether err names an unconfigured connection.
func IsUnknownConnection(err error) bool {
	return errors.Is(err, ErrUnknownConnection)
}

// IsInvalidArgument reports whether err was caused by the caller's input or
// configuration rather than the environment: an unknown connection name or
// an attachments path that is not a directory.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrUnknownConnection) || errors.Is(err, ErrNotADirectory)
}
