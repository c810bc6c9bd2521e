// Package mailbox is the IMAP client capability handed out by the registry.
// A Client is configured on construction but only dials the server when a
// Stream is first requested.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Settings are the values a Client is bound to.
type Settings struct {
	Name     string
	Mailbox  string
	Username string
	Password string

	// AttachmentsDir is empty when attachments are not written to disk.
	AttachmentsDir string

	ServerEncoding string
}

// Stream is a live, authenticated session with a folder selected.
type Stream interface {
	// Folder returns the selected folder name.
	Folder() string

	// Noop round-trips a NOOP to the server.
	Noop() error
}

// Client is one configured mailbox connection.
type Client interface {
	// ID identifies this handle instance.
	ID() string

	Settings() Settings

	// Stream returns the current session, dialing if none is open. With
	// forceReconnect, any existing session is dropped first.
	Stream(ctx context.Context, forceReconnect bool) (Stream, error)

	// FetchEnvelopes returns envelopes of messages received since the given
	// time, newest last, capped at limit when limit > 0.
	FetchEnvelopes(ctx context.Context, since time.Time, limit int) ([]Envelope, error)

	// FetchMessage fetches and parses one message by UID, writing its
	// attachments to the attachments directory when one is configured.
	FetchMessage(ctx context.Context, uid uint32) (*Message, error)

	// Disconnect logs out and closes the session, if any.
	Disconnect() error
}

// Factory constructs a Client. It must not perform network I/O.
type Factory func(s Settings, log *zap.Logger) (Client, error)

// DefaultFactory builds go-imap backed clients.
func DefaultFactory(s Settings, log *zap.Logger) (Client, error) {
	m, err := New(s, log)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// AuthError indicates that the server rejected the credentials.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
