// Package catalog holds the named IMAP connection definitions loaded at
// startup. A Catalog is immutable once built.
package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/nhle/imap-registry/internal/model"
)

// ErrUnknownConnection is returned when a name is not present in the catalog.
var ErrUnknownConnection = errors.New("imap connection is not configured")

// Definition describes one named mailbox connection.
type Definition struct {
	Name     string
	Mailbox  string
	Username string
	Password string

	// AttachmentsDir is empty when attachments are not persisted.
	AttachmentsDir string

	// ServerEncoding is empty when not configured; see Encoding.
	ServerEncoding string
}

// Encoding returns the configured server encoding, or UTF-8.
func (d Definition) Encoding() string {
	if d.ServerEncoding == "" {
		return model.DefaultServerEncoding
	}
	return d.ServerEncoding
}

// Catalog maps connection names to their definitions.
type Catalog struct {
	defs map[string]Definition
}

// New builds a catalog from the given definitions, keyed by Definition.Name.
// A later definition with a duplicate name is rejected.
func New(defs ...Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if d.Name == "" {
			return nil, errors.New("connection definition has no name")
		}
		if _, dup := c.defs[d.Name]; dup {
			return nil, fmt.Errorf("duplicate connection %q", d.Name)
		}
		c.defs[d.Name] = d
	}
	return c, nil
}

// FromConfig builds a catalog from already validated configuration.
func FromConfig(cfg model.IMAPConfig) *Catalog {
	c := &Catalog{defs: make(map[string]Definition, len(cfg.Connections))}
	for name, cc := range cfg.Connections {
		d := Definition{
			Name:     name,
			Mailbox:  cc.Mailbox,
			Username: cc.Username,
		}
		if cc.Password != nil {
			d.Password = *cc.Password
		}
		if cc.AttachmentsDir != nil {
			d.AttachmentsDir = *cc.AttachmentsDir
		}
		if cc.ServerEncoding != nil {
			d.ServerEncoding = *cc.ServerEncoding
		}
		c.defs[name] = d
	}
	return c
}

// Lookup returns the definition registered under name.
func (c *Catalog) Lookup(name string) (Definition, error) {
	d, ok := c.defs[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownConnection, name)
	}
	return d, nil
}

// Names returns every connection name in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.defs))
	for name := range c.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports the number of definitions.
func (c *Catalog) Len() int {
	return len(c.defs)
}
