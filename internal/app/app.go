// Package app wires configuration, logging and the mailbox registry into a
// single container that hosts look services up from.
package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/nhle/imap-registry/internal/catalog"
	"github.com/nhle/imap-registry/internal/model"
	"github.com/nhle/imap-registry/internal/registry"
)

// Lookup keys.
const (
	// ConnectionsParameter resolves to the map[string]model.ConnectionConfig
	// the registry was built from.
	ConnectionsParameter = "imap.connections"

	// RegistryService resolves to the singleton *registry.Registry.
	RegistryService = "imap"
)

// App holds the long-lived services built from one configuration.
type App struct {
	cfg      *model.Config
	log      *zap.Logger
	catalog  *catalog.Catalog
	registry *registry.Registry

	params   map[string]any
	services map[string]any
}

// New validates cfg and builds the registry. The options are passed to
// registry.New after the logger option.
func New(cfg *model.Config, log *zap.Logger, opts ...registry.Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	cat := catalog.FromConfig(cfg.IMAP)
	reg := registry.New(cat, append([]registry.Option{registry.WithLogger(log)}, opts...)...)

	log.Info("Registered IMAP connections", zap.Strings("connections", cat.Names()))

	return &App{
		cfg:      cfg,
		log:      log,
		catalog:  cat,
		registry: reg,
		params: map[string]any{
			ConnectionsParameter: cfg.IMAP.Connections,
		},
		services: map[string]any{
			RegistryService: reg,
		},
	}, nil
}

// Parameter returns a configuration value by key.
func (a *App) Parameter(key string) (any, bool) {
	v, ok := a.params[key]
	return v, ok
}

// Service returns a service by key.
func (a *App) Service(key string) (any, bool) {
	v, ok := a.services[key]
	return v, ok
}

// Registry returns the mailbox registry.
func (a *App) Registry() *registry.Registry { return a.registry }

// Catalog returns the connection catalog.
func (a *App) Catalog() *catalog.Catalog { return a.catalog }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.log }

// Close releases cached mailbox sessions and flushes the logger.
func (a *App) Close() error {
	err := a.registry.Close()
	_ = a.log.Sync()
	return err
}
