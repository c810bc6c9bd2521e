// Package registry hands out one memoized mailbox client per configured
// connection name.
package registry

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nhle/imap-registry/internal/catalog"
	"github.com/nhle/imap-registry/internal/mailbox"
)

// Registry lazily builds and caches mailbox clients by connection name.
// It is safe for concurrent use.
type Registry struct {
	catalog *catalog.Catalog
	factory mailbox.Factory
	log     *zap.Logger

	mu    sync.Mutex
	memo  map[string]mailbox.Client
	group singleflight.Group
}

// Option configures a Registry.
type Option func(*Registry)

// WithFactory replaces the client constructor.
func WithFactory(f mailbox.Factory) Option {
	return func(r *Registry) { r.factory = f }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// New creates a Registry over the given catalog.
func New(c *catalog.Catalog, opts ...Option) *Registry {
	r := &Registry{
		catalog: c,
		factory: mailbox.DefaultFactory,
		log:     zap.NewNop(),
		memo:    make(map[string]mailbox.Client),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Catalog returns the catalog the registry was built from.
func (r *Registry) Catalog() *catalog.Catalog {
	return r.catalog
}

// Get returns the cached client for name, building it on first use. With
// forceNew a new client is always built and replaces the cached one.
// Concurrent first calls for the same name share a single construction.
func (r *Registry) Get(name string, forceNew bool) (mailbox.Client, error) {
	if forceNew {
		c, err := r.build(name)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.memo[name] = c
		r.mu.Unlock()
		return c, nil
	}

	if c, ok := r.cached(name); ok {
		return c, nil
	}

	v, err, _ := r.group.Do(name, func() (any, error) {
		if c, ok := r.cached(name); ok {
			return c, nil
		}

		c, err := r.build(name)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		// A forced refresh may have landed while we were building.
		if existing, ok := r.memo[name]; ok {
			_ = c.Disconnect()
			return existing, nil
		}
		r.memo[name] = c
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(mailbox.Client), nil
}

func (r *Registry) cached(name string) (mailbox.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.memo[name]
	return c, ok
}

// build resolves the definition, prepares its attachments directory and
// constructs a new client. Nothing is cached.
func (r *Registry) build(name string) (mailbox.Client, error) {
	def, err := r.catalog.Lookup(name)
	if err != nil {
		return nil, err
	}

	log := r.log.With(zap.String("connection", name))

	dir, err := CheckAttachmentsDir(def.AttachmentsDir, true)
	if err != nil {
		var regErr *Error
		if errors.As(err, &regErr) {
			regErr.Connection = name
		}
		log.Warn("Attachments directory rejected", zap.Error(err))
		return nil, err
	}

	c, err := r.factory(mailbox.Settings{
		Name:           name,
		Mailbox:        def.Mailbox,
		Username:       def.Username,
		Password:       def.Password,
		AttachmentsDir: dir,
		ServerEncoding: def.Encoding(),
	}, r.log)
	if err != nil {
		return nil, &Error{Kind: ErrClientConstruction, Connection: name, Err: err}
	}

	log.Debug("Constructed mailbox client", zap.String("handle", c.ID()))
	return c, nil
}

// ProbeResult is the outcome of a connectivity probe.
type ProbeResult struct {
	Connection string
	OK         bool
	Err        error
}

// Probe builds a fresh client for name, bypassing the cache, and opens a
// new stream with it. The probe client is disconnected before returning.
func (r *Registry) Probe(ctx context.Context, name string) ProbeResult {
	res := ProbeResult{Connection: name}

	c, err := r.build(name)
	if err != nil {
		res.Err = err
		return res
	}
	defer func() { _ = c.Disconnect() }()

	stream, err := c.Stream(ctx, true)
	if err != nil {
		res.Err = &Error{Kind: ErrConnectionFailed, Connection: name, Err: err}
		r.log.Info("Connection test failed",
			zap.String("connection", name), zap.Error(err))
		return res
	}

	res.OK = stream != nil
	return res
}

// TestConnection reports whether a fresh stream can be opened for name.
// Failures yield false with a nil error unless bubbleUp is set, in which
// case the failure is returned.
func (r *Registry) TestConnection(ctx context.Context, name string, bubbleUp bool) (bool, error) {
	res := r.Probe(ctx, name)
	if res.Err != nil && bubbleUp {
		return false, res.Err
	}
	return res.OK, nil
}

// Close disconnects every cached client and empties the cache.
func (r *Registry) Close() error {
	r.mu.Lock()
	memo := r.memo
	r.memo = make(map[string]mailbox.Client)
	r.mu.Unlock()

	var errs []error
	for _, c := range memo {
		if err := c.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
