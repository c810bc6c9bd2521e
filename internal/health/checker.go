// Package health runs connectivity probes across many connections.
package health

import (
	"context"
	"sort"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/imap-registry/internal/registry"
)

// State is the last known reachability of a connection.
type State int

const (
	StateUnknown State = iota
	StateChecking
	StateUp
	StateDown
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateUp:
		return "up"
	case StateDown:
		return "down"
	default:
		return "unknown"
	}
}

// Status holds the probe state for a single connection.
type Status struct {
	Name      string
	State     State
	LastCheck time.Time
	Elapsed   time.Duration
	Err       error
}

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 30 * time.Second

// Prober opens a fresh stream for a named connection.
type Prober interface {
	Probe(ctx context.Context, name string) registry.ProbeResult
}

// Checker probes a fixed set of connections and remembers the results.
type Checker struct {
	prober  Prober
	timeout time.Duration
	log     *zap.Logger

	mu       gosync.Mutex
	statuses map[string]*Status
}

// New creates a Checker for the given connection names. A timeout <= 0
// selects DefaultTimeout.
func New(p Prober, names []string, timeout time.Duration, log *zap.Logger) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	c := &Checker{
		prober:   p,
		timeout:  timeout,
		log:      log,
		statuses: make(map[string]*Status, len(names)),
	}
	for _, name := range names {
		c.statuses[name] = &Status{Name: name}
	}
	return c
}

// CheckAll probes every connection concurrently and returns the statuses
// sorted by name.
func (c *Checker) CheckAll(ctx context.Context) []Status {
	c.mu.Lock()
	names := make([]string, 0, len(c.statuses))
	for name := range c.statuses {
		names = append(names, name)
	}
	c.mu.Unlock()

	var wg gosync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			c.Check(ctx, name)
		}(name)
	}
	wg.Wait()

	return c.Statuses()
}

// Check probes one connection. Names outside the checker's set are
// probed too and added to it.
func (c *Checker) Check(ctx context.Context, name string) Status {
	c.setStatus(name, StateChecking, nil, 0)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	res := c.prober.Probe(ctx, name)
	elapsed := time.Since(start)

	if res.Err != nil || !res.OK {
		c.log.Warn("Connection down",
			zap.String("connection", name),
			zap.Duration("elapsed", elapsed),
			zap.Error(res.Err))
		return c.setStatus(name, StateDown, res.Err, elapsed)
	}

	c.log.Debug("Connection up",
		zap.String("connection", name),
		zap.Duration("elapsed", elapsed))
	return c.setStatus(name, StateUp, nil, elapsed)
}

// Statuses returns a snapshot of every status, sorted by name.
func (c *Checker) Statuses() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	statuses := make([]Status, 0, len(c.statuses))
	for _, s := range c.statuses {
		statuses = append(statuses, *s)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

func (c *Checker) setStatus(name string, state State, err error, elapsed time.Duration) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, ok := c.statuses[name]
	if !ok {
		status = &Status{Name: name}
		c.statuses[name] = status
	}

	status.State = state
	status.Err = err
	if state != StateChecking {
		status.LastCheck = time.Now()
		status.Elapsed = elapsed
	}
	return *status
}
