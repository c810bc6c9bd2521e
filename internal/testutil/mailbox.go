// Package testutil provides in-memory stand-ins for tests.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/imap-registry/internal/mailbox"
)

// FakeClient is a mailbox.Client that never touches the network.
type FakeClient struct {
	id       string
	settings mailbox.Settings

	// StreamErr is returned from Stream when set.
	StreamErr error

	// StreamDelay makes Stream block until it elapses or ctx is done.
	StreamDelay time.Duration

	mu           sync.Mutex
	streams      int
	disconnected int
}

var _ mailbox.Client = (*FakeClient)(nil)

// NewFakeClient returns a FakeClient bound to s.
func NewFakeClient(s mailbox.Settings) *FakeClient {
	return &FakeClient{id: uuid.NewString(), settings: s}
}

func (c *FakeClient) ID() string { return c.id }

func (c *FakeClient) Settings() mailbox.Settings { return c.settings }

func (c *FakeClient) Stream(ctx context.Context, _ bool) (mailbox.Stream, error) {
	if c.StreamDelay > 0 {
		select {
		case <-time.After(c.StreamDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.StreamErr != nil {
		return nil, c.StreamErr
	}
	c.streams++
	return fakeStream{folder: "INBOX"}, nil
}

func (c *FakeClient) FetchEnvelopes(context.Context, time.Time, int) ([]mailbox.Envelope, error) {
	return nil, nil
}

func (c *FakeClient) FetchMessage(_ context.Context, uid uint32) (*mailbox.Message, error) {
	return &mailbox.Message{Envelope: mailbox.Envelope{UID: uid}}, nil
}

func (c *FakeClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected++
	return nil
}

// Streams reports how many streams were opened.
func (c *FakeClient) Streams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams
}

// Disconnects reports how many times Disconnect was called.
func (c *FakeClient) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

type fakeStream struct{ folder string }

func (s fakeStream) Folder() string { return s.folder }
func (s fakeStream) Noop() error    { return nil }

// FakeFactory builds FakeClients and records them.
type FakeFactory struct {
	// Err, when set, fails every construction.
	Err error

	// StreamErrs fails Stream for clients of the named connections.
	StreamErrs map[string]error

	// StreamDelay is copied onto every client built.
	StreamDelay time.Duration

	// BuildDelay slows construction to widen race windows in tests.
	BuildDelay time.Duration

	// BuildHook, when set, runs at the start of every construction with
	// its 1-based call number.
	BuildHook func(call int)

	calls atomic.Int64

	mu    sync.Mutex
	built []*FakeClient
}

// New implements mailbox.Factory.
func (f *FakeFactory) New(s mailbox.Settings, _ *zap.Logger) (mailbox.Client, error) {
	call := f.calls.Add(1)
	if f.BuildHook != nil {
		f.BuildHook(int(call))
	}
	if f.BuildDelay > 0 {
		time.Sleep(f.BuildDelay)
	}
	if f.Err != nil {
		return nil, f.Err
	}

	c := NewFakeClient(s)
	c.StreamErr = f.StreamErrs[s.Name]
	c.StreamDelay = f.StreamDelay

	f.mu.Lock()
	f.built = append(f.built, c)
	f.mu.Unlock()
	return c, nil
}

// Calls reports how many constructions were attempted.
func (f *FakeFactory) Calls() int {
	return int(f.calls.Load())
}

// Built returns the clients constructed so far.
func (f *FakeFactory) Built() []*FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeClient, len(f.built))
	copy(out, f.built)
	return out
}
