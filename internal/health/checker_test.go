package health

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/imap-registry/internal/catalog"
	"github.com/nhle/imap-registry/internal/registry"
	"github.com/nhle/imap-registry/internal/testutil"
)

func newRegistry(t *testing.T, f *testutil.FakeFactory) *registry.Registry {
	t.Helper()

	c, err := catalog.New(
		catalog.Definition{Name: "billing", Mailbox: "{b.example.com}", Username: "b"},
		catalog.Definition{Name: "support", Mailbox: "{s.example.com}", Username: "s"},
	)
	require.NoError(t, err)
	return registry.New(c, registry.WithFactory(f.New))
}

func TestCheckAll(t *testing.T) {
	refused := errors.New("connection refused")
	f := &testutil.FakeFactory{StreamErrs: map[string]error{"billing": refused}}
	r := newRegistry(t, f)

	c := New(r, r.Catalog().Names(), time.Second, zap.NewNop())
	statuses := c.CheckAll(context.Background())

	require.Len(t, statuses, 2)

	assert.Equal(t, "billing", statuses[0].Name)
	assert.Equal(t, StateDown, statuses[0].State)
	assert.ErrorIs(t, statuses[0].Err, refused)
	assert.False(t, statuses[0].LastCheck.IsZero())

	assert.Equal(t, "support", statuses[1].Name)
	assert.Equal(t, StateUp, statuses[1].State)
	assert.NoError(t, statuses[1].Err)

	assert.Equal(t, statuses, c.Statuses())
}

func TestCheck_Timeout(t *testing.T) {
	f := &testutil.FakeFactory{StreamDelay: time.Second}
	r := newRegistry(t, f)

	c := New(r, []string{"support"}, 10*time.Millisecond, nil)
	s := c.Check(context.Background(), "support")

	assert.Equal(t, StateDown, s.State)
	assert.ErrorIs(t, s.Err, context.DeadlineExceeded)
}

func TestCheck_TimeoutWithSilentServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		select {
		case conn := <-accepted:
			_ = conn.Close()
		default:
		}
	})

	cat, err := catalog.New(catalog.Definition{
		Name:     "silent",
		Mailbox:  "{" + ln.Addr().String() + "/notls}INBOX",
		Username: "u",
	})
	require.NoError(t, err)
	r := registry.New(cat)

	c := New(r, cat.Names(), 200*time.Millisecond, nil)

	done := make(chan Status, 1)
	go func() { done <- c.Check(context.Background(), "silent") }()

	select {
	case s := <-done:
		assert.Equal(t, StateDown, s.State)
		assert.ErrorIs(t, s.Err, context.DeadlineExceeded)
		assert.ErrorIs(t, s.Err, registry.ErrConnectionFailed)
	case <-time.After(3 * time.Second):
		t.Fatal("Check did not honor its timeout")
	}
}

func TestCheck_UnknownName(t *testing.T) {
	r := newRegistry(t, &testutil.FakeFactory{})

	c := New(r, nil, 0, nil)
	s := c.Check(context.Background(), "missing")

	assert.Equal(t, StateDown, s.State)
	assert.True(t, registry.IsUnknownConnection(s.Err))
	assert.Len(t, c.Statuses(), 1)
}

func TestStatusesBeforeCheck(t *testing.T) {
	r := newRegistry(t, &testutil.FakeFactory{})

	c := New(r, []string{"support", "billing"}, 0, nil)
	statuses := c.Statuses()

	require.Len(t, statuses, 2)
	assert.Equal(t, "billing", statuses[0].Name)
	assert.Equal(t, StateUnknown, statuses[0].State)
	assert.Equal(t, "unknown", statuses[0].State.String())
}
