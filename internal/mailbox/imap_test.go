package mailbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	s := Settings{
		Name:           "support",
		Mailbox:        "{imap.example.com:993/imap/ssl}INBOX",
		Username:       "u",
		Password:       "p",
		ServerEncoding: "UTF-8",
	}

	m, err := New(s, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID())
	assert.Equal(t, s, m.Settings())
	assert.Equal(t, "imap.example.com:993", m.Address().Endpoint())

	other, err := New(s, zap.NewNop())
	require.NoError(t, err)
	assert.NotEqual(t, m.ID(), other.ID())
}

func TestNew_UserFlagOverridesLogin(t *testing.T) {
	m, err := New(Settings{Mailbox: "{h/user=admin}", Username: "u"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "admin", m.loginName())
}

func TestDefaultFactory_InvalidAddress(t *testing.T) {
	c, err := DefaultFactory(Settings{Mailbox: "imap.example.com"}, zap.NewNop())
	require.Error(t, err)
	assert.Nil(t, c)
}

func TestStream_CanceledContext(t *testing.T) {
	for _, mailbox := range []string{
		"{127.0.0.1:1/ssl}",
		"{127.0.0.1:1/tls}",
		"{127.0.0.1:1/notls}",
	} {
		t.Run(mailbox, func(t *testing.T) {
			m, err := New(Settings{Mailbox: mailbox, Username: "u"}, zap.NewNop())
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			stream, err := m.Stream(ctx, true)
			require.Error(t, err)
			assert.Nil(t, stream)
			assert.False(t, IsAuthError(err))
			assert.NoError(t, m.Disconnect())
		})
	}
}

// silentServer accepts connections and never sends a greeting.
func silentServer(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var conns []net.Conn
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns = append(conns, conn)
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		<-done
		for _, c := range conns {
			_ = c.Close()
		}
	})

	return ln.Addr().String()
}

func TestStream_SilentServerTimesOut(t *testing.T) {
	addr := silentServer(t)

	for _, security := range []string{"notls", "tls"} {
		t.Run(security, func(t *testing.T) {
			m, err := New(Settings{
				Mailbox:  fmt.Sprintf("{%s/%s}INBOX", addr, security),
				Username: "u",
			}, zap.NewNop())
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				_, err := m.Stream(ctx, true)
				errCh <- err
			}()

			select {
			case err := <-errCh:
				require.Error(t, err)
				assert.True(t, errors.Is(err, context.DeadlineExceeded), err.Error())
				assert.False(t, IsAuthError(err))
			case <-time.After(3 * time.Second):
				t.Fatal("Stream ignored the context deadline")
			}
		})
	}
}

func TestStream_SilentServerCanceled(t *testing.T) {
	addr := silentServer(t)

	m, err := New(Settings{Mailbox: fmt.Sprintf("{%s/notls}", addr), Username: "u"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Stream(ctx, false)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled), err.Error())
	case <-time.After(3 * time.Second):
		t.Fatal("Stream ignored context cancellation")
	}
}

func TestSession_Folder(t *testing.T) {
	m, err := New(Settings{Mailbox: "{imap.example.com}Archive/2024", Username: "u"}, nil)
	require.NoError(t, err)

	var s Stream = &session{folder: m.Address().Folder}
	assert.Equal(t, "Archive/2024", s.Folder())
}

func TestAuthError(t *testing.T) {
	err := &AuthError{Username: "u", Err: assert.AnError}
	assert.True(t, IsAuthError(err))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "authentication failed for u")
}
