package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Mailbox is a Client backed by go-imap v2.
type Mailbox struct {
	id       string
	settings Settings
	addr     Address
	log      *zap.Logger

	mu     sync.Mutex
	client *imapclient.Client
	conn   net.Conn
}

var _ Client = (*Mailbox)(nil)

// New parses the mailbox string and returns an unconnected Mailbox.
func New(s Settings, log *zap.Logger) (*Mailbox, error) {
	addr, err := ParseAddress(s.Mailbox)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	id := uuid.NewString()
	return &Mailbox{
		id:       id,
		settings: s,
		addr:     addr,
		log: log.With(
			zap.String("connection", s.Name),
			zap.String("handle", id),
			zap.String("server", addr.Endpoint()),
		),
	}, nil
}

// ID returns the unique handle identifier.
func (m *Mailbox) ID() string { return m.id }

// Settings returns the settings this mailbox was built with.
func (m *Mailbox) Settings() Settings { return m.settings }

// Address returns the parsed mailbox string.
func (m *Mailbox) Address() Address { return m.addr }

func (m *Mailbox) loginName() string {
	if m.addr.User != "" {
		return m.addr.User
	}
	return m.settings.Username
}

// Stream returns the open session, connecting, authenticating and
// selecting the folder when there is none or forceReconnect is set.
func (m *Mailbox) Stream(ctx context.Context, forceReconnect bool) (Stream, error) {
	c, _, err := m.session(ctx, forceReconnect)
	if err != nil {
		return nil, err
	}
	return &session{client: c, folder: m.addr.Folder}, nil
}

func (m *Mailbox) session(ctx context.Context, forceReconnect bool) (*imapclient.Client, net.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil && !forceReconnect {
		return m.client, m.conn, nil
	}
	if m.client != nil {
		_ = m.client.Close()
		m.client, m.conn = nil, nil
	}

	c, conn, err := m.connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	m.client, m.conn = c, conn
	return c, conn, nil
}

// acquire returns the session with ctx applied to its connection. The
// returned func must be called when the caller is done; if ctx ended in
// the meantime the session is dropped.
func (m *Mailbox) acquire(ctx context.Context) (*imapclient.Client, func(), error) {
	c, conn, err := m.session(ctx, false)
	if err != nil {
		return nil, nil, err
	}

	release := bindContext(ctx, conn)
	return c, func() {
		if !release() {
			m.drop(c)
		}
	}, nil
}

// drop forgets c if it is still the current session and closes it.
func (m *Mailbox) drop(c *imapclient.Client) {
	m.mu.Lock()
	if m.client == c {
		m.client, m.conn = nil, nil
	}
	m.mu.Unlock()
	_ = c.Close()
}

// connect dials the server, logs in and selects the folder. ctx bounds
// the whole handshake, not only the dial.
func (m *Mailbox) connect(ctx context.Context) (*imapclient.Client, net.Conn, error) {
	start := time.Now()

	conn, err := m.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	release := bindContext(ctx, conn)

	c, err := m.newClient(conn)
	if err != nil {
		release()
		_ = conn.Close()
		return nil, nil, contextError(ctx, err)
	}

	if err := c.Login(m.loginName(), m.settings.Password).Wait(); err != nil {
		release()
		_ = c.Close()
		if ctxErr := ctxDone(ctx); ctxErr != nil {
			return nil, nil, fmt.Errorf("logging in: %w: %v", ctxErr, err)
		}
		return nil, nil, &AuthError{Username: m.loginName(), Err: err}
	}

	opts := &imap.SelectOptions{ReadOnly: m.addr.ReadOnly}
	if _, err := c.Select(m.addr.Folder, opts).Wait(); err != nil {
		release()
		_ = c.Close()
		return nil, nil, fmt.Errorf("selecting %s: %w", m.addr.Folder, contextError(ctx, err))
	}

	if !release() {
		_ = c.Close()
		return nil, nil, fmt.Errorf("connecting to IMAP %s: %w", m.addr.Endpoint(), ctx.Err())
	}

	m.log.Debug("Connected",
		zap.String("folder", m.addr.Folder),
		zap.Duration("elapsed", time.Since(start)))
	return c, conn, nil
}

func (m *Mailbox) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         m.addr.Host,
		InsecureSkipVerify: !m.addr.ValidateCert,
		MinVersion:         tls.VersionTLS12,
	}
}

// dial opens the transport; with SecurityTLS the handshake is done here.
func (m *Mailbox) dial(ctx context.Context) (net.Conn, error) {
	endpoint := m.addr.Endpoint()

	var (
		conn net.Conn
		err  error
	)
	if m.addr.Security == SecurityTLS {
		d := &tls.Dialer{Config: m.tlsConfig()}
		conn, err = d.DialContext(ctx, "tcp", endpoint)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", endpoint, err)
	}
	return conn, nil
}

func (m *Mailbox) newClient(conn net.Conn) (*imapclient.Client, error) {
	opts := &imapclient.Options{TLSConfig: m.tlsConfig()}

	if m.addr.Security != SecurityStartTLS {
		return imapclient.New(conn, opts), nil
	}

	c, err := imapclient.NewStartTLS(conn, opts)
	if err != nil {
		return nil, fmt.Errorf("starting TLS with %s: %w", m.addr.Endpoint(), err)
	}
	return c, nil
}

// bindContext applies ctx's deadline to conn and closes conn if ctx is
// canceled. The returned release func undoes both and reports false when
// ctx had already ended and conn was closed.
func bindContext(ctx context.Context, conn net.Conn) func() bool {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	return func() bool {
		stopped := stop()
		_ = conn.SetDeadline(time.Time{})
		return stopped
	}
}

// ctxDone returns ctx's error, or context.DeadlineExceeded once its
// deadline has passed even if ctx has not noticed yet.
func ctxDone(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return nil
}

// contextError reports err as a context error when ctx is done, and
// returns err unchanged otherwise.
func contextError(ctx context.Context, err error) error {
	if ctxErr := ctxDone(ctx); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

// Disconnect logs out and closes the session, if any.
func (m *Mailbox) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}

	c := m.client
	m.client, m.conn = nil, nil
	_ = c.Logout().Wait()
	return c.Close()
}

// FetchEnvelopes searches the selected folder for messages received since
// the given time and returns their envelope data.
func (m *Mailbox) FetchEnvelopes(
	ctx context.Context, since time.Time, limit int,
) ([]Envelope, error) {
	client, release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	criteria := &imap.SearchCriteria{}
	if !since.IsZero() {
		criteria.Since = since
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", contextError(ctx, err))
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	// Limit the number of UIDs to fetch (take most recent)
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	fetchOpts := &imap.FetchOptions{
		Envelope: true,
		Flags:    true,
		UID:      true,
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOpts)
	defer fetchCmd.Close()

	var envelopes []Envelope
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		envelopes = append(envelopes, envelopeFromBuffer(buf))
	}

	if err := fetchCmd.Close(); err != nil {
		return envelopes, fmt.Errorf("fetching envelopes: %w", contextError(ctx, err))
	}

	return envelopes, nil
}

// FetchMessage fetches the full message body for the given UID and parses
// it. Attachments are written to the attachments directory if configured.
func (m *Mailbox) FetchMessage(
	ctx context.Context, uid uint32,
) (*Message, error) {
	client, release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	bodySection := &imap.FetchItemBodySection{
		Peek: true,
	}

	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(imap.UID(uid)), fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message data: %w", err)
	}

	parsed := &Message{
		Envelope: envelopeFromBuffer(buf),
	}

	if raw := buf.FindBodySection(bodySection); raw != nil {
		p := parser{
			fallbackCharset: m.settings.ServerEncoding,
			attachmentsDir:  m.settings.AttachmentsDir,
			log:             m.log,
		}
		if err := p.parse(parsed, raw); err != nil {
			return parsed, err
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return parsed, fmt.Errorf("closing fetch: %w", err)
	}

	return parsed, nil
}

// envelopeFromBuffer extracts an Envelope from a FetchMessageBuffer.
func envelopeFromBuffer(buf *imapclient.FetchMessageBuffer) Envelope {
	env := Envelope{
		UID: uint32(buf.UID),
	}

	if buf.Envelope != nil {
		env.MessageID = buf.Envelope.MessageID
		env.Subject = buf.Envelope.Subject
		env.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				env.From = from.Name
			} else {
				env.From = from.Addr()
			}
		}

		for _, to := range buf.Envelope.To {
			env.To = append(env.To, to.Addr())
		}
	}

	for _, flag := range buf.Flags {
		env.Flags = append(env.Flags, string(flag))
	}

	return env
}

// session adapts an imapclient.Client to Stream.
type session struct {
	client *imapclient.Client
	folder string
}

var _ Stream = (*session)(nil)

func (s *session) Folder() string { return s.folder }

func (s *session) Noop() error {
	return s.client.Noop().Wait()
}
