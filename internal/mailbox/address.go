package mailbox

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Security selects how the connection to the server is protected.
type Security int

const (
	// SecurityStartTLS connects in plain text and upgrades with STARTTLS.
	SecurityStartTLS Security = iota
	// SecurityTLS uses implicit TLS from the first byte.
	SecurityTLS
	// SecurityNone never negotiates TLS.
	SecurityNone
)

func (s Security) String() string {
	switch s {
	case SecurityTLS:
		return "ssl"
	case SecurityNone:
		return "notls"
	default:
		return "tls"
	}
}

const (
	defaultPort    = 143
	defaultTLSPort = 993
	defaultFolder  = "INBOX"
)

// Address is a parsed mailbox string of the form
// {host[:port][/flag...]}folder, e.g. "{imap.example.com:993/imap/ssl}INBOX".
type Address struct {
	Host         string
	Port         int
	Security     Security
	ValidateCert bool
	ReadOnly     bool

	// User overrides the login name when set with /user=NAME.
	User string

	Folder string
}

// Endpoint returns host:port suitable for dialing.
func (a Address) Endpoint() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// String formats the address back into mailbox-string form.
func (a Address) String() string {
	var b strings.Builder
	b.WriteByte('{')
	b.WriteString(a.Endpoint())
	b.WriteString("/imap/")
	b.WriteString(a.Security.String())
	if !a.ValidateCert {
		b.WriteString("/novalidate-cert")
	}
	if a.ReadOnly {
		b.WriteString("/readonly")
	}
	if a.User != "" {
		b.WriteString("/user=")
		b.WriteString(a.User)
	}
	b.WriteByte('}')
	b.WriteString(a.Folder)
	return b.String()
}

// ParseAddress parses a mailbox string.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return Address{}, fmt.Errorf("mailbox %q: missing opening brace", s)
	}
	end := strings.IndexByte(s, '}')
	if end < 0 {
		return Address{}, fmt.Errorf("mailbox %q: missing closing brace", s)
	}

	addr := Address{
		ValidateCert: true,
		Folder:       s[end+1:],
	}
	if addr.Folder == "" {
		addr.Folder = defaultFolder
	}

	parts := strings.Split(s[1:end], "/")
	host, port, err := splitHostPort(parts[0])
	if err != nil {
		return Address{}, fmt.Errorf("mailbox %q: %w", s, err)
	}
	addr.Host = host

	for _, flag := range parts[1:] {
		key, value, _ := strings.Cut(flag, "=")
		switch strings.ToLower(key) {
		case "imap", "imap4", "imap4rev1":
		case "service":
			if !strings.HasPrefix(strings.ToLower(value), "imap") {
				return Address{}, fmt.Errorf("mailbox %q: unsupported service %q", s, value)
			}
		case "pop3", "nntp":
			return Address{}, fmt.Errorf("mailbox %q: unsupported protocol %q", s, key)
		case "ssl":
			addr.Security = SecurityTLS
		case "tls":
			addr.Security = SecurityStartTLS
		case "notls":
			addr.Security = SecurityNone
		case "novalidate-cert":
			addr.ValidateCert = false
		case "validate-cert":
			addr.ValidateCert = true
		case "readonly":
			addr.ReadOnly = true
		case "user":
			addr.User = value
		case "secure", "norsh", "debug":
		default:
			return Address{}, fmt.Errorf("mailbox %q: unknown flag %q", s, flag)
		}
	}

	switch {
	case port != 0:
		addr.Port = port
	case addr.Security == SecurityTLS:
		addr.Port = defaultTLSPort
	default:
		addr.Port = defaultPort
	}

	return addr, nil
}

// splitHostPort accepts "host", "host:port", "[v6]" and "[v6]:port".
func splitHostPort(hp string) (string, int, error) {
	if hp == "" {
		return "", 0, fmt.Errorf("empty host")
	}

	hasPort := strings.LastIndexByte(hp, ':') > strings.LastIndexByte(hp, ']')
	if strings.HasPrefix(hp, "[") {
		hasPort = strings.HasPrefix(hp[strings.IndexByte(hp, ']')+1:], ":")
	} else if strings.Count(hp, ":") > 1 {
		// bare IPv6 literal
		hasPort = false
	}

	if !hasPort {
		host := strings.TrimSuffix(strings.TrimPrefix(hp, "["), "]")
		if host == "" {
			return "", 0, fmt.Errorf("empty host")
		}
		return host, 0, nil
	}

	host, portStr, err := net.SplitHostPort(hp)
	if err != nil {
		return "", 0, err
	}
	if host == "" {
		return "", 0, fmt.Errorf("empty host")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}
