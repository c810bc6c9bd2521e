package model

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func strPtr(s string) *string { return &s }

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
imap:
  connections:
    support:
      mailbox: "{imap.example.com:993/imap/ssl}INBOX"
      username: u
      password: p
    billing:
      mailbox: "{mail.example.com/imap/tls}Billing"
      username: billing@example.com
      password: ""
      attachments_dir: /tmp/billing
      server_encoding: ISO-8859-1
log:
  level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.IMAP.Connections, 2)

	support := cfg.IMAP.Connections["support"]
	assert.Equal(t, "{imap.example.com:993/imap/ssl}INBOX", support.Mailbox)
	assert.Equal(t, "u", support.Username)
	require.NotNil(t, support.Password)
	assert.Equal(t, "p", *support.Password)
	assert.Nil(t, support.AttachmentsDir)
	assert.Nil(t, support.ServerEncoding)

	billing := cfg.IMAP.Connections["billing"]
	require.NotNil(t, billing.Password)
	assert.Equal(t, "", *billing.Password)
	require.NotNil(t, billing.AttachmentsDir)
	assert.Equal(t, "/tmp/billing", *billing.AttachmentsDir)
	require.NotNil(t, billing.ServerEncoding)
	assert.Equal(t, "ISO-8859-1", *billing.ServerEncoding)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
imap:
  connections:
    support:
      mailbox: "{imap.example.com}"
      username: u
      password: p
`)
	t.Setenv("IMAPREGISTRY_LOG_LEVEL", "warn")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_PreservesConnectionNameCase(t *testing.T) {
	path := writeConfig(t, `
imap:
  connections:
    Support:
      mailbox: "{imap.example.com}"
      username: upper
      password: p
    support:
      mailbox: "{imap.example.com}"
      username: lower
      password: p
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.IMAP.Connections, 2)
	assert.Equal(t, "upper", cfg.IMAP.Connections["Support"].Username)
	assert.Equal(t, "lower", cfg.IMAP.Connections["support"].Username)
}

func TestLoadConfig_DuplicateConnectionName(t *testing.T) {
	path := writeConfig(t, `
imap:
  connections:
    support:
      mailbox: "{a.example.com}"
      username: u
      password: p
    support:
      mailbox: "{b.example.com}"
      username: u
      password: p
`)

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_NotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigNotFound))
}

func TestLoadConfig_MissingConnections(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "imap.connections is required")
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := writeConfig(t, `
imap:
  connections:
    support:
      mailbox: ""
      username: u
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "imap.connections.support.mailbox cannot be empty")
	assert.Contains(t, err.Error(), "imap.connections.support.password is required")
}

func TestConfigValidate(t *testing.T) {
	valid := ConnectionConfig{
		Mailbox:  "{imap.example.com}INBOX",
		Username: "u",
		Password: strPtr("p"),
	}

	tests := []struct {
		name    string
		conn    func(c ConnectionConfig) ConnectionConfig
		wantErr string
	}{
		{
			name: "valid",
			conn: func(c ConnectionConfig) ConnectionConfig { return c },
		},
		{
			name: "empty password is allowed",
			conn: func(c ConnectionConfig) ConnectionConfig {
				c.Password = strPtr("")
				return c
			},
		},
		{
			name: "whitespace attachments dir passes validation",
			conn: func(c ConnectionConfig) ConnectionConfig {
				c.AttachmentsDir = strPtr("   ")
				return c
			},
		},
		{
			name: "missing username",
			conn: func(c ConnectionConfig) ConnectionConfig {
				c.Username = ""
				return c
			},
			wantErr: "imap.connections.support.username cannot be empty",
		},
		{
			name: "missing password",
			conn: func(c ConnectionConfig) ConnectionConfig {
				c.Password = nil
				return c
			},
			wantErr: "imap.connections.support.password is required",
		},
		{
			name: "empty attachments dir",
			conn: func(c ConnectionConfig) ConnectionConfig {
				c.AttachmentsDir = strPtr("")
				return c
			},
			wantErr: "imap.connections.support.attachments_dir cannot be empty",
		},
		{
			name: "empty server encoding",
			conn: func(c ConnectionConfig) ConnectionConfig {
				c.ServerEncoding = strPtr("")
				return c
			},
			wantErr: "imap.connections.support.server_encoding cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{IMAP: IMAPConfig{Connections: map[string]ConnectionConfig{
				"support": tt.conn(valid),
			}}}

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigValidate_EmptyConnectionsMap(t *testing.T) {
	cfg := &Config{IMAP: IMAPConfig{Connections: map[string]ConnectionConfig{}}}
	assert.NoError(t, cfg.Validate())
}
