package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"
)

// DefaultServerEncoding is the charset assumed when a connection does not
// configure server_encoding.
const DefaultServerEncoding = "UTF-8"

// envPrefix scopes environment overrides, e.g. IMAPREGISTRY_LOG_LEVEL.
const envPrefix = "IMAPREGISTRY"

// ErrConfigNotFound is returned by LoadConfig when the file does not exist.
var ErrConfigNotFound = errors.New("config file not found")

// ConnectionConfig holds the settings for a single named IMAP mailbox.
// Optional keys are pointers so that an absent key can be told apart from
// an empty one.
type ConnectionConfig struct {
	// Mailbox is the c-client style mailbox string,
	// e.g. "{imap.example.com:993/imap/ssl}INBOX".
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`

	Username string  `mapstructure:"username" yaml:"username"`
	Password *string `mapstructure:"password" yaml:"password"`

	// AttachmentsDir is where fetched attachments are written.
	AttachmentsDir *string `mapstructure:"attachments_dir" yaml:"attachments_dir,omitempty"`

	ServerEncoding *string `mapstructure:"server_encoding" yaml:"server_encoding,omitempty"`
}

// IMAPConfig groups every configured connection by name.
type IMAPConfig struct {
	Connections map[string]ConnectionConfig `mapstructure:"connections" yaml:"connections"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	IMAP IMAPConfig `mapstructure:"imap" yaml:"imap"`
	Log  LogConfig  `mapstructure:"log" yaml:"log"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/imapregistry/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "imapregistry", "config.yaml")
}

// LoadConfig reads configuration from the given YAML file path using Viper
// and validates it. Environment variables prefixed with IMAPREGISTRY_
// override file values.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Viper lower-cases map keys; connection names are case-sensitive, so
	// the imap section is decoded from the file directly.
	imapCfg, err := readIMAPConfig(path)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.IMAP = imapCfg

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

func readIMAPConfig(path string) (IMAPConfig, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return IMAPConfig{}, err
	}

	var doc struct {
		IMAP IMAPConfig `yaml:"imap"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return IMAPConfig{}, err
	}
	return doc.IMAP, nil
}

// Validate checks the connection definitions. Every problem found is
// reported, not just the first one.
func (c *Config) Validate() error {
	if c.IMAP.Connections == nil {
		return errors.New("imap.connections is required")
	}

	names := make([]string, 0, len(c.IMAP.Connections))
	for name := range c.IMAP.Connections {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("imap.connections: connection name cannot be empty"))
			continue
		}
		errs = append(errs, c.IMAP.Connections[name].validate(name)...)
	}

	return errors.Join(errs...)
}

func (cc ConnectionConfig) validate(name string) []error {
	var errs []error
	field := func(key string) string {
		return fmt.Sprintf("imap.connections.%s.%s", name, key)
	}

	if cc.Mailbox == "" {
		errs = append(errs, fmt.Errorf("%s cannot be empty", field("mailbox")))
	}
	if cc.Username == "" {
		errs = append(errs, fmt.Errorf("%s cannot be empty", field("username")))
	}
	if cc.Password == nil {
		errs = append(errs, fmt.Errorf("%s is required", field("password")))
	}
	if cc.AttachmentsDir != nil && *cc.AttachmentsDir == "" {
		errs = append(errs, fmt.Errorf("%s cannot be empty", field("attachments_dir")))
	}
	if cc.ServerEncoding != nil && *cc.ServerEncoding == "" {
		errs = append(errs, fmt.Errorf("%s cannot be empty", field("server_encoding")))
	}

	return errs
}
