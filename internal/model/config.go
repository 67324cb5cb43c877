package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// AccountConfig holds the connection settings for one IMAP account. The
// password is never stored here; it lives in the system keyring.
type AccountConfig struct {
	// ID is the unique identifier for this account.
	ID string `mapstructure:"id" yaml:"id"`

	// Name is the user-defined label for this account.
	Name string `mapstructure:"name" yaml:"name"`

	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`

	// TLS selects implicit TLS; when false STARTTLS is used.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// PollIntervalSec is how often (in seconds) watched mailboxes are checked.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// Mailboxes lists the mailboxes watched for changes. INBOX when empty.
	Mailboxes []string `mapstructure:"mailboxes" yaml:"mailboxes"`
}

// DisplayConfig holds mailbox listing preferences.
type DisplayConfig struct {
	Theme string `mapstructure:"theme" yaml:"theme"`

	// PageSize is the number of messages shown per page.
	PageSize int `mapstructure:"page_size" yaml:"page_size"`

	// Sort is one of "arrival", "date", "from", "subject", "size".
	Sort        string `mapstructure:"sort" yaml:"sort"`
	SortReverse bool   `mapstructure:"sort_reverse" yaml:"sort_reverse"`

	// Start selects the page shown when a mailbox is first opened:
	// "first", "last", "first_unseen" or "last_unseen".
	Start string `mapstructure:"start" yaml:"start"`

	// HideDeleted hides messages flagged \Deleted from listings.
	HideDeleted bool `mapstructure:"hide_deleted" yaml:"hide_deleted"`
}

// IMAPConfig holds client-side connection limits.
type IMAPConfig struct {
	// MaxConnections bounds concurrent connections used by
	// cross-mailbox searches.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections"`
	TimeoutSec     int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// StoreConfig locates the local state database.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`

	// File is where logs are written; stderr when empty.
	File string `mapstructure:"file" yaml:"file"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Accounts []AccountConfig `mapstructure:"accounts" yaml:"accounts"`
	Display  DisplayConfig   `mapstructure:"display" yaml:"display"`
	IMAP     IMAPConfig      `mapstructure:"imap" yaml:"imap"`
	Store    StoreConfig     `mapstructure:"store" yaml:"store"`
	Log      LogConfig       `mapstructure:"log" yaml:"log"`
}

// Account returns the account with the given ID, or the first account when
// id is empty.
func (c *AppConfig) Account(id string) (AccountConfig, error) {
	if len(c.Accounts) == 0 {
		return AccountConfig{}, fmt.Errorf("no accounts configured")
	}
	if id == "" {
		return c.Accounts[0], nil
	}
	for _, a := range c.Accounts {
		if a.ID == id || a.Name == id {
			return a, nil
		}
	}
	return AccountConfig{}, fmt.Errorf("account %q not configured", id)
}

// ConfigDir returns ~/.config/mailtrack.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mailtrack")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailtrack/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Accounts: []AccountConfig{},
		Display: DisplayConfig{
			Theme:       "default",
			PageSize:    20,
			Sort:        "arrival",
			SortReverse: false,
			Start:       "last",
			HideDeleted: true,
		},
		IMAP: IMAPConfig{
			MaxConnections: 4,
			TimeoutSec:     30,
		},
		Store: StoreConfig{
			Path: filepath.Join(ConfigDir(), "state.db"),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// setDefaults mirrors defaultAppConfig into v so missing keys resolve to
// sensible values.
func setDefaults(v *viper.Viper) {
	d := defaultAppConfig()
	v.SetDefault("display.theme", d.Display.Theme)
	v.SetDefault("display.page_size", d.Display.PageSize)
	v.SetDefault("display.sort", d.Display.Sort)
	v.SetDefault("display.sort_reverse", d.Display.SortReverse)
	v.SetDefault("display.start", d.Display.Start)
	v.SetDefault("display.hide_deleted", d.Display.HideDeleted)
	v.SetDefault("imap.max_connections", d.IMAP.MaxConnections)
	v.SetDefault("imap.timeout_sec", d.IMAP.TimeoutSec)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("log.level", d.Log.Level)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed with MAILTRACK_ override file values
// (MAILTRACK_DISPLAY_PAGE_SIZE for display.page_size). If the file does not
// exist, the defaults are returned.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// A missing file is not an error; defaults and env still apply.
	if err := v.ReadInConfig(); err != nil {
		_, isPathErr := err.(*os.PathError)
		_, isNotFound := err.(viper.ConfigFileNotFoundError)
		if !isPathErr && !isNotFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	for i := range cfg.Accounts {
		if cfg.Accounts[i].PollIntervalSec == 0 {
			cfg.Accounts[i].PollIntervalSec = 120
		}
		if cfg.Accounts[i].Port == "" {
			if cfg.Accounts[i].TLS {
				cfg.Accounts[i].Port = "993"
			} else {
				cfg.Accounts[i].Port = "143"
			}
		}
		if len(cfg.Accounts[i].Mailboxes) == 0 {
			cfg.Accounts[i].Mailboxes = []string{"INBOX"}
		}
		if cfg.Accounts[i].ID == "" {
			cfg.Accounts[i].ID = cfg.Accounts[i].Name
		}
	}
	if cfg.Display.PageSize < 1 {
		cfg.Display.PageSize = 1
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("accounts", cfg.Accounts)
	v.Set("display", cfg.Display)
	v.Set("imap", cfg.IMAP)
	v.Set("store", cfg.Store)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
