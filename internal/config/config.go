// Package config loads the immutable service configuration.
//
// The configuration is read once at startup from a TOML file (plus a few
// environment fallbacks for containerized runs) and then passed by value
// through constructors. Nothing in the service reads ambient global state.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Default limits applied when an account has no explicit value configured.
const (
	DefaultMaxStorage      = 1 << 30 // 1 GiB
	DefaultMaxRecipients   = 2000    // per 24h
	DefaultMaxForwards     = 2000    // per 24h
	DefaultMaxReceived     = 60      // per 1h
	DefaultImapMaxUpload   = 10 << 30
	DefaultImapMaxDownload = 10 << 30
	DefaultPop3MaxDownload = 10 << 30
)

// Defaults are the platform-wide fallback limits for accounts that have
// no per-account value set (or have it set to zero).
type Defaults struct {
	MaxStorage      int64 `toml:"max_storage"`
	MaxRecipients   int64 `toml:"max_recipients"`
	MaxForwards     int64 `toml:"max_forwards"`
	MaxReceived     int64 `toml:"max_received"`
	ImapMaxUpload   int64 `toml:"imap_max_upload"`
	ImapMaxDownload int64 `toml:"imap_max_download"`
	Pop3MaxDownload int64 `toml:"pop3_max_download"`
}

// Database selects the backing document store.
type Database struct {
	// Driver is one of "sqlite", "postgres", "mysql".
	Driver string `toml:"driver"`
	// DSN parts are joined with a space before being handed to the driver.
	DSN []string `toml:"dsn"`
	// Debug enables SQL statement logging.
	Debug bool `toml:"debug"`
}

// Config is the complete service configuration.
type Config struct {
	// Listen is the HTTP listen address, e.g. "127.0.0.1:8384".
	Listen string `toml:"listen"`

	// APIToken is the bearer token required on every request. An empty
	// token disables the API entirely (all requests are rejected).
	APIToken string `toml:"api_token"`

	Database Database `toml:"database"`
	Defaults Defaults `toml:"defaults"`

	// KeyProbeTimeout bounds the public-key encryption probe. Oversized or
	// adversarial key blocks must not be able to stall a request.
	KeyProbeTimeout time.Duration `toml:"-"`

	// KeyProbeTimeoutRaw is the TOML-facing form ("5s", "500ms").
	KeyProbeTimeoutRaw string `toml:"key_probe_timeout"`

	// Debug enables debug-level logging.
	Debug bool `toml:"debug"`
}

// Default returns the built-in configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:   "127.0.0.1:8384",
		APIToken: os.Getenv("HIVEMAIL_API_TOKEN"),
		Database: Database{
			Driver: "sqlite",
			DSN:    []string{"hivemail.db"},
		},
		Defaults: Defaults{
			MaxStorage:      DefaultMaxStorage,
			MaxRecipients:   DefaultMaxRecipients,
			MaxForwards:     DefaultMaxForwards,
			MaxReceived:     DefaultMaxReceived,
			ImapMaxUpload:   DefaultImapMaxUpload,
			ImapMaxDownload: DefaultImapMaxDownload,
			Pop3MaxDownload: DefaultPop3MaxDownload,
		},
		KeyProbeTimeout: 5 * time.Second,
	}
}

// Load reads the configuration file at path, overlaying it on Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if undec := meta.Undecoded(); len(undec) != 0 {
		return Config{}, fmt.Errorf("config: unknown key %q", undec[0].String())
	}

	if cfg.KeyProbeTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.KeyProbeTimeoutRaw)
		if err != nil {
			return Config{}, fmt.Errorf("config: key_probe_timeout: %w", err)
		}
		cfg.KeyProbeTimeout = d
	}

	// Zero values in the defaults block fall back to the built-ins so a
	// partial [defaults] section cannot silently disable a limit.
	def := Default().Defaults
	fill := func(dst *int64, fallback int64) {
		if *dst <= 0 {
			*dst = fallback
		}
	}
	fill(&cfg.Defaults.MaxStorage, def.MaxStorage)
	fill(&cfg.Defaults.MaxRecipients, def.MaxRecipients)
	fill(&cfg.Defaults.MaxForwards, def.MaxForwards)
	fill(&cfg.Defaults.MaxReceived, def.MaxReceived)
	fill(&cfg.Defaults.ImapMaxUpload, def.ImapMaxUpload)
	fill(&cfg.Defaults.ImapMaxDownload, def.ImapMaxDownload)
	fill(&cfg.Defaults.Pop3MaxDownload, def.Pop3MaxDownload)

	return cfg, nil
}
