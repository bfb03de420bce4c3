package common

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config is the application configuration, loaded from TOML with
// environment-variable and command-line overrides on top.
type Config struct {
	Dataset DatasetConfig `toml:"dataset"`
	Portal  PortalConfig  `toml:"portal"`
	Session SessionConfig `toml:"session"`
	Run     RunConfig     `toml:"run"`
	Ledger  LedgerConfig  `toml:"ledger"`
	Server  ServerConfig  `toml:"server"`
	Logging LoggingConfig `toml:"logging"`
}

type DatasetConfig struct {
	// Path to the billing spreadsheet (xlsx with a header row).
	Path string `toml:"path" validate:"required"`
}

type PortalConfig struct {
	// EmissionURL is the NFS-e emission screen of the municipal portal.
	EmissionURL string `toml:"emission_url" validate:"required,url"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	Headless    bool   `toml:"headless"`
}

type SessionConfig struct {
	// CookieFile is the cached credential artifact. Absence is a valid
	// state (no session to restore).
	CookieFile        string `toml:"cookie_file"`
	NavigationTimeout string `toml:"navigation_timeout"` // e.g. "45s"
}

type RunConfig struct {
	// IgnoreStatuses are status markers excluded from the pending set.
	IgnoreStatuses []string `toml:"ignore_statuses"`
	// ManualIssueDate overrides the portal's issue date, DD/MM/AAAA.
	// Empty means the portal default (today).
	ManualIssueDate  string `toml:"manual_issue_date"`
	MaxCPFAttempts   int    `toml:"max_cpf_attempts" validate:"min=1"`
	TestMode         bool   `toml:"test_mode"`
	Verbose          bool   `toml:"verbose"`
	SkipConfirmation bool   `toml:"skip_confirmation"`
	// Pace is the minimum interval between record submissions ("0" to
	// disable).
	Pace string `toml:"pace"`
	// Schedule is an optional cron expression for recurring runs.
	Schedule string `toml:"schedule"`
}

type LedgerConfig struct {
	Path string `toml:"path"`
}

type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

var issueDateRe = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)

// LoadFromFiles loads defaults, then each config file in order (later
// files override earlier ones), then environment overrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps EMISSOR_* environment variables over the loaded
// configuration. Credentials are the usual case, so the spreadsheet and
// config files can stay secret-free.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EMISSOR_USERNAME"); v != "" {
		cfg.Portal.Username = v
	}
	if v := os.Getenv("EMISSOR_PASSWORD"); v != "" {
		cfg.Portal.Password = v
	}
	if v := os.Getenv("EMISSOR_DATASET"); v != "" {
		cfg.Dataset.Path = v
	}
	if v := os.Getenv("EMISSOR_EMISSION_URL"); v != "" {
		cfg.Portal.EmissionURL = v
	}
	if v := os.Getenv("EMISSOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("EMISSOR_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Portal.Headless = b
		}
	}
}

// Validate checks structural constraints plus the formats the validator
// tags cannot express (issue date, durations, cron schedule).
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Run.ManualIssueDate != "" && !issueDateRe.MatchString(c.Run.ManualIssueDate) {
		return fmt.Errorf("invalid configuration: manual_issue_date must be DD/MM/AAAA, got %q", c.Run.ManualIssueDate)
	}

	if _, err := c.NavigationTimeout(); err != nil {
		return fmt.Errorf("invalid configuration: navigation_timeout: %w", err)
	}
	if _, err := c.PaceInterval(); err != nil {
		return fmt.Errorf("invalid configuration: pace: %w", err)
	}

	if c.Run.Schedule != "" {
		if _, err := cron.ParseStandard(c.Run.Schedule); err != nil {
			return fmt.Errorf("invalid configuration: schedule %q: %w", c.Run.Schedule, err)
		}
	}

	return nil
}

// NavigationTimeout returns the parsed session navigation timeout.
func (c *Config) NavigationTimeout() (time.Duration, error) {
	if strings.TrimSpace(c.Session.NavigationTimeout) == "" {
		return 45 * time.Second, nil
	}
	return time.ParseDuration(c.Session.NavigationTimeout)
}

// PaceInterval returns the parsed inter-record pacing interval, zero when
// pacing is disabled.
func (c *Config) PaceInterval() (time.Duration, error) {
	p := strings.TrimSpace(c.Run.Pace)
	if p == "" || p == "0" {
		return 0, nil
	}
	return time.ParseDuration(p)
}
