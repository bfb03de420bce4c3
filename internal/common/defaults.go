package common

// DefaultConfig returns the baseline configuration that config files and
// environment variables override.
func DefaultConfig() *Config {
	return &Config{
		Dataset: DatasetConfig{
			Path: "docs/FATURAMENTO.xlsx",
		},
		Portal: PortalConfig{
			Headless: false,
		},
		Session: SessionConfig{
			CookieFile:        "cookies.json",
			NavigationTimeout: "45s",
		},
		Run: RunConfig{
			IgnoreStatuses: []string{"SIM", "DUPLICADO"},
			MaxCPFAttempts: 3,
		},
		Ledger: LedgerConfig{
			Path: "data/ledger",
		},
		Server: ServerConfig{
			Enabled: false,
			Host:    "localhost",
			Port:    8321,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}
