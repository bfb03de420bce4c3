package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "emissor.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const minimalConfig = `
[dataset]
path = "docs/FATURAMENTO.xlsx"

[portal]
emission_url = "https://portal.example/nfse/emitir"
`

func TestLoadFromFilesMinimal(t *testing.T) {
	cfg, err := LoadFromFiles(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "https://portal.example/nfse/emitir", cfg.Portal.EmissionURL)
	// Defaults survive underneath the file.
	assert.Equal(t, []string{"SIM", "DUPLICADO"}, cfg.Run.IgnoreStatuses)
	assert.Equal(t, 3, cfg.Run.MaxCPFAttempts)
	assert.Equal(t, "cookies.json", cfg.Session.CookieFile)
	assert.Equal(t, 8321, cfg.Server.Port)
}

func TestLoadFromFilesLaterOverridesEarlier(t *testing.T) {
	override := writeConfig(t, `
[run]
max_cpf_attempts = 5
test_mode = true
`)
	cfg, err := LoadFromFiles(writeConfig(t, minimalConfig), override)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Run.MaxCPFAttempts)
	assert.True(t, cfg.Run.TestMode)
	assert.Equal(t, "https://portal.example/nfse/emitir", cfg.Portal.EmissionURL)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("EMISSOR_USERNAME", "operador")
	t.Setenv("EMISSOR_PASSWORD", "s3cret")
	t.Setenv("EMISSOR_HEADLESS", "true")

	cfg, err := LoadFromFiles(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "operador", cfg.Portal.Username)
	assert.Equal(t, "s3cret", cfg.Portal.Password)
	assert.True(t, cfg.Portal.Headless)
}

func TestValidateRejectsMissingEmissionURL(t *testing.T) {
	_, err := LoadFromFiles(writeConfig(t, `
[dataset]
path = "docs/FATURAMENTO.xlsx"
`))
	assert.Error(t, err)
}

func TestValidateRejectsBadIssueDate(t *testing.T) {
	_, err := LoadFromFiles(writeConfig(t, minimalConfig+`
[run]
manual_issue_date = "2026-03-15"
`))
	assert.Error(t, err)
}

func TestValidateAcceptsIssueDate(t *testing.T) {
	cfg, err := LoadFromFiles(writeConfig(t, minimalConfig+`
[run]
manual_issue_date = "15/03/2026"
`))
	require.NoError(t, err)
	assert.Equal(t, "15/03/2026", cfg.Run.ManualIssueDate)
}

func TestValidateRejectsBadSchedule(t *testing.T) {
	_, err := LoadFromFiles(writeConfig(t, minimalConfig+`
[run]
schedule = "not a cron spec"
`))
	assert.Error(t, err)
}

func TestNavigationTimeoutDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.NavigationTimeout = ""

	d, err := cfg.NavigationTimeout()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, d)
}

func TestPaceInterval(t *testing.T) {
	cfg := DefaultConfig()

	d, err := cfg.PaceInterval()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), d)

	cfg.Run.Pace = "2s"
	d, err = cfg.PaceInterval()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)

	cfg.Run.Pace = "soon"
	_, err = cfg.PaceInterval()
	assert.Error(t, err)
}
