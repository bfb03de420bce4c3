package session

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
)

// Cookie is one serialized session token in the credential artifact.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // unix seconds, 0 = session cookie
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"http_only"`
	SameSite string  `json:"same_site,omitempty"`
}

// Artifact is the on-disk credential cache. Absence is a valid state;
// corrupt or empty content is discarded silently and treated as absent.
type Artifact struct {
	path   string
	logger arbor.ILogger
}

// NewArtifact creates an artifact handle for path.
func NewArtifact(path string, logger arbor.ILogger) *Artifact {
	return &Artifact{path: path, logger: logger}
}

// Exists reports whether a cached artifact is present on disk.
func (a *Artifact) Exists() bool {
	_, err := os.Stat(a.path)
	return err == nil
}

// Load reads and parses the artifact. An unreadable, corrupt or empty
// artifact returns an error; callers discard and fall back to login.
func (a *Artifact) Load() ([]Cookie, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie file: %w", err)
	}

	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("corrupt cookie file: %w", err)
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("cookie file is empty")
	}
	return cookies, nil
}

// Save writes the artifact for the next run.
func (a *Artifact) Save(cookies []Cookie) error {
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cookies: %w", err)
	}
	if err := os.WriteFile(a.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write cookie file: %w", err)
	}
	return nil
}

// Discard removes the artifact, ignoring errors. A stale artifact left
// behind would cause repeated failed restore attempts.
func (a *Artifact) Discard() {
	if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
		a.logger.Warn().Err(err).Str("path", a.path).Msg("Failed to remove cookie file")
	}
}
