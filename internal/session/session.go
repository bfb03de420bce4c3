// -----------------------------------------------------------------------
// Session State Machine - restore, login, emission-screen navigation
// -----------------------------------------------------------------------

package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/rlourenco/emissor/internal/common"
	"github.com/rlourenco/emissor/internal/models"
)

// RestoreResult is the outcome of a session restoration attempt. Three
// values rather than a boolean: the orchestrator logs in only on
// expired/absent, and each outcome carries different telemetry.
type RestoreResult string

const (
	RestoreRestored RestoreResult = "restored"
	RestoreExpired  RestoreResult = "expired"
	RestoreAbsent   RestoreResult = "absent"
)

// Sentinel selectors unique to the authenticated emission screen. JSF
// generates prefixed ids, so suffix matching is the stable form.
var emissionSentinels = []string{
	`[id$=":itCpf"]`,
	`[id$=":tipoPessoa_input"]`,
	`[id$=":descricaoItem"]`,
}

// Generic login-screen selectors. The submit button is not required;
// some portals accept Enter.
const (
	userSelector   = `input[name="username"], #username`
	passSelector   = `input[type="password"], #password`
	submitSelector = `input[type="submit"], button[type="submit"]`
)

const (
	quickProbeWindow = 1500 * time.Millisecond
	pageProbeWindow  = 15 * time.Second
	probeInterval    = 150 * time.Millisecond
)

// Manager drives the session state machine over one browser tab.
type Manager struct {
	ctx      context.Context
	cfg      *common.Config
	artifact *Artifact
	logger   arbor.ILogger
}

// New creates a session manager bound to a browser tab context.
func New(browserCtx context.Context, cfg *common.Config, logger arbor.ILogger) *Manager {
	return &Manager{
		ctx:      browserCtx,
		cfg:      cfg,
		artifact: NewArtifact(cfg.Session.CookieFile, logger),
		logger:   logger,
	}
}

// Restore re-establishes the authenticated session without logging in.
// Any unexpected failure discards the artifact and reports expired, so
// a broken cache cannot cause repeated failed restore attempts.
func (m *Manager) Restore() RestoreResult {
	// Already authenticated? Check before touching cookies at all: some
	// environments keep the browser session alive out-of-band.
	m.navigate(m.cfg.Portal.EmissionURL)
	if m.hasEmissionSentinel(quickProbeWindow) {
		m.logger.Info().Msg("Active session detected (no cookies needed)")
		return RestoreRestored
	}

	if !m.artifact.Exists() {
		if m.cfg.Run.Verbose {
			m.logger.Info().Msg("Cookie file absent - no session to restore")
		}
		// May still be logged in but parked on another screen.
		if err := m.ensureEmissionPage("no cookie artifact"); err == nil {
			return RestoreRestored
		}
		return RestoreAbsent
	}

	cookies, err := m.artifact.Load()
	if err != nil {
		m.logger.Warn().Err(err).Msg("Discarding unusable cookie file")
		m.artifact.Discard()
		if err := m.ensureEmissionPage("after discarding cookies"); err == nil {
			return RestoreRestored
		}
		return RestoreAbsent
	}

	if m.cfg.Run.Verbose {
		m.logger.Info().Int("cookies", len(cookies)).Msg("Restoring session from cookies")
	}

	if err := m.applyCookies(cookies); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to apply cookies")
		m.artifact.Discard()
		return RestoreExpired
	}
	m.reload()

	// Login screen after applying cookies means the artifact is stale.
	if m.isLoginScreen() {
		m.logger.Warn().Msg("Cookies applied but session did not validate (login screen visible)")
		m.artifact.Discard()
		return RestoreExpired
	}

	if m.hasEmissionSentinel(quickProbeWindow) {
		m.logger.Info().Msg("Session restored (sentinel found)")
		return RestoreRestored
	}

	// Logged in but somewhere else - one more navigation attempt before
	// concluding the artifact expired.
	if err := m.ensureEmissionPage("after cookie restore"); err == nil {
		m.logger.Info().Msg("Session restored (after navigation)")
		return RestoreRestored
	}
	m.artifact.Discard()
	return RestoreExpired
}

// Login authenticates only when the login form is positively identified,
// never blindly. On success the session is left on the emission screen
// and a fresh artifact is persisted.
func (m *Manager) Login() error {
	if m.cfg.Run.Verbose {
		m.logger.Info().Msg("Performing login")
	}
	m.navigate(m.cfg.Portal.EmissionURL)

	if m.hasEmissionSentinel(quickProbeWindow) {
		if m.cfg.Run.Verbose {
			m.logger.Info().Msg("Session already authenticated - skipping login")
		}
		m.saveCookies()
		return nil
	}

	if !m.isLoginScreen() {
		m.logger.Warn().Msg("Not a login screen; navigating straight to emission")
		if err := m.ensureEmissionPage("not a login screen"); err != nil {
			return err
		}
		m.saveCookies()
		return nil
	}

	username := strings.TrimSpace(m.cfg.Portal.Username)
	password := strings.TrimSpace(m.cfg.Portal.Password)

	navTimeout, _ := m.cfg.NavigationTimeout()
	typeCtx, cancel := context.WithTimeout(m.ctx, navTimeout)
	defer cancel()

	err := chromedp.Run(typeCtx,
		clearField(userSelector),
		chromedp.SendKeys(userSelector, username, chromedp.ByQuery),
		clearField(passSelector),
		chromedp.SendKeys(passSelector, password, chromedp.ByQuery),
		chromedp.Click(submitSelector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to submit credentials: %v", models.ErrAuth, err)
	}

	// Wait out the post-submit navigation: the login screen going away
	// is the success signal.
	deadline := time.Now().Add(navTimeout)
	for time.Now().Before(deadline) {
		if !m.isLoginScreen() {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if m.isLoginScreen() {
		return fmt.Errorf("%w: invalid credentials or login blocked", models.ErrAuth)
	}

	if m.cfg.Run.Verbose {
		m.logger.Info().Msg("Login successful")
	}
	if err := m.ensureEmissionPage("post-login"); err != nil {
		return err
	}
	m.saveCookies()
	return nil
}

// EnsureEmissionPage guarantees the emission screen is loaded, with a
// navigate-then-reload fallback. Idempotent; called before every record
// because the portal may redirect the session after a save.
func (m *Manager) EnsureEmissionPage(ctx context.Context, reason string) error {
	return m.ensureEmissionPage(reason)
}

func (m *Manager) ensureEmissionPage(reason string) error {
	if m.hasEmissionSentinel(1 * time.Second) {
		if m.cfg.Run.Verbose {
			m.logger.Info().Msg("Emission screen detected")
		}
		return nil
	}

	if m.cfg.Run.Verbose {
		m.logger.Warn().Str("reason", reason).Msg("Not on emission screen; navigating")
	}
	m.navigate(m.cfg.Portal.EmissionURL)
	if m.hasEmissionSentinel(pageProbeWindow) {
		return nil
	}

	if m.cfg.Run.Verbose {
		m.logger.Warn().Msg("Emission screen not detected after navigation; reloading")
	}
	m.reload()
	if m.hasEmissionSentinel(pageProbeWindow) {
		m.logger.Info().Msg("Emission screen loaded and validated")
		return nil
	}

	return fmt.Errorf("%w: emission sentinels not found (%s)", models.ErrNavigation, reason)
}

// hasEmissionSentinel polls for any emission-screen sentinel up to the
// given window. JSF components hydrate late, so one-shot checks lie.
func (m *Manager) hasEmissionSentinel(window time.Duration) bool {
	deadline := time.Now().Add(window)
	for {
		for _, sel := range emissionSentinels {
			if m.elementExists(sel) {
				return true
			}
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(probeInterval)
	}
}

// isLoginScreen checks for username and password inputs without waiting.
func (m *Manager) isLoginScreen() bool {
	return m.elementExists(userSelector) && m.elementExists(passSelector)
}

func (m *Manager) elementExists(selector string) bool {
	var found bool
	ctx, cancel := context.WithTimeout(m.ctx, 3*time.Second)
	defer cancel()
	err := chromedp.Run(ctx,
		chromedp.Evaluate(fmt.Sprintf(`!!document.querySelector(%q)`, selector), &found),
	)
	return err == nil && found
}

// navigate is best-effort: a failed navigation surfaces later as a
// missing sentinel, which the callers already handle.
func (m *Manager) navigate(url string) {
	navTimeout, _ := m.cfg.NavigationTimeout()
	ctx, cancel := context.WithTimeout(m.ctx, navTimeout)
	defer cancel()
	if err := chromedp.Run(ctx, chromedp.Navigate(url)); err != nil {
		m.logger.Warn().Err(err).Str("url", url).Msg("Navigation failed")
	}
}

func (m *Manager) reload() {
	navTimeout, _ := m.cfg.NavigationTimeout()
	ctx, cancel := context.WithTimeout(m.ctx, navTimeout)
	defer cancel()
	if err := chromedp.Run(ctx, chromedp.Reload()); err != nil {
		m.logger.Warn().Err(err).Msg("Reload failed")
	}
}

// applyCookies injects the artifact's cookies into the browser.
func (m *Manager) applyCookies(cookies []Cookie) error {
	if err := chromedp.Run(m.ctx, network.Enable()); err != nil {
		return fmt.Errorf("failed to enable network domain: %w", err)
	}

	return chromedp.Run(m.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			var expires *cdp.TimeSinceEpoch
			if c.Expires > 0 {
				expiresTime := time.Unix(int64(c.Expires), 0)
				if expiresTime.After(time.Now()) {
					timestamp := cdp.TimeSinceEpoch(expiresTime)
					expires = &timestamp
				}
			}

			param := network.SetCookie(c.Name, c.Value).
				WithDomain(strings.TrimPrefix(c.Domain, ".")).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if expires != nil {
				param = param.WithExpires(expires)
			}
			switch strings.ToLower(c.SameSite) {
			case "strict":
				param = param.WithSameSite(network.CookieSameSiteStrict)
			case "lax":
				param = param.WithSameSite(network.CookieSameSiteLax)
			case "none":
				param = param.WithSameSite(network.CookieSameSiteNone)
			}

			if err := param.Do(ctx); err != nil {
				return fmt.Errorf("failed to set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

// saveCookies persists the current browser cookies as the next run's
// artifact. Best-effort: a failed save only costs a login next time.
func (m *Manager) saveCookies() {
	var captured []Cookie
	err := chromedp.Run(m.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			captured = append(captured, Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
				SameSite: string(c.SameSite),
			})
		}
		return nil
	}))
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to capture cookies")
		return
	}

	if err := m.artifact.Save(captured); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to save cookies")
		return
	}
	if m.cfg.Run.Verbose {
		m.logger.Info().Int("cookies", len(captured)).Msg("Cookies saved for the next run")
	}
}

// clearField empties an input before typing into it; leftovers from the
// portal's autofill otherwise concatenate with the new value.
func clearField(selector string) chromedp.Action {
	return chromedp.Evaluate(fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); if (el) el.value = ""; })()`, selector), nil)
}
