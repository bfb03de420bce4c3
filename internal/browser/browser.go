// -----------------------------------------------------------------------
// Browser - Chrome lifecycle via ChromeDP
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/rlourenco/emissor/internal/common"
)

// Browser owns one Chrome instance and its tab context. The portal's
// emission screen is a single-threaded resource per session, so exactly
// one tab drives the whole run.
type Browser struct {
	ctx             context.Context
	cancelBrowser   context.CancelFunc
	cancelAllocator context.CancelFunc
	logger          arbor.ILogger
}

// Launch starts Chrome. Headful by default: operators watch the run and
// the portal occasionally needs a human eye on a modal.
func Launch(cfg *common.Config, logger arbor.ILogger) (*Browser, error) {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Portal.Headless),
		chromedp.Flag("disable-gpu", false),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("start-maximized", true),
	)

	allocatorCtx, cancelAllocator := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocatorCtx)

	logger.Info().Bool("headless", cfg.Portal.Headless).Msg("Opening browser")

	// Materialize the browser process before any navigation.
	startCtx, cancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		cancelBrowser()
		cancelAllocator()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &Browser{
		ctx:             browserCtx,
		cancelBrowser:   cancelBrowser,
		cancelAllocator: cancelAllocator,
		logger:          logger,
	}, nil
}

// Context returns the tab context used for all ChromeDP actions.
func (b *Browser) Context() context.Context {
	return b.ctx
}

// Close tears the browser down. Safe to call on every exit path.
func (b *Browser) Close() {
	b.logger.Info().Msg("Closing browser")
	if b.cancelBrowser != nil {
		b.cancelBrowser()
	}
	if b.cancelAllocator != nil {
		b.cancelAllocator()
	}
}
