// -----------------------------------------------------------------------
// Form Filler - field-by-field NFS-e emission on the portal screen
// -----------------------------------------------------------------------

package filler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/rlourenco/emissor/internal/common"
	"github.com/rlourenco/emissor/internal/models"
)

// JSF id-suffix selectors for the emission form. The portal prefixes ids
// with the form name, so suffix matching survives form renames.
const (
	selIssueDate   = `[id$=":imDataEmissao_input"]`
	selPersonType  = `[id$=":tipoPessoa_input"]`
	selCPF         = `[id$=":itCpf"]`
	selPayerName   = `[id$=":razaoNome"]`
	selCNAELabel   = `[id$=":listaAtvCnae_label"]`
	selDescription = `[id$=":descricaoItem"]`
	selUnitValue   = `[id$=":vlrUnitario_input"]`
	selAddItem     = `[id$=":btnAddItem"]`
	selItemTable   = `[id$=":listaItensNota_data"]`
	selSaveButton  = `[id$=":btnDefault"]`
)

// cnaeEducation is the fixed activity code every invoice uses.
const cnaeEducation = "8532500 - Educação superior - graduação e pós-graduação"

// Filler implements interfaces.FormFiller against the live emission
// screen. One record per call; the caller guarantees the screen is
// loaded before Submit runs.
type Filler struct {
	browserCtx context.Context
	cfg        *common.Config
	logger     arbor.ILogger
}

// New creates a form filler bound to the browser tab.
func New(browserCtx context.Context, cfg *common.Config, logger arbor.ILogger) *Filler {
	return &Filler{browserCtx: browserCtx, cfg: cfg, logger: logger}
}

// Submit fills and saves one invoice. Business-level give-ups (CPF not
// registered, value echo mismatch, confirmation skipped) return
// Confirmed=false with a nil error so the record stays eligible for a
// later run; errors are reserved for unexpected page failures.
func (f *Filler) Submit(ctx context.Context, rec *models.Record) (*models.SubmitResult, error) {
	f.logger.Info().Str("name", rec.Name).Msg("Filling emission form")

	// The caller's ctx carries cancellation only; chromedp actions must
	// run against the tab context.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = f.browserCtx

	if err := f.setIssueDate(ctx); err != nil {
		return nil, err
	}
	if err := f.selectPersonType(ctx); err != nil {
		return nil, err
	}

	if ok := f.enterCPF(ctx, rec.CPF); !ok {
		f.logger.Warn().
			Str("name", rec.Name).
			Str("cpf", rec.CPF).
			Msg("CPF lookup failed after all attempts - skipping record")
		return &models.SubmitResult{Confirmed: false}, nil
	}

	if err := f.selectCNAE(ctx); err != nil {
		return nil, err
	}
	if err := f.enterDescription(ctx, rec); err != nil {
		return nil, err
	}

	if ok, err := f.enterValue(ctx, rec); err != nil {
		return nil, err
	} else if !ok {
		return &models.SubmitResult{Confirmed: false}, nil
	}

	if !f.addItem(ctx) {
		f.logger.Error().Str("name", rec.Name).Msg("Item was not added to the invoice table")
		return &models.SubmitResult{Confirmed: false}, nil
	}
	if !f.saveInvoice(ctx) {
		return &models.SubmitResult{Confirmed: false}, nil
	}

	receipt := f.captureReceipt(ctx)
	f.returnToEmission(ctx)

	if receipt == nil {
		f.logger.Warn().
			Str("name", rec.Name).
			Msg("Invoice data not confirmed on screen - not marking as processed")
		return &models.SubmitResult{Confirmed: false}, nil
	}

	receipt.RecordKey = rec.Key()
	receipt.StudentName = rec.Name
	receipt.CPF = rec.CPF
	receipt.Value = rec.Value
	return &models.SubmitResult{Confirmed: true, Receipt: receipt}, nil
}

// setIssueDate overwrites the portal's default issue date when a manual
// one is configured.
func (f *Filler) setIssueDate(ctx context.Context) error {
	date := f.cfg.Run.ManualIssueDate
	if date == "" {
		return nil
	}

	f.logger.Info().Str("date", date).Msg("Setting manual issue date")
	err := chromedp.Run(ctx,
		chromedp.WaitVisible(selIssueDate, chromedp.ByQuery),
		clearField(selIssueDate),
		chromedp.SendKeys(selIssueDate, date, chromedp.ByQuery),
		chromedp.SendKeys(selIssueDate, "\t", chromedp.ByQuery),
		chromedp.Sleep(time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to set issue date: %w", err)
	}
	return nil
}

// selectPersonType fixes the payer as a natural person.
func (f *Filler) selectPersonType(ctx context.Context) error {
	err := chromedp.Run(ctx,
		chromedp.WaitVisible(selPersonType, chromedp.ByQuery),
		chromedp.SetValue(selPersonType, "FISICA", chromedp.ByQuery),
		dispatchChange(selPersonType),
		chromedp.Sleep(time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to select person type: %w", err)
	}
	return nil
}

// enterCPF types the CPF and waits for the portal to resolve the payer
// name, retrying up to the configured attempt count. The name field
// staying empty means the person is not registered on the portal.
func (f *Filler) enterCPF(ctx context.Context, cpf string) bool {
	maxAttempts := f.cfg.Run.MaxCPFAttempts

	if err := chromedp.Run(ctx, chromedp.WaitVisible(selCPF, chromedp.ByQuery)); err != nil {
		f.logger.Error().Err(err).Msg("CPF field never became visible")
		return false
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := chromedp.Run(ctx,
			clearField(selCPF),
			typeSlowly(selCPF, cpf, 200*time.Millisecond),
			chromedp.SendKeys(selCPF, "\t", chromedp.ByQuery),
		)
		if err != nil {
			f.logger.Warn().Err(err).Int("attempt", attempt).Msg("Failed to type CPF")
			continue
		}

		f.logger.Info().Msgf("Looking up registration... [attempt %d/%d]", attempt, maxAttempts)

		// The lookup is an async postback with no reliable completion
		// event; the payer-name autofill is the only signal.
		_ = chromedp.Run(ctx, chromedp.Sleep(6*time.Second))

		if strings.TrimSpace(f.fieldValue(ctx, selPayerName)) != "" {
			if f.cfg.Run.Verbose {
				f.logger.Info().Msg("CPF accepted by the portal")
			}
			return true
		}
	}
	return false
}

// selectCNAE picks the fixed education CNAE from the dropdown, retrying
// until the label reflects the selection (the PrimeFaces menu sometimes
// swallows the first click).
func (f *Filler) selectCNAE(ctx context.Context) error {
	f.logger.Info().Msg("Selecting CNAE")
	for attempt := 0; attempt < 5; attempt++ {
		err := chromedp.Run(ctx,
			chromedp.Evaluate(`window.scrollBy(0, 300)`, nil),
			chromedp.Sleep(time.Second),
			jsClick(selCNAELabel),
			chromedp.Sleep(500*time.Millisecond),
			chromedp.Evaluate(fmt.Sprintf(`(() => {
				for (const item of document.querySelectorAll("li.ui-selectonemenu-item")) {
					if (item.innerText.includes(%q)) { item.click(); return; }
				}
			})()`, cnaeEducation), nil),
			chromedp.Sleep(2*time.Second),
			chromedp.Click("body", chromedp.ByQuery),
		)
		if err != nil {
			return fmt.Errorf("failed to select CNAE: %w", err)
		}

		var label string
		_ = chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf(
			`document.querySelector(%q)?.textContent.trim() || ""`, selCNAELabel), &label))
		if strings.Contains(label, "8532500") {
			return nil
		}
	}
	return fmt.Errorf("CNAE selection did not stick")
}

// enterDescription types the service description, built from the
// record's service code and course plus the issue date's competência.
func (f *Filler) enterDescription(ctx context.Context, rec *models.Record) error {
	date := f.cfg.Run.ManualIssueDate
	if date == "" {
		date = strings.TrimSpace(f.fieldValue(ctx, selIssueDate))
	}
	parts := strings.Split(date, "/")
	if len(parts) != 3 {
		return fmt.Errorf("could not determine issue date from field value %q", date)
	}

	msg := renderDescription(rec.Field("CODSERVICO"), rec.Field("CURSO"), parts[1], parts[2])
	err := chromedp.Run(ctx,
		clearField(selDescription),
		chromedp.SendKeys(selDescription, msg, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to type description: %w", err)
	}
	if f.cfg.Run.Verbose {
		f.logger.Info().Str("message", msg).Msg("Description inserted")
	}
	return nil
}

// enterValue types the invoice value and verifies the field echoed it
// back (the masked input occasionally drops keystrokes). Comparison
// ignores thousands dots the mask inserts.
func (f *Filler) enterValue(ctx context.Context, rec *models.Record) (bool, error) {
	formatted := strings.Replace(fmt.Sprintf("%.2f", rec.Value), ".", ",", 1)

	err := chromedp.Run(ctx,
		clearField(selUnitValue),
		typeSlowly(selUnitValue, formatted, 150*time.Millisecond),
		dispatchChange(selUnitValue),
		chromedp.Sleep(time.Second),
	)
	if err != nil {
		return false, fmt.Errorf("failed to type value: %w", err)
	}

	f.logger.Info().Msgf("Value typed: R$ %s", formatted)

	echoed := strings.ReplaceAll(strings.TrimSpace(f.fieldValue(ctx, selUnitValue)), ".", "")
	expected := strings.ReplaceAll(formatted, ".", "")
	if echoed != expected {
		f.logger.Error().
			Str("expected", formatted).
			Str("field", echoed).
			Str("name", rec.Name).
			Msg("Value field diverged from typed value")
		return false, nil
	}
	return true, nil
}

// addItem clicks the add-item button and confirms a row landed in the
// service table.
func (f *Filler) addItem(ctx context.Context) bool {
	if f.cfg.Run.Verbose {
		f.logger.Info().Msg("Adding item to the invoice")
	}
	err := chromedp.Run(ctx,
		jsClick(selAddItem),
		chromedp.Sleep(3*time.Second),
	)
	if err != nil {
		f.logger.Error().Err(err).Msg("Failed to click add item")
		return false
	}

	var rows int
	_ = chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf(
		`document.querySelector(%q)?.querySelectorAll("tr").length || 0`, selItemTable), &rows))
	return rows > 0
}

// saveInvoice clicks save and confirms through the modal, unless
// skip_confirmation leaves the modal open for manual inspection.
func (f *Filler) saveInvoice(ctx context.Context) bool {
	if f.cfg.Run.Verbose {
		f.logger.Info().Msg("Saving the invoice")
	}

	err := chromedp.Run(ctx,
		chromedp.WaitVisible(selSaveButton, chromedp.ByQuery),
		jsClick(selSaveButton),
		chromedp.Sleep(1500*time.Millisecond),
	)
	if err != nil {
		f.logger.Error().Err(err).Msg("Failed to click save")
		return false
	}

	var modalVisible bool
	_ = chromedp.Run(ctx, chromedp.Evaluate(
		`!!document.querySelector(".ui-confirm-dialog")`, &modalVisible))
	if !modalVisible {
		f.logger.Error().Msg("Confirmation modal did not appear - check the form fields")
		return false
	}

	if f.cfg.Run.SkipConfirmation {
		f.logger.Warn().Msg("skip_confirmation enabled: the invoice will NOT be confirmed")
		return false
	}

	var confirmed bool
	_ = chromedp.Run(ctx, chromedp.Evaluate(`(() => {
		const dialog = document.querySelector(".ui-confirm-dialog");
		if (!dialog) return false;
		for (const btn of dialog.querySelectorAll("button, .ui-button")) {
			if (btn.textContent.trim().toUpperCase().startsWith("SIM")) { btn.click(); return true; }
		}
		return false;
	})()`, &confirmed))
	if !confirmed {
		f.logger.Error().Msg("Confirmation button not found in modal")
		return false
	}

	if f.cfg.Run.Verbose {
		f.logger.Info().Msg("Invoice confirmed")
	}
	return true
}

// captureReceipt waits for the confirmation panel and extracts the
// issued-invoice data from it. Nil when nothing showed up in time.
func (f *Filler) captureReceipt(ctx context.Context) *models.IssuedInvoice {
	if f.cfg.Run.Verbose {
		f.logger.Info().Msg("Waiting for issued-invoice data")
	}

	probe := fmt.Sprintf(`(() => {
		const texts = Array.from(document.querySelectorAll("label, span, td, th, div"))
			.map(el => (el.textContent || "").trim());
		return texts.some(t => t.startsWith(%q)) && texts.some(t => t.startsWith(%q));
	})()`, labelNumber, labelVerificationCode)

	deadline := time.Now().Add(30 * time.Second)
	present := false
	for time.Now().Before(deadline) {
		if err := chromedp.Run(ctx, chromedp.Evaluate(probe, &present)); err == nil && present {
			break
		}
		time.Sleep(time.Second)
	}

	if !present {
		var systemError bool
		_ = chromedp.Run(ctx, chromedp.Evaluate(
			`!!document.querySelector(".ui-messages-error, .alert-error")`, &systemError))
		if systemError {
			f.logger.Error().Msg("Emission failed (error reported by the portal)")
		} else {
			f.logger.Warn().Msg("No invoice data found - possible delay or layout change")
		}
		return nil
	}

	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		f.logger.Warn().Err(err).Msg("Failed to capture confirmation panel HTML")
		return nil
	}

	receipt, err := parseReceiptHTML(html)
	if err != nil {
		f.logger.Warn().Err(err).Msg("Failed to extract invoice data")
		return nil
	}

	f.logger.Info().
		Str("number", receipt.Number).
		Str("verification_code", receipt.VerificationCode).
		Str("issue_date", receipt.IssueDate).
		Msg("Issued invoice captured")
	return receipt
}

// returnToEmission navigates back to a fresh emission screen for the
// next record. Best-effort; the orchestrator re-validates the screen
// before every record anyway.
func (f *Filler) returnToEmission(ctx context.Context) {
	if f.cfg.Run.SkipConfirmation || f.cfg.Run.TestMode {
		f.logger.Warn().Msg("skip_confirmation or test mode: staying on the issued-invoice screen")
		return
	}

	f.logger.Info().Msg("Returning to the emission screen")
	err := chromedp.Run(ctx,
		chromedp.Sleep(time.Second),
		chromedp.Navigate(f.cfg.Portal.EmissionURL),
	)
	if err != nil {
		f.logger.Warn().Err(err).Msg("Failed to navigate back to emission")
	}
}

func (f *Filler) fieldValue(ctx context.Context, selector string) string {
	var value string
	_ = chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf(
		`document.querySelector(%q)?.value || ""`, selector), &value))
	return value
}

// typeSlowly types one character at a time; the portal's masked inputs
// drop characters under fast synthetic typing.
func typeSlowly(selector, text string, delay time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, ch := range text {
			if err := chromedp.SendKeys(selector, string(ch), chromedp.ByQuery).Do(ctx); err != nil {
				return err
			}
			if err := chromedp.Sleep(delay).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func jsClick(selector string) chromedp.Action {
	return chromedp.Evaluate(fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); if (el) el.click(); })()`, selector), nil)
}

func clearField(selector string) chromedp.Action {
	return chromedp.Evaluate(fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); if (el) el.value = ""; })()`, selector), nil)
}

func dispatchChange(selector string) chromedp.Action {
	return chromedp.Evaluate(fmt.Sprintf(
		`(() => { const el = document.querySelector(%q);
			if (el) el.dispatchEvent(new Event("change", { bubbles: true })); })()`, selector), nil)
}
