// -----------------------------------------------------------------------
// Invoice Ledger - durable store of captured emission receipts
// -----------------------------------------------------------------------

package ledger

import (
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/rlourenco/emissor/internal/models"
)

// Ledger persists issued-invoice receipts in an embedded Badger store.
// The portal shows the invoice number and verification code exactly once
// on the confirmation panel; the ledger is what keeps them afterwards.
type Ledger struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// Open opens (or creates) the ledger database at path.
func Open(path string, logger arbor.ILogger) (*Ledger, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil // arbor handles logging

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	logger.Debug().Str("path", path).Msg("Invoice ledger opened")
	return &Ledger{store: store, logger: logger}, nil
}

// Record upserts a receipt keyed by the record's business key.
func (l *Ledger) Record(inv *models.IssuedInvoice) error {
	if inv == nil || inv.RecordKey == "" {
		return fmt.Errorf("receipt requires a record key")
	}
	if inv.CapturedAt.IsZero() {
		inv.CapturedAt = time.Now()
	}

	if err := l.store.Upsert(inv.RecordKey, inv); err != nil {
		return fmt.Errorf("failed to store receipt: %w", err)
	}

	l.logger.Info().
		Str("number", inv.Number).
		Str("verification_code", inv.VerificationCode).
		Str("name", inv.StudentName).
		Msg("Invoice receipt recorded")
	return nil
}

// Get returns the receipt for a record key, or nil when absent.
func (l *Ledger) Get(recordKey string) (*models.IssuedInvoice, error) {
	var inv models.IssuedInvoice
	if err := l.store.Get(recordKey, &inv); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return &inv, nil
}

// ListByRun returns every receipt captured under a run id.
func (l *Ledger) ListByRun(runID string) ([]*models.IssuedInvoice, error) {
	var invs []models.IssuedInvoice
	if err := l.store.Find(&invs, badgerhold.Where("RunID").Eq(runID)); err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	result := make([]*models.IssuedInvoice, len(invs))
	for i := range invs {
		result[i] = &invs[i]
	}
	return result, nil
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	if l.store != nil {
		return l.store.Close()
	}
	return nil
}
