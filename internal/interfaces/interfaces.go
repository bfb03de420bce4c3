// Package interfaces holds the contracts between the batch engine and
// its collaborators so the orchestrator can be exercised with fakes.
package interfaces

import (
	"context"

	"github.com/rlourenco/emissor/internal/models"
)

// RecordStore owns the on-disk dataset and the ordered in-memory record
// sequence for a run. The orchestrator addresses records by index only,
// so checkpointing stays valid across the run.
type RecordStore interface {
	// Records returns the ordered record sequence loaded for this run.
	Records() []*models.Record

	// MarkDone persists DONE for the record at index with an immediate
	// durable write. Failures wrap models.ErrPersistence and are fatal.
	MarkDone(index int) error
}

// Session guarantees an authenticated emission screen for the form
// filler. EnsureEmissionPage is idempotent and called before every
// record, because the portal may redirect the session after a save.
type Session interface {
	EnsureEmissionPage(ctx context.Context, reason string) error
}

// FormFiller performs the field-by-field submission on the emission
// screen. It owns its internal retry policy (CPF lookup attempts); the
// orchestrator only consumes the outcome.
type FormFiller interface {
	Submit(ctx context.Context, rec *models.Record) (*models.SubmitResult, error)
}

// InvoiceLedger durably stores captured receipts.
type InvoiceLedger interface {
	Record(inv *models.IssuedInvoice) error
}

// EventHandler consumes a progress event. Handlers run asynchronously
// and must never block the run.
type EventHandler func(event models.Event)

// EventService is the fire-and-forget progress channel to external
// observers (status UI).
type EventService interface {
	Subscribe(eventType models.EventType, handler EventHandler)
	Publish(event models.Event)
}
