// -----------------------------------------------------------------------
// Batch Runner - resumable orchestration over the record sequence
// -----------------------------------------------------------------------

package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/rlourenco/emissor/internal/common"
	"github.com/rlourenco/emissor/internal/interfaces"
	"github.com/rlourenco/emissor/internal/models"
)

// Handle is the external control surface of one run: cooperative stop
// plus the pending durable checkpoint. Safe for use from signal
// handlers.
type Handle struct {
	ID string

	stop atomic.Bool

	mu         sync.Mutex
	checkpoint int
	hasPending bool

	Stats *Stats
}

// NewHandle creates a handle with a fresh run id.
func NewHandle() *Handle {
	return &Handle{ID: uuid.New().String(), checkpoint: -1, Stats: NewStats()}
}

// RequestStop asks the run to stop at the next record boundary. The
// in-flight record always completes; stopping mid-submission would
// leave the portal and the dataset disagreeing.
func (h *Handle) RequestStop() {
	h.stop.Store(true)
}

// StopRequested reports whether a stop was requested.
func (h *Handle) StopRequested() bool {
	return h.stop.Load()
}

func (h *Handle) setCheckpoint(index int) {
	h.mu.Lock()
	h.checkpoint = index
	h.hasPending = true
	h.mu.Unlock()
}

func (h *Handle) clearCheckpoint() {
	h.mu.Lock()
	h.hasPending = false
	h.mu.Unlock()
}

// FlushCheckpoint persists a checkpoint that was set but never cleared,
// so an interrupted run cannot lose a confirmed emission. No-op when
// nothing is pending.
func (h *Handle) FlushCheckpoint(store interfaces.RecordStore) error {
	h.mu.Lock()
	index, pending := h.checkpoint, h.hasPending
	h.mu.Unlock()
	if !pending {
		return nil
	}
	if err := store.MarkDone(index); err != nil {
		return fmt.Errorf("failed to flush checkpoint for record %d: %w", index, err)
	}
	h.clearCheckpoint()
	return nil
}

// Runner walks the record sequence in order, skipping ineligible
// records, submitting the rest and checkpointing each confirmed
// emission before moving on.
type Runner struct {
	store   interfaces.RecordStore
	session interfaces.Session
	filler  interfaces.FormFiller
	ledger  interfaces.InvoiceLedger
	events  interfaces.EventService
	cfg     *common.Config
	logger  arbor.ILogger
	limiter *rate.Limiter
}

// New creates a runner. Ledger and events may be nil.
func New(store interfaces.RecordStore, session interfaces.Session, filler interfaces.FormFiller,
	ledger interfaces.InvoiceLedger, events interfaces.EventService,
	cfg *common.Config, logger arbor.ILogger) (*Runner, error) {

	pace, err := cfg.PaceInterval()
	if err != nil {
		return nil, err
	}
	var limiter *rate.Limiter
	if pace > 0 {
		limiter = rate.NewLimiter(rate.Every(pace), 1)
	}

	return &Runner{
		store:   store,
		session: session,
		filler:  filler,
		ledger:  ledger,
		events:  events,
		cfg:     cfg,
		logger:  logger,
		limiter: limiter,
	}, nil
}

// Run processes every eligible record in sheet order. Submission
// failures are contained per record; dataset persistence and session
// failures abort the run.
func (r *Runner) Run(ctx context.Context, handle *Handle) error {
	records := r.store.Records()
	ignore := ignoreSet(r.cfg.Run.IgnoreStatuses)

	remaining := 0
	for _, rec := range records {
		if r.eligible(rec, ignore) {
			remaining++
		}
	}

	r.logger.Info().
		Str("run_id", handle.ID).
		Int("records", len(records)).
		Int("pending", remaining).
		Msg("Starting run")
	r.publish(models.Event{Type: models.EventRunStarted, RunID: handle.ID, Payload: map[string]any{
		"records": len(records),
		"pending": remaining,
	}})

	skips := newSkipCompactor(func(first, last int) {
		if first == last {
			r.logger.Info().Msgf("Row %d already processed - skipping", first)
		} else {
			r.logger.Info().Msgf("Rows %d-%d already processed - skipping", first, last)
		}
		r.publish(models.Event{Type: models.EventRecordsSkipped, RunID: handle.ID, Payload: map[string]any{
			"first_row": first,
			"last_row":  last,
		}})
	})

	interrupted := false
	for i, rec := range records {
		if handle.StopRequested() {
			interrupted = true
			break
		}

		if !r.eligible(rec, ignore) {
			skips.Add(rec.Row)
			continue
		}
		skips.Flush()

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				interrupted = true
				break
			}
		}

		if err := r.processRecord(ctx, handle, i, rec, &remaining); err != nil {
			skips.Flush()
			return err
		}

		if r.cfg.Run.TestMode {
			r.logger.Warn().Msg("Test mode: stopping after the first eligible record")
			break
		}
	}
	skips.Flush()

	if interrupted {
		r.logger.Warn().Msg("Stop requested - finishing after the current record")
		if err := handle.FlushCheckpoint(r.store); err != nil {
			return err
		}
	}

	s := handle.Stats
	r.logger.Info().
		Int("attempted", s.Attempted).
		Int("succeeded", s.Succeeded).
		Int("failed", s.Failed).
		Str("elapsed", common.FormatDuration(s.Elapsed())).
		Str("average", common.FormatDuration(s.Average())).
		Msg("Run finished")
	r.publish(models.Event{Type: models.EventRunFinished, RunID: handle.ID, Payload: map[string]any{
		"attempted":   s.Attempted,
		"succeeded":   s.Succeeded,
		"failed":      s.Failed,
		"interrupted": interrupted,
	}})
	return nil
}

// processRecord submits one record, checkpoints success and records the
// attempt. Only persistence and session errors propagate.
func (r *Runner) processRecord(ctx context.Context, handle *Handle, index int, rec *models.Record, remaining *int) error {
	r.logger.Info().Msgf("Processing row %d: %s (R$ %.2f)", rec.Row, rec.Name, rec.Value)
	r.publish(models.Event{Type: models.EventRecordStarted, RunID: handle.ID, Payload: map[string]any{
		"row":  rec.Row,
		"name": rec.Name,
	}})

	if err := r.session.EnsureEmissionPage(ctx, fmt.Sprintf("row %d", rec.Row)); err != nil {
		return fmt.Errorf("emission screen unavailable for row %d: %w", rec.Row, err)
	}

	start := time.Now()
	result, err := r.filler.Submit(ctx, rec)
	elapsed := time.Since(start)

	succeeded := err == nil && result != nil && result.Confirmed
	if err != nil {
		r.logger.Error().Err(err).Int("row", rec.Row).Msg("Submission failed - record stays pending")
	}

	if succeeded {
		handle.setCheckpoint(index)
		if markErr := r.store.MarkDone(index); markErr != nil {
			if errors.Is(markErr, models.ErrPersistence) {
				return markErr
			}
			return fmt.Errorf("%w: %v", models.ErrPersistence, markErr)
		}
		handle.clearCheckpoint()
		rec.Status = models.StatusDone

		if r.ledger != nil && result.Receipt != nil {
			result.Receipt.RunID = handle.ID
			result.Receipt.CapturedAt = time.Now()
			if ledgerErr := r.ledger.Record(result.Receipt); ledgerErr != nil {
				r.logger.Warn().Err(ledgerErr).Int("row", rec.Row).Msg("Failed to store receipt in ledger")
			}
		}
	}

	handle.Stats.Record(elapsed, succeeded)
	*remaining -= 1

	if eta := handle.Stats.ETA(*remaining); eta > 0 {
		r.logger.Info().Msgf("Remaining: %d records, estimated %s", *remaining, common.FormatDuration(eta))
	}

	r.publish(models.Event{Type: models.EventRecordFinished, RunID: handle.ID, Payload: map[string]any{
		"row":       rec.Row,
		"name":      rec.Name,
		"succeeded": succeeded,
		"duration":  elapsed.String(),
	}})
	return nil
}

// eligible reports whether a record should be submitted on this run.
// Zero-value and invalid records are never submittable; everything else
// is filtered by the configured ignore markers.
func (r *Runner) eligible(rec *models.Record, ignore map[string]bool) bool {
	if rec.Status == models.StatusZeroValue || rec.Status == models.StatusInvalid {
		return false
	}
	return !ignore[strings.ToUpper(rec.Status.Marker())]
}

func (r *Runner) publish(event models.Event) {
	if r.events != nil {
		r.events.Publish(event)
	}
}

func ignoreSet(markers []string) map[string]bool {
	set := make(map[string]bool, len(markers))
	for _, m := range markers {
		set[strings.ToUpper(strings.TrimSpace(m))] = true
	}
	return set
}
