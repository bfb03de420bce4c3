package runner

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/rlourenco/emissor/internal/common"
	"github.com/rlourenco/emissor/internal/models"
)

type fakeStore struct {
	records []*models.Record
	marked  []int
	markErr error
}

func (f *fakeStore) Records() []*models.Record { return f.records }

func (f *fakeStore) MarkDone(index int) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, index)
	return nil
}

type fakeSession struct {
	calls int
	err   error
}

func (f *fakeSession) EnsureEmissionPage(ctx context.Context, reason string) error {
	f.calls++
	return f.err
}

type fakeFiller struct {
	submitted []string
	submit    func(rec *models.Record) (*models.SubmitResult, error)
}

func (f *fakeFiller) Submit(ctx context.Context, rec *models.Record) (*models.SubmitResult, error) {
	f.submitted = append(f.submitted, rec.Name)
	if f.submit != nil {
		return f.submit(rec)
	}
	return &models.SubmitResult{Confirmed: true, Receipt: &models.IssuedInvoice{Number: "1"}}, nil
}

type fakeLedger struct {
	invoices []*models.IssuedInvoice
}

func (f *fakeLedger) Record(inv *models.IssuedInvoice) error {
	f.invoices = append(f.invoices, inv)
	return nil
}

func testConfig() *common.Config {
	cfg := common.DefaultConfig()
	cfg.Dataset.Path = "test.xlsx"
	cfg.Portal.EmissionURL = "https://portal.example/emissao"
	return cfg
}

func testRecords() []*models.Record {
	return []*models.Record{
		{Name: "Done Before", CPF: "1", Value: 10, Status: models.StatusDone, Row: 2},
		{Name: "First Pending", CPF: "2", Value: 20, Status: models.StatusPending, Row: 3},
		{Name: "Zeroed", CPF: "3", Value: 0, Status: models.StatusZeroValue, Row: 4},
		{Name: "Second Pending", CPF: "4", Value: 40, Status: models.StatusPending, Row: 5},
		{Name: "Duplicated", CPF: "2", Value: 20, Status: models.StatusDuplicate, Row: 6},
	}
}

func newTestRunner(t *testing.T, store *fakeStore, session *fakeSession, filler *fakeFiller,
	ledger *fakeLedger, cfg *common.Config) *Runner {
	t.Helper()
	r, err := New(store, session, filler, ledger, nil, cfg, arbor.NewLogger())
	require.NoError(t, err)
	return r
}

func TestRunProcessesOnlyEligibleInOrder(t *testing.T) {
	store := &fakeStore{records: testRecords()}
	session := &fakeSession{}
	filler := &fakeFiller{}
	ledger := &fakeLedger{}

	r := newTestRunner(t, store, session, filler, ledger, testConfig())
	handle := NewHandle()
	require.NoError(t, r.Run(context.Background(), handle))

	assert.Equal(t, []string{"First Pending", "Second Pending"}, filler.submitted)
	assert.Equal(t, []int{1, 3}, store.marked)
	assert.Equal(t, 2, session.calls)
	assert.Equal(t, 2, handle.Stats.Succeeded)
	assert.Equal(t, 0, handle.Stats.Failed)
	assert.Len(t, ledger.invoices, 2)
	assert.Equal(t, handle.ID, ledger.invoices[0].RunID)
}

func TestSubmissionErrorContainedPerRecord(t *testing.T) {
	store := &fakeStore{records: testRecords()}
	filler := &fakeFiller{submit: func(rec *models.Record) (*models.SubmitResult, error) {
		if rec.Name == "First Pending" {
			return nil, fmt.Errorf("portal hiccup")
		}
		return &models.SubmitResult{Confirmed: true}, nil
	}}

	r := newTestRunner(t, store, &fakeSession{}, filler, &fakeLedger{}, testConfig())
	handle := NewHandle()
	require.NoError(t, r.Run(context.Background(), handle))

	// The failing record stays pending; the next one is still processed.
	assert.Equal(t, []int{3}, store.marked)
	assert.Equal(t, 1, handle.Stats.Succeeded)
	assert.Equal(t, 1, handle.Stats.Failed)
	assert.Equal(t, models.StatusPending, store.records[1].Status)
	assert.Equal(t, models.StatusDone, store.records[3].Status)
}

func TestUnconfirmedSubmissionNotMarked(t *testing.T) {
	store := &fakeStore{records: testRecords()}
	filler := &fakeFiller{submit: func(rec *models.Record) (*models.SubmitResult, error) {
		return &models.SubmitResult{Confirmed: false}, nil
	}}

	r := newTestRunner(t, store, &fakeSession{}, filler, &fakeLedger{}, testConfig())
	handle := NewHandle()
	require.NoError(t, r.Run(context.Background(), handle))

	assert.Empty(t, store.marked)
	assert.Equal(t, 2, handle.Stats.Failed)
}

func TestSessionFailureAbortsRun(t *testing.T) {
	store := &fakeStore{records: testRecords()}
	session := &fakeSession{err: fmt.Errorf("%w: emission screen unreachable", models.ErrNavigation)}

	r := newTestRunner(t, store, session, &fakeFiller{}, &fakeLedger{}, testConfig())
	err := r.Run(context.Background(), NewHandle())

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNavigation)
	assert.Empty(t, store.marked)
}

func TestPersistenceFailureAbortsRun(t *testing.T) {
	store := &fakeStore{
		records: testRecords(),
		markErr: fmt.Errorf("%w: disk full", models.ErrPersistence),
	}

	r := newTestRunner(t, store, &fakeSession{}, &fakeFiller{}, &fakeLedger{}, testConfig())
	err := r.Run(context.Background(), NewHandle())

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrPersistence)
}

func TestTestModeStopsAfterFirstEligible(t *testing.T) {
	cfg := testConfig()
	cfg.Run.TestMode = true

	store := &fakeStore{records: testRecords()}
	filler := &fakeFiller{}

	r := newTestRunner(t, store, &fakeSession{}, filler, &fakeLedger{}, cfg)
	require.NoError(t, r.Run(context.Background(), NewHandle()))

	assert.Equal(t, []string{"First Pending"}, filler.submitted)
	assert.Equal(t, []int{1}, store.marked)
}

func TestStopRequestFinishesCurrentRecord(t *testing.T) {
	store := &fakeStore{records: testRecords()}
	handle := NewHandle()
	filler := &fakeFiller{submit: func(rec *models.Record) (*models.SubmitResult, error) {
		// Interrupt arrives while the first record is in flight.
		handle.RequestStop()
		return &models.SubmitResult{Confirmed: true}, nil
	}}

	r := newTestRunner(t, store, &fakeSession{}, filler, &fakeLedger{}, testConfig())
	require.NoError(t, r.Run(context.Background(), handle))

	// The in-flight record completed and was persisted; nothing after it ran.
	assert.Equal(t, []string{"First Pending"}, filler.submitted)
	assert.Equal(t, []int{1}, store.marked)
}

func TestFlushCheckpointRetriesPendingMark(t *testing.T) {
	store := &fakeStore{records: testRecords()}
	handle := NewHandle()

	handle.setCheckpoint(1)
	require.NoError(t, handle.FlushCheckpoint(store))
	assert.Equal(t, []int{1}, store.marked)

	// Flushing again is a no-op.
	require.NoError(t, handle.FlushCheckpoint(store))
	assert.Equal(t, []int{1}, store.marked)
}

func TestCustomIgnoreStatuses(t *testing.T) {
	cfg := testConfig()
	// Operator wants duplicates emitted too.
	cfg.Run.IgnoreStatuses = []string{"SIM"}

	store := &fakeStore{records: testRecords()}
	filler := &fakeFiller{}

	r := newTestRunner(t, store, &fakeSession{}, filler, &fakeLedger{}, cfg)
	require.NoError(t, r.Run(context.Background(), NewHandle()))

	assert.Equal(t, []string{"First Pending", "Second Pending", "Duplicated"}, filler.submitted)
}
