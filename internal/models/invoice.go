package models

import "time"

// IssuedInvoice is the receipt captured from the portal after a
// successful emission. Persisted to the ledger so the numbers survive
// the run (the portal only shows them once, on the confirmation panel).
type IssuedInvoice struct {
	RecordKey        string `badgerhold:"key"`
	RunID            string `badgerhold:"index"`
	Number           string
	VerificationCode string
	SecurityKey      string
	IssueDate        string
	IssueTime        string
	StudentName      string
	CPF              string
	Value            float64
	CapturedAt       time.Time
}

// SubmitResult is what the form filler reports back to the orchestrator
// for one record.
type SubmitResult struct {
	// Confirmed is true only when the portal positively showed the
	// issued-invoice panel. A false value with a nil error means the
	// filler gave up for a business reason (unknown CPF, zero value,
	// confirmation skipped) and the record stays eligible.
	Confirmed bool
	Receipt   *IssuedInvoice
}
