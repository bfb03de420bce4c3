package models

import "errors"

// Error taxonomy. The first four are fatal to a run; record-level
// failures are contained inside the orchestrator loop and never surface
// past it.
var (
	// ErrDataset: the spreadsheet cannot be loaded or minimally parsed.
	// Fatal before any session work starts.
	ErrDataset = errors.New("dataset error")

	// ErrPersistence: a status write-back failed. Fatal, because
	// continuing would desynchronize in-memory and on-disk truth.
	ErrPersistence = errors.New("persistence error")

	// ErrAuth: login was submitted and the portal still shows the login
	// screen (rejected credentials or lockout).
	ErrAuth = errors.New("authentication error")

	// ErrNavigation: the emission screen could not be reached within the
	// bounded probe windows, even after the reload fallback.
	ErrNavigation = errors.New("navigation error")
)
