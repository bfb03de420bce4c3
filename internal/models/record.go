package models

import (
	"fmt"
	"strings"
)

// Status classifies a record's processing state. The zero value is
// StatusPending so freshly loaded rows need no explicit initialization.
type Status int

const (
	StatusPending Status = iota
	StatusDone
	StatusDuplicate
	StatusZeroValue
	StatusInvalid
)

// Disk markers kept compatible with spreadsheets the operators already
// edit by hand (the status column predates this tool).
const (
	markerPending   = "NÃO"
	markerDone      = "SIM"
	markerDuplicate = "DUPLICADO"
	markerZeroValue = "ZERADO"
	markerInvalid   = "INVALIDO"
)

// Marker returns the value written to the status column.
func (s Status) Marker() string {
	switch s {
	case StatusDone:
		return markerDone
	case StatusDuplicate:
		return markerDuplicate
	case StatusZeroValue:
		return markerZeroValue
	case StatusInvalid:
		return markerInvalid
	default:
		return markerPending
	}
}

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusDuplicate:
		return "duplicate"
	case StatusZeroValue:
		return "zero_value"
	case StatusInvalid:
		return "invalid"
	default:
		return "pending"
	}
}

// Terminal reports whether the status may never be reclassified on a
// later load. Only DONE and DUPLICATE are terminal.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusDuplicate
}

// ParseStatus maps a status-column cell to a Status. Matching is case
// insensitive and tolerates the unaccented variants humans type; anything
// unrecognized (including empty) is pending.
func ParseStatus(raw string) Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case markerDone:
		return StatusDone
	case markerDuplicate:
		return StatusDuplicate
	case markerZeroValue:
		return StatusZeroValue
	case markerInvalid, "INVÁLIDO":
		return StatusInvalid
	default:
		return StatusPending
	}
}

// Record is one unit of work loaded from the billing spreadsheet. The
// typed core carries what the engine interprets; Fields carries every
// other column opaquely for the form filler (CURSO, CODSERVICO, ...).
type Record struct {
	Name   string
	CPF    string
	Value  float64
	Status Status

	// Row is the 1-based spreadsheet row backing this record, used for
	// cell-level status writes that preserve the sheet layout.
	Row int

	Fields map[string]string
}

// Key is the duplicate-detection business key: two records with the same
// trimmed name, identifier and resolved value are duplicates regardless
// of any other field.
func (r *Record) Key() string {
	return fmt.Sprintf("%s|%s|%.2f", strings.TrimSpace(r.Name), strings.TrimSpace(r.CPF), r.Value)
}

// Field returns a raw column value by header name.
func (r *Record) Field(name string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[name]
}
