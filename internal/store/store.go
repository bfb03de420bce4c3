// -----------------------------------------------------------------------
// Record Store - durable per-record status over the billing spreadsheet
// -----------------------------------------------------------------------

package store

import (
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/xuri/excelize/v2"

	"github.com/rlourenco/emissor/internal/models"
)

const (
	// Mandatory identity columns. Rows missing either are silently
	// dropped, not classified.
	colName = "ALUNO"
	colCPF  = "CPF"

	// StatusColumn is appended on first load and rewritten cell-by-cell
	// afterwards.
	StatusColumn = "PROCESSADO"
)

// valueColumnCandidates is the fixed-priority list used to resolve the
// monetary-value column from the header row.
var valueColumnCandidates = []string{
	"B.C NF", "B.C ISS", "VALOR", "VALOR NF", "VALOR ISS", "VALORORIGINAL",
}

// Store loads the dataset, classifies records and persists status
// changes. It is the only writer of the spreadsheet; every status change
// is saved synchronously before the call returns.
type Store struct {
	path      string
	file      *excelize.File
	sheet     string
	headers   []string
	statusCol int // 1-based column index of StatusColumn
	valueCol  string
	records   []*models.Record
	logger    arbor.ILogger
}

// Open loads the spreadsheet at path and classifies every record.
// On first load (status column absent) the sheet is rewritten with a
// normalized layout plus the status column appended; on later loads only
// status cells are touched, so human edits to the layout survive.
func Open(path string, logger arbor.ILogger) (*Store, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", models.ErrDataset, path, err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: %s has no sheets", models.ErrDataset, path)
	}

	s := &Store{
		path:   path,
		file:   f,
		sheet:  sheets[0],
		logger: logger,
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Records returns the ordered record sequence for this run. The
// orchestrator addresses these by index; the slice is never reordered.
func (s *Store) Records() []*models.Record {
	return s.records
}

// ValueColumn returns the header resolved as the monetary-value column.
func (s *Store) ValueColumn() string {
	return s.valueCol
}

// Path returns the dataset path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) load() error {
	rows, err := s.file.GetRows(s.sheet)
	if err != nil {
		return fmt.Errorf("%w: failed to read rows: %v", models.ErrDataset, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: %s is empty", models.ErrDataset, s.path)
	}

	s.headers = make([]string, len(rows[0]))
	for i, h := range rows[0] {
		s.headers[i] = strings.TrimSpace(h)
	}

	nameIdx := s.headerIndex(colName)
	cpfIdx := s.headerIndex(colCPF)
	if nameIdx < 0 || cpfIdx < 0 {
		return fmt.Errorf("%w: missing mandatory columns %s/%s", models.ErrDataset, colName, colCPF)
	}

	statusIdx := s.headerIndex(StatusColumn)
	firstLoad := statusIdx < 0

	s.resolveValueColumn(statusIdx)

	valueIdx := s.headerIndex(s.valueCol)
	dropped := 0
	s.records = nil
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		name := strings.TrimSpace(cellAt(row, nameIdx))
		cpf := strings.TrimSpace(cellAt(row, cpfIdx))
		if name == "" || cpf == "" {
			dropped++
			continue
		}

		rec := &models.Record{
			Name:   name,
			CPF:    cpf,
			Row:    i + 1,
			Fields: make(map[string]string, len(s.headers)),
		}
		for c, h := range s.headers {
			if h == "" || h == StatusColumn {
				continue
			}
			rec.Fields[h] = strings.TrimSpace(cellAt(row, c))
		}
		if !firstLoad {
			rec.Status = models.ParseStatus(cellAt(row, statusIdx))
		}
		s.classify(rec, valueIdx >= 0)
		s.records = append(s.records, rec)
	}

	s.markDuplicates()

	if dropped > 0 {
		s.logger.Warn().Int("rows", dropped).Msg("Dropped rows missing name or CPF")
	}
	s.logger.Info().
		Int("records", len(s.records)).
		Str("value_column", s.valueCol).
		Bool("first_load", firstLoad).
		Msg("Spreadsheet loaded")

	if firstLoad {
		return s.rewriteNormalized()
	}
	return s.flushStatuses(rows, statusIdx)
}

// classify re-evaluates ZERO_VALUE/INVALID/PENDING from current data.
// DONE and DUPLICATE are terminal and never touched, so a spreadsheet
// edited between runs is respected without losing confirmed work.
func (s *Store) classify(rec *models.Record, hasValueCol bool) {
	if rec.Status.Terminal() {
		if hasValueCol {
			if v, err := ParseMoney(rec.Field(s.valueCol)); err == nil {
				rec.Value = v
			}
		}
		return
	}

	if !hasValueCol {
		rec.Status = models.StatusInvalid
		return
	}

	v, err := ParseMoney(rec.Field(s.valueCol))
	switch {
	case err != nil:
		rec.Status = models.StatusInvalid
	case v == 0:
		rec.Status = models.StatusZeroValue
	default:
		rec.Value = v
		rec.Status = models.StatusPending
	}
}

// markDuplicates assigns DUPLICATE to the second and later occurrences
// of a business key, in dataset order. The first occurrence always keeps
// its prior status, and terminal records are never downgraded.
func (s *Store) markDuplicates() {
	seen := make(map[string]bool, len(s.records))
	for _, rec := range s.records {
		key := rec.Key()
		if !seen[key] {
			seen[key] = true
			continue
		}
		if rec.Status.Terminal() {
			continue
		}
		rec.Status = models.StatusDuplicate
		s.logger.Warn().
			Str("name", rec.Name).
			Int("row", rec.Row).
			Msg("Duplicate record marked")
	}
}

// resolveValueColumn picks the monetary column: fixed-priority candidate
// list first, then the autodetect fallback (last non-empty header that
// is not the status column).
func (s *Store) resolveValueColumn(statusIdx int) {
	for _, cand := range valueColumnCandidates {
		if s.headerIndex(cand) >= 0 {
			s.valueCol = cand
			return
		}
	}
	for i := len(s.headers) - 1; i >= 0; i-- {
		if i == statusIdx || s.headers[i] == "" {
			continue
		}
		if s.headers[i] == colName || s.headers[i] == colCPF {
			continue
		}
		s.valueCol = s.headers[i]
		s.logger.Warn().
			Str("column", s.valueCol).
			Msg("No known value column; autodetected last header column")
		return
	}
}

// rewriteNormalized rewrites the whole sheet on first load: original
// header order plus the status column appended, one row per kept record.
func (s *Store) rewriteNormalized() error {
	out := excelize.NewFile()
	defer out.Close()
	out.SetSheetName(out.GetSheetList()[0], s.sheet)

	headers := make([]string, 0, len(s.headers)+1)
	for _, h := range s.headers {
		if h != "" {
			headers = append(headers, h)
		}
	}
	headers = append(headers, StatusColumn)

	headerRow := make([]interface{}, len(headers))
	for i, h := range headers {
		headerRow[i] = h
	}
	if err := out.SetSheetRow(s.sheet, "A1", &headerRow); err != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	for i, rec := range s.records {
		row := make([]interface{}, len(headers))
		for c, h := range headers {
			if h == StatusColumn {
				row[c] = rec.Status.Marker()
			} else {
				row[c] = rec.Field(h)
			}
		}
		axis, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("%w: %v", models.ErrPersistence, err)
		}
		if err := out.SetSheetRow(s.sheet, axis, &row); err != nil {
			return fmt.Errorf("%w: %v", models.ErrPersistence, err)
		}
		rec.Row = i + 2
	}

	if err := out.SaveAs(s.path); err != nil {
		return fmt.Errorf("%w: failed to save %s: %v", models.ErrPersistence, s.path, err)
	}

	// Reopen so later cell-level writes go against the normalized file.
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return fmt.Errorf("%w: failed to reopen %s: %v", models.ErrPersistence, s.path, err)
	}
	s.file.Close()
	s.file = f
	s.headers = headers
	s.statusCol = len(headers)

	s.logger.Info().Msg("Status column added and spreadsheet normalized")
	return nil
}

// flushStatuses writes back only the status cells that changed during
// reclassification, preserving the rest of the sheet untouched.
func (s *Store) flushStatuses(rows [][]string, statusIdx int) error {
	s.statusCol = statusIdx + 1

	changed := 0
	for _, rec := range s.records {
		prev := ""
		if rec.Row-1 < len(rows) {
			prev = strings.TrimSpace(cellAt(rows[rec.Row-1], statusIdx))
		}
		if models.ParseStatus(prev) == rec.Status && prev != "" {
			continue
		}
		if err := s.writeStatusCell(rec); err != nil {
			return err
		}
		changed++
	}

	if changed == 0 {
		return nil
	}
	if err := s.file.Save(); err != nil {
		return fmt.Errorf("%w: failed to save %s: %v", models.ErrPersistence, s.path, err)
	}
	s.logger.Info().Int("cells", changed).Msg("Reclassified statuses written back")
	return nil
}

// MarkDone persists DONE for a single record with an immediate durable
// write, so a crash right after a confirmed submission never loses it.
func (s *Store) MarkDone(index int) error {
	if index < 0 || index >= len(s.records) {
		return fmt.Errorf("%w: index %d out of range (size %d)", models.ErrPersistence, index, len(s.records))
	}
	rec := s.records[index]
	if rec == nil {
		return fmt.Errorf("%w: no record at index %d", models.ErrPersistence, index)
	}

	rec.Status = models.StatusDone
	if err := s.writeStatusCell(rec); err != nil {
		return err
	}
	if err := s.file.Save(); err != nil {
		return fmt.Errorf("%w: failed to save %s: %v", models.ErrPersistence, s.path, err)
	}

	s.logger.Info().
		Str("name", rec.Name).
		Int("index", index).
		Msg("Record marked as processed")
	return nil
}

// Close releases the spreadsheet handle without writing.
func (s *Store) Close() error {
	return s.file.Close()
}

func (s *Store) writeStatusCell(rec *models.Record) error {
	axis, err := excelize.CoordinatesToCellName(s.statusCol, rec.Row)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	if err := s.file.SetCellValue(s.sheet, axis, rec.Status.Marker()); err != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return nil
}

func (s *Store) headerIndex(name string) int {
	for i, h := range s.headers {
		if strings.EqualFold(h, name) {
			return i
		}
	}
	return -1
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
