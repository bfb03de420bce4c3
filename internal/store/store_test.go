package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/xuri/excelize/v2"

	"github.com/rlourenco/emissor/internal/models"
)

// writeSheet creates a spreadsheet fixture with the given header and
// rows on the default sheet.
func writeSheet(t *testing.T, path string, headers []string, rows [][]interface{}) {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetList()[0]

	headerRow := make([]interface{}, len(headers))
	for i, h := range headers {
		headerRow[i] = h
	}
	require.NoError(t, f.SetSheetRow(sheet, "A1", &headerRow))

	for i, row := range rows {
		axis, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, axis, &row))
	}
	require.NoError(t, f.SaveAs(path))
}

func setCell(t *testing.T, path, axis string, value interface{}) {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.SetCellValue(f.GetSheetList()[0], axis, value))
	require.NoError(t, f.Save())
}

func fixturePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "faturamento.xlsx")
}

func TestFirstLoadClassification(t *testing.T) {
	path := fixturePath(t)
	writeSheet(t, path,
		[]string{"ALUNO", "CPF", "CURSO", "VALOR"},
		[][]interface{}{
			{"Maria Silva", "111.222.333-44", "Direito", "980,50"},
			{"João Souza", "222.333.444-55", "Medicina", "0,00"},
			{"Ana Costa", "333.444.555-66", "Engenharia", "abc"},
			{"Maria Silva", "111.222.333-44", "Direito", "980,50"},
			{"", "444.555.666-77", "Letras", "100,00"},
		})

	s, err := Open(path, arbor.NewLogger())
	require.NoError(t, err)
	defer s.Close()

	records := s.Records()
	require.Len(t, records, 4) // row missing the name is dropped

	assert.Equal(t, models.StatusPending, records[0].Status)
	assert.InDelta(t, 980.50, records[0].Value, 0.001)
	assert.Equal(t, models.StatusZeroValue, records[1].Status)
	assert.Equal(t, models.StatusInvalid, records[2].Status)
	assert.Equal(t, models.StatusDuplicate, records[3].Status)
	assert.Equal(t, "VALOR", s.ValueColumn())
}

func TestFirstLoadAppendsStatusColumn(t *testing.T) {
	path := fixturePath(t)
	writeSheet(t, path,
		[]string{"ALUNO", "CPF", "VALOR"},
		[][]interface{}{
			{"Maria Silva", "111.222.333-44", "980,50"},
			{"João Souza", "222.333.444-55", "0,00"},
		})

	s, err := Open(path, arbor.NewLogger())
	require.NoError(t, err)
	s.Close()

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetList()[0])
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "PROCESSADO", rows[0][len(rows[0])-1])
	assert.Equal(t, "NÃO", rows[1][3])
	assert.Equal(t, "ZERADO", rows[2][3])
}

func TestReloadKeepsStatuses(t *testing.T) {
	path := fixturePath(t)
	writeSheet(t, path,
		[]string{"ALUNO", "CPF", "VALOR"},
		[][]interface{}{
			{"Maria Silva", "111.222.333-44", "980,50"},
			{"João Souza", "222.333.444-55", "750,00"},
		})

	s, err := Open(path, arbor.NewLogger())
	require.NoError(t, err)
	require.NoError(t, s.MarkDone(0))
	s.Close()

	s2, err := Open(path, arbor.NewLogger())
	require.NoError(t, err)
	defer s2.Close()

	records := s2.Records()
	require.Len(t, records, 2)
	assert.Equal(t, models.StatusDone, records[0].Status)
	assert.Equal(t, models.StatusPending, records[1].Status)
}

func TestMarkDonePersistsImmediately(t *testing.T) {
	path := fixturePath(t)
	writeSheet(t, path,
		[]string{"ALUNO", "CPF", "VALOR"},
		[][]interface{}{
			{"Maria Silva", "111.222.333-44", "980,50"},
		})

	s, err := Open(path, arbor.NewLogger())
	require.NoError(t, err)
	require.NoError(t, s.MarkDone(0))
	s.Close()

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetList()[0])
	require.NoError(t, err)
	assert.Equal(t, "SIM", rows[1][3])
}

func TestMarkDoneOutOfRange(t *testing.T) {
	path := fixturePath(t)
	writeSheet(t, path,
		[]string{"ALUNO", "CPF", "VALOR"},
		[][]interface{}{
			{"Maria Silva", "111.222.333-44", "980,50"},
		})

	s, err := Open(path, arbor.NewLogger())
	require.NoError(t, err)
	defer s.Close()

	err = s.MarkDone(5)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrPersistence)
}

func TestEditedValueReclassifiedOnReload(t *testing.T) {
	path := fixturePath(t)
	writeSheet(t, path,
		[]string{"ALUNO", "CPF", "VALOR"},
		[][]interface{}{
			{"João Souza", "222.333.444-55", "0,00"},
		})

	s, err := Open(path, arbor.NewLogger())
	require.NoError(t, err)
	require.Equal(t, models.StatusZeroValue, s.Records()[0].Status)
	s.Close()

	// Operator fixes the value between runs.
	setCell(t, path, "C2", "450,00")

	s2, err := Open(path, arbor.NewLogger())
	require.NoError(t, err)
	defer s2.Close()

	rec := s2.Records()[0]
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.InDelta(t, 450.00, rec.Value, 0.001)
}

func TestTerminalStatusNeverDowngraded(t *testing.T) {
	path := fixturePath(t)
	writeSheet(t, path,
		[]string{"ALUNO", "CPF", "VALOR"},
		[][]interface{}{
			{"Maria Silva", "111.222.333-44", "980,50"},
		})

	s, err := Open(path, arbor.NewLogger())
	require.NoError(t, err)
	require.NoError(t, s.MarkDone(0))
	s.Close()

	// Value turns invalid between runs; DONE still wins.
	setCell(t, path, "C2", "not a number")

	s2, err := Open(path, arbor.NewLogger())
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, models.StatusDone, s2.Records()[0].Status)
}

func TestValueColumnPriority(t *testing.T) {
	path := fixturePath(t)
	writeSheet(t, path,
		[]string{"ALUNO", "CPF", "VALOR", "B.C ISS"},
		[][]interface{}{
			{"Maria Silva", "111.222.333-44", "980,50", "123,00"},
		})

	s, err := Open(path, arbor.NewLogger())
	require.NoError(t, err)
	defer s.Close()

	// "B.C ISS" outranks "VALOR" in the candidate list.
	assert.Equal(t, "B.C ISS", s.ValueColumn())
	assert.InDelta(t, 123.00, s.Records()[0].Value, 0.001)
}

func TestValueColumnAutodetect(t *testing.T) {
	path := fixturePath(t)
	writeSheet(t, path,
		[]string{"ALUNO", "CPF", "MENSALIDADE"},
		[][]interface{}{
			{"Maria Silva", "111.222.333-44", "980,50"},
		})

	s, err := Open(path, arbor.NewLogger())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "MENSALIDADE", s.ValueColumn())
	assert.Equal(t, models.StatusPending, s.Records()[0].Status)
}

func TestMissingMandatoryColumns(t *testing.T) {
	path := fixturePath(t)
	writeSheet(t, path,
		[]string{"NOME", "DOCUMENTO", "VALOR"},
		[][]interface{}{
			{"Maria Silva", "111.222.333-44", "980,50"},
		})

	_, err := Open(path, arbor.NewLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDataset)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.xlsx"), arbor.NewLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDataset)
}
