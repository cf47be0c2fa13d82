package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/tge-sentinel/internal/health"
	"github.com/sells-group/tge-sentinel/internal/model"
	"github.com/sells-group/tge-sentinel/internal/store"
)

func testRows() []sourceRow {
	open := time.Date(2026, 10, 1, 13, 0, 0, 0, time.UTC)
	return []sourceRow{
		{SourceID: "blog", State: "closed", Score: 0.82, SuccessCount: 9, FailureCount: 1, YieldCount: 7},
		{SourceID: "flaky", State: "open", Score: 0, FailureCount: 3, ConsecutiveFailures: 3, CircuitOpenUntil: &open},
	}
}

func TestSourceRows_RankedThenOpen(t *testing.T) {
	tr := health.NewTracker(health.DefaultConfig())
	for i := 0; i < 3; i++ {
		tr.RecordOutcome("a-broken", false, 0)
	}
	for i := 0; i < 5; i++ {
		tr.RecordOutcome("b-dull", true, 0)
		tr.RecordOutcome("c-good", true, 1)
	}

	rows := sourceRows(tr)
	require.Len(t, rows, 3)
	assert.Equal(t, "c-good", rows[0].SourceID)
	assert.InDelta(t, 1.0, rows[0].Score, 1e-9)
	assert.Equal(t, "b-dull", rows[1].SourceID)
	assert.Equal(t, "a-broken", rows[2].SourceID)
	assert.Equal(t, "open", rows[2].State)
}

func TestLoadSourceRows_FromStore(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "s.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.SaveSources(ctx, []model.SourceRecord{
		{SourceID: "x-feed", SuccessCount: 2, YieldCount: 1},
	}))

	rows, err := loadSourceRows(ctx, st, health.NewTracker(health.DefaultConfig()))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "x-feed", rows[0].SourceID)
	assert.Equal(t, "closed", rows[0].State)
	assert.InDelta(t, 0.5, rows[0].Score, 1e-9)
}

func TestWriteSourcesTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSourcesTable(&buf, testRows()))

	out := buf.String()
	assert.Contains(t, out, "SOURCE")
	assert.Contains(t, out, "blog")
	assert.Contains(t, out, "0.820")
	assert.Contains(t, out, "2026-10-01 13:00")
}

func TestWriteSourcesTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSourcesTable(&buf, nil))
	assert.Equal(t, "no sources tracked yet\n", buf.String())
}

func TestWriteSourcesCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSourcesCSV(&buf, testRows()))

	assert.Equal(t,
		"SOURCE,STATE,SCORE,SUCCESS,FAILURE,YIELD,CONSEC_FAIL,OPEN_UNTIL,LAST_SUCCESS\n"+
			"blog,closed,0.820,9,1,7,0,-,-\n"+
			"flaky,open,0.000,0,3,0,3,2026-10-01 13:00,-\n",
		buf.String())
}

func TestWriteSourcesXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.xlsx")
	require.NoError(t, writeSourcesXLSX(path, testRows()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet, ok := f.Sheet["Sources"]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, "SOURCE", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "flaky", sheet.Rows[2].Cells[0].String())
	assert.Equal(t, "open", sheet.Rows[2].Cells[1].String())
}

func TestWriteSourcesXLSX_BadPath(t *testing.T) {
	err := writeSourcesXLSX(filepath.Join(t.TempDir(), "missing", "x.xlsx"), testRows())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xlsx: save file")
}
