package costlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	ledger, err := Open(filepath.Join(t.TempDir(), "costs.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	return ledger
}

func TestLedgerRecordAndTotals(t *testing.T) {
	ledger := openLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.Record(ctx, Entry{
		QueryID:         "q1",
		Query:           "What is the average porosity?",
		Strategy:        "llm_generation",
		Model:           "ibm/granite-3-8b-instruct",
		InputTokens:     120,
		GeneratedTokens: 40,
		Duration:        750 * time.Millisecond,
	}))
	require.NoError(t, ledger.Record(ctx, Entry{
		QueryID:  "q2",
		Query:    "How many wells are there?",
		Strategy: "well_count",
		Duration: 30 * time.Millisecond,
	}))

	totals, err := ledger.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, totals.Queries)
	assert.Equal(t, 120, totals.InputTokens)
	assert.Equal(t, 40, totals.GeneratedTokens)
}

func TestLedgerEmptyTotals(t *testing.T) {
	ledger := openLedger(t)

	totals, err := ledger.Totals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Totals{}, totals)
}

func TestLedgerReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "costs.db")
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	ctx := context.Background()

	first, err := Open(path, logger)
	require.NoError(t, err)
	require.NoError(t, first.Record(ctx, Entry{QueryID: "q1", Query: "q", Strategy: "well_count"}))
	require.NoError(t, first.Close())

	second, err := Open(path, logger)
	require.NoError(t, err)
	defer second.Close()

	totals, err := second.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, totals.Queries)
}

func TestLedgerRequiresPath(t *testing.T) {
	_, err := Open("", nil)
	assert.Error(t, err)
}

func TestNilLedgerNoOps(t *testing.T) {
	var ledger *Ledger
	ctx := context.Background()

	assert.NoError(t, ledger.Record(ctx, Entry{QueryID: "q"}))
	totals, err := ledger.Totals(ctx)
	assert.NoError(t, err)
	assert.Equal(t, Totals{}, totals)
	assert.NoError(t, ledger.Close())
}
