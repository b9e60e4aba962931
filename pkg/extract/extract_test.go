package extract

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoSQLSync/pkg/checkpoint"
	"github.com/supporttools/GoSQLSync/pkg/config"
	"github.com/supporttools/GoSQLSync/pkg/logging"
	"github.com/supporttools/GoSQLSync/pkg/source"
	"github.com/supporttools/GoSQLSync/pkg/source/sourcetest"
	"github.com/supporttools/GoSQLSync/pkg/storage/local"
	"github.com/supporttools/GoSQLSync/pkg/storage/storagetest"
	"github.com/supporttools/GoSQLSync/pkg/storage/transfer"
)

var invoices = source.TableRef{Database: "BA_Billing", Table: "Invoices"}

var invoiceColumns = []source.ColumnMeta{
	{Name: "Id", Type: "bigint(20) unsigned", Key: source.KeyPrimary, AutoIncrement: true},
	{Name: "Amount", Type: "decimal(10,2)", Nullable: true},
}

// observingUploader checks the stored cursor at upload time, then delegates
type observingUploader struct {
	t             *testing.T
	cursors       checkpoint.CursorStore
	next          Uploader
	cursorAtPut   []uint64
	failNext      error
	uploadedPaths []string
}

func (u *observingUploader) Upload(ctx context.Context, path string) (string, error) {
	c, _, err := u.cursors.Read(ctx, invoices)
	require.NoError(u.t, err)
	u.cursorAtPut = append(u.cursorAtPut, c)
	if u.failNext != nil {
		err := u.failNext
		u.failNext = nil
		return "", err
	}
	u.uploadedPaths = append(u.uploadedPaths, path)
	return u.next.Upload(ctx, path)
}

type fixture struct {
	src      *sourcetest.Source
	cursors  *checkpoint.FileCursorStore
	store    *storagetest.Store
	uploader *observingUploader
	ext      *Extractor
}

func newFixture(t *testing.T, opts Options) *fixture {
	root := t.TempDir()
	logger := logging.Discard()
	work, err := local.NewClient(config.LocalConfig{WorkDirectory: root}, logger)
	require.NoError(t, err)

	f := &fixture{
		src:     sourcetest.New(),
		cursors: checkpoint.NewFileCursorStore(root, logger),
		store:   storagetest.New("billing-uploads"),
	}
	f.uploader = &observingUploader{t: t, cursors: f.cursors, next: transfer.NewSyncer(f.store, "", logger)}
	f.ext = New(f.cursors, f.uploader, work, opts, logger)
	return f
}

func (f *fixture) addInvoices(rows uint64, ceiling *uint64) *sourcetest.Table {
	table := &sourcetest.Table{
		Columns: invoiceColumns,
		Rows:    sourcetest.SequentialRows(0, rows, "9.99"),
		Ceiling: ceiling,
	}
	f.src.AddTable("BA_Billing", "Invoices", table)
	return table
}

func (f *fixture) run(t *testing.T, force bool) Result {
	ctx := context.Background()
	plan, err := f.ext.Plan(ctx, f.src, invoices, force)
	require.NoError(t, err)
	res, err := f.ext.Export(ctx, f.src, plan)
	require.NoError(t, err)
	return res
}

func (f *fixture) cursor(t *testing.T) (uint64, bool) {
	c, ok, err := f.cursors.Read(context.Background(), invoices)
	require.NoError(t, err)
	return c, ok
}

func TestPlanWithoutAutoIncrementIsFull(t *testing.T) {
	f := newFixture(t, Options{})
	f.src.AddTable("BA_Billing", "Rates", &sourcetest.Table{
		Columns: []source.ColumnMeta{{Name: "Code", Type: "varchar(8)", Key: source.KeyPrimary}},
		Rows:    [][]string{{"A"}, {"B"}},
	})

	ref := source.TableRef{Database: "BA_Billing", Table: "Rates"}
	plan, err := f.ext.Plan(context.Background(), f.src, ref, false)
	require.NoError(t, err)
	assert.Equal(t, ModeFull, plan.Mode)
	assert.Empty(t, plan.RangeColumn)
	assert.Equal(t, "BA_Billing.Rates.full.csv", plan.FileName())

	res, err := f.ext.Export(context.Background(), f.src, plan)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Rows)
	assert.False(t, res.CursorWritten)
	assert.Equal(t, []string{"BA_Billing.Rates.full"}, f.store.Keys())
}

func TestPlanWithoutCounterIsFull(t *testing.T) {
	f := newFixture(t, Options{})
	f.addInvoices(3, nil)

	plan, err := f.ext.Plan(context.Background(), f.src, invoices, false)
	require.NoError(t, err)
	assert.Equal(t, ModeFull, plan.Mode)
	assert.False(t, plan.HasCeiling)
}

func TestFirstIncrementalExport(t *testing.T) {
	f := newFixture(t, Options{BatchSize: 1000})
	f.addInvoices(2500, sourcetest.Ceiling(2500))

	res := f.run(t, false)

	assert.Equal(t, ModeIncremental, res.Plan.Mode)
	assert.Equal(t, uint64(0), res.Plan.Lower)
	assert.Equal(t, uint64(2500), res.Plan.Upper)
	assert.Equal(t, int64(2500), res.Rows)
	assert.Equal(t, 3, f.src.PageReads)
	assert.Equal(t, "BA_Billing.Invoices.0-2500", res.Key)

	assert.Equal(t, []uint64{0}, f.uploader.cursorAtPut, "cursor must not move before the upload")
	cursor, ok := f.cursor(t)
	assert.True(t, ok)
	assert.Equal(t, uint64(2500), cursor)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2501)
	assert.Equal(t, "Id,Amount", lines[0])
	assert.Equal(t, "2499,9.99", lines[2500])
}

func TestIncrementalRangeIsHalfOpen(t *testing.T) {
	f := newFixture(t, Options{})
	table := f.addInvoices(2500, sourcetest.Ceiling(2500))
	f.run(t, false)

	// 1500 more rows arrive; the counter moves to 4000.
	table.Rows = sourcetest.SequentialRows(0, 4000, "9.99")
	table.Ceiling = sourcetest.Ceiling(4000)

	res := f.run(t, false)
	assert.Equal(t, uint64(2500), res.Plan.Lower)
	assert.Equal(t, uint64(4000), res.Plan.Upper)
	assert.Equal(t, int64(1500), res.Rows)

	cursor, _ := f.cursor(t)
	assert.Equal(t, uint64(4000), cursor)
}

func TestRowsBeyondCeilingWaitForNextRun(t *testing.T) {
	f := newFixture(t, Options{})
	table := f.addInvoices(0, sourcetest.Ceiling(100))
	// Rows at or above the snapshotted ceiling were inserted after planning.
	table.Rows = sourcetest.SequentialRows(0, 120, "1")

	res := f.run(t, false)
	assert.Equal(t, int64(100), res.Rows)

	cursor, _ := f.cursor(t)
	assert.Equal(t, uint64(100), cursor)
}

func TestRerunWithoutNewRowsIsEmpty(t *testing.T) {
	f := newFixture(t, Options{})
	f.addInvoices(10, sourcetest.Ceiling(10))
	f.run(t, false)

	res := f.run(t, false)
	assert.Equal(t, uint64(10), res.Plan.Lower)
	assert.Equal(t, uint64(10), res.Plan.Upper)
	assert.Zero(t, res.Rows)
	assert.True(t, res.Uploaded)

	cursor, _ := f.cursor(t)
	assert.Equal(t, uint64(10), cursor)
}

func TestSkipEmptyStillAdvancesCursor(t *testing.T) {
	f := newFixture(t, Options{SkipEmpty: true})
	f.addInvoices(0, sourcetest.Ceiling(1))

	res := f.run(t, false)
	assert.Zero(t, res.Rows)
	assert.False(t, res.Uploaded)
	assert.True(t, res.CursorWritten)
	assert.Empty(t, f.store.Keys())

	cursor, _ := f.cursor(t)
	assert.Equal(t, uint64(1), cursor)
}

func TestUploadFailureLeavesCursor(t *testing.T) {
	f := newFixture(t, Options{})
	f.addInvoices(50, sourcetest.Ceiling(50))
	f.uploader.failNext = errors.New("connection reset by peer")

	ctx := context.Background()
	plan, err := f.ext.Plan(ctx, f.src, invoices, false)
	require.NoError(t, err)
	_, err = f.ext.Export(ctx, f.src, plan)
	require.Error(t, err)

	_, ok := f.cursor(t)
	assert.False(t, ok)

	// The retry covers the same range and lands on the same key.
	res := f.run(t, false)
	assert.Equal(t, "BA_Billing.Invoices.0-50", res.Key)
	assert.Equal(t, int64(50), res.Rows)
}

func TestReexportSameRangeIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	f.addInvoices(20, sourcetest.Ceiling(20))

	ctx := context.Background()
	plan, err := f.ext.Plan(ctx, f.src, invoices, false)
	require.NoError(t, err)
	_, err = f.ext.Export(ctx, f.src, plan)
	require.NoError(t, err)
	_, err = f.ext.Export(ctx, f.src, plan)
	require.NoError(t, err)

	assert.Equal(t, []string{"BA_Billing.Invoices.0-20"}, f.store.Keys())
	assert.Equal(t, 2, f.store.Puts)
}

func TestForceFullRecordsCeiling(t *testing.T) {
	f := newFixture(t, Options{})
	f.addInvoices(30, sourcetest.Ceiling(30))
	require.NoError(t, f.cursors.Write(context.Background(), invoices, 10))

	res := f.run(t, true)
	assert.Equal(t, ModeFull, res.Plan.Mode)
	assert.Equal(t, int64(30), res.Rows)
	assert.Equal(t, "BA_Billing.Invoices.full", res.Key)

	cursor, _ := f.cursor(t)
	assert.Equal(t, uint64(30), cursor)
}

func TestCounterResetKeepsCursor(t *testing.T) {
	f := newFixture(t, Options{})
	f.addInvoices(5, sourcetest.Ceiling(5))
	require.NoError(t, f.cursors.Write(context.Background(), invoices, 5000))

	for _, force := range []bool{false, true} {
		res := f.run(t, force)
		assert.True(t, res.Plan.Regressed())
		assert.False(t, res.CursorWritten)

		cursor, _ := f.cursor(t)
		assert.Equal(t, uint64(5000), cursor, "cursor never moves backwards")
	}
}

func TestCursorIsMonotonicAcrossRuns(t *testing.T) {
	f := newFixture(t, Options{BatchSize: 7})
	table := f.addInvoices(0, sourcetest.Ceiling(0))

	var previous uint64
	for _, ceiling := range []uint64{0, 15, 15, 40, 41, 100} {
		table.Rows = sourcetest.SequentialRows(0, ceiling, "x")
		table.Ceiling = sourcetest.Ceiling(ceiling)

		res := f.run(t, false)
		assert.Equal(t, int64(ceiling-previous), res.Rows)

		cursor, _ := f.cursor(t)
		assert.GreaterOrEqual(t, cursor, previous)
		previous = cursor
	}
	assert.Equal(t, uint64(100), previous)
}

func TestTransientQueryErrorPropagates(t *testing.T) {
	f := newFixture(t, Options{})
	f.addInvoices(5, sourcetest.Ceiling(5))
	f.src.FailOnce(sourcetest.OpQueryPages, "Invoices", source.MarkTransient(errors.New("read timeout")))

	ctx := context.Background()
	plan, err := f.ext.Plan(ctx, f.src, invoices, false)
	require.NoError(t, err)
	_, err = f.ext.Export(ctx, f.src, plan)
	require.Error(t, err)
	assert.True(t, source.IsTransient(err))
	assert.Empty(t, f.store.Keys())
}
