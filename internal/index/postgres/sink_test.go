package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/signac-index/internal/document"
)

func TestReplaceOneUpsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO signac_index").
		WithArgs("id1", []byte(`{"_id":"id1","a":1}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = sink.ReplaceOne(context.Background(), "id1", document.Document{"_id": "id1", "a": 1})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceOnePropagatesErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock, "docs")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO docs").
		WithArgs("id1", []byte(`{"_id":"id1"}`)).
		WillReturnError(errors.New("db down"))

	err = sink.ReplaceOne(context.Background(), "id1", document.Document{"_id": "id1"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, sink.ReplaceOne(context.Background(), "", document.Document{}))
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock, "docs")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS docs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, sink.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConstructorsValidate(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "docs")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "bad;table")
	require.Error(t, err)

	_, err = New(context.Background(), Config{})
	require.Error(t, err)
}

type fakeBatchResults struct {
	execErrs []error
	calls    int
	closed   bool
}

func (r *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	var err error
	if r.calls < len(r.execErrs) {
		err = r.execErrs[r.calls]
	}
	r.calls++
	return pgconn.NewCommandTag("INSERT 0 1"), err
}

func (r *fakeBatchResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }

func (r *fakeBatchResults) QueryRow() pgx.Row { return nil }

func (r *fakeBatchResults) Close() error {
	r.closed = true
	return nil
}

type fakePool struct {
	batch   *pgx.Batch
	results *fakeBatchResults
}

func (p *fakePool) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (p *fakePool) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	p.batch = b
	return p.results
}

func (p *fakePool) Close() {}

func TestBulkReplaceQueuesOneUpsertPerEntry(t *testing.T) {
	t.Parallel()

	pool := &fakePool{results: &fakeBatchResults{}}
	sink, err := NewWithPool(pool, "")
	require.NoError(t, err)

	entries := []document.Entry{
		{ID: "a", Doc: document.Document{"_id": "a"}},
		{ID: "b", Doc: document.Document{"_id": "b"}},
	}
	require.NoError(t, sink.BulkReplace(context.Background(), entries))
	require.NotNil(t, pool.batch)
	assert.Equal(t, 2, pool.batch.Len())
	assert.Equal(t, 2, pool.results.calls)
	assert.True(t, pool.results.closed)

	require.NoError(t, sink.BulkReplace(context.Background(), nil))
}

func TestBulkReplaceReportsFailedEntry(t *testing.T) {
	t.Parallel()

	pool := &fakePool{results: &fakeBatchResults{execErrs: []error{nil, errors.New("conflict")}}}
	sink, err := NewWithPool(pool, "")
	require.NoError(t, err)

	err = sink.BulkReplace(context.Background(), []document.Entry{
		{ID: "a", Doc: document.Document{"_id": "a"}},
		{ID: "b", Doc: document.Document{"_id": "b"}},
	})
	require.ErrorContains(t, err, "upsert document b")
	assert.True(t, pool.results.closed)
}
