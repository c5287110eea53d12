package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "processing_records",
		Columns:      []string{"id", "source_ref"},
		ConflictKeys: []string{"source_ref"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "processing_records",
		ConflictKeys: []string{"id"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "processing_records",
		Columns: []string{"id", "name"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_DoNothing(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_processing_records"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_processing_records"}, []string{"id", "source_ref"}).
		WillReturnResult(3)
	mock.ExpectExec(`ON CONFLICT \("source_ref"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`DROP TABLE "_tmp_upsert_processing_records"`).
		WillReturnResult(pgxmock.NewResult("DROP TABLE", 0))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "processing_records",
		Columns:      []string{"id", "source_ref"},
		ConflictKeys: []string{"source_ref"},
		DoNothing:    true,
	}, [][]any{{"a", "s1"}, {"b", "s2"}, {"c", "s3"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_InsertFails(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_feature_requests"}, []string{"id", "title"}).WillReturnResult(1)
	mock.ExpectExec(`DO UPDATE SET "title" = EXCLUDED."title"`).WillReturnError(fmt.Errorf("deadlock"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "feature_requests",
		Columns:      []string{"id", "title"},
		ConflictKeys: []string{"id"},
	}, [][]any{{"a", "Bulk export"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INSERT ON CONFLICT for feature_requests")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConflictAction(t *testing.T) {
	tests := []struct {
		name string
		cfg  UpsertConfig
		want string
	}{
		{"do nothing", UpsertConfig{Columns: []string{"id"}, ConflictKeys: []string{"id"}, DoNothing: true}, "DO NOTHING"},
		{"only keys", UpsertConfig{Columns: []string{"id"}, ConflictKeys: []string{"id"}}, "DO NOTHING"},
		{"derived", UpsertConfig{Columns: []string{"id", "a", "b"}, ConflictKeys: []string{"id"}}, `DO UPDATE SET "a" = EXCLUDED."a", "b" = EXCLUDED."b"`},
		{"explicit", UpsertConfig{Columns: []string{"id", "a", "b"}, ConflictKeys: []string{"id"}, UpdateCols: []string{"b"}}, `DO UPDATE SET "b" = EXCLUDED."b"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.conflictAction())
		})
	}
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"signals.record_chunks", `"signals"."record_chunks"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}
