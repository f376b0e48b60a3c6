package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/adarchive/api/schemas"
)

func sampleRecords() []schemas.AdRecord {
	start := time.Date(2019, 10, 1, 0, 0, 0, 0, time.FixedZone("EST", -5*3600))
	return []schemas.AdRecord{
		{
			ArchiveID:  schemas.Ptr("111"),
			Screenshot: schemas.Ptr("ad-0001.png"),
			StartDate:  &start,
			IsActive:   schemas.Ptr(true),
		},
		{ArchiveID: schemas.Ptr("222"), PageLikeCount: schemas.Ptr(int64(12))},
	}
}

func TestReady(t *testing.T) {
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	s := New(mockPool, "ad_records", zap.NewNop())
	err = s.Ready(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "ad_records"`)).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	s := New(mockPool, "ad_records", zap.NewNop())
	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestCreateTableSQL(t *testing.T) {
	sql := createTableSQL(pgx.Identifier{"ads"})
	assert.Contains(t, sql, `CREATE TABLE IF NOT EXISTS "ads"`)
	assert.Contains(t, sql, "run_id text NOT NULL")
	assert.Contains(t, sql, "start_date timestamptz")
	assert.Contains(t, sql, "is_promoted_news boolean")
	assert.Contains(t, sql, "page_like_count bigint")
	assert.Contains(t, sql, "archive_id text")
}

func TestPersistRecords(t *testing.T) {
	ctx := context.Background()

	t.Run("copies all records in one transaction", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectBegin()
		mockPool.ExpectCopyFrom(pgx.Identifier{"ad_records"}, Columns()).WillReturnResult(2)
		mockPool.ExpectCommit()
		// The deferred rollback after a commit reports a closed transaction.
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		core, logs := observer.New(zapcore.DebugLevel)
		s := New(mockPool, "ad_records", zap.New(core))

		require.NoError(t, s.PersistRecords(ctx, "run-1", sampleRecords()))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len(), "ErrTxClosed is not a rollback failure")
		assert.Equal(t, 1, logs.FilterMessage("Persisted records").Len())
	})

	t.Run("copy failure rolls back", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		copyErr := errors.New("relation does not exist")
		mockPool.ExpectBegin()
		mockPool.ExpectCopyFrom(pgx.Identifier{"ad_records"}, Columns()).WillReturnError(copyErr)
		mockPool.ExpectRollback()

		s := New(mockPool, "ad_records", zap.NewNop())
		err = s.PersistRecords(ctx, "run-1", sampleRecords())
		assert.ErrorIs(t, err, copyErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("count mismatch is an error", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectBegin()
		mockPool.ExpectCopyFrom(pgx.Identifier{"ad_records"}, Columns()).WillReturnResult(1)
		mockPool.ExpectRollback()

		s := New(mockPool, "ad_records", zap.NewNop())
		err = s.PersistRecords(ctx, "run-1", sampleRecords())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected 2, got 1")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		beginErr := errors.New("too many connections")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		s := New(mockPool, "ad_records", zap.NewNop())
		assert.ErrorIs(t, s.PersistRecords(ctx, "run-1", sampleRecords()), beginErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("no records touches nothing", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		s := New(mockPool, "ad_records", zap.NewNop())
		require.NoError(t, s.PersistRecords(ctx, "run-1", nil))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestRowOrderAndNulls(t *testing.T) {
	recs := sampleRecords()
	r := row("run-9", recs[0])

	require.Len(t, r, len(Columns()))
	assert.Equal(t, "run-9", r[0])
	assert.Equal(t, recs[0].ArchiveID, r[1])
	assert.Equal(t, time.UTC, r[6].(time.Time).Location(), "timestamps are stored in UTC")
	assert.Nil(t, r[7], "unset dates are NULL")

	r = row("run-9", recs[1])
	assert.Equal(t, recs[1].PageLikeCount, r[len(r)-1])
}
