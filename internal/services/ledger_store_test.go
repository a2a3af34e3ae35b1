package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walletcore/backend/internal/models"
)

func TestPostgresLedger_ReadAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewPostgresLedger(db)
	ctx := context.Background()

	t.Run("existing account", func(t *testing.T) {
		mock.ExpectQuery("SELECT user_id, balance, version, updated_at FROM accounts WHERE user_id = \\$1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance", "version", "updated_at"}).
				AddRow(1, 7550, 3, time.Now()))

		account, err := ledger.ReadAccount(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(7550), account.Balance)
		assert.Equal(t, 3, account.Version)
	})

	t.Run("unknown user", func(t *testing.T) {
		mock.ExpectQuery("SELECT user_id, balance, version, updated_at FROM accounts").
			WithArgs(99).
			WillReturnError(sql.ErrNoRows)

		_, err := ledger.ReadAccount(ctx, 99)
		assert.ErrorIs(t, err, ErrUnknownUser)
	})

	t.Run("storage failure", func(t *testing.T) {
		mock.ExpectQuery("SELECT user_id, balance, version, updated_at FROM accounts").
			WithArgs(1).
			WillReturnError(sql.ErrConnDone)

		_, err := ledger.ReadAccount(ctx, 1)
		assert.ErrorIs(t, err, ErrStorageUnavailable)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func testEntry() *models.TransactionEntry {
	return &models.TransactionEntry{
		EntryID:          "7f9c24e5-1f0b-4c92-9f0a-2b8e5f6a7d01",
		UserID:           1,
		Type:             models.EntryTypeCredit,
		Amount:           10050,
		Description:      "Initial deposit",
		ResultingBalance: 10050,
		IdempotencyKey:   "order-1",
		PayloadHash:      PayloadHash(models.EntryTypeCredit, 10050, "Initial deposit"),
	}
}

func TestPostgresLedger_ConditionalCommit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewPostgresLedger(db)
	ctx := context.Background()

	t.Run("successful commit", func(t *testing.T) {
		entry := testEntry()

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs(entry.EntryID, entry.UserID, entry.Type, entry.Amount, entry.Description,
				entry.ResultingBalance, entry.IdempotencyKey, entry.PayloadHash).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(17, time.Now()))
		mock.ExpectExec("UPDATE accounts SET balance = \\$1, version = version \\+ 1, updated_at = NOW\\(\\) WHERE user_id = \\$2 AND version = \\$3").
			WithArgs(entry.ResultingBalance, entry.UserID, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		committed, err := ledger.ConditionalCommit(ctx, 1, entry)
		require.NoError(t, err)
		assert.Equal(t, int64(17), committed.ID)
		assert.Equal(t, entry.EntryID, committed.EntryID)
	})

	t.Run("version conflict rolls back", func(t *testing.T) {
		entry := testEntry()

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(18, time.Now()))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(entry.ResultingBalance, entry.UserID, 1).
			WillReturnResult(sqlmock.NewResult(0, 0)) // another writer won
		mock.ExpectRollback()

		_, err := ledger.ConditionalCommit(ctx, 1, entry)
		assert.ErrorIs(t, err, ErrVersionConflict)
	})

	t.Run("duplicate idempotency key rolls back", func(t *testing.T) {
		entry := testEntry()

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnError(&pq.Error{Code: pqUniqueViolation})
		mock.ExpectRollback()

		_, err := ledger.ConditionalCommit(ctx, 1, entry)
		assert.ErrorIs(t, err, ErrDuplicateKey)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_FindEntryByIdempotencyKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewPostgresLedger(db)
	ctx := context.Background()

	columns := []string{"id", "entry_id", "user_id", "type", "amount", "description",
		"resulting_balance", "idempotency_key", "payload_hash", "created_at"}

	t.Run("entry exists", func(t *testing.T) {
		mock.ExpectQuery("payload_hash, created_at FROM ledger_entries WHERE user_id = \\$1 AND idempotency_key = \\$2").
			WithArgs(1, "order-1").
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(17, "entry-uuid", 1, "CREDIT", 10050, "Initial deposit", 10050, "order-1", "hash", time.Now()))

		entry, err := ledger.FindEntryByIdempotencyKey(ctx, 1, "order-1")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, "entry-uuid", entry.EntryID)
		assert.Equal(t, int64(10050), entry.ResultingBalance)
	})

	t.Run("no entry", func(t *testing.T) {
		mock.ExpectQuery("payload_hash, created_at FROM ledger_entries").
			WithArgs(1, "missing").
			WillReturnError(sql.ErrNoRows)

		entry, err := ledger.FindEntryByIdempotencyKey(ctx, 1, "missing")
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_ListEntries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewPostgresLedger(db)
	ctx := context.Background()

	columns := []string{"id", "entry_id", "user_id", "type", "amount", "description",
		"resulting_balance", "idempotency_key", "created_at"}

	t.Run("full page returns cursor", func(t *testing.T) {
		mock.ExpectQuery("idempotency_key, created_at FROM ledger_entries WHERE user_id = \\$1 AND id > \\$2 ORDER BY id ASC LIMIT \\$3").
			WithArgs(1, int64(0), 2).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(1, "e1", 1, "CREDIT", 10050, "Initial deposit", 10050, "k1", time.Now()).
				AddRow(2, "e2", 1, "DEBIT", 2500, "Purchase payment", 7550, "k2", time.Now()))

		entries, cursor, err := ledger.ListEntries(ctx, 1, 0, 2, "")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "e1", entries[0].EntryID)
		assert.Equal(t, int64(7550), entries[1].ResultingBalance)
		assert.Equal(t, int64(2), cursor)
	})

	t.Run("short page ends pagination", func(t *testing.T) {
		mock.ExpectQuery("idempotency_key, created_at FROM ledger_entries WHERE user_id = \\$1 AND id > \\$2 ORDER BY id ASC LIMIT \\$3").
			WithArgs(1, int64(2), 2).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(3, "e3", 1, "CREDIT", 100, "", 7650, "k3", time.Now()))

		entries, cursor, err := ledger.ListEntries(ctx, 1, 2, 2, "")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, int64(0), cursor)
	})

	t.Run("type filter", func(t *testing.T) {
		mock.ExpectQuery("FROM ledger_entries WHERE user_id = \\$1 AND id > \\$2 AND type = \\$3").
			WithArgs(1, int64(0), "DEBIT", 50).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(2, "e2", 1, "DEBIT", 2500, "Purchase payment", 7550, "k2", time.Now()))

		entries, _, err := ledger.ListEntries(ctx, 1, 0, 50, "DEBIT")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "DEBIT", entries[0].Type)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_EntrySummary(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewPostgresLedger(db)

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"credits", "debits", "count"}).AddRow(10050, 2500, 2))

	credits, debits, count, err := ledger.EntrySummary(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10050), credits)
	assert.Equal(t, int64(2500), debits)
	assert.Equal(t, 2, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_CreateAccountTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewPostgresLedger(db)
	ctx := context.Background()

	t.Run("creates zero balance account", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(1, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		tx, err := db.Begin()
		require.NoError(t, err)
		require.NoError(t, ledger.CreateAccountTx(ctx, tx, 1))
		require.NoError(t, tx.Commit())
	})

	t.Run("duplicate account", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(1, sqlmock.AnyArg()).
			WillReturnError(&pq.Error{Code: pqUniqueViolation})
		mock.ExpectRollback()

		tx, err := db.Begin()
		require.NoError(t, err)
		assert.ErrorIs(t, ledger.CreateAccountTx(ctx, tx, 1), ErrAlreadyExists)
		require.NoError(t, tx.Rollback())
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
