package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/walletcore/backend/internal/models"
)

const pqUniqueViolation = "23505"

// LedgerStore is the slice of the ledger the balance engine needs. The
// Postgres implementation below is the production store; tests substitute
// an in-memory one.
type LedgerStore interface {
	ReadAccount(ctx context.Context, userID int) (*models.Account, error)
	ConditionalCommit(ctx context.Context, expectedVersion int, entry *models.TransactionEntry) (*models.TransactionEntry, error)
	FindEntryByIdempotencyKey(ctx context.Context, userID int, key string) (*models.TransactionEntry, error)
}

// PostgresLedger persists accounts and ledger entries in Postgres.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// ReadAccount returns the current balance and version for a user's account.
func (l *PostgresLedger) ReadAccount(ctx context.Context, userID int) (*models.Account, error) {
	var account models.Account
	err := l.db.QueryRowContext(ctx, `
		SELECT user_id, balance, version, updated_at
		FROM accounts
		WHERE user_id = $1`, userID).
		Scan(&account.UserID, &account.Balance, &account.Version, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnknownUser
		}
		return nil, fmt.Errorf("%w: read account: %v", ErrStorageUnavailable, err)
	}
	return &account, nil
}

// ConditionalCommit appends a ledger entry and moves the account balance to
// entry.ResultingBalance, in one transaction, conditioned on the account
// still being at expectedVersion. Either both writes commit or neither does.
func (l *PostgresLedger) ConditionalCommit(ctx context.Context, expectedVersion int, entry *models.TransactionEntry) (*models.TransactionEntry, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	committed := *entry
	err = tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (entry_id, user_id, type, amount, description, resulting_balance, idempotency_key, payload_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id, created_at`,
		entry.EntryID, entry.UserID, entry.Type, entry.Amount, entry.Description,
		entry.ResultingBalance, entry.IdempotencyKey, entry.PayloadHash).
		Scan(&committed.ID, &committed.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("%w: insert entry: %v", ErrStorageUnavailable, err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = NOW()
		WHERE user_id = $2 AND version = $3`,
		entry.ResultingBalance, entry.UserID, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: update balance: %v", ErrStorageUnavailable, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: update balance: %v", ErrStorageUnavailable, err)
	}
	if rowsAffected == 0 {
		return nil, ErrVersionConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrStorageUnavailable, err)
	}
	return &committed, nil
}

// FindEntryByIdempotencyKey returns the entry recorded under (userID, key),
// or nil when no such entry exists.
func (l *PostgresLedger) FindEntryByIdempotencyKey(ctx context.Context, userID int, key string) (*models.TransactionEntry, error) {
	var entry models.TransactionEntry
	err := l.db.QueryRowContext(ctx, `
		SELECT id, entry_id, user_id, type, amount, description, resulting_balance, idempotency_key, payload_hash, created_at
		FROM ledger_entries
		WHERE user_id = $1 AND idempotency_key = $2`, userID, key).
		Scan(&entry.ID, &entry.EntryID, &entry.UserID, &entry.Type, &entry.Amount,
			&entry.Description, &entry.ResultingBalance, &entry.IdempotencyKey,
			&entry.PayloadHash, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: find entry: %v", ErrStorageUnavailable, err)
	}
	return &entry, nil
}

// ListEntries returns a page of a user's ledger entries in creation order.
// cursor is the id of the last entry already seen (0 for the first page);
// the returned cursor is 0 once the sequence is exhausted. typeFilter is
// CREDIT, DEBIT or empty for all.
func (l *PostgresLedger) ListEntries(ctx context.Context, userID int, cursor int64, limit int, typeFilter string) ([]models.TransactionEntry, int64, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if typeFilter != "" {
		rows, err = l.db.QueryContext(ctx, `
			SELECT id, entry_id, user_id, type, amount, description, resulting_balance, idempotency_key, created_at
			FROM ledger_entries
			WHERE user_id = $1 AND id > $2 AND type = $3
			ORDER BY id ASC
			LIMIT $4`, userID, cursor, typeFilter, limit)
	} else {
		rows, err = l.db.QueryContext(ctx, `
			SELECT id, entry_id, user_id, type, amount, description, resulting_balance, idempotency_key, created_at
			FROM ledger_entries
			WHERE user_id = $1 AND id > $2
			ORDER BY id ASC
			LIMIT $3`, userID, cursor, limit)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list entries: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	entries := []models.TransactionEntry{}
	for rows.Next() {
		var entry models.TransactionEntry
		if err := rows.Scan(&entry.ID, &entry.EntryID, &entry.UserID, &entry.Type,
			&entry.Amount, &entry.Description, &entry.ResultingBalance,
			&entry.IdempotencyKey, &entry.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("%w: scan entry: %v", ErrStorageUnavailable, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: list entries: %v", ErrStorageUnavailable, err)
	}

	var nextCursor int64
	if len(entries) == limit && limit > 0 {
		nextCursor = entries[len(entries)-1].ID
	}
	return entries, nextCursor, nil
}

// EntrySummary aggregates a user's ledger: total credited and debited minor
// units and the entry count.
func (l *PostgresLedger) EntrySummary(ctx context.Context, userID int) (credits, debits int64, count int, err error) {
	err = l.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN type = 'CREDIT' THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN type = 'DEBIT' THEN amount ELSE 0 END), 0),
			COUNT(*)
		FROM ledger_entries
		WHERE user_id = $1`, userID).Scan(&credits, &debits, &count)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: entry summary: %v", ErrStorageUnavailable, err)
	}
	return credits, debits, count, nil
}

// CreateAccountTx creates a zero-balance account inside the caller's
// transaction, so user row and account row commit together.
func (l *PostgresLedger) CreateAccountTx(ctx context.Context, tx *sql.Tx, userID int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (user_id, balance, version, updated_at)
		VALUES ($1, 0, 1, $2)`, userID, time.Now())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrAlreadyExists
		}
		return fmt.Errorf("%w: create account: %v", ErrStorageUnavailable, err)
	}
	return nil
}
