package models

import (
	"time"
)

// Account holds the mutable wallet state for one user. Balance is in minor
// units (cents); version is bumped on every successful mutation and backs
// the optimistic-concurrency check in the balance engine.
type Account struct {
	UserID    int       `json:"user_id" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"`
	Version   int       `json:"version" db:"version"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction entry types.
const (
	EntryTypeCredit = "CREDIT"
	EntryTypeDebit  = "DEBIT"
)

// TransactionEntry is one immutable row of the wallet ledger. Entries are
// append-only: once written they are never updated or deleted.
type TransactionEntry struct {
	ID               int64     `json:"-" db:"id"`
	EntryID          string    `json:"entry_id" db:"entry_id"`
	UserID           int       `json:"user_id" db:"user_id"`
	Type             string    `json:"type" db:"type"` // CREDIT or DEBIT
	Amount           int64     `json:"-" db:"amount"`  // minor units
	Description      string    `json:"description,omitempty" db:"description"`
	ResultingBalance int64     `json:"-" db:"resulting_balance"`
	IdempotencyKey   string    `json:"idempotency_key" db:"idempotency_key"`
	PayloadHash      string    `json:"-" db:"payload_hash"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}
