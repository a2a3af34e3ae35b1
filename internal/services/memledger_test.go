package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/walletcore/backend/internal/models"
)

// memLedger is an in-memory LedgerStore with the same conditional-commit
// semantics as the Postgres store, used to drive the balance engine under
// real goroutine interleavings.
type memLedger struct {
	mu          sync.Mutex
	accounts    map[int]*models.Account
	entries     []*models.TransactionEntry
	byKey       map[string]*models.TransactionEntry
	nextID      int64
	failCommits int // force this many version conflicts before accepting
}

func newMemLedger() *memLedger {
	return &memLedger{
		accounts: make(map[int]*models.Account),
		byKey:    make(map[string]*models.TransactionEntry),
	}
}

func (m *memLedger) addAccount(userID int, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[userID] = &models.Account{UserID: userID, Balance: balance, Version: 1, UpdatedAt: time.Now()}
}

func (m *memLedger) dedupKey(userID int, key string) string {
	return fmt.Sprintf("%d|%s", userID, key)
}

func (m *memLedger) ReadAccount(_ context.Context, userID int) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[userID]
	if !ok {
		return nil, ErrUnknownUser
	}
	copied := *account
	return &copied, nil
}

func (m *memLedger) ConditionalCommit(_ context.Context, expectedVersion int, entry *models.TransactionEntry) (*models.TransactionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCommits > 0 {
		m.failCommits--
		return nil, ErrVersionConflict
	}

	if _, ok := m.byKey[m.dedupKey(entry.UserID, entry.IdempotencyKey)]; ok {
		return nil, ErrDuplicateKey
	}

	account, ok := m.accounts[entry.UserID]
	if !ok {
		return nil, ErrUnknownUser
	}
	if account.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	m.nextID++
	committed := *entry
	committed.ID = m.nextID
	committed.CreatedAt = time.Now()

	account.Balance = entry.ResultingBalance
	account.Version++
	account.UpdatedAt = committed.CreatedAt

	m.entries = append(m.entries, &committed)
	m.byKey[m.dedupKey(entry.UserID, entry.IdempotencyKey)] = &committed
	return &committed, nil
}

func (m *memLedger) FindEntryByIdempotencyKey(_ context.Context, userID int, key string) (*models.TransactionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.byKey[m.dedupKey(userID, key)]
	if !ok {
		return nil, nil
	}
	copied := *entry
	return &copied, nil
}

func (m *memLedger) entryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
