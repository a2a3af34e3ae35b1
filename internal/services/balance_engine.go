package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/walletcore/backend/internal/models"
)

const (
	defaultMaxCommitRetries = 5
	defaultRetryBackoff     = 10 * time.Millisecond
)

// BalanceEngine applies CREDIT/DEBIT mutations to an account. Per-account
// serialization comes from the store's version-conditioned commit: two
// concurrent mutations never both succeed against the same version, the
// loser re-reads and retries. No locks are held between read and commit.
type BalanceEngine struct {
	store      LedgerStore
	guard      *IdempotencyGuard
	maxRetries int
	backoff    time.Duration
}

func NewBalanceEngine(store LedgerStore) *BalanceEngine {
	return &BalanceEngine{
		store:      store,
		guard:      NewIdempotencyGuard(store),
		maxRetries: defaultMaxCommitRetries,
		backoff:    defaultRetryBackoff,
	}
}

// ApplyResult carries the committed entry and whether it was replayed from
// a prior identical submission rather than freshly executed.
type ApplyResult struct {
	Entry    *models.TransactionEntry
	Replayed bool
}

// Apply executes one wallet mutation. amountMinor must be positive and
// txType CREDIT or DEBIT; an empty idemKey gets a best-effort derived one.
// A commit is final once it lands: cancellation is honored between
// attempts, never after the conditional write succeeded.
func (e *BalanceEngine) Apply(ctx context.Context, userID int, txType string, amountMinor int64, description, idemKey string) (*ApplyResult, error) {
	if txType != models.EntryTypeCredit && txType != models.EntryTypeDebit {
		return nil, fmt.Errorf("unsupported transaction type %q", txType)
	}
	if amountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}

	payloadHash := PayloadHash(txType, amountMinor, description)
	if idemKey == "" {
		idemKey = DeriveIdempotencyKey(userID, txType, amountMinor, description, time.Now())
	}

	if prior, err := e.guard.Check(ctx, userID, idemKey, payloadHash); err != nil {
		return nil, err
	} else if prior != nil {
		log.Printf("[LEDGER] Replay detected for user %d, key %s -> entry %s", userID, idemKey, prior.EntryID)
		return &ApplyResult{Entry: prior, Replayed: true}, nil
	}

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		account, err := e.store.ReadAccount(ctx, userID)
		if err != nil {
			return nil, err
		}

		newBalance := account.Balance + amountMinor
		if txType == models.EntryTypeDebit {
			newBalance = account.Balance - amountMinor
			if newBalance < 0 {
				return nil, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientFunds, account.Balance, amountMinor)
			}
		}

		entry := &models.TransactionEntry{
			EntryID:          uuid.NewString(),
			UserID:           userID,
			Type:             txType,
			Amount:           amountMinor,
			Description:      description,
			ResultingBalance: newBalance,
			IdempotencyKey:   idemKey,
			PayloadHash:      payloadHash,
		}

		committed, err := e.store.ConditionalCommit(ctx, account.Version, entry)
		switch {
		case err == nil:
			return &ApplyResult{Entry: committed}, nil
		case errors.Is(err, ErrVersionConflict):
			log.Printf("[LEDGER] Version conflict for user %d (attempt %d), retrying", userID, attempt+1)
			if err := e.wait(ctx, attempt); err != nil {
				return nil, err
			}
		case errors.Is(err, ErrDuplicateKey):
			// A concurrent identical submission committed between our guard
			// check and the write. Resolve against the stored entry.
			return e.resolveReplay(ctx, userID, idemKey, payloadHash)
		default:
			return nil, err
		}
	}

	return nil, ErrContentionExceeded
}

func (e *BalanceEngine) resolveReplay(ctx context.Context, userID int, idemKey, payloadHash string) (*ApplyResult, error) {
	prior, err := e.guard.Check(ctx, userID, idemKey, payloadHash)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return nil, fmt.Errorf("%w: duplicate key with no stored entry", ErrStorageUnavailable)
	}
	return &ApplyResult{Entry: prior, Replayed: true}, nil
}

// wait sleeps a jittered, linearly growing backoff, bailing out early on
// context cancellation.
func (e *BalanceEngine) wait(ctx context.Context, attempt int) error {
	delay := e.backoff*time.Duration(attempt+1) + time.Duration(rand.Int63n(int64(e.backoff)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
