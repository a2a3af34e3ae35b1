package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/walletcore/backend/internal/models"
)

// The dedup index is the unique (user_id, idempotency_key) constraint on
// ledger_entries, so the guard's record is written in the same transaction
// as the entry itself. This pre-check only exists to answer replays cheaply
// and to turn payload mismatches into a caller error.

// PayloadHash fingerprints the mutation payload. Two submissions under the
// same idempotency key must carry the same hash to count as a safe retry.
func PayloadHash(txType string, amountMinor int64, description string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d|%s", txType, amountMinor, description))
	return hex.EncodeToString(sum[:])
}

// DeriveIdempotencyKey builds a key for callers that did not supply one, by
// hashing the payload together with a 10-second submission window. This only
// catches accidental exact double-submissions landing in the same window;
// it is best-effort, not a guarantee. Callers wanting real replay safety
// must supply their own key.
func DeriveIdempotencyKey(userID int, txType string, amountMinor int64, description string, now time.Time) string {
	window := now.Unix() / 10
	sum := sha256.Sum256(fmt.Appendf(nil, "%d|%s|%d|%s|%d", userID, txType, amountMinor, description, window))
	return "derived-" + hex.EncodeToString(sum[:16])
}

// IdempotencyGuard answers whether a submission is fresh, an identical
// replay, or a conflicting reuse of a key.
type IdempotencyGuard struct {
	store LedgerStore
}

func NewIdempotencyGuard(store LedgerStore) *IdempotencyGuard {
	return &IdempotencyGuard{store: store}
}

// Check returns (nil, nil) when the key is fresh, the previously recorded
// entry for an identical replay, and ErrIdempotencyConflict when the key was
// used with a different payload.
func (g *IdempotencyGuard) Check(ctx context.Context, userID int, key, payloadHash string) (*models.TransactionEntry, error) {
	prior, err := g.store.FindEntryByIdempotencyKey(ctx, userID, key)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return nil, nil
	}
	if prior.PayloadHash != payloadHash {
		return nil, ErrIdempotencyConflict
	}
	return prior, nil
}
