package services

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/walletcore/backend/internal/models"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// WalletService exposes the wallet mutation and transaction listing
// endpoints. All ledger writes go through the balance engine.
type WalletService struct {
	db        *sql.DB
	engine    *BalanceEngine
	ledger    *PostgresLedger
	validator *ValidationHelper
}

func NewWalletService(db *sql.DB, engine *BalanceEngine, ledger *PostgresLedger) *WalletService {
	return &WalletService{
		db:        db,
		engine:    engine,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// MutateRequest represents a wallet mutation payload
// @Description Wallet credit/debit request structure
type MutateRequest struct {
	Type           string `json:"type" validate:"required,oneof=CREDIT DEBIT" example:"CREDIT"`
	Amount         string `json:"amount" validate:"required" example:"100.50"`
	Description    string `json:"description" validate:"max=500" example:"Initial deposit"`
	IdempotencyKey string `json:"idempotency_key" validate:"max=128" example:"order-8812"`
}

// MutateResponse is the outcome of an accepted wallet mutation
// @Description Wallet mutation response structure
type MutateResponse struct {
	EntryID          string `json:"entry_id" example:"7f9c24e5-1f0b-4c92-9f0a-2b8e5f6a7d01"`
	UserID           int    `json:"user_id" example:"1"`
	Type             string `json:"type" example:"CREDIT"`
	Amount           string `json:"amount" example:"100.50"`
	Description      string `json:"description,omitempty" example:"Initial deposit"`
	ResultingBalance string `json:"resulting_balance" example:"100.50"`
	Status           string `json:"status" example:"COMPLETED"`
	IdempotencyKey   string `json:"idempotency_key" example:"order-8812"`
	CreatedAt        string `json:"created_at"`
}

// Mutate applies a CREDIT or DEBIT to a user's wallet
// @Summary Credit or debit a wallet
// @Description Atomically apply a transaction to a user's wallet. Retried submissions with the same idempotency key return the original entry.
// @Tags wallets
// @Accept json
// @Produce json
// @Param userID path int true "User ID"
// @Param request body MutateRequest true "Mutation request"
// @Success 200 {object} MutateResponse "Replayed prior submission"
// @Success 201 {object} MutateResponse
// @Failure 400 {object} ErrorResponse "Invalid amount or payload"
// @Failure 404 {object} ErrorResponse "Unknown user"
// @Failure 409 {object} ErrorResponse "Idempotency key conflict"
// @Failure 422 {object} ErrorResponse "Insufficient funds"
// @Failure 503 {object} ErrorResponse "Contention or storage failure, safe to retry"
// @Router /wallets/{userID}/transactions [post]
func (s *WalletService) Mutate(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(chi.URLParam(r, "userID"))
	if err != nil || userID <= 0 {
		SendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	var req MutateRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amountMinor, err := ParseAmount(req.Amount)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	result, err := s.engine.Apply(r.Context(), userID, req.Type, amountMinor, req.Description, req.IdempotencyKey)
	if err != nil {
		log.Printf("[WALLET] Mutation failed for user %d: %v", userID, err)
		SendErrorResponse(w, clientMessage(err), statusForError(err), nil)
		return
	}

	entry := result.Entry
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}

	log.Printf("[WALLET] %s %s applied to user %d -> balance %s (entry %s, replayed=%t)",
		entry.Type, FormatAmount(entry.Amount), userID, FormatAmount(entry.ResultingBalance), entry.EntryID, result.Replayed)

	SendJSON(w, status, MutateResponse{
		EntryID:          entry.EntryID,
		UserID:           entry.UserID,
		Type:             entry.Type,
		Amount:           FormatAmount(entry.Amount),
		Description:      entry.Description,
		ResultingBalance: FormatAmount(entry.ResultingBalance),
		Status:           "COMPLETED",
		IdempotencyKey:   entry.IdempotencyKey,
		CreatedAt:        entry.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}

// transactionView is a ledger entry with display amounts.
type transactionView struct {
	EntryID          string `json:"entry_id"`
	Type             string `json:"type"`
	Amount           string `json:"amount"`
	Description      string `json:"description,omitempty"`
	ResultingBalance string `json:"resulting_balance"`
	CreatedAt        string `json:"created_at"`
}

// ListTransactions returns a user's ledger page by page
// @Summary List wallet transactions
// @Description Fetch a user's transactions in creation order with cursor pagination, optional CREDIT/DEBIT filter and credit/debit totals
// @Tags wallets
// @Produce json
// @Param userID path int true "User ID"
// @Param cursor query int false "Resume after this position (from next_cursor)"
// @Param limit query int false "Page size (default 50, max 500)"
// @Param type query string false "Filter by type" Enums(CREDIT, DEBIT)
// @Success 200 {object} map[string]any
// @Failure 404 {object} ErrorResponse "Unknown user"
// @Router /wallets/{userID}/transactions [get]
func (s *WalletService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(chi.URLParam(r, "userID"))
	if err != nil || userID <= 0 {
		SendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	user, err := s.lookupUser(r, userID)
	if err != nil {
		if errors.Is(err, ErrUnknownUser) {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[WALLET] User lookup failed for %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusServiceUnavailable, nil)
		return
	}

	cursor, _ := strconv.ParseInt(r.URL.Query().Get("cursor"), 10, 64)
	if cursor < 0 {
		cursor = 0
	}

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	typeFilter := r.URL.Query().Get("type")
	if typeFilter != "" && typeFilter != models.EntryTypeCredit && typeFilter != models.EntryTypeDebit {
		SendErrorResponse(w, "type must be CREDIT or DEBIT", http.StatusBadRequest, nil)
		return
	}

	entries, nextCursor, err := s.ledger.ListEntries(r.Context(), userID, cursor, limit, typeFilter)
	if err != nil {
		log.Printf("[WALLET] Failed to list entries for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusServiceUnavailable, nil)
		return
	}

	credits, debits, count, err := s.ledger.EntrySummary(r.Context(), userID)
	if err != nil {
		log.Printf("[WALLET] Failed to summarize entries for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusServiceUnavailable, nil)
		return
	}

	views := make([]transactionView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, transactionView{
			EntryID:          entry.EntryID,
			Type:             entry.Type,
			Amount:           FormatAmount(entry.Amount),
			Description:      entry.Description,
			ResultingBalance: FormatAmount(entry.ResultingBalance),
			CreatedAt:        entry.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"message": "Transactions retrieved successfully",
		"user":    user,
		"summary": map[string]any{
			"total_transactions": count,
			"total_credits":      FormatAmount(credits),
			"total_debits":       FormatAmount(debits),
		},
		"transactions": views,
		"next_cursor":  nextCursor,
	})
}

func (s *WalletService) lookupUser(r *http.Request, userID int) (*models.User, error) {
	var (
		user         models.User
		balanceMinor int64
	)
	err := s.db.QueryRowContext(r.Context(), `
		SELECT u.id, u.name, u.email, u.phone, a.balance, u.created_at
		FROM users u
		JOIN accounts a ON a.user_id = u.id
		WHERE u.id = $1`, userID).
		Scan(&user.ID, &user.Name, &user.Email, &user.Phone, &balanceMinor, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnknownUser
		}
		return nil, err
	}
	user.Balance = FormatAmount(balanceMinor)
	return &user, nil
}

// clientMessage maps the service error taxonomy onto fixed client-facing
// messages. Wrapped detail (driver errors, balances) stays in the logs.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, ErrUnknownUser):
		return "User not found"
	case errors.Is(err, ErrInvalidAmount):
		return "Invalid amount"
	case errors.Is(err, ErrInsufficientFunds):
		return "Insufficient funds"
	case errors.Is(err, ErrIdempotencyConflict):
		return "Idempotency key already used with a different payload"
	case errors.Is(err, ErrAlreadyExists):
		return "Already exists"
	case errors.Is(err, ErrContentionExceeded):
		return "Wallet is busy, please retry"
	default:
		return "Failed to apply transaction"
	}
}

// statusForError maps the service error taxonomy onto HTTP status codes.
// 503s are the only ones a caller may blindly retry.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUnknownUser):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrContentionExceeded), errors.Is(err, ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
