package services

import (
	"database/sql"
	"errors"
	"log"
	"net/http"

	"github.com/lib/pq"
	"github.com/walletcore/backend/internal/models"
)

// UserService handles user registration and listing. Registering a user
// creates their wallet account (balance 0) in the same transaction.
type UserService struct {
	db        *sql.DB
	ledger    *PostgresLedger
	validator *ValidationHelper
}

func NewUserService(db *sql.DB, ledger *PostgresLedger) *UserService {
	return &UserService{
		db:        db,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// CreateUserRequest represents the user registration payload
// @Description User registration request structure
type CreateUserRequest struct {
	Name  string `json:"name" validate:"required,min=2,max=100" example:"Jane Doe"`
	Email string `json:"email" validate:"required,email" example:"jane@example.com"`
	Phone string `json:"phone" validate:"required,e164" example:"+9779812345678"`
}

// CreateUser registers a new user with a zero-balance wallet
// @Summary Create a new user
// @Description Register a user; a wallet account with balance 0 is created atomically with the user
// @Tags users
// @Accept json
// @Produce json
// @Param request body CreateUserRequest true "User registration request"
// @Success 201 {object} models.User
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Email already registered"
// @Router /users [post]
func (s *UserService) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("[USER] Transaction start failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to create user", http.StatusServiceUnavailable, nil)
		return
	}
	defer tx.Rollback()

	var user models.User
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (name, email, phone, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at`, req.Name, req.Email, req.Phone).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			log.Printf("[USER] Duplicate email rejected: %s", req.Email)
			SendErrorResponse(w, "Email already registered", http.StatusConflict, nil)
			return
		}
		log.Printf("[USER] User creation failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to create user", http.StatusServiceUnavailable, nil)
		return
	}

	if err := s.ledger.CreateAccountTx(ctx, tx, user.ID); err != nil {
		log.Printf("[USER] Account creation failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to create account", http.StatusServiceUnavailable, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[USER] Transaction commit failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to create user", http.StatusServiceUnavailable, nil)
		return
	}

	user.Name = req.Name
	user.Email = req.Email
	user.Phone = req.Phone
	user.Balance = FormatAmount(0)

	log.Printf("[USER] User created - ID: %d, Email: %s", user.ID, user.Email)
	SendJSON(w, http.StatusCreated, map[string]any{
		"message": "User created successfully",
		"user":    user,
	})
}

// ListUsers returns all users with their wallet balances
// @Summary List all users with wallet balances
// @Description Fetch all users (name, email, phone) along with their current wallet balance, ordered by name
// @Tags users
// @Produce json
// @Success 200 {object} map[string]any
// @Router /users [get]
func (s *UserService) ListUsers(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.QueryContext(r.Context(), `
		SELECT u.id, u.name, u.email, u.phone, a.balance, u.created_at
		FROM users u
		JOIN accounts a ON a.user_id = u.id
		ORDER BY u.name ASC`)
	if err != nil {
		log.Printf("[USER] Failed to list users: %v", err)
		SendErrorResponse(w, "Failed to fetch users", http.StatusServiceUnavailable, nil)
		return
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var (
			user         models.User
			balanceMinor int64
		)
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.Phone, &balanceMinor, &user.CreatedAt); err != nil {
			log.Printf("[USER] Failed to scan user row: %v", err)
			SendErrorResponse(w, "Failed to fetch users", http.StatusServiceUnavailable, nil)
			return
		}
		user.Balance = FormatAmount(balanceMinor)
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[USER] Failed to list users: %v", err)
		SendErrorResponse(w, "Failed to fetch users", http.StatusServiceUnavailable, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"message": "Users retrieved successfully",
		"count":   len(users),
		"users":   users,
	})
}
