package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService_CreateUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewUserService(db, NewPostgresLedger(db))

	t.Run("creates user with zero balance wallet", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO users").
			WithArgs("Jane Doe", "jane@example.com", "+9779812345678").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(1, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		body := `{"name":"Jane Doe","email":"jane@example.com","phone":"+9779812345678"}`
		r := httptest.NewRequest("POST", "/users", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		service.CreateUser(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response struct {
			Message string `json:"message"`
			User    struct {
				ID      int    `json:"id"`
				Balance string `json:"balance"`
			} `json:"user"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, 1, response.User.ID)
		assert.Equal(t, "0.00", response.User.Balance)
	})

	t.Run("duplicate email", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO users").
			WithArgs("Jane Doe", "jane@example.com", "+9779812345678").
			WillReturnError(&pq.Error{Code: pqUniqueViolation})
		mock.ExpectRollback()

		body := `{"name":"Jane Doe","email":"jane@example.com","phone":"+9779812345678"}`
		r := httptest.NewRequest("POST", "/users", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		service.CreateUser(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("invalid email", func(t *testing.T) {
		body := `{"name":"Jane Doe","email":"not-an-email","phone":"+9779812345678"}`
		r := httptest.NewRequest("POST", "/users", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		service.CreateUser(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid phone", func(t *testing.T) {
		body := `{"name":"Jane Doe","email":"jane@example.com","phone":"not-a-phone"}`
		r := httptest.NewRequest("POST", "/users", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		service.CreateUser(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		body := `{"name":"Jane Doe","email":"jane@example.com","phone":"+9779812345678","role":"admin"}`
		r := httptest.NewRequest("POST", "/users", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		service.CreateUser(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserService_ListUsers(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewUserService(db, NewPostgresLedger(db))

	t.Run("returns users with balances ordered by name", func(t *testing.T) {
		mock.ExpectQuery("FROM users u JOIN accounts a ON a.user_id = u.id ORDER BY u.name ASC").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "phone", "balance", "created_at"}).
				AddRow(2, "Alice", "alice@example.com", "+9779800000001", 10050, time.Now()).
				AddRow(1, "Bob", "bob@example.com", "+9779800000002", 0, time.Now()))

		r := httptest.NewRequest("GET", "/users", nil)
		w := httptest.NewRecorder()

		service.ListUsers(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Count int `json:"count"`
			Users []struct {
				Name    string `json:"name"`
				Balance string `json:"balance"`
			} `json:"users"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		require.Equal(t, 2, response.Count)
		assert.Equal(t, "Alice", response.Users[0].Name)
		assert.Equal(t, "100.50", response.Users[0].Balance)
		assert.Equal(t, "0.00", response.Users[1].Balance)
	})

	t.Run("empty list", func(t *testing.T) {
		mock.ExpectQuery("FROM users u JOIN accounts a").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "phone", "balance", "created_at"}))

		r := httptest.NewRequest("GET", "/users", nil)
		w := httptest.NewRecorder()

		service.ListUsers(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Count int   `json:"count"`
			Users []any `json:"users"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, 0, response.Count)
		assert.NotNil(t, response.Users)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
