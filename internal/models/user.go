package models

import "time"

// User is a registered wallet owner.
type User struct {
	ID        int       `json:"id" db:"id" example:"1"`
	Name      string    `json:"name" db:"name" example:"Jane Doe"`
	Email     string    `json:"email" db:"email" example:"jane@example.com"`
	Phone     string    `json:"phone" db:"phone" example:"+9779812345678"`
	Balance   string    `json:"balance" example:"150.50"` // current wallet balance, two decimal places
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
