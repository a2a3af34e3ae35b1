package models

import "time"

// APIKey is a caller credential. The secret is never stored; only its
// argon2 hash. A key presented after revocation or past its expiry is
// treated as unknown. A nil ExpiresAt means the key never expires.
type APIKey struct {
	ID         int        `json:"id" db:"id"`
	KeyID      string     `json:"key_id" db:"key_id"`
	SecretHash string     `json:"-" db:"secret_hash"`
	OwnerName  string     `json:"owner_name" db:"owner_name"`
	Revoked    bool       `json:"revoked" db:"revoked"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}
