package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
	"github.com/walletcore/backend/internal/models"
	"golang.org/x/crypto/argon2"
)

// AccessGate maps a presented API credential to its owner. Credentials have
// the form "<key_id>.<secret>"; the secret is stored only as an argon2
// hash. The gate runs before any ledger code and has no ledger side
// effects; its only writes are a best-effort last_used_at touch and the
// Redis verification cache. Cache entries are keyed by key_id so that
// RevokeKey can drop them; a hit only counts when the cached credential
// fingerprint matches the presented credential.
type AccessGate struct {
	db    *sql.DB
	redis *redis.Client
}

func NewAccessGate(db *sql.DB, redisClient *redis.Client) *AccessGate {
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)
	viper.SetDefault("api_key.cache_ttl", 5*time.Minute)

	return &AccessGate{db: db, redis: redisClient}
}

type cachedIdentity struct {
	CredentialHash string `json:"credential_hash"`
	OwnerName      string `json:"owner_name"`
}

// Authenticate validates a credential string and returns the key identity.
// Missing, malformed, unknown, revoked, expired and bad-secret credentials
// all come back as ErrUnauthorized.
func (g *AccessGate) Authenticate(ctx context.Context, credential string) (*models.APIKey, error) {
	keyID, secret, ok := strings.Cut(credential, ".")
	if !ok || keyID == "" || secret == "" {
		return nil, ErrUnauthorized
	}

	if identity := g.cachedLookup(ctx, keyID, credential); identity != nil {
		return &models.APIKey{KeyID: keyID, OwnerName: identity.OwnerName}, nil
	}

	var key models.APIKey
	err := g.db.QueryRowContext(ctx, `
		SELECT id, key_id, secret_hash, owner_name, revoked, expires_at, created_at
		FROM api_keys
		WHERE key_id = $1`, keyID).
		Scan(&key.ID, &key.KeyID, &key.SecretHash, &key.OwnerName, &key.Revoked, &key.ExpiresAt, &key.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: api key lookup: %v", ErrStorageUnavailable, err)
	}

	if key.Revoked || keyExpired(&key, time.Now()) || !verifySecret(secret, key.SecretHash) {
		return nil, ErrUnauthorized
	}

	g.cacheIdentity(ctx, credential, &key)

	// Best-effort usage tracking; an error here must not fail the request.
	if _, err := g.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE key_id = $1`, keyID); err != nil {
		log.Printf("[AUTH] Failed to update last_used_at for key %s: %v", keyID, err)
	}

	return &key, nil
}

// IssueKey mints a new API key and returns the full credential. The secret
// is shown exactly once; only its hash is stored. validFor bounds the key's
// lifetime; zero means it never expires.
func (g *AccessGate) IssueKey(ctx context.Context, ownerName string, validFor time.Duration) (string, error) {
	keyID, err := randomHex(8)
	if err != nil {
		return "", err
	}
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)

	hash, err := hashSecret(secret)
	if err != nil {
		return "", err
	}

	var expiresAt *time.Time
	if validFor > 0 {
		t := time.Now().Add(validFor)
		expiresAt = &t
	}

	_, err = g.db.ExecContext(ctx, `
		INSERT INTO api_keys (key_id, secret_hash, owner_name, revoked, expires_at, created_at)
		VALUES ($1, $2, $3, FALSE, $4, NOW())`, keyID, hash, ownerName, expiresAt)
	if err != nil {
		return "", fmt.Errorf("%w: insert api key: %v", ErrStorageUnavailable, err)
	}

	return keyID + "." + secret, nil
}

// RevokeKey marks a key as revoked and drops its cached verification, so
// revocation takes effect immediately. Revocation is permanent.
func (g *AccessGate) RevokeKey(ctx context.Context, keyID string) error {
	result, err := g.db.ExecContext(ctx, `UPDATE api_keys SET revoked = TRUE WHERE key_id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("%w: revoke api key: %v", ErrStorageUnavailable, err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("api key %s not found", keyID)
	}

	if g.redis != nil {
		if err := g.redis.Del(ctx, cacheKey(keyID)).Err(); err != nil {
			log.Printf("[AUTH] Failed to drop cached verification for key %s: %v", keyID, err)
		}
	}
	return nil
}

func keyExpired(key *models.APIKey, now time.Time) bool {
	return key.ExpiresAt != nil && key.ExpiresAt.Before(now)
}

func cacheKey(keyID string) string {
	return "apikey:" + keyID
}

func credentialFingerprint(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

func (g *AccessGate) cachedLookup(ctx context.Context, keyID, credential string) *cachedIdentity {
	if g.redis == nil {
		return nil
	}
	raw, err := g.redis.Get(ctx, cacheKey(keyID)).Result()
	if err != nil {
		return nil
	}
	var identity cachedIdentity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(identity.CredentialHash), []byte(credentialFingerprint(credential))) != 1 {
		return nil
	}
	return &identity
}

func (g *AccessGate) cacheIdentity(ctx context.Context, credential string, key *models.APIKey) {
	if g.redis == nil {
		return
	}
	raw, err := json.Marshal(cachedIdentity{
		CredentialHash: credentialFingerprint(credential),
		OwnerName:      key.OwnerName,
	})
	if err != nil {
		return
	}
	ttl := viper.GetDuration("api_key.cache_ttl")
	// The cached verification must not outlive the key itself.
	if key.ExpiresAt != nil {
		if remaining := time.Until(*key.ExpiresAt); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		return
	}
	if err := g.redis.Set(ctx, cacheKey(key.KeyID), raw, ttl).Err(); err != nil {
		log.Printf("[AUTH] Failed to cache api key verification: %v", err)
	}
}

func hashSecret(secret string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(secret), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifySecret(secret, storedHash string) bool {
	parts := strings.Split(storedHash, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(secret), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return subtle.ConstantTimeCompare(hash, computed) == 1
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
