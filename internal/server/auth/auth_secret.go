package auth

import (
	"context"
	"encoding/base32"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pquerna/otp/totp"
)

const totpSecretKey = "totp_secret"

const settingsSchemaSQL = `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SecretProvider supplies the shared TOTP secret in base32
type SecretProvider interface {
	Secret(ctx context.Context) (string, error)
}

// StaticSecret is a secret fixed by configuration
type StaticSecret string

func (s StaticSecret) Secret(ctx context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("totp secret is empty")
	}
	return normalizeSecret(string(s)), nil
}

// StoredSecret keeps a generated secret in the sqlite settings table.
// The secret is created on first use and never changes afterwards.
type StoredSecret struct {
	db     *sqlx.DB
	issuer string
	mu     sync.Mutex
	cached string
}

func NewStoredSecret(db *sqlx.DB, issuer string) (*StoredSecret, error) {
	if _, err := db.Exec(settingsSchemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize settings table: %w", err)
	}
	return &StoredSecret{db: db, issuer: issuer}, nil
}

func (s *StoredSecret) Secret(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != "" {
		return s.cached, nil
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: DefaultTOTPAccount,
	})
	if err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}

	// another process may have won the insert, read back whatever is stored
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`,
		totpSecretKey, key.Secret(),
	); err != nil {
		return "", fmt.Errorf("store totp secret: %w", err)
	}

	var secret string
	if err := s.db.GetContext(ctx, &secret, `SELECT value FROM settings WHERE key = ?`, totpSecretKey); err != nil {
		return "", fmt.Errorf("load totp secret: %w", err)
	}

	s.cached = normalizeSecret(secret)
	return s.cached, nil
}

func normalizeSecret(secret string) string {
	secret = strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	return strings.TrimRight(secret, "=")
}

func decodeSecret(secret string) ([]byte, error) {
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(normalizeSecret(secret))
}

var (
	_ SecretProvider = StaticSecret("")
	_ SecretProvider = (*StoredSecret)(nil)
)
