package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"debt-titles/internal/domain"
)

type PersonalAccessTokenRepository struct {
	db *sql.DB
}

func NewPersonalAccessTokenRepository(db *sql.DB) *PersonalAccessTokenRepository {
	return &PersonalAccessTokenRepository{db: db}
}

// HashToken returns the hex sha256 stored for a plain secret.
func HashToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// splitPlainToken accepts "<id>|<secret>" or a bare secret.
func splitPlainToken(plain string) (*int64, string) {
	idx := strings.Index(plain, "|")
	if idx <= 0 {
		return nil, plain
	}
	id, err := strconv.ParseInt(plain[:idx], 10, 64)
	if err != nil {
		return nil, plain
	}
	return &id, plain[idx+1:]
}

func (r *PersonalAccessTokenRepository) FindTokenByPlainToken(ctx context.Context, plainToken string) (*domain.AccessToken, error) {
	plainToken = strings.TrimSpace(plainToken)
	if plainToken == "" {
		return nil, errors.New("empty token")
	}

	tokenID, secret := splitPlainToken(plainToken)
	hash := HashToken(secret)

	var (
		row *sql.Row
		now = time.Now()
	)
	if tokenID != nil {
		row = r.db.QueryRowContext(ctx, `
			SELECT id, token, user_id, abilities, expires_at
			FROM personal_access_tokens
			WHERE id = $1 AND token = $2
			  AND (expires_at IS NULL OR expires_at > $3)`,
			*tokenID, hash, now)
	} else {
		row = r.db.QueryRowContext(ctx, `
			SELECT id, token, user_id, abilities, expires_at
			FROM personal_access_tokens
			WHERE token = $1
			  AND (expires_at IS NULL OR expires_at > $2)
			ORDER BY created_at DESC
			LIMIT 1`,
			hash, now)
	}

	var (
		tok       domain.AccessToken
		expiresAt sql.NullTime
	)
	if err := row.Scan(&tok.ID, &tok.TokenHash, &tok.UserID, &tok.Abilities, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup access token: %w", err)
	}
	if expiresAt.Valid {
		tok.ExpiresAt = &expiresAt.Time
	}
	return &tok, nil
}
