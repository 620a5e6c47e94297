package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/authz-gateway/models"
	"github.com/upb/authz-gateway/repositories"
	"go.uber.org/zap"
)

// RefreshTokenRepository implements the repositories.RefreshTokenRepository interface
type RefreshTokenRepository struct {
	db     *DB
	tx     repositories.TransactionManager
	logger *zap.Logger
}

// NewRefreshTokenRepository creates a new refresh token repository
func NewRefreshTokenRepository(db *DB, logger *zap.Logger) repositories.RefreshTokenRepository {
	return &RefreshTokenRepository{
		db:     db,
		tx:     NewTransactionManager(db, logger),
		logger: logger,
	}
}

// Replace deletes the user's previous token and inserts the new one in one transaction
func (r *RefreshTokenRepository) Replace(ctx context.Context, token *models.RefreshToken) error {
	return r.tx.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		executor := GetExecutor(ctx, r.db)

		if _, err := executor.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, token.UserID); err != nil {
			return fmt.Errorf("failed to delete previous refresh token: %w", err)
		}

		query := `
			INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`
		_, err := executor.ExecContext(ctx, query, token.ID, token.UserID, token.Token, token.ExpiresAt, token.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert refresh token: %w", translateError(err))
		}
		return nil
	})
}

// FindByUserAndToken returns the record matching both values, expired or not
func (r *RefreshTokenRepository) FindByUserAndToken(ctx context.Context, userID uuid.UUID, token string) (*models.RefreshToken, error) {
	query := `
		SELECT id, user_id, token, expires_at, created_at
		FROM refresh_tokens
		WHERE user_id = $1 AND token = $2
	`

	executor := GetExecutor(ctx, r.db)
	rt := &models.RefreshToken{}
	err := executor.QueryRowContext(ctx, query, userID, token).Scan(
		&rt.ID, &rt.UserID, &rt.Token, &rt.ExpiresAt, &rt.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", translateError(err))
	}
	return rt, nil
}

// DeleteByUser removes the user's record; absent records are not an error
func (r *RefreshTokenRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// DeleteExpired removes every record expired at now
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		r.logger.Debug("expired refresh tokens purged", zap.Int64("count", n))
	}
	return n, nil
}
