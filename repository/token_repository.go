// file: repository/token_repository.go

package repository

import (
	"context"
	"database/sql"
	"errors"
	"go-admission-api/common"
	"go-admission-api/model"
	"time"

	"github.com/sirupsen/logrus"
)

// TokenRepository implements ITokenRepository on PostgreSQL.
type TokenRepository struct {
	DB  *sql.DB
	log logrus.FieldLogger
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(db *sql.DB, log logrus.FieldLogger) *TokenRepository {
	return &TokenRepository{DB: db, log: log}
}

// ReplaceForOwner serializes issuance per owner with a transaction-scoped
// advisory lock, then swaps the owner's tokens for the new one.
func (r *TokenRepository) ReplaceForOwner(ctx context.Context, token *model.Token) error {
	log := r.log.WithFields(logrus.Fields{
		"owner_id":   token.OwnerID,
		"expires_at": token.ExpiresAt,
	})
	log.Info("Executing query to replace tokens of owner")

	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, token.OwnerID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tokens WHERE owner_id = $1`, token.OwnerID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tokens (token, owner_id, issued_at, expires_at) VALUES ($1, $2, $3, $4)`,
			token.Hash, token.OwnerID, token.IssuedAt, token.ExpiresAt)
		return err
	})
	if err != nil {
		log.WithError(err).Error("Failed to execute replace tokens transaction")
		return common.StoreError("tokens.replace", err)
	}
	return nil
}

// GetByHash retrieves a token by its hashed value.
func (r *TokenRepository) GetByHash(ctx context.Context, hash string) (*model.Token, error) {
	token := &model.Token{}
	query := `SELECT token, owner_id, issued_at, expires_at FROM tokens WHERE token = $1`
	err := r.DB.QueryRowContext(ctx, query, hash).Scan(&token.Hash, &token.OwnerID, &token.IssuedAt, &token.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		r.log.WithError(err).WithField("token_hash", hashPrefix(hash)).Error("Failed to execute get token by hash query")
		return nil, common.StoreError("tokens.get", err)
	}
	return token, nil
}

// DeleteByOwner deletes all tokens of an owner.
func (r *TokenRepository) DeleteByOwner(ctx context.Context, ownerID string) error {
	log := r.log.WithField("owner_id", ownerID)
	log.Info("Executing query to delete all tokens of owner")

	if _, err := r.DB.ExecContext(ctx, `DELETE FROM tokens WHERE owner_id = $1`, ownerID); err != nil {
		log.WithError(err).Error("Failed to execute delete tokens query")
		return common.StoreError("tokens.delete", err)
	}
	return nil
}

func (r *TokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tokens WHERE expires_at <= $1`, now)
	if err != nil {
		r.log.WithError(err).Error("Failed to execute delete expired tokens query")
		return 0, common.StoreError("tokens.purge", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, common.StoreError("tokens.purge", err)
	}
	return n, nil
}

// hashPrefix shortens a token hash for log fields.
func hashPrefix(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
