package repository

import (
	"context"
	"database/sql"
	"go-admission-api/common"
	"go-admission-api/model"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// RateLimitRepository implements IRateLimitRepository on PostgreSQL. The row
// of a key is created or locked by one upsert and stays locked for the whole
// update.
type RateLimitRepository struct {
	DB  *sql.DB
	log logrus.FieldLogger
}

func NewRateLimitRepository(db *sql.DB, log logrus.FieldLogger) *RateLimitRepository {
	return &RateLimitRepository{DB: db, log: log}
}

func (r *RateLimitRepository) Update(ctx context.Context, key model.RateLimitKey, fn UpdateFunc) error {
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		// The no-op DO UPDATE takes the row lock even when the row exists, so a
		// concurrent purge cannot remove it before the write below.
		rec := &model.RateLimitRecord{Key: key}
		var timestamps pq.Int64Array
		err := tx.QueryRowContext(ctx,
			`INSERT INTO rate_limits (identity_kind, identity, endpoint_path, timestamps, updated_at)
			 VALUES ($1, $2, $3, '{}', NOW())
			 ON CONFLICT (identity_kind, identity, endpoint_path)
			 DO UPDATE SET identity_kind = EXCLUDED.identity_kind
			 RETURNING timestamps, updated_at`,
			string(key.Kind), key.Value, key.Endpoint).Scan(&timestamps, &rec.UpdatedAt)
		if err != nil {
			return err
		}
		rec.Timestamps = []int64(timestamps)

		if !fn(rec) {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE rate_limits SET timestamps = $4, updated_at = $5
			 WHERE identity_kind = $1 AND identity = $2 AND endpoint_path = $3`,
			string(key.Kind), key.Value, key.Endpoint, pq.Array(rec.Timestamps), rec.UpdatedAt)
		return err
	})
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"identity_kind": key.Kind,
			"endpoint":      key.Endpoint,
		}).Error("Failed to execute rate limit update transaction")
		return common.StoreError("rate_limits.update", err)
	}
	return nil
}

func (r *RateLimitRepository) PurgeStale(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM rate_limits WHERE updated_at < $1`, before)
	if err != nil {
		r.log.WithError(err).Error("Failed to execute purge rate limits query")
		return 0, common.StoreError("rate_limits.purge", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, common.StoreError("rate_limits.purge", err)
	}
	return n, nil
}
