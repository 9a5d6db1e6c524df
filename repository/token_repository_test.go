package repository

import (
	"context"
	"database/sql"
	"errors"
	"go-admission-api/common"
	"go-admission-api/model"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, dbMock
}

func TestTokenRepository_ReplaceForOwner(t *testing.T) {
	log, _ := test.NewNullLogger()
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	token := &model.Token{Hash: "h1", OwnerID: "owner-1", IssuedAt: issued, ExpiresAt: issued.Add(time.Hour)}

	t.Run("success", func(t *testing.T) {
		db, dbMock := newMockDB(t)
		repo := NewTokenRepository(db, log)

		dbMock.ExpectBegin()
		dbMock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtext($1))`)).
			WithArgs("owner-1").WillReturnResult(sqlmock.NewResult(0, 0))
		dbMock.ExpectExec(regexp.QuoteMeta(`DELETE FROM tokens WHERE owner_id = $1`)).
			WithArgs("owner-1").WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tokens`)).
			WithArgs("h1", "owner-1", issued, issued.Add(time.Hour)).WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectCommit()

		assert.NoError(t, repo.ReplaceForOwner(context.Background(), token))
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("insert failure rolls back", func(t *testing.T) {
		db, dbMock := newMockDB(t)
		repo := NewTokenRepository(db, log)

		dbMock.ExpectBegin()
		dbMock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock`)).WillReturnResult(sqlmock.NewResult(0, 0))
		dbMock.ExpectExec(regexp.QuoteMeta(`DELETE FROM tokens`)).WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tokens`)).WillReturnError(errors.New("disk full"))
		dbMock.ExpectRollback()

		err := repo.ReplaceForOwner(context.Background(), token)
		assert.ErrorIs(t, err, common.ErrStoreUnavailable)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestTokenRepository_GetByHash(t *testing.T) {
	log, _ := test.NewNullLogger()
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	query := regexp.QuoteMeta(`SELECT token, owner_id, issued_at, expires_at FROM tokens WHERE token = $1`)

	t.Run("found", func(t *testing.T) {
		db, dbMock := newMockDB(t)
		rows := sqlmock.NewRows([]string{"token", "owner_id", "issued_at", "expires_at"}).
			AddRow("h1", "owner-1", issued, issued.Add(time.Hour))
		dbMock.ExpectQuery(query).WithArgs("h1").WillReturnRows(rows)

		token, err := NewTokenRepository(db, log).GetByHash(context.Background(), "h1")
		require.NoError(t, err)
		assert.Equal(t, "owner-1", token.OwnerID)
		assert.Equal(t, issued.Add(time.Hour), token.ExpiresAt)
	})

	t.Run("not found", func(t *testing.T) {
		db, dbMock := newMockDB(t)
		dbMock.ExpectQuery(query).WithArgs("nope").WillReturnError(sql.ErrNoRows)

		_, err := NewTokenRepository(db, log).GetByHash(context.Background(), "nope")
		assert.ErrorIs(t, err, common.ErrNotFound)
		assert.NotErrorIs(t, err, common.ErrStoreUnavailable)
	})

	t.Run("driver failure", func(t *testing.T) {
		db, dbMock := newMockDB(t)
		dbMock.ExpectQuery(query).WithArgs("h1").WillReturnError(errors.New("connection reset"))

		_, err := NewTokenRepository(db, log).GetByHash(context.Background(), "h1")
		assert.ErrorIs(t, err, common.ErrStoreUnavailable)
	})
}

func TestTokenRepository_Delete(t *testing.T) {
	log, _ := test.NewNullLogger()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("by owner", func(t *testing.T) {
		db, dbMock := newMockDB(t)
		dbMock.ExpectExec(regexp.QuoteMeta(`DELETE FROM tokens WHERE owner_id = $1`)).
			WithArgs("owner-1").WillReturnResult(sqlmock.NewResult(0, 0))

		assert.NoError(t, NewTokenRepository(db, log).DeleteByOwner(context.Background(), "owner-1"))
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("expired", func(t *testing.T) {
		db, dbMock := newMockDB(t)
		dbMock.ExpectExec(regexp.QuoteMeta(`DELETE FROM tokens WHERE expires_at <= $1`)).
			WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 3))

		n, err := NewTokenRepository(db, log).DeleteExpired(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})
}
