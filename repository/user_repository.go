package repository

import (
	"context"
	"database/sql"
	"errors"
	"go-admission-api/common"
	"go-admission-api/model"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const uniqueViolation = "23505"

type UserRepository struct {
	DB  *sql.DB
	log logrus.FieldLogger
}

func NewUserRepository(db *sql.DB, log logrus.FieldLogger) *UserRepository {
	return &UserRepository{DB: db, log: log}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	query := `INSERT INTO users (id, email, password) VALUES ($1, $2, $3) RETURNING created_at`
	err := r.DB.QueryRowContext(ctx, query, user.ID, user.Email, user.Password).Scan(&user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return common.ErrEmailTaken
		}
		r.log.WithError(err).WithField("email", user.Email).Error("Failed to execute create user query")
		return common.StoreError("users.create", err)
	}
	return nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	user := &model.User{}
	query := `SELECT id, email, password, created_at FROM users WHERE email = $1`
	err := r.DB.QueryRowContext(ctx, query, email).Scan(&user.ID, &user.Email, &user.Password, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		r.log.WithError(err).WithField("email", email).Error("Failed to execute get user by email query")
		return nil, common.StoreError("users.get", err)
	}
	return user, nil
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		r.log.WithError(err).WithField("user_id", id).Error("Failed to execute delete user query")
		return common.StoreError("users.delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return common.StoreError("users.delete", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
