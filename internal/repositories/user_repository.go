package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"chatsync/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository reads profiles written by the auth service.
type UserRepository interface {
	Get(ctx context.Context, userID string) (models.User, error)
	CountExisting(ctx context.Context, userIDs []string) (int, error)
	SetLastSeen(ctx context.Context, userID string, at time.Time) error
	Search(ctx context.Context, actorID, query string, limit int) ([]models.User, error)
}

const SearchLimit = 10

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) Get(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, name, email, avatar, last_seen, created_at FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// CountExisting returns how many of the distinct ids exist.
func (r *UserRepo) CountExisting(ctx context.Context, userIDs []string) (int, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`SELECT COUNT(*) FROM users WHERE id IN (?)`, userIDs)
	if err != nil {
		return 0, err
	}
	var n int
	err = r.db.GetContext(ctx, &n, r.db.Rebind(query), args...)
	return n, err
}

func (r *UserRepo) SetLastSeen(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_seen=$2 WHERE id=$1`, userID, at)
	return err
}

// Search matches name or email case-insensitively, never returning the actor.
func (r *UserRepo) Search(ctx context.Context, actorID, query string, limit int) ([]models.User, error) {
	if limit <= 0 || limit > SearchLimit {
		limit = SearchLimit
	}
	pattern := "%" + likeEscaper.Replace(strings.TrimSpace(query)) + "%"
	users := []models.User{}
	err := r.db.SelectContext(ctx, &users, `
		SELECT id, name, email, avatar, last_seen, created_at FROM users
		WHERE id <> $1 AND (name ILIKE $2 OR email ILIKE $2)
		ORDER BY name, id
		LIMIT $3`, actorID, pattern, limit)
	return users, err
}
