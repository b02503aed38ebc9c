package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/csma94/guard-sub003/internal/domain"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUserByUsername — вход в консоль. Возвращает nil без ошибки,
// если пользователя нет: хендлер отвечает одинаковым 401 и для неверного
// пароля, и для несуществующего логина.
func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `
		SELECT id, email, username, password_hash, role, sites, scopes, created_at, updated_at
		FROM users WHERE username = $1`

	u := &domain.User{}
	var sites, scopes []byte
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Role,
		&sites, &scopes, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to get user: %w", err)
	}

	if len(sites) > 0 {
		if err := json.Unmarshal(sites, &u.Sites); err != nil {
			return nil, fmt.Errorf("postgres: corrupt sites for user %s: %w", u.ID, err)
		}
	}
	if len(scopes) > 0 {
		if err := json.Unmarshal(scopes, &u.Scopes); err != nil {
			return nil, fmt.Errorf("postgres: corrupt scopes for user %s: %w", u.ID, err)
		}
	}
	return u, nil
}
