package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) FindByID(ctx context.Context, id string) (*User, error) {
	u := &User{}
	query := "SELECT id, username, email, name, profileimg, online FROM users WHERE id = $1"

	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&u.ID, &u.Username, &u.Email, &u.Name, &u.ProfileImg, &u.Online)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user %s: %w", id, err)
	}

	return u, nil
}

// Profile loads only the public fields of a user.
func (r *Repository) Profile(ctx context.Context, id string) (*Profile, error) {
	p := &Profile{}
	query := "SELECT id, name, username, profileimg FROM users WHERE id = $1"

	err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.Username, &p.ProfileImg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load profile %s: %w", id, err)
	}

	return p, nil
}

func (r *Repository) SetOnline(ctx context.Context, id string, online bool) error {
	res, err := r.db.ExecContext(ctx, "UPDATE users SET online = $2 WHERE id = $1", id, online)
	if err != nil {
		return fmt.Errorf("set online %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set online %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Upsert stores u keyed by email, the identity the OAuth provider vouches for.
// An existing account is kept as it is; u is filled in with its id, username
// and profile. Sign-in and seeding both go through it, so repeated calls are harmless.
func (r *Repository) Upsert(ctx context.Context, u *User) error {
	query := `INSERT INTO users (id, username, email, name, profileimg)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO UPDATE SET email = users.email
		RETURNING id, username, name, profileimg`

	err := r.db.QueryRowContext(ctx, query, u.ID, u.Username, u.Email, u.Name, u.ProfileImg).
		Scan(&u.ID, &u.Username, &u.Name, &u.ProfileImg)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.Email, err)
	}
	return nil
}
