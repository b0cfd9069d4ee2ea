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

func (r *Repository) CreateUser(ctx context.Context, u *User) (*User, error) {
	var id int
	query := "INSERT INTO users (username, password, avatar_url) VALUES ($1, $2, $3) RETURNING id"

	err := r.db.QueryRowContext(ctx, query, u.Username, u.Password, u.AvatarURL).Scan(&id)
	if err != nil {
		return nil, err
	}

	u.ID = id
	return u, nil
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	query := "SELECT id, username, password, avatar_url FROM users WHERE username = $1"

	err := r.db.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.Username, &u.Password, &u.AvatarURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return u, nil
}

func (r *Repository) GetByID(ctx context.Context, id int) (*User, error) {
	u := &User{}
	query := "SELECT id, username, avatar_url FROM users WHERE id = $1"

	err := r.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Username, &u.AvatarURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return u, nil
}

// Exists reports whether a user id resolves to a stored account. The chat
// core uses it to reject messages addressed to unknown users before any
// write happens.
func (r *Repository) Exists(ctx context.Context, id int) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("user exists check: %w", err)
	}
	return exists, nil
}

func (r *Repository) Search(ctx context.Context, query string) ([]User, error) {
	// We limit to 10 to keep it fast
	q := `SELECT id, username, avatar_url FROM users WHERE username ILIKE $1 LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.AvatarURL); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// List returns every user except the given one, for the conversation sidebar.
func (r *Repository) List(ctx context.Context, excludeID int) ([]User, error) {
	q := `SELECT id, username, avatar_url FROM users WHERE id <> $1 ORDER BY username`
	rows, err := r.db.QueryContext(ctx, q, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.AvatarURL); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
