package store

import (
	"database/sql"
	"fmt"

	"github.com/hackatlas/atlas/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var name, email, accessToken, refreshToken sql.NullString
	var expiresAt sql.NullTime

	err := scanner.Scan(
		&u.ID, &u.HCBUserID, &name, &email,
		&accessToken, &refreshToken, &expiresAt,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if name.Valid {
		u.Name = &name.String
	}
	if email.Valid {
		u.Email = &email.String
	}
	if accessToken.Valid {
		u.AccessToken = &accessToken.String
	}
	if refreshToken.Valid {
		u.RefreshToken = &refreshToken.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		u.TokenExpiresAt = &t
	}
	return &u, nil
}

const userCols = `id, user_id, name, email, access_token, refresh_token, token_expires_at, created_at, updated_at`

// FindOrCreate upserts a user keyed by the HCB user id. The insert-or-update
// is a single statement so concurrent first logins for the same identity
// cannot create duplicate rows. Nil name/email never overwrite values
// already on the row.
func (s *UserStore) FindOrCreate(hcbUserID string, name, email *string) (*model.User, error) {
	var n, e sql.NullString
	if name != nil {
		n = sql.NullString{String: *name, Valid: true}
	}
	if email != nil {
		e = sql.NullString{String: *email, Valid: true}
	}

	row := s.db.QueryRow(
		`INSERT INTO users (user_id, name, email) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   name = COALESCE(excluded.name, users.name),
		   email = COALESCE(excluded.email, users.email),
		   updated_at = datetime('now')
		 RETURNING `+userCols,
		hcbUserID, n, e,
	)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByID(id int64) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByHCBUserID(hcbUserID string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE user_id = ?`, hcbUserID)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by hcb id: %w", err)
	}
	return u, nil
}

// UpdateTokens overwrites the user's token triple. Called after every OAuth
// exchange and every refresh; the write is an idempotent overwrite.
func (s *UserStore) UpdateTokens(id int64, td model.TokenData) error {
	res, err := s.db.Exec(
		`UPDATE users SET access_token = ?, refresh_token = ?, token_expires_at = ?, updated_at = datetime('now') WHERE id = ?`,
		td.AccessToken, td.RefreshToken, td.ExpiresAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update tokens: user %d not found", id)
	}
	return nil
}

// TokenData loads the stored token triple for a user, or nil if the user is
// missing or has never completed an OAuth exchange.
func (s *UserStore) TokenData(id int64) (*model.TokenData, error) {
	u, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, nil
	}
	return u.TokenData(), nil
}

// Count reports the number of user rows.
func (s *UserStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
