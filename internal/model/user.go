package model

import "time"

// User is an Atlas account linked to an HCB identity. The numeric ID is
// local; HCBUserID is the identifier issued by HCB. Token fields are nil
// until the first OAuth exchange completes.
type User struct {
	ID             int64      `json:"id"`
	HCBUserID      string     `json:"user_id"`
	Name           *string    `json:"name"`
	Email          *string    `json:"email"`
	AccessToken    *string    `json:"-"`
	RefreshToken   *string    `json:"-"`
	TokenExpiresAt *time.Time `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TokenData is the access/refresh/expiry triple used to call the HCB API on
// a user's behalf. ExpiresAt is an absolute instant, never a duration.
type TokenData struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// TokenData returns the user's stored token material, or nil if any part of
// the triple is missing.
func (u *User) TokenData() *TokenData {
	if u.AccessToken == nil || u.RefreshToken == nil || u.TokenExpiresAt == nil {
		return nil
	}
	return &TokenData{
		AccessToken:  *u.AccessToken,
		RefreshToken: *u.RefreshToken,
		ExpiresAt:    *u.TokenExpiresAt,
	}
}
