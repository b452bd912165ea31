package models

import "time"

// RefreshToken stores a bcrypt hash of a long-lived refresh credential.
type RefreshToken struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	UserID    string    `gorm:"index;size:128;not null" json:"userId"`
	Hash      string    `gorm:"size:128;not null" json:"-"`
	ExpiresAt time.Time `gorm:"index" json:"expiresAt"`
	Revoked   bool      `gorm:"default:false" json:"revoked"`
	CreatedAt time.Time `json:"createdAt"`
}

// AccessToken stores the SHA-256 digest of a short-lived bearer token.
type AccessToken struct {
	Digest    string    `gorm:"primaryKey;size:64" json:"-"`
	UserID    string    `gorm:"index;size:128;not null" json:"userId"`
	ExpiresAt time.Time `gorm:"index" json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// RefreshRequest is the body of POST /api/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RefreshResponse is returned on a successful refresh.
type RefreshResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IssueTokenRequest is the body of POST /api/auth/refresh-tokens.
type IssueTokenRequest struct {
	UserID string `json:"userId" binding:"required"`
}
