package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"cosmicwatch/database"
	"cosmicwatch/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrInvalidRefreshToken covers malformed, unknown and revoked refresh tokens.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrTokenExpired is returned for refresh or access tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrInvalidAccessToken is returned for unknown access tokens.
	ErrInvalidAccessToken = errors.New("invalid access token")
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	secretBytes       = 32
)

// Options configures a Service.
type Options struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Logger     *zap.Logger
	Now        func() time.Time
}

// Service issues refresh tokens and exchanges them for short-lived access tokens.
// Refresh tokens have the form "<id>.<secret>"; only a bcrypt hash of the
// secret is stored. Access tokens are stored as SHA-256 digests.
type Service struct {
	db         *gorm.DB
	accessTTL  time.Duration
	refreshTTL time.Duration
	log        *zap.Logger
	now        func() time.Time
}

func New(db *database.Database, opts Options) *Service {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = defaultAccessTTL
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = defaultRefreshTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		db:         db.Gorm,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		log:        opts.Logger,
		now:        opts.Now,
	}
}

// IssueRefreshToken creates a refresh token for userID. The plaintext is
// returned once and never stored.
func (s *Service) IssueRefreshToken(userID string) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("user id required")
	}

	secret, err := randomSecret()
	if err != nil {
		return "", time.Time{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("hash refresh token: %w", err)
	}

	row := models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Hash:      string(hash),
		ExpiresAt: s.now().UTC().Add(s.refreshTTL),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return "", time.Time{}, fmt.Errorf("failed to store refresh token: %w", err)
	}
	s.log.Info("issued refresh token", zap.String("user_id", userID), zap.String("token_id", row.ID))
	return row.ID + "." + secret, row.ExpiresAt, nil
}

// Exchange validates a refresh token and mints a new access token.
func (s *Service) Exchange(refreshToken string) (models.RefreshResponse, error) {
	row, err := s.lookupRefresh(refreshToken)
	if err != nil {
		return models.RefreshResponse{}, err
	}

	token, err := randomSecret()
	if err != nil {
		return models.RefreshResponse{}, err
	}
	access := models.AccessToken{
		Digest:    digest(token),
		UserID:    row.UserID,
		ExpiresAt: s.now().UTC().Add(s.accessTTL),
	}
	if err := s.db.Create(&access).Error; err != nil {
		return models.RefreshResponse{}, fmt.Errorf("failed to store access token: %w", err)
	}
	return models.RefreshResponse{Token: token, ExpiresAt: access.ExpiresAt}, nil
}

// Refresh satisfies core.TokenRefresher for in-process use.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	res, err := s.Exchange(refreshToken)
	if err != nil {
		return "", err
	}
	return res.Token, nil
}

// ValidateAccessToken returns the user an access token belongs to.
func (s *Service) ValidateAccessToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidAccessToken
	}
	var row models.AccessToken
	if err := s.db.First(&row, "digest = ?", digest(token)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrInvalidAccessToken
		}
		return "", fmt.Errorf("failed to look up access token: %w", err)
	}
	if !s.now().Before(row.ExpiresAt) {
		return "", ErrTokenExpired
	}
	return row.UserID, nil
}

// Revoke invalidates a refresh token.
func (s *Service) Revoke(refreshToken string) error {
	row, err := s.lookupRefresh(refreshToken)
	if err != nil && !errors.Is(err, ErrTokenExpired) {
		return err
	}
	if row == nil {
		return ErrInvalidRefreshToken
	}
	if err := s.db.Model(row).Update("revoked", true).Error; err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// PurgeExpired deletes expired access and refresh tokens.
func (s *Service) PurgeExpired() (int64, error) {
	now := s.now().UTC()
	a := s.db.Where("expires_at <= ?", now).Delete(&models.AccessToken{})
	if a.Error != nil {
		return 0, fmt.Errorf("failed to purge access tokens: %w", a.Error)
	}
	r := s.db.Where("expires_at <= ? OR revoked = ?", now, true).Delete(&models.RefreshToken{})
	if r.Error != nil {
		return a.RowsAffected, fmt.Errorf("failed to purge refresh tokens: %w", r.Error)
	}
	return a.RowsAffected + r.RowsAffected, nil
}

// lookupRefresh returns the stored row for a token. On ErrTokenExpired the row is
// still returned.
func (s *Service) lookupRefresh(refreshToken string) (*models.RefreshToken, error) {
	id, secret, ok := strings.Cut(strings.TrimSpace(refreshToken), ".")
	if !ok || id == "" || secret == "" {
		return nil, ErrInvalidRefreshToken
	}

	var row models.RefreshToken
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("failed to look up refresh token: %w", err)
	}
	if row.Revoked {
		return nil, ErrInvalidRefreshToken
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.Hash), []byte(secret)); err != nil {
		return nil, ErrInvalidRefreshToken
	}
	if !s.now().Before(row.ExpiresAt) {
		return &row, ErrTokenExpired
	}
	return &row, nil
}

func randomSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
