package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prudhvinik1/changesync/internal/models"
	"github.com/prudhvinik1/changesync/internal/repositories"
	"github.com/prudhvinik1/changesync/internal/utils"
)

var (
	ErrInvalidCredentials = errors.New("invalid issue secret")
	ErrInvalidToken       = errors.New("invalid token")
	ErrIssueDisabled      = errors.New("token issuance is disabled")
)

// AuthService issues and verifies bearer tokens. When a session repository
// is configured every token is backed by a session and can be revoked;
// without one tokens are valid until they expire.
type AuthService struct {
	sessionRepo repositories.SessionRepository
	jwtSecret   string
	jwtExpiry   time.Duration
	issue       IssuePolicy
}

// IssuePolicy guards POST /v2/auth/token. SecretHash is a bcrypt hash; when
// empty any caller may mint tokens, which is only meant for development.
type IssuePolicy struct {
	Enabled    bool
	SecretHash string
}

type IssueRequest struct {
	AccountID  string
	DeviceType string
	Secret     string
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	AccountID string    `json:"accountId"`
	SessionID string    `json:"sessionId"`
}

type TokenClaims struct {
	AccountID  string
	SessionID  string
	DeviceType string
}

func NewAuthService(
	sessionRepo repositories.SessionRepository,
	jwtSecret string,
	jwtExpiry time.Duration,
	issue IssuePolicy,
) *AuthService {
	return &AuthService{
		sessionRepo: sessionRepo,
		jwtSecret:   jwtSecret,
		jwtExpiry:   jwtExpiry,
		issue:       issue,
	}
}

func (s *AuthService) IssueToken(ctx context.Context, req IssueRequest) (*TokenResponse, error) {
	if !s.issue.Enabled {
		return nil, ErrIssueDisabled
	}
	if s.issue.SecretHash != "" && !utils.CheckSecret(s.issue.SecretHash, req.Secret) {
		return nil, ErrInvalidCredentials
	}
	if err := models.ValidateID("accountId", req.AccountID); err != nil {
		return nil, err
	}

	sessionID := uuid.New().String()
	expiresAt := time.Now().Add(s.jwtExpiry)

	if s.sessionRepo != nil {
		session := &models.Session{
			ID:         sessionID,
			AccountID:  req.AccountID,
			DeviceType: req.DeviceType,
			ExpiresAt:  expiresAt,
			CreatedAt:  time.Now(),
		}
		if err := s.sessionRepo.Create(ctx, session); err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
	}

	token, err := s.generateToken(req.AccountID, req.DeviceType, sessionID, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &TokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		AccountID: req.AccountID,
		SessionID: sessionID,
	}, nil
}

func (s *AuthService) generateToken(accountID, deviceType, sessionID string, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":         accountID,
		"device_type": deviceType,
		"jti":         sessionID,
		"exp":         expiresAt.Unix(),
		"iat":         time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}

// VerifyToken checks the signature and expiry only.
func (s *AuthService) VerifyToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})

	if err != nil {
		return nil, ErrInvalidToken
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	accountID, ok := claims["sub"].(string)
	if !ok || accountID == "" {
		return nil, ErrInvalidToken
	}

	sessionID, ok := claims["jti"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}

	// Optional
	deviceType, _ := claims["device_type"].(string)

	return &TokenClaims{
		AccountID:  accountID,
		SessionID:  sessionID,
		DeviceType: deviceType,
	}, nil
}

// Authenticate verifies the token and, when sessions are tracked, that its
// session was not revoked.
func (s *AuthService) Authenticate(ctx context.Context, tokenString string) (*TokenClaims, error) {
	claims, err := s.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}
	if s.sessionRepo == nil {
		return claims, nil
	}

	session, err := s.sessionRepo.GetByID(ctx, claims.SessionID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session.AccountID != claims.AccountID {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *AuthService) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.VerifyToken(tokenString)
	if err != nil {
		return err
	}
	if s.sessionRepo == nil {
		return nil
	}

	// Delete session using session ID from token
	err = s.sessionRepo.Delete(ctx, claims.SessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

func (s *AuthService) LogoutAll(ctx context.Context, tokenString string) error {
	claims, err := s.VerifyToken(tokenString)
	if err != nil {
		return err
	}
	if s.sessionRepo == nil {
		return nil
	}

	err = s.sessionRepo.DeleteAllForAccount(ctx, claims.AccountID)
	if err != nil {
		return fmt.Errorf("failed to logout all sessions: %w", err)
	}

	return nil
}
