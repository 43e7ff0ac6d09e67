package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals a wrong or unconfigured admin key.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrInvalidToken signals a token that failed verification.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrInvalidSubject signals an empty or malformed subject.
	ErrInvalidSubject = errors.New("auth: invalid subject")
)

// Service mints and verifies HS256 bearer tokens.
type Service struct {
	jwtSecret    []byte
	issuer       string
	ttl          time.Duration
	adminKeyHash []byte
	now          func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithAdminKeyHash enables AdminLogin. hash is a bcrypt hash as produced by
// HashAdminKey.
func WithAdminKeyHash(hash string) Option {
	return func(s *Service) { s.adminKeyHash = []byte(hash) }
}

func NewService(jwtSecret, issuer string, ttl time.Duration, opts ...Option) *Service {
	s := &Service{
		jwtSecret: []byte(jwtSecret),
		issuer:    issuer,
		ttl:       ttl,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HashAdminKey returns the bcrypt hash to put in auth.admin_key_hash.
func HashAdminKey(key string) (string, error) {
	if len(key) < 12 {
		return "", fmt.Errorf("auth: admin key must be at least 12 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash admin key: %w", err)
	}
	return string(hash), nil
}

// IssueToken mints a participant token for address.
func (s *Service) IssueToken(address string) (TokenResponse, error) {
	address = strings.TrimSpace(address)
	if address == "" || address == AdminSubject {
		return TokenResponse{}, ErrInvalidSubject
	}
	return s.issue(address, RoleParticipant)
}

// AdminLogin exchanges the operator key for an admin token.
func (s *Service) AdminLogin(key string) (TokenResponse, error) {
	if len(s.adminKeyHash) == 0 {
		return TokenResponse{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.adminKeyHash, []byte(key)); err != nil {
		return TokenResponse{}, ErrInvalidCredentials
	}
	return s.issue(AdminSubject, RoleAdmin)
}

func (s *Service) issue(subject string, role Role) (TokenResponse, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return TokenResponse{Token: token, Subject: subject, Role: role, ExpiresAt: exp.Unix()}, nil
}

// VerifyToken validates signature, issuer and expiry and returns the identity.
func (s *Service) VerifyToken(tokenString string) (Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if !isValidRole(claims.Role) {
		return Identity{}, fmt.Errorf("%w: role %q", ErrInvalidToken, claims.Role)
	}
	return Identity{Subject: claims.Subject, Role: claims.Role}, nil
}

func isValidRole(role Role) bool {
	switch role {
	case RoleParticipant, RoleAdmin:
		return true
	default:
		return false
	}
}
