package auth

import "github.com/golang-jwt/jwt/v5"

type Role string

const (
	// RoleParticipant acts as the address in its subject claim.
	RoleParticipant Role = "participant"
	// RoleAdmin may additionally force-close disputes and trigger reselection.
	RoleAdmin Role = "admin"
)

// AdminSubject is the subject of tokens minted by AdminLogin.
const AdminSubject = "admin"

// Identity is the verified content of a bearer token.
type Identity struct {
	Subject string
	Role    Role
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// Claims is the JWT payload.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenRequest asks for a participant token bound to an address.
type TokenRequest struct {
	Address string `json:"address"`
}

// AdminLoginRequest carries the operator key.
type AdminLoginRequest struct {
	Key string `json:"key"`
}

// TokenResponse is returned by both token endpoints.
type TokenResponse struct {
	Token     string `json:"token"`
	Subject   string `json:"subject"`
	Role      Role   `json:"role"`
	ExpiresAt int64  `json:"expires_at"`
}
