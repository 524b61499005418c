package auth

import (
	"errors"
	"time"

	"ExpeditionFlow/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type JWTClaims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"` // checked by the RBAC middleware
	jwt.RegisteredClaims
}

// Tokens signs and verifies operator tokens with the configured secret.
type Tokens struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewTokens(cfg *config.Config) (*Tokens, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET not set")
	}
	ttl := cfg.Auth.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Tokens{key: []byte(cfg.Auth.JWTSecret), ttl: ttl, now: time.Now}, nil
}

func (t *Tokens) Generate(op *Operator) (string, error) {
	now := t.now()
	claims := &JWTClaims{
		Name:  op.Name,
		Email: op.Email,
		Role:  op.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   op.ID.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.key)
}

// Parse verifies the signature and expiry of a token and returns its claims.
func (t *Tokens) Parse(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return t.key, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hashed), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
