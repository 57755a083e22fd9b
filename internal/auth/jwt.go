package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims defines the JWT payload for access tokens. UserID is the opaque
// uid the document store keys users by.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenService issues and validates HMAC-signed access tokens. Tokens are
// minted by the identity provider in front of rolesync or by the CLI.
type TokenService struct {
	secret       []byte
	issuer       string
	accessExpiry time.Duration
}

// NewTokenService creates a TokenService with the given HMAC secret. A
// non-positive expiry defaults to 15 minutes.
func NewTokenService(secret, issuer string, expiry time.Duration) *TokenService {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &TokenService{
		secret:       []byte(secret),
		issuer:       issuer,
		accessExpiry: expiry,
	}
}

// AccessExpiry returns the configured access token lifetime.
func (ts *TokenService) AccessExpiry() time.Duration {
	return ts.accessExpiry
}

// GenerateAccessToken creates a signed JWT for uid.
func (ts *TokenService) GenerateAccessToken(uid string) (string, error) {
	if uid == "" {
		return "", fmt.Errorf("empty user id")
	}
	now := time.Now()
	claims := Claims{
		UserID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.accessExpiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken parses and validates a JWT, returning the claims.
func (ts *TokenService) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if ts.issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token carries no user id")
	}
	return claims, nil
}
