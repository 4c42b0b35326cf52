// Package auth implements JWT verification, password hashing, and the
// HTTP middleware that establishes the caller identity for a request.
//
// Tokens are HS256, signed with a shared secret. The user id travels in
// the standard "sub" claim and is the only identity the rest of the
// system ever trusts; nothing downstream accepts a user id from a
// request payload.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims errors, distinguished so the HTTP layer can phrase responses.
var (
	// ErrTokenExpired indicates a structurally valid token past its exp claim.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid covers bad signatures, wrong algorithms, and
	// malformed or claim-incomplete tokens.
	ErrTokenInvalid = errors.New("token invalid")
)

// TokenData is the validated identity extracted from a verified token.
type TokenData struct {
	UserID    string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Verifier mints and verifies HS256 tokens with a shared secret.
type Verifier struct {
	secret []byte
	ttl    time.Duration
}

// NewVerifier creates a Verifier. ttl controls the lifetime of tokens
// minted by [Verifier.Mint]; verification honors whatever exp a token
// carries.
func NewVerifier(secret string, ttl time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), ttl: ttl}
}

// Mint issues a signed token for a user.
func (v *Verifier) Mint(userID, email string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"iat":   now.Unix(),
		"exp":   now.Add(v.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiration of a token and extracts
// the caller identity. The algorithm is pinned to HS256; tokens signed
// any other way are rejected regardless of signature validity.
func (v *Verifier) Verify(tokenString string) (*TokenData, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrTokenInvalid)
	}

	data := &TokenData{UserID: sub}
	if email, ok := claims["email"].(string); ok {
		data.Email = email
	}
	if iat, ok := claims["iat"].(float64); ok {
		data.IssuedAt = time.Unix(int64(iat), 0)
	}
	if exp, ok := claims["exp"].(float64); ok {
		data.ExpiresAt = time.Unix(int64(exp), 0)
	}

	return data, nil
}
