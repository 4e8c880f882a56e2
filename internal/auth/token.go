// ABOUTME: JWT token issue and verification for participant authentication
// ABOUTME: Uses HS256 signing; the subject claim is the participant in kind:id form

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/coven-inbox/internal/identity"
)

// MinSecretLength is the shortest HS256 secret accepted.
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
)

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (identity.Participant, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &JWTVerifier{secret: secret, now: time.Now}, nil
}

// Verify validates the token and extracts the participant from the "sub" claim
func (v *JWTVerifier) Verify(tokenString string) (identity.Participant, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return identity.Participant{}, ErrExpiredToken
		}
		return identity.Participant{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return identity.Participant{}, ErrInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return identity.Participant{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	p, err := identity.Parse(sub)
	if err != nil {
		return identity.Participant{}, fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}
	return p, nil
}

// Generate creates a new JWT token for p with expiration
func (v *JWTVerifier) Generate(p identity.Participant, expiresIn time.Duration) (string, error) {
	if p.IsZero() {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	now := v.now()
	claims := jwt.MapClaims{
		"sub": p.String(),
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// SubjectOf reads the participant from a token without checking its
// signature. Clients use it to learn who they are; servers must use Verify.
func SubjectOf(tokenString string) (identity.Participant, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return identity.Participant{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return identity.Participant{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	p, err := identity.Parse(sub)
	if err != nil {
		return identity.Participant{}, fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}
	return p, nil
}
