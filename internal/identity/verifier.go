package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Errors
var (
	ErrVerification = errors.New("token verification failed")
	ErrNoSubject    = errors.New("token has no subject")
)

// Identity is a verified subject with its role claim.
type Identity struct {
	SubjectID string
	Role      string
}

// Verifier resolves an opaque bearer token to a verified identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// channelClaims is the JWT claim set issued by the identity provider.
type channelClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier creates a verifier for the given shared secret.
// If issuer is non-empty, the token's iss claim must match.
func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates the token. All failure modes (expired,
// malformed, wrong signature, wrong issuer) collapse into ErrVerification;
// callers are expected to report a generic failure to clients.
func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims channelClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrVerification, err)
	}
	if !parsed.Valid {
		return Identity{}, ErrVerification
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: %w", ErrVerification, ErrNoSubject)
	}

	return Identity{SubjectID: claims.Subject, Role: claims.Role}, nil
}

// Mint signs a channel token for the given subject and role. Used by the
// probe tool and tests; production tokens come from the identity provider.
func Mint(secret, issuer, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := channelClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
