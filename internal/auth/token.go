package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenInvalid means the signature, algorithm or payload is wrong.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired means the token was valid but its exp has passed.
	ErrTokenExpired = errors.New("token expired")
)

// Clock returns the current time.
type Clock func() time.Time

// Claims is the payload of a session token.
type Claims struct {
	jwt.RegisteredClaims
	// IssuedAtMillis is iat at millisecond precision. The password-change
	// cutoff compares against it.
	IssuedAtMillis int64 `json:"iat_ms"`
}

// Session is the verified content of a token.
type Session struct {
	PrincipalID string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Token is a freshly issued session token.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenCodec issues and verifies HS256 session tokens.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	now    Clock
}

// TokenOption customizes a TokenCodec.
type TokenOption func(*TokenCodec)

// WithClock overrides the codec's time source.
func WithClock(clock Clock) TokenOption {
	return func(c *TokenCodec) {
		c.now = clock
	}
}

// NewTokenCodec constructs a codec signing with secret.
func NewTokenCodec(secret []byte, ttl time.Duration, opts ...TokenOption) (*TokenCodec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token signing secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	codec := &TokenCodec{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(codec)
	}
	return codec, nil
}

// TTL returns the configured token lifetime.
func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

// Issue signs a token for principalID issued now.
func (c *TokenCodec) Issue(principalID string) (Token, error) {
	return c.IssueAt(principalID, c.now())
}

// IssueAt signs a token for principalID issued at the given instant.
func (c *TokenCodec) IssueAt(principalID string, issuedAt time.Time) (Token, error) {
	if strings.TrimSpace(principalID) == "" {
		return Token{}, errors.New("principal id is required")
	}
	issuedAt = Truncate(issuedAt)
	// exp travels as whole seconds.
	expiresAt := issuedAt.Add(c.ttl).Truncate(time.Second)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		IssuedAtMillis: issuedAt.UnixMilli(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, IssuedAt: issuedAt, ExpiresAt: expiresAt}, nil
}

// Verify checks the signature and expiry of tokenString.
func (c *TokenCodec) Verify(tokenString string) (Session, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Session{}, ErrTokenExpired
		}
		return Session{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return Session{}, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Session{}, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if claims.IssuedAtMillis <= 0 {
		return Session{}, fmt.Errorf("%w: missing issued-at", ErrTokenInvalid)
	}

	return Session{
		PrincipalID: claims.Subject,
		IssuedAt:    time.UnixMilli(claims.IssuedAtMillis),
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}
