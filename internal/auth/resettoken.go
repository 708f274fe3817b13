package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

const (
	// DefaultResetTokenTTL is how long a recovery token stays usable.
	DefaultResetTokenTTL = 10 * time.Minute
	resetTokenBytes      = 32
)

// ResetToken is a freshly generated recovery token. Raw goes to the user,
// only Hash is persisted.
type ResetToken struct {
	Raw       string
	Hash      string
	ExpiresAt time.Time
}

// ResetTokenGenerator creates single-use recovery tokens.
type ResetTokenGenerator struct {
	ttl     time.Duration
	entropy io.Reader
}

// NewResetTokenGenerator constructs a generator reading from crypto/rand.
func NewResetTokenGenerator(ttl time.Duration) *ResetTokenGenerator {
	if ttl <= 0 {
		ttl = DefaultResetTokenTTL
	}
	return &ResetTokenGenerator{ttl: ttl, entropy: rand.Reader}
}

// TTL returns the token lifetime.
func (g *ResetTokenGenerator) TTL() time.Duration {
	return g.ttl
}

// Generate returns a new token expiring ttl after now.
func (g *ResetTokenGenerator) Generate(now time.Time) (ResetToken, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := io.ReadFull(g.entropy, buf); err != nil {
		return ResetToken{}, fmt.Errorf("generate reset token: %w", err)
	}
	raw := hex.EncodeToString(buf)
	return ResetToken{
		Raw:       raw,
		Hash:      HashResetToken(raw),
		ExpiresAt: Truncate(now.Add(g.ttl)),
	}, nil
}

// HashResetToken is the one-way digest stored for a raw recovery token.
func HashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
