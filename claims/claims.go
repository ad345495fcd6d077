// Package claims issues and validates the signed, time-bounded claim sets
// the broker hands out as bearer credentials.
package claims

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	brokererrors "github.com/jrsteele09/go-identity-broker/internal/errors"
)

// Claims is the identity and entitlement bundle carried by a bearer token.
// Org/Service (and the plan fields) are only set for tenant-scoped sessions.
type Claims struct {
	Email           string   `json:"email"`
	IsPlatformOwner bool     `json:"is_platform_owner"`
	Org             string   `json:"org,omitempty"`
	Service         string   `json:"service,omitempty"`
	Plan            string   `json:"plan,omitempty"`
	Features        []string `json:"features,omitempty"`

	jwt.RegisteredClaims
}

// Codec signs and verifies claim sets. The signing algorithm is fixed by the
// configured Signer; verification rejects tokens signed with any other
// algorithm.
type Codec struct {
	signer  Signer
	expiry  time.Duration
	nowFunc func() time.Time
}

// CodecOption defines a function type to modify the Codec instance.
type CodecOption func(*Codec)

// WithExpiry overrides the default claim lifetime.
func WithExpiry(expiry time.Duration) CodecOption {
	return func(c *Codec) {
		c.expiry = expiry
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.nowFunc = now
	}
}

// NewCodec creates a Codec around the given signer.
func NewCodec(signer Signer, options ...CodecOption) (*Codec, error) {
	if signer == nil {
		return nil, errors.New("[NewCodec] signer is required")
	}

	c := &Codec{
		signer:  signer,
		expiry:  24 * time.Hour,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Issue signs a claim set, stamping iat, exp and a unique jti.
func (c *Codec) Issue(claims Claims) (string, error) {
	now := c.nowFunc()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(c.expiry))
	claims.ID = uuid.New().String()

	signed, err := c.signer.Sign(&claims)
	if err != nil {
		return "", errors.Wrap(err, "[Codec.Issue] signer.Sign")
	}
	return signed, nil
}

// Expiry returns the configured claim lifetime.
func (c *Codec) Expiry() time.Duration {
	return c.expiry
}

// Verify checks signature and expiry and returns the embedded claims.
// Expired claims are rejected even when the signature is valid, and tokens
// signed with an algorithm other than the configured one never reach key
// lookup.
func (c *Codec) Verify(rawToken string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(
		rawToken,
		&Claims{},
		c.signer.VerificationKey,
		jwt.WithValidMethods([]string{c.signer.Method().Alg()}),
		jwt.WithTimeFunc(c.nowFunc),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, errors.Wrap(brokererrors.ErrUnauthorized, err.Error())
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.Wrap(brokererrors.ErrUnauthorized, "invalid claims")
	}
	return claims, nil
}

// HashToken computes the one-way hash under which a session row is stored.
// The raw bearer token itself is never persisted.
func HashToken(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}
