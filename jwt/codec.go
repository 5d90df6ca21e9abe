package jwt

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes the two token families. It travels in the "typ" claim so a
// token of one kind is never accepted where the other is expected.
type Kind string

const (
	// KindAccess marks short-lived bearer tokens.
	KindAccess Kind = "access"
	// KindRenewal marks long-lived tokens that can be exchanged for a new pair.
	KindRenewal Kind = "renewal"
)

var (
	// ErrExpired is returned when a token is well formed and correctly signed but past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrMalformed is returned for any other verification failure: bad signature,
	// wrong algorithm, wrong issuer, wrong kind or unparseable input.
	ErrMalformed = errors.New("token malformed")
)

// Config defines the signing material and lifetimes used by a Codec.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	AccessSecret  []byte
	RenewalSecret []byte
	AccessTTL     time.Duration
	RenewalTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
}

// Identity is the canonical claims triple embedded in both token kinds.
type Identity struct {
	ID    string
	Email string
	Phone string
}

// SessionClaims is the wire shape of an issued token.
type SessionClaims struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Kind  Kind   `json:"typ"`
	jwt.RegisteredClaims
}

// Codec issues and verifies HS256 session tokens. Access and renewal tokens are
// signed with independent secrets.
//
// A Codec is safe for concurrent use.
type Codec struct {
	config Config
	now    func() time.Time
}

// NewCodec validates cfg and returns a ready Codec.
//
// Both secrets must be non-empty and must differ, both lifetimes must be positive
// and leeway must stay within two minutes.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.AccessSecret) == 0 {
		return nil, errors.New("access secret required")
	}
	if len(cfg.RenewalSecret) == 0 {
		return nil, errors.New("renewal secret required")
	}
	if bytes.Equal(cfg.AccessSecret, cfg.RenewalSecret) {
		return nil, errors.New("access and renewal secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RenewalTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)

	return &Codec{config: cfg, now: time.Now}, nil
}

// IssueAccess signs a short-lived access token for id.
func (c *Codec) IssueAccess(id Identity) (string, error) {
	return c.issue(id, KindAccess, c.config.AccessSecret, c.config.AccessTTL)
}

// IssueRenewal signs a renewal token for id.
func (c *Codec) IssueRenewal(id Identity) (string, error) {
	return c.issue(id, KindRenewal, c.config.RenewalSecret, c.config.RenewalTTL)
}

// VerifyAccess checks signature, algorithm, issuer, expiry and kind of an access
// token and returns its identity. It never touches a store.
func (c *Codec) VerifyAccess(token string) (Identity, error) {
	return c.verify(token, KindAccess, c.config.AccessSecret)
}

// VerifyRenewal is the renewal-token counterpart of VerifyAccess.
func (c *Codec) VerifyRenewal(token string) (Identity, error) {
	return c.verify(token, KindRenewal, c.config.RenewalSecret)
}

func (c *Codec) issue(id Identity, kind Kind, secret []byte, ttl time.Duration) (string, error) {
	if id.ID == "" {
		return "", errors.New("identity id required")
	}
	now := c.now()
	claims := SessionClaims{
		ID:    id.ID,
		Email: id.Email,
		Phone: id.Phone,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (c *Codec) verify(tokenStr string, kind Kind, secret []byte) (Identity, error) {
	if tokenStr == "" {
		return Identity{}, ErrMalformed
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpired
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return Identity{}, ErrMalformed
	}
	if claims.Kind != kind {
		return Identity{}, fmt.Errorf("%w: unexpected token kind %q", ErrMalformed, claims.Kind)
	}
	if claims.ID == "" {
		return Identity{}, fmt.Errorf("%w: missing id claim", ErrMalformed)
	}

	return Identity{ID: claims.ID, Email: claims.Email, Phone: claims.Phone}, nil
}
