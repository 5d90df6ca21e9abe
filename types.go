package goSession

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/goSession/internal/audit"
)

// Principal is a registered identity as held by a [PrincipalStore].
//
// Email is lower-cased and trimmed, Phone holds digits only; both are unique.
// SessionSecret is "" while logged out and otherwise equals the renewal token most
// recently issued to the principal.
type Principal struct {
	ID            string
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	PasswordHash  string
	SessionSecret string
	External      *ExternalCredential
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ExternalCredential is the per-principal third-party OAuth credential. A zero
// AccessTokenExpiresAt means the expiry is unknown: the token is refreshed before use
// when RefreshToken is set and used as-is otherwise.
type ExternalCredential struct {
	AccessToken          string    `json:"access_token,omitempty"`
	AccessTokenExpiresAt time.Time `json:"access_token_expires_at,omitempty"`
	RefreshToken         string    `json:"refresh_token,omitempty"`
	ClientID             string    `json:"client_id,omitempty"`
	ClientSecret         string    `json:"client_secret,omitempty"`
}

// Claims is the identity triple carried by both token kinds and returned by
// [Engine.Authenticate]. Protected operations take it explicitly.
type Claims struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// TokenPair is an access token and its matching renewal token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RenewalToken string `json:"renewal_token"`
}

// Profile is the caller-visible view of a principal. Secrets never appear here.
type Profile struct {
	ID             string    `json:"id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	ExternalLinked bool      `json:"external_linked"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ProfileUpdate is a partial update. Nil fields are left unchanged; a non-nil
// External replaces the whole external credential.
type ProfileUpdate struct {
	FirstName *string             `json:"first_name,omitempty"`
	LastName  *string             `json:"last_name,omitempty"`
	Email     *string             `json:"email,omitempty"`
	Phone     *string             `json:"phone,omitempty"`
	External  *ExternalCredential `json:"external,omitempty"`
}

// RegisterRequest carries the fields accepted by [Engine.Register].
type RegisterRequest struct {
	FirstName string              `json:"first_name"`
	LastName  string              `json:"last_name"`
	Email     string              `json:"email"`
	Phone     string              `json:"phone"`
	Password  string              `json:"password"`
	External  *ExternalCredential `json:"external,omitempty"`
}

// RegisterResult is returned by a successful registration, which also logs the
// new principal in.
type RegisterResult struct {
	Claims Claims    `json:"claims"`
	Tokens TokenPair `json:"tokens"`
}

// TopItems is the raw JSON payload of the principal's top artists.
type TopItems = json.RawMessage

// NowPlaying is the raw JSON payload of the currently playing item, or JSON null
// when nothing is playing.
type NowPlaying = json.RawMessage

// PrincipalStore persists principals. Implementations must enforce uniqueness of
// Email and Phone (returning a *ConflictError naming the field) and must report
// missing principals with an error wrapping ErrNotFound.
//
// Every mutation is a single atomic write.
type PrincipalStore interface {
	Create(ctx context.Context, p *Principal) error
	GetByID(ctx context.Context, id string) (*Principal, error)
	GetByEmail(ctx context.Context, email string) (*Principal, error)
	GetByPhone(ctx context.Context, phone string) (*Principal, error)
	// UpdateProfile applies a normalized partial update and returns the stored result.
	UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (*Principal, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	// ResetPassword replaces the password hash and clears the session secret.
	ResetPassword(ctx context.Context, id, hash string) error
	SetSessionSecret(ctx context.Context, id, secret string) error
	// CompareAndSwapSessionSecret sets the secret to next only if it currently equals
	// expected, and reports whether it did.
	CompareAndSwapSessionSecret(ctx context.Context, id, expected, next string) (bool, error)
	UpdateExternalAccessToken(ctx context.Context, id, token string, expiresAt time.Time) error
}

// Mailer delivers one-time recovery codes.
type Mailer interface {
	SendRecoveryCode(ctx context.Context, to RecoveryRecipient, code string, validFor time.Duration) error
}

// RecoveryRecipient identifies who a recovery code goes to.
type RecoveryRecipient struct {
	Email     string
	FirstName string
}

// ExternalAPI is the third-party resource API. Implementations map 403 to
// ErrPermissionRequired, a missing device or 404 on player endpoints to
// ErrNoActiveTarget, 401 to ErrUpstreamCredential, and transport failures, 5xx and
// bad payloads to ErrUpstreamUnavailable.
type ExternalAPI interface {
	TopItems(ctx context.Context, accessToken string, limit int) ([]byte, error)
	NowPlaying(ctx context.Context, accessToken string) ([]byte, error)
	StartPlayback(ctx context.Context, accessToken, trackURI string) error
	PausePlayback(ctx context.Context, accessToken string) error
}

// CredentialRefresher exchanges a refresh token for a new access token.
type CredentialRefresher interface {
	Refresh(ctx context.Context, cred ExternalCredential) (accessToken string, expiresAt time.Time, err error)
}

// AuditEvent is the audit record handed to an [AuditSink].
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the Engine's async dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink writes audit events into a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON audit object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink writes audit events through a structured logger.
type SlogSink = internalaudit.SlogSink

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a JSONWriterSink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink returns a SlogSink. A nil logger uses slog.Default.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}
