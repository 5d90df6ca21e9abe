package goSession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/goSession/internal/audit"
	internalflows "github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/internal/stores"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/password"
	"golang.org/x/sync/singleflight"
)

// Engine runs the session, recovery and external credential operations. It is
// produced by [Builder.Build] and is safe for concurrent use.
type Engine struct {
	config        Config
	store         PrincipalStore
	mailer        Mailer
	externalAPI   ExternalAPI
	refresher     CredentialRefresher
	codec         *jwt.Codec
	passwordHash  *password.Argon2
	dummyHash     string
	rateLimiter   *rate.Limiter
	codes         *stores.CodeStore
	cache         *stores.ResponseCache
	cacheSeparate bool
	refreshes     *singleflight.Group
	audit         *internalaudit.Dispatcher
	metrics       *Metrics
	logger        *slog.Logger
	flow          internalflows.Service
}

// Close stops the audit dispatcher after delivering buffered events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events discarded because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the Engine counters. It is empty when metrics
// are disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) warn(msg string, args ...any) {
	if e == nil || e.logger == nil {
		return
	}
	e.logger.Warn(msg, args...)
}

func (e *Engine) ready() bool {
	return e != nil && e.flow.Initialized()
}

// Login authenticates identifier and password. An identifier containing "@" is
// looked up as an e-mail address, anything else as a phone number.
//
// A successful login replaces any earlier session of the principal: renewal tokens
// issued before it stop working. Unknown identifiers and wrong passwords both
// return ErrUnauthorized.
func (e *Engine) Login(ctx context.Context, identifier, password string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	pair, err := e.flow.Login(ctx, identifier, password)
	if err != nil {
		return TokenPair{}, err
	}
	return fromFlowTokenPair(pair), nil
}

// Renew exchanges the current renewal token for a new pair. The presented token
// must equal the stored session secret; once Renew succeeds it is no longer
// accepted. Of several concurrent renewals with the same token exactly one wins and
// the rest return ErrUnauthorized.
func (e *Engine) Renew(ctx context.Context, renewalToken string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	pair, err := e.flow.Renew(ctx, renewalToken)
	if err != nil {
		return TokenPair{}, err
	}
	return fromFlowTokenPair(pair), nil
}

// Logout clears the session secret if renewalToken is still the current one.
// Access tokens already issued stay valid until they expire.
func (e *Engine) Logout(ctx context.Context, renewalToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flow.Logout(ctx, renewalToken)
}

// Authenticate verifies an access token and returns its claims. It never touches
// the principal store.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (Claims, error) {
	if e == nil || e.codec == nil {
		return Claims{}, ErrEngineNotReady
	}
	if err := ctx.Err(); err != nil {
		return Claims{}, err
	}

	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
	}
	id, err := e.codec.VerifyAccess(accessToken)
	if !start.IsZero() {
		e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
	}
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return Claims{ID: id.ID, Email: id.Email, Phone: id.Phone}, nil
}

func (e *Engine) sessionFlowDeps() internalflows.SessionDeps {
	deps := internalflows.SessionDeps{
		IsNotFound: func(err error) bool {
			return errors.Is(err, ErrNotFound)
		},
		IsRateLimited: func(err error) bool {
			return errors.Is(err, rate.ErrRateLimited)
		},
		Warn: e.warn,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: internalflows.SessionMetrics{
			LoginSuccess:     int(MetricLoginSuccess),
			LoginFailure:     int(MetricLoginFailure),
			LoginRateLimited: int(MetricLoginRateLimited),
			RenewSuccess:     int(MetricRenewSuccess),
			RenewFailure:     int(MetricRenewFailure),
			Logout:           int(MetricLogout),
			PasswordRehashed: int(MetricPasswordRehashed),
		},
		Events: internalflows.SessionEvents{
			LoginSuccess:     auditEventLoginSuccess,
			LoginFailure:     auditEventLoginFailure,
			LoginRateLimited: auditEventLoginRateLimited,
			RenewSuccess:     auditEventRenewSuccess,
			RenewInvalid:     auditEventRenewInvalid,
			Logout:           auditEventLogout,
		},
		Errors: internalflows.SessionErrors{
			EngineNotReady: ErrEngineNotReady,
			Unauthorized:   ErrUnauthorized,
			RateLimited:    ErrRateLimited,
		},
	}

	if e.store != nil {
		deps.FindByEmail = func(ctx context.Context, email string) (internalflows.SessionPrincipal, error) {
			p, err := e.store.GetByEmail(ctx, email)
			return toFlowSessionPrincipal(p), err
		}
		deps.FindByPhone = func(ctx context.Context, phone string) (internalflows.SessionPrincipal, error) {
			p, err := e.store.GetByPhone(ctx, phone)
			return toFlowSessionPrincipal(p), err
		}
		deps.FindByID = func(ctx context.Context, id string) (internalflows.SessionPrincipal, error) {
			p, err := e.store.GetByID(ctx, id)
			return toFlowSessionPrincipal(p), err
		}
		deps.SetSessionSecret = e.store.SetSessionSecret
		deps.CompareAndSwapSessionSecret = e.store.CompareAndSwapSessionSecret
	}

	if e.passwordHash != nil {
		deps.CheckPassword = e.passwordHash.Check
		deps.DummyCheck = func(pw string) {
			_, _ = e.passwordHash.Verify(pw, e.dummyHash)
		}
		if e.config.Password.UpgradeOnLogin && e.store != nil {
			deps.RehashPassword = func(ctx context.Context, id, pw string) error {
				hash, err := e.passwordHash.Hash(pw)
				if err != nil {
					return err
				}
				return e.store.UpdatePasswordHash(ctx, id, hash)
			}
		}
	}

	if e.codec != nil {
		deps.IssueAccess = func(id internalflows.Identity) (string, error) {
			return e.codec.IssueAccess(toJWTIdentity(id))
		}
		deps.IssueRenewal = func(id internalflows.Identity) (string, error) {
			return e.codec.IssueRenewal(toJWTIdentity(id))
		}
		deps.VerifyRenewal = func(token string) (internalflows.Identity, error) {
			id, err := e.codec.VerifyRenewal(token)
			if err != nil {
				return internalflows.Identity{}, err
			}
			return internalflows.Identity{ID: id.ID, Email: id.Email, Phone: id.Phone}, nil
		}
	}

	if e.rateLimiter != nil {
		deps.CheckLoginLimiter = e.rateLimiter.CheckLogin
		deps.RecordLoginFailure = e.rateLimiter.IncrementLogin
		deps.ResetLoginFailures = e.rateLimiter.ResetLogin
	}

	return deps
}

func toFlowSessionPrincipal(p *Principal) internalflows.SessionPrincipal {
	if p == nil {
		return internalflows.SessionPrincipal{}
	}
	return internalflows.SessionPrincipal{
		ID:            p.ID,
		Email:         p.Email,
		Phone:         p.Phone,
		PasswordHash:  p.PasswordHash,
		SessionSecret: p.SessionSecret,
	}
}

func toJWTIdentity(id internalflows.Identity) jwt.Identity {
	return jwt.Identity{ID: id.ID, Email: id.Email, Phone: id.Phone}
}

func fromFlowTokenPair(pair internalflows.TokenPair) TokenPair {
	return TokenPair{AccessToken: pair.AccessToken, RenewalToken: pair.RenewalToken}
}

func fromFlowIdentity(id internalflows.Identity) Claims {
	return Claims{ID: id.ID, Email: id.Email, Phone: id.Phone}
}
