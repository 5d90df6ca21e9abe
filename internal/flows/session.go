package flows

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/MrEthical07/goSession/internal"
)

// Identity is the flow-local claims triple.
type Identity struct {
	ID    string
	Email string
	Phone string
}

// TokenPair is the flow-local issued token pair.
type TokenPair struct {
	AccessToken  string
	RenewalToken string
}

// SessionPrincipal is the subset of a principal record the session flows read.
type SessionPrincipal struct {
	ID            string
	Email         string
	Phone         string
	PasswordHash  string
	SessionSecret string
}

func (p SessionPrincipal) identity() Identity {
	return Identity{ID: p.ID, Email: p.Email, Phone: p.Phone}
}

// SessionMetrics carries metric IDs needed by login/renew/logout flows.
type SessionMetrics struct {
	LoginSuccess     int
	LoginFailure     int
	LoginRateLimited int
	RenewSuccess     int
	RenewFailure     int
	Logout           int
	PasswordRehashed int
}

// SessionEvents carries audit event names used by login/renew/logout flows.
type SessionEvents struct {
	LoginSuccess     string
	LoginFailure     string
	LoginRateLimited string
	RenewSuccess     string
	RenewInvalid     string
	Logout           string
}

// SessionErrors carries host-level sentinel errors used by session flows.
type SessionErrors struct {
	EngineNotReady error
	Unauthorized   error
	RateLimited    error
}

// SessionDeps captures login, renew and logout dependencies.
type SessionDeps struct {
	FindByEmail func(context.Context, string) (SessionPrincipal, error)
	FindByPhone func(context.Context, string) (SessionPrincipal, error)
	FindByID    func(context.Context, string) (SessionPrincipal, error)
	IsNotFound  func(error) bool

	// CheckPassword returns (matched, needsRehash, err).
	CheckPassword  func(string, string) (bool, bool, error)
	DummyCheck     func(string)
	RehashPassword func(context.Context, string, string) error

	IssueAccess   func(Identity) (string, error)
	IssueRenewal  func(Identity) (string, error)
	VerifyRenewal func(string) (Identity, error)

	SetSessionSecret            func(context.Context, string, string) error
	CompareAndSwapSessionSecret func(context.Context, string, string, string) (bool, error)

	CheckLoginLimiter  func(context.Context, string) error
	RecordLoginFailure func(context.Context, string) error
	ResetLoginFailures func(context.Context, string) error
	IsRateLimited      func(error) bool

	Warn      func(string, ...any)
	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, string, error, func() map[string]string)

	Metrics SessionMetrics
	Events  SessionEvents
	Errors  SessionErrors
}

// RunLogin authenticates identifier/password, issues a token pair and stores the
// renewal token as the principal's session secret, replacing any earlier session.
func RunLogin(ctx context.Context, identifier, password string, deps SessionDeps) (TokenPair, error) {
	normalizeSessionDeps(&deps)
	if deps.FindByEmail == nil || deps.FindByPhone == nil || deps.CheckPassword == nil || deps.SetSessionSecret == nil {
		return TokenPair{}, deps.Errors.EngineNotReady
	}

	find := deps.FindByPhone
	key := internal.NormalizePhone(identifier)
	if internal.IsEmailIdentifier(identifier) {
		find = deps.FindByEmail
		key = internal.NormalizeEmail(identifier)
	}
	if key == "" || password == "" {
		deps.DummyCheck(password)
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, "", deps.Errors.Unauthorized, func() map[string]string {
			return map[string]string{"reason": "empty_credentials"}
		})
		return TokenPair{}, deps.Errors.Unauthorized
	}

	if err := deps.CheckLoginLimiter(ctx, key); err != nil {
		if deps.IsRateLimited(err) {
			deps.MetricInc(deps.Metrics.LoginRateLimited)
			deps.EmitAudit(ctx, deps.Events.LoginRateLimited, false, "", deps.Errors.RateLimited, nil)
			return TokenPair{}, deps.Errors.RateLimited
		}
		deps.Warn("login limiter unavailable, failing open", "err", err)
	}

	principal, err := find(ctx, key)
	if err != nil {
		if isContextErr(err) {
			return TokenPair{}, err
		}
		if !deps.IsNotFound(err) {
			return TokenPair{}, fmt.Errorf("load principal: %w", err)
		}
		deps.DummyCheck(password)
		recordLoginFailure(ctx, key, deps, "", "unknown_identifier")
		return TokenPair{}, deps.Errors.Unauthorized
	}

	ok, rehash, err := deps.CheckPassword(password, principal.PasswordHash)
	if err != nil || !ok {
		recordLoginFailure(ctx, key, deps, principal.ID, "password_mismatch")
		return TokenPair{}, deps.Errors.Unauthorized
	}

	pair, err := issuePair(principal.identity(), deps)
	if err != nil {
		return TokenPair{}, err
	}
	if err := deps.SetSessionSecret(ctx, principal.ID, pair.RenewalToken); err != nil {
		return TokenPair{}, fmt.Errorf("store session secret: %w", err)
	}

	if err := deps.ResetLoginFailures(ctx, key); err != nil {
		deps.Warn("login limiter reset failed", "err", err)
	}
	if rehash && deps.RehashPassword != nil {
		if err := deps.RehashPassword(ctx, principal.ID, password); err != nil {
			deps.Warn("password rehash failed", "principal_id", principal.ID, "err", err)
		} else {
			deps.MetricInc(deps.Metrics.PasswordRehashed)
		}
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, principal.ID, nil, nil)
	return pair, nil
}

// RunRenew exchanges a renewal token for a new pair. The presented token must equal
// the stored session secret, and the swap to the new secret is a compare-and-swap so
// at most one of several concurrent renewals with the same token wins.
func RunRenew(ctx context.Context, renewalToken string, deps SessionDeps) (TokenPair, error) {
	normalizeSessionDeps(&deps)
	if deps.VerifyRenewal == nil || deps.FindByID == nil || deps.CompareAndSwapSessionSecret == nil {
		return TokenPair{}, deps.Errors.EngineNotReady
	}

	claims, err := deps.VerifyRenewal(renewalToken)
	if err != nil {
		return TokenPair{}, renewFailure(ctx, deps, "", "token_invalid", fmt.Errorf("%w: %w", deps.Errors.Unauthorized, err))
	}

	principal, err := deps.FindByID(ctx, claims.ID)
	if err != nil {
		if isContextErr(err) {
			return TokenPair{}, err
		}
		if deps.IsNotFound(err) {
			return TokenPair{}, renewFailure(ctx, deps, claims.ID, "principal_missing", deps.Errors.Unauthorized)
		}
		return TokenPair{}, fmt.Errorf("load principal: %w", err)
	}
	if !secretMatches(principal.SessionSecret, renewalToken) {
		return TokenPair{}, renewFailure(ctx, deps, principal.ID, "secret_mismatch", deps.Errors.Unauthorized)
	}

	pair, err := issuePair(principal.identity(), deps)
	if err != nil {
		return TokenPair{}, err
	}

	swapped, err := deps.CompareAndSwapSessionSecret(ctx, principal.ID, renewalToken, pair.RenewalToken)
	if err != nil {
		if deps.IsNotFound(err) {
			return TokenPair{}, renewFailure(ctx, deps, principal.ID, "principal_missing", deps.Errors.Unauthorized)
		}
		return TokenPair{}, fmt.Errorf("swap session secret: %w", err)
	}
	if !swapped {
		return TokenPair{}, renewFailure(ctx, deps, principal.ID, "lost_race", deps.Errors.Unauthorized)
	}

	deps.MetricInc(deps.Metrics.RenewSuccess)
	deps.EmitAudit(ctx, deps.Events.RenewSuccess, true, principal.ID, nil, nil)
	return pair, nil
}

// RunLogout clears the session secret if and only if it still equals renewalToken.
func RunLogout(ctx context.Context, renewalToken string, deps SessionDeps) error {
	normalizeSessionDeps(&deps)
	if deps.VerifyRenewal == nil || deps.CompareAndSwapSessionSecret == nil {
		return deps.Errors.EngineNotReady
	}

	claims, err := deps.VerifyRenewal(renewalToken)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.Logout, false, "", deps.Errors.Unauthorized, nil)
		return fmt.Errorf("%w: %w", deps.Errors.Unauthorized, err)
	}

	swapped, err := deps.CompareAndSwapSessionSecret(ctx, claims.ID, renewalToken, "")
	if err != nil {
		if deps.IsNotFound(err) {
			deps.EmitAudit(ctx, deps.Events.Logout, false, claims.ID, deps.Errors.Unauthorized, nil)
			return deps.Errors.Unauthorized
		}
		return fmt.Errorf("clear session secret: %w", err)
	}
	if !swapped {
		deps.EmitAudit(ctx, deps.Events.Logout, false, claims.ID, deps.Errors.Unauthorized, nil)
		return deps.Errors.Unauthorized
	}

	deps.MetricInc(deps.Metrics.Logout)
	deps.EmitAudit(ctx, deps.Events.Logout, true, claims.ID, nil, nil)
	return nil
}

// IssuePair signs an access and a renewal token for id.
func IssuePair(id Identity, deps SessionDeps) (TokenPair, error) {
	return issuePair(id, deps)
}

func issuePair(id Identity, deps SessionDeps) (TokenPair, error) {
	access, err := deps.IssueAccess(id)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	renewal, err := deps.IssueRenewal(id)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue renewal token: %w", err)
	}
	return TokenPair{AccessToken: access, RenewalToken: renewal}, nil
}

func recordLoginFailure(ctx context.Context, key string, deps SessionDeps, principalID, reason string) {
	if err := deps.RecordLoginFailure(ctx, key); err != nil {
		deps.Warn("login limiter increment failed", "err", err)
	}
	deps.MetricInc(deps.Metrics.LoginFailure)
	deps.EmitAudit(ctx, deps.Events.LoginFailure, false, principalID, deps.Errors.Unauthorized, func() map[string]string {
		return map[string]string{"reason": reason}
	})
}

func renewFailure(ctx context.Context, deps SessionDeps, principalID, reason string, err error) error {
	deps.MetricInc(deps.Metrics.RenewFailure)
	deps.EmitAudit(ctx, deps.Events.RenewInvalid, false, principalID, err, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return err
}

func secretMatches(stored, presented string) bool {
	if stored == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func normalizeSessionDeps(deps *SessionDeps) {
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(error) bool { return false }
	}
	if deps.DummyCheck == nil {
		deps.DummyCheck = func(string) {}
	}
	if deps.CheckLoginLimiter == nil {
		deps.CheckLoginLimiter = func(context.Context, string) error { return nil }
	}
	if deps.RecordLoginFailure == nil {
		deps.RecordLoginFailure = func(context.Context, string) error { return nil }
	}
	if deps.ResetLoginFailures == nil {
		deps.ResetLoginFailures = func(context.Context, string) error { return nil }
	}
	if deps.IsRateLimited == nil {
		deps.IsRateLimited = func(error) bool { return false }
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
	if deps.Errors.Unauthorized == nil {
		deps.Errors.Unauthorized = errors.New("unauthorized")
	}
	if deps.Errors.RateLimited == nil {
		deps.Errors.RateLimited = errors.New("rate limited")
	}
	if deps.Errors.EngineNotReady == nil {
		deps.Errors.EngineNotReady = errors.New("engine not ready")
	}
}
