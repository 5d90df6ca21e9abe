package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goSession/internal"
)

// RecoveryPrincipal is the subset of a principal record the recovery flows read.
type RecoveryPrincipal struct {
	ID        string
	Email     string
	FirstName string
}

type RecoveryMetrics struct {
	RecoveryInitiated      int
	RecoveryDispatchFailed int
	RecoveryCompleted      int
	RecoveryInvalidCode    int
	RecoveryRateLimited    int
}

type RecoveryEvents struct {
	RecoveryInitiate string
	RecoveryComplete string
}

type RecoveryErrors struct {
	EngineNotReady      error
	InvalidInput        error
	NotFound            error
	RecoveryUnavailable error
	DispatchFailed      error
	InvalidCode         error
	RateLimited         error
}

type RecoveryDeps struct {
	CodeDigits int
	CodeTTL    time.Duration

	FindByEmail func(context.Context, string) (RecoveryPrincipal, error)
	IsNotFound  func(error) bool

	NewCode     func(int) (string, error)
	HashCode    func(string) [32]byte
	SaveCode    func(context.Context, string, [32]byte, time.Duration) error
	ConsumeCode func(context.Context, string, [32]byte) error
	DeleteCode  func(context.Context, string) error
	// IsCodeRejected distinguishes "absent or mismatched" from "store unavailable".
	IsCodeRejected func(error) bool

	SendCode func(context.Context, RecoveryPrincipal, string, time.Duration) error

	CheckPolicy   func(string) error
	HashPassword  func(string) (string, error)
	ResetPassword func(context.Context, string, string) error

	CheckInitiateLimiter  func(context.Context, string) error
	CheckCompleteLimiter  func(context.Context, string) error
	RecordCompleteFailure func(context.Context, string) error
	ResetCompleteFailures func(context.Context, string) error
	IsRateLimited         func(error) bool

	Warn      func(string, ...any)
	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, string, error, func() map[string]string)

	Metrics RecoveryMetrics
	Events  RecoveryEvents
	Errors  RecoveryErrors
}

// RunInitiateRecovery issues a fresh one-time code for the principal owning email,
// replacing any pending code, and dispatches it.
func RunInitiateRecovery(ctx context.Context, email string, deps RecoveryDeps) error {
	normalizeRecoveryDeps(&deps)
	if deps.FindByEmail == nil || deps.NewCode == nil || deps.SaveCode == nil || deps.SendCode == nil {
		return deps.Errors.EngineNotReady
	}

	email = internal.NormalizeEmail(email)
	if !internal.ValidEmail(email) {
		return fmt.Errorf("%w: email is malformed", deps.Errors.InvalidInput)
	}

	if err := deps.CheckInitiateLimiter(ctx, email); err != nil {
		if deps.IsRateLimited(err) {
			deps.MetricInc(deps.Metrics.RecoveryRateLimited)
			deps.EmitAudit(ctx, deps.Events.RecoveryInitiate, false, "", deps.Errors.RateLimited, nil)
			return deps.Errors.RateLimited
		}
		deps.Warn("recovery limiter unavailable, failing open", "err", err)
	}

	principal, err := deps.FindByEmail(ctx, email)
	if err != nil {
		if isContextErr(err) {
			return err
		}
		if deps.IsNotFound(err) {
			deps.EmitAudit(ctx, deps.Events.RecoveryInitiate, false, "", deps.Errors.NotFound, nil)
			return deps.Errors.NotFound
		}
		return fmt.Errorf("load principal: %w", err)
	}

	code, err := deps.NewCode(deps.CodeDigits)
	if err != nil {
		return fmt.Errorf("%w: %v", deps.Errors.RecoveryUnavailable, err)
	}
	if err := deps.SaveCode(ctx, principal.ID, deps.HashCode(code), deps.CodeTTL); err != nil {
		deps.EmitAudit(ctx, deps.Events.RecoveryInitiate, false, principal.ID, deps.Errors.RecoveryUnavailable, nil)
		return fmt.Errorf("%w: %v", deps.Errors.RecoveryUnavailable, err)
	}

	if err := deps.SendCode(ctx, principal, code, deps.CodeTTL); err != nil {
		if delErr := deps.DeleteCode(ctx, principal.ID); delErr != nil {
			deps.Warn("pending code cleanup failed", "principal_id", principal.ID, "err", delErr)
		}
		deps.MetricInc(deps.Metrics.RecoveryDispatchFailed)
		deps.EmitAudit(ctx, deps.Events.RecoveryInitiate, false, principal.ID, deps.Errors.DispatchFailed, nil)
		return fmt.Errorf("%w: %v", deps.Errors.DispatchFailed, err)
	}

	deps.MetricInc(deps.Metrics.RecoveryInitiated)
	deps.EmitAudit(ctx, deps.Events.RecoveryInitiate, true, principal.ID, nil, nil)
	return nil
}

// RunCompleteRecovery consumes the pending code and replaces the password. The code
// is compared and deleted atomically before the new hash is written, so a code can
// complete at most one recovery. The same write clears the session secret.
func RunCompleteRecovery(ctx context.Context, email, code, newPassword string, deps RecoveryDeps) error {
	normalizeRecoveryDeps(&deps)
	if deps.FindByEmail == nil || deps.ConsumeCode == nil || deps.HashPassword == nil || deps.ResetPassword == nil {
		return deps.Errors.EngineNotReady
	}

	email = internal.NormalizeEmail(email)
	principal, err := deps.FindByEmail(ctx, email)
	if err != nil {
		if isContextErr(err) {
			return err
		}
		if deps.IsNotFound(err) {
			deps.EmitAudit(ctx, deps.Events.RecoveryComplete, false, "", deps.Errors.NotFound, nil)
			return deps.Errors.NotFound
		}
		return fmt.Errorf("load principal: %w", err)
	}

	if err := deps.CheckPolicy(newPassword); err != nil {
		return fmt.Errorf("%w: %v", deps.Errors.InvalidInput, err)
	}

	if err := deps.CheckCompleteLimiter(ctx, principal.ID); err != nil {
		if deps.IsRateLimited(err) {
			deps.MetricInc(deps.Metrics.RecoveryRateLimited)
			deps.EmitAudit(ctx, deps.Events.RecoveryComplete, false, principal.ID, deps.Errors.RateLimited, nil)
			return deps.Errors.RateLimited
		}
		deps.Warn("recovery limiter unavailable, failing open", "err", err)
	}

	if len(code) != deps.CodeDigits || internal.NormalizePhone(code) != code {
		return invalidCode(ctx, principal.ID, "code_malformed", deps)
	}

	if err := deps.ConsumeCode(ctx, principal.ID, deps.HashCode(code)); err != nil {
		if isContextErr(err) {
			return err
		}
		if !deps.IsCodeRejected(err) {
			deps.Warn("code store unavailable during recovery", "principal_id", principal.ID, "err", err)
			return invalidCode(ctx, principal.ID, "store_unavailable", deps)
		}
		return invalidCode(ctx, principal.ID, "code_rejected", deps)
	}

	hash, err := deps.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := deps.ResetPassword(ctx, principal.ID, hash); err != nil {
		return fmt.Errorf("persist password: %w", err)
	}

	if err := deps.ResetCompleteFailures(ctx, principal.ID); err != nil {
		deps.Warn("recovery limiter reset failed", "err", err)
	}
	deps.MetricInc(deps.Metrics.RecoveryCompleted)
	deps.EmitAudit(ctx, deps.Events.RecoveryComplete, true, principal.ID, nil, nil)
	return nil
}

func invalidCode(ctx context.Context, principalID, reason string, deps RecoveryDeps) error {
	if err := deps.RecordCompleteFailure(ctx, principalID); err != nil {
		deps.Warn("recovery limiter increment failed", "err", err)
	}
	deps.MetricInc(deps.Metrics.RecoveryInvalidCode)
	deps.EmitAudit(ctx, deps.Events.RecoveryComplete, false, principalID, deps.Errors.InvalidCode, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return deps.Errors.InvalidCode
}

func normalizeRecoveryDeps(deps *RecoveryDeps) {
	if deps.CodeDigits <= 0 {
		deps.CodeDigits = 6
	}
	if deps.CodeTTL <= 0 {
		deps.CodeTTL = 3 * time.Minute
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(error) bool { return false }
	}
	if deps.HashCode == nil {
		deps.HashCode = internal.HashCode
	}
	if deps.DeleteCode == nil {
		deps.DeleteCode = func(context.Context, string) error { return nil }
	}
	if deps.IsCodeRejected == nil {
		deps.IsCodeRejected = func(error) bool { return true }
	}
	if deps.CheckPolicy == nil {
		deps.CheckPolicy = func(string) error { return nil }
	}
	if deps.CheckInitiateLimiter == nil {
		deps.CheckInitiateLimiter = func(context.Context, string) error { return nil }
	}
	if deps.CheckCompleteLimiter == nil {
		deps.CheckCompleteLimiter = func(context.Context, string) error { return nil }
	}
	if deps.RecordCompleteFailure == nil {
		deps.RecordCompleteFailure = func(context.Context, string) error { return nil }
	}
	if deps.ResetCompleteFailures == nil {
		deps.ResetCompleteFailures = func(context.Context, string) error { return nil }
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
	for _, e := range []*error{
		&deps.Errors.EngineNotReady, &deps.Errors.InvalidInput, &deps.Errors.NotFound,
		&deps.Errors.RecoveryUnavailable, &deps.Errors.DispatchFailed, &deps.Errors.InvalidCode,
		&deps.Errors.RateLimited,
	} {
		if *e == nil {
			*e = errors.New("recovery failed")
		}
	}
}
