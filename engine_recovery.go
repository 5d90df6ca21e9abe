package goSession

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goSession/internal"
	internalflows "github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/internal/stores"
	"github.com/MrEthical07/goSession/password"
)

// InitiateRecovery issues a fresh one-time code for the principal owning email and
// hands it to the Mailer. Any pending code for the principal is replaced.
//
// It returns ErrNotFound for an unknown address, ErrRecoveryUnavailable when the
// code cannot be stored and ErrDispatchFailed when the Mailer fails, in which case
// the stored code is removed again.
func (e *Engine) InitiateRecovery(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flow.InitiateRecovery(ctx, email)
}

// CompleteRecovery checks code against the pending code for email and, if it
// matches, replaces the password. The code is consumed in the same step it is
// checked, so it completes at most one recovery. Completing a recovery ends the
// current session.
//
// An absent, expired or wrong code returns ErrInvalidCode, as does a code store
// outage. A new password that fails the policy returns ErrInvalidInput and leaves
// the code in place.
func (e *Engine) CompleteRecovery(ctx context.Context, email, code, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flow.CompleteRecovery(ctx, email, code, newPassword)
}

func (e *Engine) recoveryFlowDeps() internalflows.RecoveryDeps {
	deps := internalflows.RecoveryDeps{
		CodeDigits: e.config.Recovery.CodeDigits,
		CodeTTL:    e.config.Recovery.CodeTTL,
		IsNotFound: func(err error) bool {
			return errors.Is(err, ErrNotFound)
		},
		NewCode:  internal.NewOTP,
		HashCode: internal.HashCode,
		IsCodeRejected: func(err error) bool {
			return errors.Is(err, stores.ErrCodeNotFound) || errors.Is(err, stores.ErrCodeMismatch)
		},
		CheckPolicy: password.CheckPolicy,
		IsRateLimited: func(err error) bool {
			return errors.Is(err, rate.ErrRateLimited)
		},
		Warn: e.warn,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: internalflows.RecoveryMetrics{
			RecoveryInitiated:      int(MetricRecoveryInitiated),
			RecoveryDispatchFailed: int(MetricRecoveryDispatchFailed),
			RecoveryCompleted:      int(MetricRecoveryCompleted),
			RecoveryInvalidCode:    int(MetricRecoveryInvalidCode),
			RecoveryRateLimited:    int(MetricRecoveryRateLimited),
		},
		Events: internalflows.RecoveryEvents{
			RecoveryInitiate: auditEventRecoveryInitiate,
			RecoveryComplete: auditEventRecoveryComplete,
		},
		Errors: internalflows.RecoveryErrors{
			EngineNotReady:      ErrEngineNotReady,
			InvalidInput:        ErrInvalidInput,
			NotFound:            ErrNotFound,
			RecoveryUnavailable: ErrRecoveryUnavailable,
			DispatchFailed:      ErrDispatchFailed,
			InvalidCode:         ErrInvalidCode,
			RateLimited:         ErrRateLimited,
		},
	}

	if e.store != nil {
		deps.FindByEmail = func(ctx context.Context, email string) (internalflows.RecoveryPrincipal, error) {
			p, err := e.store.GetByEmail(ctx, email)
			if err != nil {
				return internalflows.RecoveryPrincipal{}, err
			}
			return internalflows.RecoveryPrincipal{ID: p.ID, Email: p.Email, FirstName: p.FirstName}, nil
		}
		deps.ResetPassword = e.store.ResetPassword
	}
	if e.codes != nil {
		deps.SaveCode = e.codes.Save
		deps.ConsumeCode = e.codes.Consume
		deps.DeleteCode = e.codes.Delete
	}
	if e.mailer != nil {
		deps.SendCode = func(ctx context.Context, p internalflows.RecoveryPrincipal, code string, ttl time.Duration) error {
			return e.mailer.SendRecoveryCode(ctx, RecoveryRecipient{Email: p.Email, FirstName: p.FirstName}, code, ttl)
		}
	}
	if e.passwordHash != nil {
		deps.HashPassword = e.passwordHash.Hash
	}
	if e.rateLimiter != nil {
		deps.CheckInitiateLimiter = e.rateLimiter.CheckRecoveryInitiate
		deps.CheckCompleteLimiter = e.rateLimiter.CheckRecoveryComplete
		deps.RecordCompleteFailure = e.rateLimiter.IncrementRecoveryComplete
		deps.ResetCompleteFailures = e.rateLimiter.ResetRecoveryComplete
	}

	return deps
}
