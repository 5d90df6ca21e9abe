package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/goSession/internal"
)

type AccountRegisterRequest struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Password  string
	External  *ExternalCredential
}

// AccountCreateInput is the normalized, hashed record handed to the principal store.
type AccountCreateInput struct {
	FirstName    string
	LastName     string
	Email        string
	Phone        string
	PasswordHash string
	External     *ExternalCredential
}

type AccountMetrics struct {
	RegisterSuccess     int
	RegisterConflict    int
	RegisterRateLimited int
}

type AccountEvents struct {
	RegisterSuccess string
	RegisterFailure string
}

type AccountErrors struct {
	EngineNotReady error
	InvalidInput   error
	RateLimited    error
}

type AccountDeps struct {
	ClientIPFromContext  func(context.Context) string
	CheckRegisterLimiter func(context.Context, string) error
	IsRateLimited        func(error) bool

	CheckPolicy     func(string) error
	HashPassword    func(string) (string, error)
	CreatePrincipal func(context.Context, AccountCreateInput) (Identity, error)
	IsConflict      func(error) bool

	// Session supplies token issuance and the session secret write.
	Session SessionDeps

	Warn      func(string, ...any)
	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, string, error, func() map[string]string)

	Metrics AccountMetrics
	Events  AccountEvents
	Errors  AccountErrors
}

// RunRegister validates and creates a principal, then logs it in.
func RunRegister(ctx context.Context, req AccountRegisterRequest, deps AccountDeps) (Identity, TokenPair, error) {
	normalizeAccountDeps(&deps)
	if deps.HashPassword == nil || deps.CreatePrincipal == nil || deps.Session.SetSessionSecret == nil {
		return Identity{}, TokenPair{}, deps.Errors.EngineNotReady
	}

	input, err := validateRegister(req, deps)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.RegisterFailure, false, "", err, func() map[string]string {
			return map[string]string{"reason": "invalid_input"}
		})
		return Identity{}, TokenPair{}, err
	}

	limiterKey := deps.ClientIPFromContext(ctx)
	if limiterKey == "" {
		limiterKey = input.Email
	}
	if err := deps.CheckRegisterLimiter(ctx, limiterKey); err != nil {
		if deps.IsRateLimited(err) {
			deps.MetricInc(deps.Metrics.RegisterRateLimited)
			deps.EmitAudit(ctx, deps.Events.RegisterFailure, false, "", deps.Errors.RateLimited, nil)
			return Identity{}, TokenPair{}, deps.Errors.RateLimited
		}
		deps.Warn("register limiter unavailable, failing open", "err", err)
	}

	input.PasswordHash, err = deps.HashPassword(req.Password)
	if err != nil {
		return Identity{}, TokenPair{}, fmt.Errorf("hash password: %w", err)
	}

	id, err := deps.CreatePrincipal(ctx, input)
	if err != nil {
		if deps.IsConflict(err) {
			deps.MetricInc(deps.Metrics.RegisterConflict)
			deps.EmitAudit(ctx, deps.Events.RegisterFailure, false, "", err, nil)
		}
		return Identity{}, TokenPair{}, err
	}

	pair, err := issuePair(id, deps.Session)
	if err != nil {
		return Identity{}, TokenPair{}, err
	}
	if err := deps.Session.SetSessionSecret(ctx, id.ID, pair.RenewalToken); err != nil {
		return Identity{}, TokenPair{}, fmt.Errorf("store session secret: %w", err)
	}

	deps.MetricInc(deps.Metrics.RegisterSuccess)
	deps.EmitAudit(ctx, deps.Events.RegisterSuccess, true, id.ID, nil, nil)
	return id, pair, nil
}

func validateRegister(req AccountRegisterRequest, deps AccountDeps) (AccountCreateInput, error) {
	input := AccountCreateInput{
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     internal.NormalizeEmail(req.Email),
		Phone:     internal.NormalizePhone(req.Phone),
		External:  req.External,
	}

	switch {
	case input.FirstName == "":
		return input, fmt.Errorf("%w: first name is required", deps.Errors.InvalidInput)
	case input.LastName == "":
		return input, fmt.Errorf("%w: last name is required", deps.Errors.InvalidInput)
	case !internal.ValidEmail(input.Email):
		return input, fmt.Errorf("%w: email is malformed", deps.Errors.InvalidInput)
	case !internal.ValidPhone(input.Phone):
		return input, fmt.Errorf("%w: phone must have %d digits", deps.Errors.InvalidInput, internal.PhoneDigits)
	}
	if err := deps.CheckPolicy(req.Password); err != nil {
		return input, fmt.Errorf("%w: %v", deps.Errors.InvalidInput, err)
	}
	return input, nil
}

func normalizeAccountDeps(deps *AccountDeps) {
	normalizeSessionDeps(&deps.Session)
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.CheckRegisterLimiter == nil {
		deps.CheckRegisterLimiter = func(context.Context, string) error { return nil }
	}
	if deps.IsRateLimited == nil {
		deps.IsRateLimited = func(error) bool { return false }
	}
	if deps.CheckPolicy == nil {
		deps.CheckPolicy = func(string) error { return nil }
	}
	if deps.IsConflict == nil {
		deps.IsConflict = func(error) bool { return false }
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
	if deps.Errors.InvalidInput == nil {
		deps.Errors.InvalidInput = errors.New("invalid input")
	}
	if deps.Errors.RateLimited == nil {
		deps.Errors.RateLimited = errors.New("rate limited")
	}
	if deps.Errors.EngineNotReady == nil {
		deps.Errors.EngineNotReady = errors.New("engine not ready")
	}
}
