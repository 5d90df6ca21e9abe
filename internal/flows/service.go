package flows

import (
	"context"
	"time"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Session.VerifyRenewal != nil
}

func (s Service) Register(ctx context.Context, req AccountRegisterRequest) (Identity, TokenPair, error) {
	return RunRegister(ctx, req, s.deps.Account)
}

func (s Service) Login(ctx context.Context, identifier, password string) (TokenPair, error) {
	return RunLogin(ctx, identifier, password, s.deps.Session)
}

func (s Service) Renew(ctx context.Context, renewalToken string) (TokenPair, error) {
	return RunRenew(ctx, renewalToken, s.deps.Session)
}

func (s Service) Logout(ctx context.Context, renewalToken string) error {
	return RunLogout(ctx, renewalToken, s.deps.Session)
}

func (s Service) InitiateRecovery(ctx context.Context, email string) error {
	return RunInitiateRecovery(ctx, email, s.deps.Recovery)
}

func (s Service) CompleteRecovery(ctx context.Context, email, code, newPassword string) error {
	return RunCompleteRecovery(ctx, email, code, newPassword, s.deps.Recovery)
}

func (s Service) ExternalAccessToken(ctx context.Context, principalID string) (string, error) {
	return RunExternalAccessToken(ctx, principalID, s.deps.External)
}

func (s Service) CachedFetch(
	ctx context.Context,
	principalID, kind string,
	ttl time.Duration,
	fetch func(context.Context, string) ([]byte, error),
) ([]byte, error) {
	return RunCachedFetch(ctx, principalID, kind, ttl, fetch, s.deps.External)
}

func (s Service) ExternalMutation(
	ctx context.Context,
	principalID string,
	invalidate []string,
	call func(context.Context, string) error,
) error {
	return RunExternalMutation(ctx, principalID, invalidate, call, s.deps.External)
}
