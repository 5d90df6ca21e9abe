package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// ExternalCredential is the flow-local third-party OAuth credential.
type ExternalCredential struct {
	AccessToken          string
	AccessTokenExpiresAt time.Time
	RefreshToken         string
	ClientID             string
	ClientSecret         string
}

type ExternalMetrics struct {
	CacheHit                 int
	CacheMiss                int
	CredentialRefresh        int
	CredentialRefreshFailure int
	CredentialPersistFailure int
}

type ExternalErrors struct {
	EngineNotReady      error
	NotFound            error
	UpstreamCredential  error
	UpstreamUnavailable error
}

// ExternalDeps captures credential proxy and response cache dependencies.
type ExternalDeps struct {
	RefreshSkew time.Duration
	// AssumedLifetime stamps an expiry on refreshed tokens the upstream returned without one.
	AssumedLifetime time.Duration
	Now             func() time.Time

	LoadCredential     func(context.Context, string) (*ExternalCredential, error)
	IsNotFound         func(error) bool
	RefreshCredential  func(context.Context, ExternalCredential) (string, time.Time, error)
	PersistAccessToken func(context.Context, string, string, time.Time) error
	// Refreshes is shared by every call so concurrent refreshes for one principal join.
	Refreshes *singleflight.Group

	CacheGet    func(context.Context, string, string) ([]byte, bool, error)
	CacheSet    func(context.Context, string, string, []byte, time.Duration) error
	CacheDelete func(context.Context, string, string) error

	Warn      func(string, ...any)
	MetricInc func(int)

	Metrics ExternalMetrics
	Errors  ExternalErrors
}

// RunExternalAccessToken returns a usable third-party access token for principalID,
// refreshing and persisting it first when it expires within RefreshSkew or its
// expiry is unknown.
func RunExternalAccessToken(ctx context.Context, principalID string, deps ExternalDeps) (string, error) {
	normalizeExternalDeps(&deps)
	if deps.LoadCredential == nil || deps.RefreshCredential == nil || deps.PersistAccessToken == nil {
		return "", deps.Errors.EngineNotReady
	}

	cred, err := deps.LoadCredential(ctx, principalID)
	if err != nil {
		if isContextErr(err) {
			return "", err
		}
		if deps.IsNotFound(err) {
			return "", deps.Errors.NotFound
		}
		return "", fmt.Errorf("load external credential: %w", err)
	}
	if cred == nil || (cred.AccessToken == "" && cred.RefreshToken == "") {
		return "", deps.Errors.UpstreamCredential
	}
	if cred.AccessToken != "" && !needsRefresh(*cred, deps) {
		return cred.AccessToken, nil
	}
	if cred.RefreshToken == "" {
		return "", deps.Errors.UpstreamCredential
	}

	snapshot := *cred
	v, err, _ := deps.Refreshes.Do(principalID, func() (interface{}, error) {
		// Joined callers share this refresh, so one caller's cancellation must not fail the rest.
		refreshCtx := context.WithoutCancel(ctx)

		token, expiresAt, err := deps.RefreshCredential(refreshCtx, snapshot)
		if err != nil {
			deps.MetricInc(deps.Metrics.CredentialRefreshFailure)
			deps.Warn("external credential refresh failed", "principal_id", principalID, "err", err)
			return nil, errors.Join(deps.Errors.UpstreamCredential, deps.Errors.UpstreamUnavailable)
		}
		if token == "" {
			deps.MetricInc(deps.Metrics.CredentialRefreshFailure)
			return nil, errors.Join(deps.Errors.UpstreamCredential, deps.Errors.UpstreamUnavailable)
		}
		deps.MetricInc(deps.Metrics.CredentialRefresh)
		if expiresAt.IsZero() {
			expiresAt = deps.Now().Add(deps.AssumedLifetime)
		}

		// The token is still handed out; the next call refreshes again.
		if err := deps.PersistAccessToken(refreshCtx, principalID, token, expiresAt); err != nil {
			deps.MetricInc(deps.Metrics.CredentialPersistFailure)
			deps.Warn("persisting refreshed external token failed", "principal_id", principalID, "err", err)
		}
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// RunCachedFetch serves kind from the response cache or, on a miss, fetches it with a
// live credential and stores the result for ttl. Cache failures degrade to a miss.
func RunCachedFetch(
	ctx context.Context,
	principalID, kind string,
	ttl time.Duration,
	fetch func(context.Context, string) ([]byte, error),
	deps ExternalDeps,
) ([]byte, error) {
	normalizeExternalDeps(&deps)

	if deps.CacheGet != nil {
		body, ok, err := deps.CacheGet(ctx, principalID, kind)
		switch {
		case err != nil:
			deps.Warn("response cache read failed", "principal_id", principalID, "endpoint", kind, "err", err)
		case ok:
			deps.MetricInc(deps.Metrics.CacheHit)
			return body, nil
		}
	}
	deps.MetricInc(deps.Metrics.CacheMiss)

	token, err := RunExternalAccessToken(ctx, principalID, deps)
	if err != nil {
		return nil, err
	}
	body, err := fetch(ctx, token)
	if err != nil {
		return nil, err
	}

	if deps.CacheSet != nil && ttl > 0 {
		if err := deps.CacheSet(ctx, principalID, kind, body, ttl); err != nil {
			deps.Warn("response cache write failed", "principal_id", principalID, "endpoint", kind, "err", err)
		}
	}
	return body, nil
}

// RunExternalMutation performs call with a live credential, never consulting the
// cache, and drops the listed cache entries once it succeeds.
func RunExternalMutation(
	ctx context.Context,
	principalID string,
	invalidate []string,
	call func(context.Context, string) error,
	deps ExternalDeps,
) error {
	normalizeExternalDeps(&deps)

	token, err := RunExternalAccessToken(ctx, principalID, deps)
	if err != nil {
		return err
	}
	if err := call(ctx, token); err != nil {
		return err
	}

	if deps.CacheDelete == nil {
		return nil
	}
	for _, kind := range invalidate {
		if err := deps.CacheDelete(ctx, principalID, kind); err != nil {
			deps.Warn("response cache invalidation failed", "principal_id", principalID, "endpoint", kind, "err", err)
		}
	}
	return nil
}

// needsRefresh treats an unknown expiry as expired when the credential can be
// refreshed at all.
func needsRefresh(cred ExternalCredential, deps ExternalDeps) bool {
	if cred.AccessTokenExpiresAt.IsZero() {
		return cred.RefreshToken != ""
	}
	return !cred.AccessTokenExpiresAt.After(deps.Now().Add(deps.RefreshSkew))
}

func normalizeExternalDeps(deps *ExternalDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RefreshSkew < 0 {
		deps.RefreshSkew = 0
	}
	if deps.AssumedLifetime <= 0 {
		deps.AssumedLifetime = 40 * time.Minute
	}
	if deps.Refreshes == nil {
		deps.Refreshes = new(singleflight.Group)
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(error) bool { return false }
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.Errors.UpstreamCredential == nil {
		deps.Errors.UpstreamCredential = errors.New("upstream credential unavailable")
	}
	if deps.Errors.UpstreamUnavailable == nil {
		deps.Errors.UpstreamUnavailable = errors.New("upstream unavailable")
	}
	if deps.Errors.NotFound == nil {
		deps.Errors.NotFound = errors.New("not found")
	}
	if deps.Errors.EngineNotReady == nil {
		deps.Errors.EngineNotReady = errors.New("engine not ready")
	}
}
