package flows

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var (
	errNotReady    = errors.New("not ready")
	errNotFound    = errors.New("not found")
	errCredential  = errors.New("credential")
	errUnavailable = errors.New("unavailable")
)

func externalTestDeps(cred *ExternalCredential) (ExternalDeps, *atomic.Int64, map[int]int) {
	var refreshes atomic.Int64
	var mu sync.Mutex
	metrics := map[int]int{}
	return ExternalDeps{
		RefreshSkew: 30 * time.Second,
		LoadCredential: func(_ context.Context, id string) (*ExternalCredential, error) {
			if id != "p1" {
				return nil, errNotFound
			}
			return cred, nil
		},
		IsNotFound: func(err error) bool { return errors.Is(err, errNotFound) },
		RefreshCredential: func(context.Context, ExternalCredential) (string, time.Time, error) {
			refreshes.Add(1)
			return "fresh", time.Now().Add(time.Hour), nil
		},
		PersistAccessToken: func(context.Context, string, string, time.Time) error { return nil },
		MetricInc: func(id int) {
			mu.Lock()
			metrics[id]++
			mu.Unlock()
		},
		Metrics: ExternalMetrics{CacheHit: 1, CacheMiss: 2, CredentialRefresh: 3, CredentialRefreshFailure: 4, CredentialPersistFailure: 5},
		Errors: ExternalErrors{
			EngineNotReady:      errNotReady,
			NotFound:            errNotFound,
			UpstreamCredential:  errCredential,
			UpstreamUnavailable: errUnavailable,
		},
	}, &refreshes, metrics
}

func TestExternalAccessTokenLiveOrUnrefreshable(t *testing.T) {
	cases := map[string]*ExternalCredential{
		"live":                           {AccessToken: "live", AccessTokenExpiresAt: time.Now().Add(time.Hour), RefreshToken: "r"},
		"unknown expiry without refresh": {AccessToken: "live"},
	}
	for name, cred := range cases {
		t.Run(name, func(t *testing.T) {
			deps, refreshes, _ := externalTestDeps(cred)
			token, err := RunExternalAccessToken(context.Background(), "p1", deps)
			if err != nil || token != "live" {
				t.Fatalf("got %q, %v", token, err)
			}
			if refreshes.Load() != 0 {
				t.Fatal("token must be used as-is")
			}
		})
	}
}

func TestExternalAccessTokenUnknownExpiryRefreshed(t *testing.T) {
	deps, refreshes, _ := externalTestDeps(&ExternalCredential{AccessToken: "registered", RefreshToken: "r"})
	var stamped time.Time
	deps.PersistAccessToken = func(_ context.Context, _ string, _ string, expiresAt time.Time) error {
		stamped = expiresAt
		return nil
	}

	token, err := RunExternalAccessToken(context.Background(), "p1", deps)
	if err != nil || token != "fresh" {
		t.Fatalf("got %q, %v", token, err)
	}
	if refreshes.Load() != 1 || stamped.IsZero() {
		t.Fatalf("refreshes=%d stamped=%s", refreshes.Load(), stamped)
	}
}

func TestExternalAccessTokenStampsMissingUpstreamExpiry(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	deps, _, _ := externalTestDeps(&ExternalCredential{AccessToken: "old", RefreshToken: "r"})
	deps.Now = func() time.Time { return now }
	deps.AssumedLifetime = 50 * time.Minute
	deps.RefreshCredential = func(context.Context, ExternalCredential) (string, time.Time, error) {
		return "no-expiry", time.Time{}, nil
	}
	var stamped time.Time
	deps.PersistAccessToken = func(_ context.Context, _ string, _ string, expiresAt time.Time) error {
		stamped = expiresAt
		return nil
	}

	if _, err := RunExternalAccessToken(context.Background(), "p1", deps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := now.Add(50 * time.Minute); !stamped.Equal(want) {
		t.Fatalf("persisted expiry %s, want %s", stamped, want)
	}
}

func TestExternalAccessTokenRefreshesWithinSkew(t *testing.T) {
	cred := &ExternalCredential{AccessToken: "old", AccessTokenExpiresAt: time.Now().Add(10 * time.Second), RefreshToken: "r"}
	deps, refreshes, metrics := externalTestDeps(cred)

	var persisted string
	deps.PersistAccessToken = func(_ context.Context, _ string, token string, _ time.Time) error {
		persisted = token
		return errors.New("store down")
	}

	token, err := RunExternalAccessToken(context.Background(), "p1", deps)
	if err != nil || token != "fresh" {
		t.Fatalf("got %q, %v", token, err)
	}
	if refreshes.Load() != 1 || persisted != "fresh" || metrics[3] != 1 || metrics[5] != 1 {
		t.Fatalf("refreshes=%d persisted=%q metrics=%v", refreshes.Load(), persisted, metrics)
	}
}

func TestExternalAccessTokenFailures(t *testing.T) {
	deps, _, _ := externalTestDeps(&ExternalCredential{})
	if _, err := RunExternalAccessToken(context.Background(), "p1", deps); !errors.Is(err, errCredential) {
		t.Fatalf("expected credential error for empty credential, got %v", err)
	}
	if _, err := RunExternalAccessToken(context.Background(), "p2", deps); !errors.Is(err, errNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	expired := &ExternalCredential{AccessToken: "old", AccessTokenExpiresAt: time.Now().Add(-time.Minute)}
	deps, _, _ = externalTestDeps(expired)
	if _, err := RunExternalAccessToken(context.Background(), "p1", deps); !errors.Is(err, errCredential) {
		t.Fatalf("expected credential error without refresh token, got %v", err)
	}

	expired.RefreshToken = "r"
	deps, _, metrics := externalTestDeps(expired)
	deps.RefreshCredential = func(context.Context, ExternalCredential) (string, time.Time, error) {
		return "", time.Time{}, errors.New("token endpoint 500")
	}
	_, err := RunExternalAccessToken(context.Background(), "p1", deps)
	if !errors.Is(err, errCredential) || !errors.Is(err, errUnavailable) {
		t.Fatalf("expected joined credential and unavailable errors, got %v", err)
	}
	if metrics[4] != 1 {
		t.Fatalf("expected refresh failure metric, got %v", metrics)
	}

	deps.LoadCredential = nil
	if _, err := RunExternalAccessToken(context.Background(), "p1", deps); !errors.Is(err, errNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
}

func TestCachedFetchDegradesOnCacheFailure(t *testing.T) {
	deps, _, metrics := externalTestDeps(&ExternalCredential{AccessToken: "live"})
	deps.CacheGet = func(context.Context, string, string) ([]byte, bool, error) {
		return nil, false, errors.New("cache down")
	}
	var sets int
	deps.CacheSet = func(context.Context, string, string, []byte, time.Duration) error {
		sets++
		return errors.New("cache down")
	}

	fetches := 0
	fetch := func(_ context.Context, token string) ([]byte, error) {
		fetches++
		if token != "live" {
			t.Fatalf("fetch got token %q", token)
		}
		return []byte(`[]`), nil
	}

	body, err := RunCachedFetch(context.Background(), "p1", "top_items", time.Hour, fetch, deps)
	if err != nil || string(body) != "[]" {
		t.Fatalf("got %s, %v", body, err)
	}
	if fetches != 1 || sets != 1 || metrics[2] != 1 {
		t.Fatalf("fetches=%d sets=%d metrics=%v", fetches, sets, metrics)
	}
}

func TestCachedFetchHitSkipsCredential(t *testing.T) {
	deps, _, metrics := externalTestDeps(nil)
	deps.LoadCredential = func(context.Context, string) (*ExternalCredential, error) {
		t.Fatal("credential must not be loaded on a hit")
		return nil, nil
	}
	deps.CacheGet = func(context.Context, string, string) ([]byte, bool, error) {
		return []byte(`"cached"`), true, nil
	}

	body, err := RunCachedFetch(context.Background(), "p1", "now_playing", time.Minute,
		func(context.Context, string) ([]byte, error) { return nil, errors.New("unexpected fetch") }, deps)
	if err != nil || string(body) != `"cached"` || metrics[1] != 1 {
		t.Fatalf("got %s, %v, metrics=%v", body, err, metrics)
	}
}

func TestExternalMutationInvalidatesOnlyOnSuccess(t *testing.T) {
	deps, _, _ := externalTestDeps(&ExternalCredential{AccessToken: "live"})
	var deleted []string
	deps.CacheDelete = func(_ context.Context, _ string, kind string) error {
		deleted = append(deleted, kind)
		return nil
	}

	callErr := errors.New("forbidden")
	if err := RunExternalMutation(context.Background(), "p1", []string{"now_playing"},
		func(context.Context, string) error { return callErr }, deps); !errors.Is(err, callErr) {
		t.Fatalf("expected call error, got %v", err)
	}
	if len(deleted) != 0 {
		t.Fatalf("failed mutation invalidated %v", deleted)
	}

	if err := RunExternalMutation(context.Background(), "p1", []string{"now_playing"},
		func(context.Context, string) error { return nil }, deps); err != nil {
		t.Fatalf("mutation failed: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "now_playing" {
		t.Fatalf("unexpected invalidations %v", deleted)
	}
}
