package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/external/spotify"
	"github.com/MrEthical07/goSession/principal/memory"
	"github.com/MrEthical07/goSession/transport/httpapi"
)

const strongPassword = "Correct-horse-9"

type outbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (o *outbox) SendRecoveryCode(_ context.Context, to goSession.RecoveryRecipient, code string, _ time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes[to.Email] = code
	return nil
}

func (o *outbox) code(email string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.codes[email]
}

type fixture struct {
	server   *httptest.Server
	upstream *httptest.Server
	store    *memory.Store
	mail     *outbox
	topCalls int
	mu       sync.Mutex
}

func (f *fixture) topItemsCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.topCalls
}

func setupServer(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), mail: &outbox{codes: map[string]string{}}}

	f.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer upstream-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/me/top/artists":
			f.mu.Lock()
			f.topCalls++
			f.mu.Unlock()
			_, _ = io.WriteString(w, `{"items":[{"name":"a"},{"name":"b"}]}`)
		case "/me/player/currently-playing":
			w.WriteHeader(http.StatusNoContent)
		case "/me/player/play":
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"error":{"status":403,"message":"Premium required"}}`)
		case "/me/player/devices":
			_, _ = io.WriteString(w, `{"devices":[]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.upstream.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := goSession.DefaultConfig()
	cfg.Token.AccessSecret = "access-secret-for-tests-0000000001"
	cfg.Token.RenewalSecret = "renewal-secret-for-tests-000000001"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	engine, err := goSession.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPrincipalStore(f.store).
		WithMailer(f.mail).
		WithExternalAPI(spotify.NewClient(spotify.WithBaseURL(f.upstream.URL))).
		WithCredentialRefresher(spotify.NewRefresher(spotify.WithTokenURL(f.upstream.URL + "/token"))).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	f.server = httptest.NewServer(httpapi.New(engine).Router())
	t.Cleanup(f.server.Close)
	return f
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func register(t *testing.T, f *fixture, email, phone string) goSession.RegisterResult {
	t.Helper()
	resp := doJSON(t, http.MethodPost, f.server.URL+"/auth/register", "", map[string]any{
		"first_name": "Ada",
		"last_name":  "Lovelace",
		"email":      email,
		"phone":      phone,
		"password":   strongPassword,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[goSession.RegisterResult](t, resp)
}

func TestRegisterLoginRenewLogout(t *testing.T) {
	f := setupServer(t)
	reg := register(t, f, "ada@example.com", "555-123-4567")
	require.NotEmpty(t, reg.Claims.ID)
	assert.Equal(t, "5551234567", reg.Claims.Phone)

	resp := doJSON(t, http.MethodPost, f.server.URL+"/auth/login", "", map[string]string{
		"phone": "5551234567", "password": strongPassword,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pair := decodeBody[goSession.TokenPair](t, resp)

	resp = doJSON(t, http.MethodPost, f.server.URL+"/auth/refresh", "", map[string]string{"renewal_token": pair.RenewalToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	renewed := decodeBody[goSession.TokenPair](t, resp)
	require.NotEqual(t, pair.RenewalToken, renewed.RenewalToken)

	// The rotated-out token no longer renews.
	resp = doJSON(t, http.MethodPost, f.server.URL+"/auth/refresh", "", map[string]string{"renewal_token": pair.RenewalToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	errBody := decodeBody[httpapi.ErrorResponse](t, resp)
	assert.Equal(t, goSession.KindUnauthorized, errBody.Kind)
	assert.NotEmpty(t, errBody.RequestID)

	resp = doJSON(t, http.MethodPost, f.server.URL+"/auth/logout", "", map[string]string{"renewal_token": renewed.RenewalToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, f.server.URL+"/auth/refresh", "", map[string]string{"renewal_token": renewed.RenewalToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterErrors(t *testing.T) {
	f := setupServer(t)
	register(t, f, "ada@example.com", "5551234567")

	resp := doJSON(t, http.MethodPost, f.server.URL+"/auth/register", "", map[string]any{
		"first_name": "Bob", "last_name": "B", "email": "ADA@example.com", "phone": "5559999999", "password": strongPassword,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, goSession.KindConflict, decodeBody[httpapi.ErrorResponse](t, resp).Kind)

	resp = doJSON(t, http.MethodPost, f.server.URL+"/auth/register", "", map[string]any{
		"first_name": "Bob", "last_name": "B", "email": "bob@example.com", "phone": "5559999999", "password": "weak",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, f.server.URL+"/auth/register", "", map[string]any{"unknown": true})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, goSession.KindInvalidInput, decodeBody[httpapi.ErrorResponse](t, resp).Kind)
}

func TestProfileReadAndUpdate(t *testing.T) {
	f := setupServer(t)
	reg := register(t, f, "ada@example.com", "5551234567")

	resp := doJSON(t, http.MethodGet, f.server.URL+"/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, f.server.URL+"/auth/me", reg.Tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	profile := decodeBody[goSession.Profile](t, resp)
	assert.Equal(t, "ada@example.com", profile.Email)
	assert.False(t, profile.ExternalLinked)

	resp = doJSON(t, http.MethodPatch, f.server.URL+"/auth/me", reg.Tokens.AccessToken, map[string]string{"first_name": "Augusta"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Augusta", decodeBody[goSession.Profile](t, resp).FirstName)

	raw, err := json.Marshal(profile)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "password")
}

func TestRecoveryOverHTTP(t *testing.T) {
	f := setupServer(t)
	register(t, f, "ada@example.com", "5551234567")

	resp := doJSON(t, http.MethodPost, f.server.URL+"/auth/initiate-reset-password", "", map[string]string{"email": "nobody@example.com"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, f.server.URL+"/auth/initiate-reset-password", "", map[string]string{"email": "ada@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	code := f.mail.code("ada@example.com")
	require.Len(t, code, 6)

	resp = doJSON(t, http.MethodPost, f.server.URL+"/auth/reset-password", "", map[string]string{
		"email": "ada@example.com", "code": code, "new_password": "Another-horse-7",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, f.server.URL+"/auth/reset-password", "", map[string]string{
		"email": "ada@example.com", "code": code, "new_password": "Another-horse-8",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, f.server.URL+"/auth/login", "", map[string]string{
		"email": "ada@example.com", "password": "Another-horse-7",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExternalRoutes(t *testing.T) {
	f := setupServer(t)
	reg := register(t, f, "ada@example.com", "5551234567")
	token := reg.Tokens.AccessToken

	resp := doJSON(t, http.MethodGet, f.server.URL+"/spotify/top-tracks", token, nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode, "no credential linked yet")
	assert.Equal(t, goSession.KindUpstreamUnavailable, decodeBody[httpapi.ErrorResponse](t, resp).Kind)

	resp = doJSON(t, http.MethodPatch, f.server.URL+"/auth/me", token, map[string]any{
		"external": map[string]string{"access_token": "upstream-token", "refresh_token": "r"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[goSession.Profile](t, resp).ExternalLinked)

	for i := 0; i < 2; i++ {
		resp = doJSON(t, http.MethodGet, f.server.URL+"/spotify/top-tracks", token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		items := decodeBody[[]map[string]string](t, resp)
		require.Len(t, items, 2)
	}
	assert.Equal(t, 1, f.topItemsCalls(), "second read is served from the cache")

	resp = doJSON(t, http.MethodGet, f.server.URL+"/spotify/now-playing", token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, f.server.URL+"/spotify/play-song", token, map[string]string{"track_uri": "spotify:track:1"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, goSession.KindPermissionRequired, decodeBody[httpapi.ErrorResponse](t, resp).Kind)

	resp = doJSON(t, http.MethodPost, f.server.URL+"/spotify/play-song", token, map[string]string{"track_uri": " "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodPut, f.server.URL+"/spotify/pause-song", token, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, goSession.KindNoActiveTarget, decodeBody[httpapi.ErrorResponse](t, resp).Kind)
}

func TestRequestIDPropagation(t *testing.T) {
	f := setupServer(t)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, f.server.URL+"/auth/me", nil)
	require.NoError(t, err)
	const id = "5f0c6f6e-1f4e-4c1f-9d7a-6f1d0c2b9a11"
	req.Header.Set(httpapi.RequestIDHeader, id)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, id, resp.Header.Get(httpapi.RequestIDHeader))
	assert.Equal(t, id, decodeBody[httpapi.ErrorResponse](t, resp).RequestID)

	resp = doJSON(t, http.MethodGet, f.server.URL+"/auth/me", "", nil)
	assert.NotEqual(t, id, resp.Header.Get(httpapi.RequestIDHeader))
	assert.NotEmpty(t, resp.Header.Get(httpapi.RequestIDHeader))
}

func TestStatusFor(t *testing.T) {
	cases := map[goSession.ErrorKind]int{
		goSession.KindInvalidInput:        http.StatusBadRequest,
		goSession.KindUnauthorized:        http.StatusUnauthorized,
		goSession.KindPermissionRequired:  http.StatusForbidden,
		goSession.KindNotFound:            http.StatusNotFound,
		goSession.KindNoActiveTarget:      http.StatusNotFound,
		goSession.KindConflict:            http.StatusConflict,
		goSession.KindRateLimited:         http.StatusTooManyRequests,
		goSession.KindDispatchFailed:      http.StatusBadGateway,
		goSession.KindUpstreamUnavailable: http.StatusBadGateway,
		goSession.KindInternal:            http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, httpapi.StatusFor(kind), kind)
	}
}
