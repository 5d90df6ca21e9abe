package goSession_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/external/spotify"
	"github.com/MrEthical07/goSession/principal/memory"
)

const integrationPassword = "Correct-horse-9"

// cmdCounter is a go-redis Hook that counts Redis commands.
type cmdCounter struct {
	commands atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) Reset()          { h.commands.Store(0) }
func (h *cmdCounter) Commands() int64 { return h.commands.Load() }

type upstream struct {
	server       *httptest.Server
	tokenCalls   atomic.Int64
	topCalls     atomic.Int64
	currentToken atomic.Value
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	u.currentToken.Store("fresh-token")

	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			u.tokenCalls.Add(1)
			if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "refresh_token" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": u.currentToken.Load().(string),
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		case "/me/top/artists":
			if r.Header.Get("Authorization") != "Bearer "+u.currentToken.Load().(string) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			u.topCalls.Add(1)
			_, _ = io.WriteString(w, `{"items":[{"name":"Nina Simone"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(u.server.Close)
	return u
}

type integrationEnv struct {
	engine  *goSession.Engine
	store   *memory.Store
	counter *cmdCounter
	mr      *miniredis.Miniredis
	up      *upstream
}

func newIntegrationEnv(t *testing.T) *integrationEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	// Warm the connection so handshake commands are not counted.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("warmup ping: %v", err)
	}
	counter := &cmdCounter{}
	rdb.AddHook(counter)

	up := newUpstream(t)
	store := memory.New()

	cfg := goSession.DefaultConfig()
	cfg.Token.AccessSecret = "access-secret-for-tests-0000000001"
	cfg.Token.RenewalSecret = "renewal-secret-for-tests-000000001"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.Enabled = true

	engine, err := goSession.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPrincipalStore(store).
		WithExternalAPI(spotify.NewClient(spotify.WithBaseURL(up.server.URL))).
		WithCredentialRefresher(spotify.NewRefresher(spotify.WithTokenURL(up.server.URL + "/token"))).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &integrationEnv{engine: engine, store: store, counter: counter, mr: mr, up: up}
}

func (env *integrationEnv) register(t *testing.T, external *goSession.ExternalCredential) goSession.RegisterResult {
	t.Helper()
	res, err := env.engine.Register(context.Background(), goSession.RegisterRequest{
		FirstName: "Nina",
		LastName:  "Waymon",
		Email:     "nina@example.com",
		Phone:     "5551234567",
		Password:  integrationPassword,
		External:  external,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return res
}

func TestExpiredExternalCredentialRefreshedAndPersisted(t *testing.T) {
	env := newIntegrationEnv(t)
	res := env.register(t, &goSession.ExternalCredential{
		AccessToken:          "stale-token",
		AccessTokenExpiresAt: time.Now().Add(-time.Minute),
		RefreshToken:         "refresh-token",
		ClientID:             "client-id",
		ClientSecret:         "client-secret",
	})

	items, err := env.engine.GetExternalTopItems(context.Background(), res.Claims)
	if err != nil {
		t.Fatalf("GetExternalTopItems failed: %v", err)
	}
	if string(items) != `[{"name":"Nina Simone"}]` {
		t.Fatalf("unexpected items: %s", items)
	}
	if env.up.tokenCalls.Load() != 1 {
		t.Fatalf("expected one refresh, got %d", env.up.tokenCalls.Load())
	}

	p, err := env.store.GetByID(context.Background(), res.Claims.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if p.External.AccessToken != "fresh-token" || !p.External.AccessTokenExpiresAt.After(time.Now()) {
		t.Fatalf("refreshed token not persisted: %+v", p.External)
	}
	if p.External.RefreshToken != "refresh-token" {
		t.Fatalf("refresh token must be kept, got %q", p.External.RefreshToken)
	}

	// The persisted token is live now, so a direct lookup does not refresh again.
	token, err := env.engine.ExternalAccessToken(context.Background(), res.Claims.ID)
	if err != nil || token != "fresh-token" {
		t.Fatalf("ExternalAccessToken = %q, %v", token, err)
	}
	if env.up.tokenCalls.Load() != 1 {
		t.Fatalf("expected no second refresh, got %d calls", env.up.tokenCalls.Load())
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[goSession.MetricExternalRefresh] != 1 {
		t.Fatalf("expected refresh metric 1, got %d", snap.Counters[goSession.MetricExternalRefresh])
	}
}

func TestRedisBudget(t *testing.T) {
	env := newIntegrationEnv(t)
	res := env.register(t, &goSession.ExternalCredential{AccessToken: "fresh-token"})
	ctx := context.Background()

	env.counter.Reset()
	if _, err := env.engine.Authenticate(ctx, res.Tokens.AccessToken); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if got := env.counter.Commands(); got != 0 {
		t.Fatalf("Authenticate issued %d Redis commands, want 0", got)
	}

	if _, err := env.engine.GetExternalTopItems(ctx, res.Claims); err != nil {
		t.Fatalf("GetExternalTopItems failed: %v", err)
	}
	env.counter.Reset()
	if _, err := env.engine.GetExternalTopItems(ctx, res.Claims); err != nil {
		t.Fatalf("GetExternalTopItems failed: %v", err)
	}
	if got := env.counter.Commands(); got != 1 {
		t.Fatalf("cached read issued %d Redis commands, want 1", got)
	}
	if env.up.topCalls.Load() != 1 {
		t.Fatalf("expected one upstream fetch, got %d", env.up.topCalls.Load())
	}
}

func TestLogoutRevokesRenewalWithMemoryStore(t *testing.T) {
	env := newIntegrationEnv(t)
	env.register(t, nil)
	ctx := context.Background()

	pair, err := env.engine.Login(ctx, "(555) 123-4567", integrationPassword)
	if err != nil {
		t.Fatalf("Login by phone failed: %v", err)
	}
	if err := env.engine.Logout(ctx, pair.RenewalToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := env.engine.Renew(ctx, pair.RenewalToken); goSession.KindOf(err) != goSession.KindUnauthorized {
		t.Fatalf("expected unauthorized renew after logout, got %v", err)
	}
}
