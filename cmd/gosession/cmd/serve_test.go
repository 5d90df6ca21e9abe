package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newDevServer(t *testing.T) (*httptest.Server, *syncBuffer) {
	t.Helper()
	cfg := defaultServerConfig()
	cfg.Engine.Password.Memory = 8 * 1024
	cfg.Engine.Password.Time = 1
	cfg.Engine.Password.Parallelism = 1

	outbox := &syncBuffer{}
	a, err := newApp(t.Context(), cfg, slog.New(slog.DiscardHandler), true, outbox)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	srv := httptest.NewServer(a.handler)
	t.Cleanup(srv.Close)
	return srv, outbox
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestDevServerEndToEnd(t *testing.T) {
	srv, outbox := newDevServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, srv.URL+"/api/v1/auth/register", map[string]string{
		"first_name": "Ada", "last_name": "Lovelace", "email": "ada@example.com",
		"phone": "5551234567", "password": "Correct-horse-9",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = post(t, srv.URL+"/api/v1/auth/initiate-reset-password", map[string]string{"email": "ada@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	code := regexp.MustCompile(`code is (\d{6})\.`).FindStringSubmatch(outbox.String())
	require.Len(t, code, 2, "dev mailer writes the message to the outbox")

	resp = post(t, srv.URL+"/api/v1/auth/reset-password", map[string]string{
		"email": "ada@example.com", "code": code[1], "new_password": "Another-horse-7",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	metrics, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "gosession_recovery_completed_total 1")
	assert.True(t, strings.Contains(string(metrics), "go_goroutines"))
}

func TestDevDefaultsKeepsConfiguredSecrets(t *testing.T) {
	cfg := defaultServerConfig()
	cfg.Store.Driver = "postgres"
	cfg.Engine.Token.AccessSecret = "set"

	require.NoError(t, devDefaults(&cfg))
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "set", cfg.Engine.Token.AccessSecret)
	assert.Len(t, cfg.Engine.Token.RenewalSecret, 64)
}
