package goSession

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPassword = "Correct-horse-9"

type mockPrincipalStore struct {
	mu         sync.Mutex
	principals map[string]*Principal

	createErr      error
	getErr         error
	updateTokenErr error

	createCalls        int
	getByIDCalls       int
	getByEmailCalls    int
	getByPhoneCalls    int
	updateProfileCalls int
	updateHashCalls    int
	resetCalls         int
	setSecretCalls     int
	casCalls           int
	updateTokenCalls   int
}

func newMockPrincipalStore() *mockPrincipalStore {
	return &mockPrincipalStore{principals: map[string]*Principal{}}
}

func clonePrincipal(p *Principal) *Principal {
	out := *p
	if p.External != nil {
		ext := *p.External
		out.External = &ext
	}
	return &out
}

func (m *mockPrincipalStore) lookups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getByIDCalls + m.getByEmailCalls + m.getByPhoneCalls
}

func (m *mockPrincipalStore) find(match func(*Principal) bool) (*Principal, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, p := range m.principals {
		if match(p) {
			return clonePrincipal(p), nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockPrincipalStore) conflict(id, email, phone string) error {
	for _, p := range m.principals {
		if p.ID == id {
			continue
		}
		if email != "" && p.Email == email {
			return &ConflictError{Field: "email"}
		}
		if phone != "" && p.Phone == phone {
			return &ConflictError{Field: "phone"}
		}
	}
	return nil
}

func (m *mockPrincipalStore) Create(_ context.Context, p *Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++

	if m.createErr != nil {
		return m.createErr
	}
	if err := m.conflict("", p.Email, p.Phone); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = fmt.Sprintf("p%d", len(m.principals)+1)
	}
	m.principals[p.ID] = clonePrincipal(p)
	return nil
}

func (m *mockPrincipalStore) GetByID(_ context.Context, id string) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getByIDCalls++
	return m.find(func(p *Principal) bool { return p.ID == id })
}

func (m *mockPrincipalStore) GetByEmail(_ context.Context, email string) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getByEmailCalls++
	return m.find(func(p *Principal) bool { return p.Email == email })
}

func (m *mockPrincipalStore) GetByPhone(_ context.Context, phone string) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getByPhoneCalls++
	return m.find(func(p *Principal) bool { return p.Phone == phone })
}

func (m *mockPrincipalStore) UpdateProfile(_ context.Context, id string, u ProfileUpdate) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateProfileCalls++

	p, ok := m.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	var email, phone string
	if u.Email != nil {
		email = *u.Email
	}
	if u.Phone != nil {
		phone = *u.Phone
	}
	if err := m.conflict(id, email, phone); err != nil {
		return nil, err
	}
	if u.FirstName != nil {
		p.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		p.LastName = *u.LastName
	}
	if u.Email != nil {
		p.Email = *u.Email
	}
	if u.Phone != nil {
		p.Phone = *u.Phone
	}
	if u.External != nil {
		ext := *u.External
		p.External = &ext
	}
	p.UpdatedAt = time.Now()
	return clonePrincipal(p), nil
}

func (m *mockPrincipalStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateHashCalls++

	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.PasswordHash = hash
	return nil
}

func (m *mockPrincipalStore) ResetPassword(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetCalls++

	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.PasswordHash = hash
	p.SessionSecret = ""
	return nil
}

func (m *mockPrincipalStore) SetSessionSecret(_ context.Context, id, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setSecretCalls++

	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.SessionSecret = secret
	return nil
}

func (m *mockPrincipalStore) CompareAndSwapSessionSecret(_ context.Context, id, expected, next string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.casCalls++

	p, ok := m.principals[id]
	if !ok {
		return false, ErrNotFound
	}
	if p.SessionSecret != expected {
		return false, nil
	}
	p.SessionSecret = next
	return true, nil
}

func (m *mockPrincipalStore) UpdateExternalAccessToken(_ context.Context, id, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateTokenCalls++
	if m.updateTokenErr != nil {
		return m.updateTokenErr
	}

	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	if p.External == nil {
		p.External = &ExternalCredential{}
	}
	p.External.AccessToken = token
	p.External.AccessTokenExpiresAt = expiresAt
	return nil
}

func (m *mockPrincipalStore) secret(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.principals[id]; ok {
		return p.SessionSecret
	}
	return ""
}

type sentCode struct {
	to   RecoveryRecipient
	code string
	ttl  time.Duration
}

type mockMailer struct {
	mu   sync.Mutex
	err  error
	sent []sentCode
}

func (m *mockMailer) SendRecoveryCode(_ context.Context, to RecoveryRecipient, code string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentCode{to: to, code: code, ttl: ttl})
	return nil
}

func (m *mockMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("expected a dispatched code")
	}
	return m.sent[len(m.sent)-1].code
}

type mockExternalAPI struct {
	mu sync.Mutex

	topItems   []byte
	nowPlaying []byte
	err        error

	topCalls   int
	nowCalls   int
	playCalls  int
	pauseCalls int
	lastToken  string
	lastLimit  int
	lastTrack  string
}

func (m *mockExternalAPI) TopItems(_ context.Context, token string, limit int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topCalls++
	m.lastToken = token
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	return m.topItems, nil
}

func (m *mockExternalAPI) NowPlaying(_ context.Context, token string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowCalls++
	m.lastToken = token
	if m.err != nil {
		return nil, m.err
	}
	return m.nowPlaying, nil
}

func (m *mockExternalAPI) StartPlayback(_ context.Context, token, trackURI string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playCalls++
	m.lastToken = token
	m.lastTrack = trackURI
	return m.err
}

func (m *mockExternalAPI) PausePlayback(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauseCalls++
	m.lastToken = token
	return m.err
}

type mockRefresher struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	err   error
	token string
	ttl   time.Duration
}

func (m *mockRefresher) Refresh(_ context.Context, cred ExternalCredential) (string, time.Time, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", time.Time{}, m.err
	}
	if cred.RefreshToken == "" {
		return "", time.Time{}, errors.New("missing refresh token")
	}
	return m.token, time.Now().Add(m.ttl), nil
}

func (m *mockRefresher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

type testEnv struct {
	engine    *Engine
	store     *mockPrincipalStore
	mailer    *mockMailer
	api       *mockExternalAPI
	refresher *mockRefresher
	mr        *miniredis.Miniredis
	rdb       *redis.Client
}

func newTestEnv(t testing.TB, mutate func(*Config, *Builder)) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	env := &testEnv{
		store:     newMockPrincipalStore(),
		mailer:    &mockMailer{},
		api:       &mockExternalAPI{topItems: []byte(`{"items":[]}`), nowPlaying: []byte(`{"is_playing":true}`)},
		refresher: &mockRefresher{token: "fresh-token", ttl: time.Hour},
		mr:        mr,
		rdb:       rdb,
	}

	cfg := validTestConfig()
	cfg.Metrics.Enabled = true
	builder := New().
		WithRedis(rdb).
		WithPrincipalStore(env.store).
		WithMailer(env.mailer).
		WithExternalAPI(env.api).
		WithCredentialRefresher(env.refresher)
	if mutate != nil {
		mutate(&cfg, builder)
	}
	builder.WithConfig(cfg)

	engine, err := builder.Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}
	env.engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return env
}

// seed stores a principal with a hashed testPassword.
func (env *testEnv) seed(t testing.TB, id, email, phone string) *Principal {
	t.Helper()

	hash, err := env.engine.passwordHash.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	p := &Principal{
		ID:           id,
		FirstName:    strings.ToUpper(id[:1]) + id[1:],
		LastName:     "Tester",
		Email:        email,
		Phone:        phone,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := env.store.Create(context.Background(), p); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return p
}
