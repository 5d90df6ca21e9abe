package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/principal/principaltest"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

// Integration tests are opt-in and require GOSESSION_DATABASE_URL.

func TestStore(t *testing.T) {
	pool := mustOpenTestPool(t)
	principaltest.Run(t, func(t *testing.T) goSession.PrincipalStore {
		schema := mustCreateTestSchema(t, pool)
		s, err := New(pool, WithSchema(schema))
		require.NoError(t, err)
		require.NoError(t, s.Migrate(context.Background()))
		return s
	})
}

func TestClassifyUniqueViolation(t *testing.T) {
	cases := map[string]string{
		"uq_principals_email":  "email",
		"uq_principals_phone":  "phone",
		"principals_pkey":      "id",
		"legacy_email_idx":     "email",
		"something_else_entry": "unknown",
	}
	for constraint, want := range cases {
		err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: constraint})
		field, ok := classifyUniqueViolation(err)
		require.True(t, ok, constraint)
		require.Equal(t, want, field, constraint)
	}

	_, ok := classifyUniqueViolation(&pgconn.PgError{Code: "23503"})
	require.False(t, ok)
	_, ok = classifyUniqueViolation(errors.New("plain"))
	require.False(t, ok)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	_, err = New(nil, WithSchema("bad-schema;drop"))
	require.Error(t, err)
}

func TestEncodeExternal(t *testing.T) {
	v, err := encodeExternal(nil)
	require.NoError(t, err)
	require.Nil(t, v)

	v, err = encodeExternal(&goSession.ExternalCredential{AccessToken: "at", RefreshToken: "rt"})
	require.NoError(t, err)
	require.Contains(t, v, `"refresh_token":"rt"`)
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("GOSESSION_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: GOSESSION_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("integration test skipped: postgres unreachable: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "gs_it_" + strings.ToLower(ulid.Make().String())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})
	return schema
}
