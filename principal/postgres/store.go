// Package postgres is a goSession.PrincipalStore over PostgreSQL using pgx.
//
// The pool is owned by the caller; Store never closes it. Table identifiers are
// quoted with pgx.Identifier. Email and phone uniqueness is enforced by the
// uq_principals_email and uq_principals_phone constraints, whose violations are
// mapped to *goSession.ConflictError.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db    DB
	table string
	now   func() time.Time
}

var _ goSession.PrincipalStore = (*Store)(nil)

// Option configures the store.
type Option func(*Store) error

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema places the principals table in schema (default "public").
func WithSchema(schema string) Option {
	return func(s *Store) error {
		schema = strings.TrimSpace(schema)
		if !identRe.MatchString(schema) {
			return fmt.Errorf("postgres: invalid schema identifier %q", schema)
		}
		s.table = pgx.Identifier{schema, "principals"}.Sanitize()
		return nil
	}
}

func New(db DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:    db,
		table: pgx.Identifier{"public", "principals"}.Sanitize(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.db == nil {
		return nil, errors.New("postgres: nil db")
	}
	return s, nil
}

// Migrate creates the principals table when it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
  id             TEXT PRIMARY KEY,
  first_name     TEXT NOT NULL,
  last_name      TEXT NOT NULL,
  email          TEXT NOT NULL,
  phone          TEXT NOT NULL,
  password_hash  TEXT NOT NULL,
  session_secret TEXT NOT NULL DEFAULT '',
  external       JSONB NULL,
  created_at     TIMESTAMPTZ NOT NULL,
  updated_at     TIMESTAMPTZ NOT NULL,
  CONSTRAINT uq_principals_email UNIQUE (email),
  CONSTRAINT uq_principals_phone UNIQUE (phone)
)`)
	if err != nil {
		return fmt.Errorf("migrate principals: %w", err)
	}
	return nil
}

const columns = `id, first_name, last_name, email, phone, password_hash, session_secret, external, created_at, updated_at`

func (s *Store) Create(ctx context.Context, p *goSession.Principal) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: principal id is required", goSession.ErrInvalidInput)
	}
	ext, err := encodeExternal(p.External)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO `+s.table+` (`+columns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10)`,
		p.ID, p.FirstName, p.LastName, p.Email, p.Phone, p.PasswordHash, p.SessionSecret, ext,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if field, ok := classifyUniqueViolation(err); ok {
			return &goSession.ConflictError{Field: field}
		}
		return fmt.Errorf("insert principal: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*goSession.Principal, error) {
	return s.getBy(ctx, "id", id)
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*goSession.Principal, error) {
	return s.getBy(ctx, "email", email)
}

func (s *Store) GetByPhone(ctx context.Context, phone string) (*goSession.Principal, error) {
	return s.getBy(ctx, "phone", phone)
}

func (s *Store) getBy(ctx context.Context, column, value string) (*goSession.Principal, error) {
	row := s.db.QueryRow(ctx, `SELECT `+columns+` FROM `+s.table+` WHERE `+column+` = $1`, value)
	p, err := scanPrincipal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("principal %s=%q: %w", column, value, goSession.ErrNotFound)
		}
		return nil, fmt.Errorf("select principal: %w", err)
	}
	return p, nil
}

// UpdateProfile applies every non-nil field in one UPDATE, so a uniqueness
// violation leaves the whole row unchanged.
func (s *Store) UpdateProfile(ctx context.Context, id string, u goSession.ProfileUpdate) (*goSession.Principal, error) {
	var ext any
	if u.External != nil {
		encoded, err := encodeExternal(u.External)
		if err != nil {
			return nil, err
		}
		ext = encoded
	}

	row := s.db.QueryRow(ctx,
		`UPDATE `+s.table+` SET
		   first_name = COALESCE($2, first_name),
		   last_name  = COALESCE($3, last_name),
		   email      = COALESCE($4, email),
		   phone      = COALESCE($5, phone),
		   external   = COALESCE($6::jsonb, external),
		   updated_at = $7
		 WHERE id = $1
		 RETURNING `+columns,
		id, u.FirstName, u.LastName, u.Email, u.Phone, ext, s.now(),
	)
	p, err := scanPrincipal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("principal %q: %w", id, goSession.ErrNotFound)
		}
		if field, ok := classifyUniqueViolation(err); ok {
			return nil, &goSession.ConflictError{Field: field}
		}
		return nil, fmt.Errorf("update principal: %w", err)
	}
	return p, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.execOne(ctx, id, `UPDATE `+s.table+` SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, hash, s.now())
}

func (s *Store) ResetPassword(ctx context.Context, id, hash string) error {
	return s.execOne(ctx, id,
		`UPDATE `+s.table+` SET password_hash = $2, session_secret = '', updated_at = $3 WHERE id = $1`,
		id, hash, s.now())
}

func (s *Store) SetSessionSecret(ctx context.Context, id, secret string) error {
	return s.execOne(ctx, id, `UPDATE `+s.table+` SET session_secret = $2, updated_at = $3 WHERE id = $1`,
		id, secret, s.now())
}

// CompareAndSwapSessionSecret is a conditional UPDATE; the row lock taken by the
// update serializes concurrent swaps.
func (s *Store) CompareAndSwapSessionSecret(ctx context.Context, id, expected, next string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE `+s.table+` SET session_secret = $3, updated_at = $4 WHERE id = $1 AND session_secret = $2`,
		id, expected, next, s.now())
	if err != nil {
		return false, fmt.Errorf("swap session secret: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if err := s.exists(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) UpdateExternalAccessToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	return s.execOne(ctx, id,
		`UPDATE `+s.table+` SET
		   external = jsonb_set(
		     jsonb_set(COALESCE(external, '{}'::jsonb), '{access_token}', to_jsonb($2::text)),
		     '{access_token_expires_at}', to_jsonb($3::text)),
		   updated_at = $4
		 WHERE id = $1`,
		id, token, expiresAt.UTC().Format(time.RFC3339Nano), s.now())
}

func (s *Store) execOne(ctx context.Context, id, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update principal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("principal %q: %w", id, goSession.ErrNotFound)
	}
	return nil
}

func (s *Store) exists(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRow(ctx, `SELECT 1 FROM `+s.table+` WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("principal %q: %w", id, goSession.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("select principal: %w", err)
	}
	return nil
}

func scanPrincipal(row pgx.Row) (*goSession.Principal, error) {
	var (
		p   goSession.Principal
		ext []byte
	)
	if err := row.Scan(
		&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.Phone, &p.PasswordHash, &p.SessionSecret,
		&ext, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(ext) > 0 && string(ext) != "null" {
		var cred goSession.ExternalCredential
		if err := json.Unmarshal(ext, &cred); err != nil {
			return nil, fmt.Errorf("decode external credential: %w", err)
		}
		p.External = &cred
	}
	return &p, nil
}

// encodeExternal returns the JSON text for the external column, or nil for NULL.
func encodeExternal(c *goSession.ExternalCredential) (any, error) {
	if c == nil {
		return nil, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode external credential: %w", err)
	}
	return string(b), nil
}

func classifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return "", false
	}

	c := strings.ToLower(pgErr.ConstraintName)
	switch {
	case c == "uq_principals_email", strings.Contains(c, "email"):
		return "email", true
	case c == "uq_principals_phone", strings.Contains(c, "phone"):
		return "phone", true
	case strings.Contains(c, "pkey"):
		return "id", true
	default:
		return "unknown", true
	}
}
