// Package bolt is a goSession.PrincipalStore in an embedded bbolt file.
//
// Principals are JSON records in the "principals" bucket keyed by ID. The
// "principals_by_email" and "principals_by_phone" buckets map contact fields to IDs
// and are updated in the same transaction as the record, so uniqueness checks and
// writes are atomic. bbolt allows one writer at a time, which makes every update,
// including the session secret compare-and-swap, serializable.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"go.etcd.io/bbolt"
)

var (
	bucketPrincipals = []byte("principals")
	bucketByEmail    = []byte("principals_by_email")
	bucketByPhone    = []byte("principals_by_phone")
)

type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ goSession.PrincipalStore = (*Store)(nil)

// New wraps an open database and creates the buckets it needs.
func New(db *bbolt.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("bolt: nil db")
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketPrincipals, bucketByEmail, bucketByPhone} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// Open opens or creates the database at path.
func Open(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type record struct {
	ID            string                        `json:"id"`
	FirstName     string                        `json:"first_name"`
	LastName      string                        `json:"last_name"`
	Email         string                        `json:"email"`
	Phone         string                        `json:"phone"`
	PasswordHash  string                        `json:"password_hash"`
	SessionSecret string                        `json:"session_secret,omitempty"`
	External      *goSession.ExternalCredential `json:"external,omitempty"`
	CreatedAt     time.Time                     `json:"created_at"`
	UpdatedAt     time.Time                     `json:"updated_at"`
}

func toRecord(p *goSession.Principal) record {
	r := record{
		ID:            p.ID,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		Email:         p.Email,
		Phone:         p.Phone,
		PasswordHash:  p.PasswordHash,
		SessionSecret: p.SessionSecret,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	if p.External != nil {
		ext := *p.External
		r.External = &ext
	}
	return r
}

func (r record) principal() *goSession.Principal {
	return &goSession.Principal{
		ID:            r.ID,
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		Email:         r.Email,
		Phone:         r.Phone,
		PasswordHash:  r.PasswordHash,
		SessionSecret: r.SessionSecret,
		External:      r.External,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func notFound(key string) error {
	return fmt.Errorf("principal %q: %w", key, goSession.ErrNotFound)
}

func load(tx *bbolt.Tx, id string) (record, error) {
	data := tx.Bucket(bucketPrincipals).Get([]byte(id))
	if data == nil {
		return record{}, notFound(id)
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return record{}, fmt.Errorf("decode principal %q: %w", id, err)
	}
	return r, nil
}

func save(tx *bbolt.Tx, r record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode principal %q: %w", r.ID, err)
	}
	return tx.Bucket(bucketPrincipals).Put([]byte(r.ID), data)
}

// ownerOf returns the ID indexed under key, or "".
func ownerOf(tx *bbolt.Tx, bucket []byte, key string) string {
	return string(tx.Bucket(bucket).Get([]byte(key)))
}

func (s *Store) Create(ctx context.Context, p *goSession.Principal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: principal id is required", goSession.ErrInvalidInput)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketPrincipals).Get([]byte(p.ID)) != nil {
			return &goSession.ConflictError{Field: "id"}
		}
		if ownerOf(tx, bucketByEmail, p.Email) != "" {
			return &goSession.ConflictError{Field: "email"}
		}
		if ownerOf(tx, bucketByPhone, p.Phone) != "" {
			return &goSession.ConflictError{Field: "phone"}
		}
		if err := save(tx, toRecord(p)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketByEmail).Put([]byte(p.Email), []byte(p.ID)); err != nil {
			return err
		}
		return tx.Bucket(bucketByPhone).Put([]byte(p.Phone), []byte(p.ID))
	})
}

func (s *Store) GetByID(ctx context.Context, id string) (*goSession.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *goSession.Principal
	err := s.db.View(func(tx *bbolt.Tx) error {
		r, err := load(tx, id)
		if err != nil {
			return err
		}
		out = r.principal()
		return nil
	})
	return out, err
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*goSession.Principal, error) {
	return s.getByIndex(ctx, bucketByEmail, email)
}

func (s *Store) GetByPhone(ctx context.Context, phone string) (*goSession.Principal, error) {
	return s.getByIndex(ctx, bucketByPhone, phone)
}

func (s *Store) getByIndex(ctx context.Context, bucket []byte, key string) (*goSession.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *goSession.Principal
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := ownerOf(tx, bucket, key)
		if id == "" {
			return notFound(key)
		}
		r, err := load(tx, id)
		if err != nil {
			return err
		}
		out = r.principal()
		return nil
	})
	return out, err
}

func (s *Store) UpdateProfile(ctx context.Context, id string, u goSession.ProfileUpdate) (*goSession.Principal, error) {
	var out *goSession.Principal
	err := s.update(ctx, id, func(tx *bbolt.Tx, r *record) error {
		if u.Email != nil && *u.Email != r.Email {
			if owner := ownerOf(tx, bucketByEmail, *u.Email); owner != "" && owner != id {
				return &goSession.ConflictError{Field: "email"}
			}
		}
		if u.Phone != nil && *u.Phone != r.Phone {
			if owner := ownerOf(tx, bucketByPhone, *u.Phone); owner != "" && owner != id {
				return &goSession.ConflictError{Field: "phone"}
			}
		}

		if u.FirstName != nil {
			r.FirstName = *u.FirstName
		}
		if u.LastName != nil {
			r.LastName = *u.LastName
		}
		if u.Email != nil && *u.Email != r.Email {
			if err := reindex(tx, bucketByEmail, r.Email, *u.Email, id); err != nil {
				return err
			}
			r.Email = *u.Email
		}
		if u.Phone != nil && *u.Phone != r.Phone {
			if err := reindex(tx, bucketByPhone, r.Phone, *u.Phone, id); err != nil {
				return err
			}
			r.Phone = *u.Phone
		}
		if u.External != nil {
			ext := *u.External
			r.External = &ext
		}
		out = r.principal()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func reindex(tx *bbolt.Tx, bucket []byte, oldKey, newKey, id string) error {
	b := tx.Bucket(bucket)
	if err := b.Delete([]byte(oldKey)); err != nil {
		return err
	}
	return b.Put([]byte(newKey), []byte(id))
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.update(ctx, id, func(_ *bbolt.Tx, r *record) error {
		r.PasswordHash = hash
		return nil
	})
}

func (s *Store) ResetPassword(ctx context.Context, id, hash string) error {
	return s.update(ctx, id, func(_ *bbolt.Tx, r *record) error {
		r.PasswordHash = hash
		r.SessionSecret = ""
		return nil
	})
}

func (s *Store) SetSessionSecret(ctx context.Context, id, secret string) error {
	return s.update(ctx, id, func(_ *bbolt.Tx, r *record) error {
		r.SessionSecret = secret
		return nil
	})
}

var errSecretMismatch = errors.New("session secret mismatch")

func (s *Store) CompareAndSwapSessionSecret(ctx context.Context, id, expected, next string) (bool, error) {
	err := s.update(ctx, id, func(_ *bbolt.Tx, r *record) error {
		if r.SessionSecret != expected {
			return errSecretMismatch
		}
		r.SessionSecret = next
		return nil
	})
	if errors.Is(err, errSecretMismatch) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) UpdateExternalAccessToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	return s.update(ctx, id, func(_ *bbolt.Tx, r *record) error {
		if r.External == nil {
			r.External = &goSession.ExternalCredential{}
		}
		r.External.AccessToken = token
		r.External.AccessTokenExpiresAt = expiresAt
		return nil
	})
}

// update loads id, applies fn and saves the record in one write transaction. An
// error from fn rolls the whole transaction back.
func (s *Store) update(ctx context.Context, id string, fn func(*bbolt.Tx, *record) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		r, err := load(tx, id)
		if err != nil {
			return err
		}
		if err := fn(tx, &r); err != nil {
			return err
		}
		r.UpdatedAt = s.now()
		return save(tx, r)
	})
}
