// Package memory is an in-process goSession.PrincipalStore. It keeps no state across
// restarts and is meant for tests, demos and the server's --dev mode.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	goSession "github.com/MrEthical07/goSession"
)

// Store keeps principals in maps guarded by one mutex, so every mutation is atomic
// with respect to every other.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*goSession.Principal
	byEmail map[string]string
	byPhone map[string]string
	now     func() time.Time
}

var _ goSession.PrincipalStore = (*Store)(nil)

func New() *Store {
	return &Store{
		byID:    make(map[string]*goSession.Principal),
		byEmail: make(map[string]string),
		byPhone: make(map[string]string),
		now:     time.Now,
	}
}

func clone(p *goSession.Principal) *goSession.Principal {
	out := *p
	if p.External != nil {
		ext := *p.External
		out.External = &ext
	}
	return &out
}

func notFound(id string) error {
	return fmt.Errorf("principal %q: %w", id, goSession.ErrNotFound)
}

// Create stores a copy of p. p.ID must be set.
func (s *Store) Create(ctx context.Context, p *goSession.Principal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: principal id is required", goSession.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[p.ID]; ok {
		return &goSession.ConflictError{Field: "id"}
	}
	if _, ok := s.byEmail[p.Email]; ok {
		return &goSession.ConflictError{Field: "email"}
	}
	if _, ok := s.byPhone[p.Phone]; ok {
		return &goSession.ConflictError{Field: "phone"}
	}

	s.byID[p.ID] = clone(p)
	s.byEmail[p.Email] = p.ID
	s.byPhone[p.Phone] = p.ID
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*goSession.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return nil, notFound(id)
	}
	return clone(p), nil
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*goSession.Principal, error) {
	return s.getByIndex(ctx, s.byEmail, email)
}

func (s *Store) GetByPhone(ctx context.Context, phone string) (*goSession.Principal, error) {
	return s.getByIndex(ctx, s.byPhone, phone)
}

func (s *Store) getByIndex(ctx context.Context, index map[string]string, key string) (*goSession.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := index[key]
	if !ok {
		return nil, notFound(key)
	}
	return clone(s.byID[id]), nil
}

// UpdateProfile applies u. A changed email or phone already held by another
// principal fails with a *goSession.ConflictError and leaves the record untouched.
func (s *Store) UpdateProfile(ctx context.Context, id string, u goSession.ProfileUpdate) (*goSession.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return nil, notFound(id)
	}
	if u.Email != nil {
		if owner, taken := s.byEmail[*u.Email]; taken && owner != id {
			return nil, &goSession.ConflictError{Field: "email"}
		}
	}
	if u.Phone != nil {
		if owner, taken := s.byPhone[*u.Phone]; taken && owner != id {
			return nil, &goSession.ConflictError{Field: "phone"}
		}
	}

	if u.FirstName != nil {
		p.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		p.LastName = *u.LastName
	}
	if u.Email != nil && *u.Email != p.Email {
		delete(s.byEmail, p.Email)
		p.Email = *u.Email
		s.byEmail[p.Email] = id
	}
	if u.Phone != nil && *u.Phone != p.Phone {
		delete(s.byPhone, p.Phone)
		p.Phone = *u.Phone
		s.byPhone[p.Phone] = id
	}
	if u.External != nil {
		ext := *u.External
		p.External = &ext
	}
	p.UpdatedAt = s.now()
	return clone(p), nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.mutate(ctx, id, func(p *goSession.Principal) {
		p.PasswordHash = hash
	})
}

func (s *Store) ResetPassword(ctx context.Context, id, hash string) error {
	return s.mutate(ctx, id, func(p *goSession.Principal) {
		p.PasswordHash = hash
		p.SessionSecret = ""
	})
}

func (s *Store) SetSessionSecret(ctx context.Context, id, secret string) error {
	return s.mutate(ctx, id, func(p *goSession.Principal) {
		p.SessionSecret = secret
	})
}

func (s *Store) CompareAndSwapSessionSecret(ctx context.Context, id, expected, next string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return false, notFound(id)
	}
	if p.SessionSecret != expected {
		return false, nil
	}
	p.SessionSecret = next
	p.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) UpdateExternalAccessToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	return s.mutate(ctx, id, func(p *goSession.Principal) {
		if p.External == nil {
			p.External = &goSession.ExternalCredential{}
		}
		p.External.AccessToken = token
		p.External.AccessTokenExpiresAt = expiresAt
	})
}

func (s *Store) mutate(ctx context.Context, id string, apply func(*goSession.Principal)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return notFound(id)
	}
	apply(p)
	p.UpdatedAt = s.now()
	return nil
}

// Len returns the number of stored principals.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
