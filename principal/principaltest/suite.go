// Package principaltest is the behaviour suite shared by every PrincipalStore
// implementation. Each store package runs it against a fresh store per subtest.
package principaltest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. Cleanup belongs on t.
type Factory func(t *testing.T) goSession.PrincipalStore

// NewPrincipal returns a principal with a fresh ULID and the given contact fields.
func NewPrincipal(email, phone string) *goSession.Principal {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &goSession.Principal{
		ID:           ulid.Make().String(),
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Email:        email,
		Phone:        phone,
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func strPtr(s string) *string { return &s }

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndLookup", func(t *testing.T) { testCreateAndLookup(t, newStore(t)) })
	t.Run("DuplicateContactConflicts", func(t *testing.T) { testDuplicateConflicts(t, newStore(t)) })
	t.Run("MissingPrincipal", func(t *testing.T) { testMissing(t, newStore(t)) })
	t.Run("UpdateProfile", func(t *testing.T) { testUpdateProfile(t, newStore(t)) })
	t.Run("UpdateProfileConflict", func(t *testing.T) { testUpdateProfileConflict(t, newStore(t)) })
	t.Run("PasswordWrites", func(t *testing.T) { testPasswordWrites(t, newStore(t)) })
	t.Run("CompareAndSwapSessionSecret", func(t *testing.T) { testCAS(t, newStore(t)) })
	t.Run("ConcurrentCompareAndSwap", func(t *testing.T) { testConcurrentCAS(t, newStore(t)) })
	t.Run("ExternalAccessToken", func(t *testing.T) { testExternalAccessToken(t, newStore(t)) })
	t.Run("CanceledContext", func(t *testing.T) { testCanceled(t, newStore(t)) })
}

func testCreateAndLookup(t *testing.T, s goSession.PrincipalStore) {
	ctx := context.Background()
	p := NewPrincipal("ada@example.com", "5551234567")
	require.NoError(t, s.Create(ctx, p))

	byID, err := s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, p.Email, byID.Email)
	require.Equal(t, p.Phone, byID.Phone)
	require.Equal(t, p.PasswordHash, byID.PasswordHash)
	require.Empty(t, byID.SessionSecret)
	require.Nil(t, byID.External)
	require.WithinDuration(t, p.CreatedAt, byID.CreatedAt, time.Millisecond)

	byEmail, err := s.GetByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, p.ID, byEmail.ID)

	byPhone, err := s.GetByPhone(ctx, "5551234567")
	require.NoError(t, err)
	require.Equal(t, p.ID, byPhone.ID)

	byID.FirstName = "mutated"
	again, err := s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "Ada", again.FirstName)
}

func testDuplicateConflicts(t *testing.T, s goSession.PrincipalStore) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewPrincipal("ada@example.com", "5551234567")))

	cases := map[string]*goSession.Principal{
		"email": NewPrincipal("ada@example.com", "5550000000"),
		"phone": NewPrincipal("other@example.com", "5551234567"),
	}
	for field, p := range cases {
		err := s.Create(ctx, p)
		require.ErrorIs(t, err, goSession.ErrConflict, field)

		var conflict *goSession.ConflictError
		require.True(t, errors.As(err, &conflict), field)
		require.Equal(t, field, conflict.Field)

		_, err = s.GetByID(ctx, p.ID)
		require.ErrorIs(t, err, goSession.ErrNotFound)
	}
}

func testMissing(t *testing.T, s goSession.PrincipalStore) {
	ctx := context.Background()
	const id = "01J00000000000000000000000"

	_, err := s.GetByID(ctx, id)
	require.ErrorIs(t, err, goSession.ErrNotFound)
	_, err = s.GetByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, goSession.ErrNotFound)
	_, err = s.GetByPhone(ctx, "5550000000")
	require.ErrorIs(t, err, goSession.ErrNotFound)
	_, err = s.UpdateProfile(ctx, id, goSession.ProfileUpdate{FirstName: strPtr("x")})
	require.ErrorIs(t, err, goSession.ErrNotFound)
	require.ErrorIs(t, s.UpdatePasswordHash(ctx, id, "h"), goSession.ErrNotFound)
	require.ErrorIs(t, s.ResetPassword(ctx, id, "h"), goSession.ErrNotFound)
	require.ErrorIs(t, s.SetSessionSecret(ctx, id, "s"), goSession.ErrNotFound)
	_, err = s.CompareAndSwapSessionSecret(ctx, id, "", "s")
	require.ErrorIs(t, err, goSession.ErrNotFound)
	require.ErrorIs(t, s.UpdateExternalAccessToken(ctx, id, "t", time.Now()), goSession.ErrNotFound)
}

func testUpdateProfile(t *testing.T, s goSession.PrincipalStore) {
	ctx := context.Background()
	p := NewPrincipal("ada@example.com", "5551234567")
	require.NoError(t, s.Create(ctx, p))

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
	got, err := s.UpdateProfile(ctx, p.ID, goSession.ProfileUpdate{
		LastName: strPtr("Byron"),
		Email:    strPtr("ada@byron.org"),
		External: &goSession.ExternalCredential{
			AccessToken:          "at",
			AccessTokenExpiresAt: expires,
			RefreshToken:         "rt",
			ClientID:             "cid",
			ClientSecret:         "csecret",
		},
	})
	require.NoError(t, err)
	require.Equal(t, "Ada", got.FirstName)
	require.Equal(t, "Byron", got.LastName)
	require.Equal(t, "ada@byron.org", got.Email)
	require.Equal(t, "5551234567", got.Phone)
	require.NotNil(t, got.External)
	require.Equal(t, "rt", got.External.RefreshToken)

	_, err = s.GetByEmail(ctx, "ada@example.com")
	require.ErrorIs(t, err, goSession.ErrNotFound)

	stored, err := s.GetByEmail(ctx, "ada@byron.org")
	require.NoError(t, err)
	require.Equal(t, p.ID, stored.ID)
	require.Equal(t, "csecret", stored.External.ClientSecret)
	require.WithinDuration(t, expires, stored.External.AccessTokenExpiresAt, time.Millisecond)

	// Keeping one's own email is not a conflict.
	_, err = s.UpdateProfile(ctx, p.ID, goSession.ProfileUpdate{Email: strPtr("ada@byron.org")})
	require.NoError(t, err)
}

func testUpdateProfileConflict(t *testing.T, s goSession.PrincipalStore) {
	ctx := context.Background()
	a := NewPrincipal("ada@example.com", "5551234567")
	b := NewPrincipal("bob@example.com", "5557654321")
	require.NoError(t, s.Create(ctx, a))
	require.NoError(t, s.Create(ctx, b))

	_, err := s.UpdateProfile(ctx, b.ID, goSession.ProfileUpdate{
		FirstName: strPtr("Robert"),
		Phone:     strPtr("5551234567"),
	})
	var conflict *goSession.ConflictError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, "phone", conflict.Field)

	stored, err := s.GetByID(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, "Ada", stored.FirstName, "a rejected update must not apply partially")
	require.Equal(t, "5557654321", stored.Phone)
}

func testPasswordWrites(t *testing.T, s goSession.PrincipalStore) {
	ctx := context.Background()
	p := NewPrincipal("ada@example.com", "5551234567")
	require.NoError(t, s.Create(ctx, p))
	require.NoError(t, s.SetSessionSecret(ctx, p.ID, "renewal-1"))

	require.NoError(t, s.UpdatePasswordHash(ctx, p.ID, "hash-2"))
	got, err := s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "hash-2", got.PasswordHash)
	require.Equal(t, "renewal-1", got.SessionSecret)

	require.NoError(t, s.ResetPassword(ctx, p.ID, "hash-3"))
	got, err = s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "hash-3", got.PasswordHash)
	require.Empty(t, got.SessionSecret)
}

func testCAS(t *testing.T, s goSession.PrincipalStore) {
	ctx := context.Background()
	p := NewPrincipal("ada@example.com", "5551234567")
	require.NoError(t, s.Create(ctx, p))

	ok, err := s.CompareAndSwapSessionSecret(ctx, p.ID, "", "first")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.CompareAndSwapSessionSecret(ctx, p.ID, "stale", "second")
	require.NoError(t, err)
	require.False(t, ok)

	got, err := s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "first", got.SessionSecret)

	ok, err = s.CompareAndSwapSessionSecret(ctx, p.ID, "first", "")
	require.NoError(t, err)
	require.True(t, ok)
	got, err = s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.Empty(t, got.SessionSecret)
}

func testConcurrentCAS(t *testing.T, s goSession.PrincipalStore) {
	ctx := context.Background()
	p := NewPrincipal("ada@example.com", "5551234567")
	require.NoError(t, s.Create(ctx, p))
	require.NoError(t, s.SetSessionSecret(ctx, p.ID, "current"))

	const n = 12
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
	)
	start := make(chan struct{})
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			next := fmt.Sprintf("next-%d", i)
			ok, err := s.CompareAndSwapSessionSecret(ctx, p.ID, "current", next)
			if err != nil {
				errs <- err
				return
			}
			if ok {
				mu.Lock()
				wins = append(wins, next)
				mu.Unlock()
			}
		}(i)
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, wins, 1)

	got, err := s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, wins[0], got.SessionSecret)
}

func testExternalAccessToken(t *testing.T, s goSession.PrincipalStore) {
	ctx := context.Background()
	p := NewPrincipal("ada@example.com", "5551234567")
	p.External = &goSession.ExternalCredential{AccessToken: "old", RefreshToken: "rt", ClientID: "cid"}
	require.NoError(t, s.Create(ctx, p))

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
	require.NoError(t, s.UpdateExternalAccessToken(ctx, p.ID, "new", expires))

	got, err := s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "new", got.External.AccessToken)
	require.Equal(t, "rt", got.External.RefreshToken)
	require.Equal(t, "cid", got.External.ClientID)
	require.WithinDuration(t, expires, got.External.AccessTokenExpiresAt, time.Millisecond)
}

func testCanceled(t *testing.T, s goSession.PrincipalStore) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Create(ctx, NewPrincipal("ada@example.com", "5551234567"))
	require.Error(t, err)
	_, err = s.GetByEmail(ctx, "ada@example.com")
	require.Error(t, err)
}
