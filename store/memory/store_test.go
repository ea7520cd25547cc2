package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authcore"
)

func seed(t *testing.T, s *Store) authcore.UserRecord {
	t.Helper()
	u := authcore.UserRecord{
		ID:               "u1",
		Email:            "alice@example.com",
		PasswordHash:     "hash",
		EmailVerifyToken: "digest-1",
		BackupCodes:      []string{"a", "b"},
		CreatedAt:        time.Unix(1_700_000_000, 0),
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestCreateAndLookup(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s)

	byID, err := s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", byID.Email)

	byEmail, err := s.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, "u1", byEmail.ID)

	byToken, err := s.GetUserByVerifyToken(ctx, "digest-1")
	require.NoError(t, err)
	require.Equal(t, "u1", byToken.ID)

	_, err = s.GetUserByID(ctx, "missing")
	require.ErrorIs(t, err, authcore.ErrUserNotFound)
	_, err = s.GetUserByVerifyToken(ctx, "")
	require.ErrorIs(t, err, authcore.ErrUserNotFound)
}

func TestCreateRejectsDuplicateEmail(t *testing.T) {
	s := New()
	seed(t, s)

	err := s.CreateUser(context.Background(), authcore.UserRecord{ID: "u2", Email: "alice@example.com"})
	require.ErrorIs(t, err, authcore.ErrUserExists)
}

func TestReadsReturnCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s)

	u, err := s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	u.BackupCodes[0] = "mutated"

	again, err := s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "a", again.BackupCodes[0])
}

func TestUpdateUserAbortsOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s)

	sentinel := errors.New("abort")
	_, err := s.UpdateUser(ctx, "u1", func(u *authcore.UserRecord) error {
		u.LoginAttempts = 99
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	u, err := s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, u.LoginAttempts)

	_, err = s.UpdateUser(ctx, "missing", func(*authcore.UserRecord) error { return nil })
	require.ErrorIs(t, err, authcore.ErrUserNotFound)
}

func TestUpdateUserReindexesVerifyToken(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s)

	_, err := s.UpdateUser(ctx, "u1", func(u *authcore.UserRecord) error {
		u.EmailVerifyToken = ""
		u.IsEmailVerified = true
		return nil
	})
	require.NoError(t, err)

	_, err = s.GetUserByVerifyToken(ctx, "digest-1")
	require.ErrorIs(t, err, authcore.ErrUserNotFound)
}

func TestUpdateUserSerializesConcurrentIncrements(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s)

	const workers = 64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateUser(ctx, "u1", func(u *authcore.UserRecord) error {
				u.LoginAttempts++
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	u, err := s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, workers, u.LoginAttempts)
}

func TestRefreshTokens(t *testing.T) {
	s := New()
	ctx := context.Background()
	exp := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.SaveRefreshToken(ctx, authcore.RefreshTokenRecord{Token: "h1", UserID: "u1", ExpiresAt: exp}))
	require.NoError(t, s.SaveRefreshToken(ctx, authcore.RefreshTokenRecord{Token: "h2", UserID: "u1", ExpiresAt: exp}))
	require.NoError(t, s.SaveRefreshToken(ctx, authcore.RefreshTokenRecord{Token: "h3", UserID: "u2", ExpiresAt: exp}))

	r, err := s.GetRefreshToken(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, "u1", r.UserID)

	require.NoError(t, s.DeleteRefreshToken(ctx, "h1"))
	require.NoError(t, s.DeleteRefreshToken(ctx, "h1"))
	_, err = s.GetRefreshToken(ctx, "h1")
	require.ErrorIs(t, err, authcore.ErrRefreshTokenNotFound)

	n, err := s.DeleteUserRefreshTokens(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 0, s.RefreshTokenCount("u1"))
	require.Equal(t, 1, s.RefreshTokenCount("u2"))
}

func TestDeleteUserDropsIndexesAndRefreshTokens(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s)
	require.NoError(t, s.SaveRefreshToken(ctx, authcore.RefreshTokenRecord{Token: "r1", UserID: "u1"}))

	require.NoError(t, s.DeleteUser(ctx, "u1"))

	_, err := s.GetUserByID(ctx, "u1")
	require.ErrorIs(t, err, authcore.ErrUserNotFound)
	_, err = s.GetUserByEmail(ctx, "alice@example.com")
	require.ErrorIs(t, err, authcore.ErrUserNotFound)
	_, err = s.GetUserByVerifyToken(ctx, "digest-1")
	require.ErrorIs(t, err, authcore.ErrUserNotFound)
	_, err = s.GetRefreshToken(ctx, "r1")
	require.ErrorIs(t, err, authcore.ErrRefreshTokenNotFound)

	require.ErrorIs(t, s.DeleteUser(ctx, "u1"), authcore.ErrUserNotFound)

	// The email is free again.
	seed(t, s)
}
