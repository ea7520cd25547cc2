package memory

import (
	"context"
	"sync"

	"github.com/MrEthical07/authcore"
)

// Store keeps users and refresh tokens in maps.
type Store struct {
	mu      sync.Mutex
	users   map[string]authcore.UserRecord
	byEmail map[string]string
	byToken map[string]string
	refresh map[string]authcore.RefreshTokenRecord
}

var _ authcore.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:   make(map[string]authcore.UserRecord),
		byEmail: make(map[string]string),
		byToken: make(map[string]string),
		refresh: make(map[string]authcore.RefreshTokenRecord),
	}
}

// CreateUser stores a copy of user. A taken id, email, or verification token
// yields authcore.ErrUserExists.
func (s *Store) CreateUser(_ context.Context, user authcore.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return authcore.ErrUserExists
	}
	if _, ok := s.byEmail[user.Email]; ok {
		return authcore.ErrUserExists
	}
	if user.EmailVerifyToken != "" {
		if _, ok := s.byToken[user.EmailVerifyToken]; ok {
			return authcore.ErrUserExists
		}
	}

	s.put(user.Clone())
	return nil
}

// GetUserByID returns a copy of the record or authcore.ErrUserNotFound.
func (s *Store) GetUserByID(_ context.Context, userID string) (authcore.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return u.Clone(), nil
}

// GetUserByEmail looks up the exact, already normalized email.
func (s *Store) GetUserByEmail(_ context.Context, email string) (authcore.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return s.users[id].Clone(), nil
}

// GetUserByVerifyToken looks up a user by verification token digest. An empty
// digest never matches.
func (s *Store) GetUserByVerifyToken(_ context.Context, tokenHash string) (authcore.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tokenHash == "" {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	id, ok := s.byToken[tokenHash]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return s.users[id].Clone(), nil
}

// UpdateUser runs fn on a copy of the record under the store lock and commits
// the copy only when fn succeeds.
func (s *Store) UpdateUser(_ context.Context, userID string, fn func(*authcore.UserRecord) error) (authcore.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[userID]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}

	next := current.Clone()
	if err := fn(&next); err != nil {
		return authcore.UserRecord{}, err
	}
	next.ID = current.ID

	if next.Email != current.Email {
		if _, taken := s.byEmail[next.Email]; taken {
			return authcore.UserRecord{}, authcore.ErrUserExists
		}
	}
	if next.EmailVerifyToken != "" && next.EmailVerifyToken != current.EmailVerifyToken {
		if _, taken := s.byToken[next.EmailVerifyToken]; taken {
			return authcore.UserRecord{}, authcore.ErrUserExists
		}
	}

	delete(s.byEmail, current.Email)
	if current.EmailVerifyToken != "" {
		delete(s.byToken, current.EmailVerifyToken)
	}
	s.put(next.Clone())
	return next, nil
}

// DeleteUser removes the user, its indexes, and its refresh records.
func (s *Store) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	delete(s.users, userID)
	delete(s.byEmail, u.Email)
	if u.EmailVerifyToken != "" {
		delete(s.byToken, u.EmailVerifyToken)
	}
	for key, r := range s.refresh {
		if r.UserID == userID {
			delete(s.refresh, key)
		}
	}
	return nil
}

func (s *Store) put(u authcore.UserRecord) {
	s.users[u.ID] = u
	s.byEmail[u.Email] = u.ID
	if u.EmailVerifyToken != "" {
		s.byToken[u.EmailVerifyToken] = u.ID
	}
}

// SaveRefreshToken stores record under its token digest.
func (s *Store) SaveRefreshToken(_ context.Context, record authcore.RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refresh[record.Token] = record
	return nil
}

// GetRefreshToken returns authcore.ErrRefreshTokenNotFound for an unknown digest.
func (s *Store) GetRefreshToken(_ context.Context, tokenHash string) (authcore.RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.refresh[tokenHash]
	if !ok {
		return authcore.RefreshTokenRecord{}, authcore.ErrRefreshTokenNotFound
	}
	return r, nil
}

// DeleteRefreshToken is a no-op for an unknown digest.
func (s *Store) DeleteRefreshToken(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refresh, tokenHash)
	return nil
}

// DeleteUserRefreshTokens removes every refresh record of userID and returns
// how many were removed.
func (s *Store) DeleteUserRefreshTokens(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, r := range s.refresh {
		if r.UserID == userID {
			delete(s.refresh, key)
			n++
		}
	}
	return n, nil
}

// RefreshTokenCount returns the number of stored refresh records of userID.
func (s *Store) RefreshTokenCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.refresh {
		if r.UserID == userID {
			n++
		}
	}
	return n
}
