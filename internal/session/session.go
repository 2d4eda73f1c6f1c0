// Package session holds the bearer credential and the authenticated username.
// Every network call consults it; when it is empty the client stays inert.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/rs/zerolog"
)

const (
	tokenKey    = "token"
	usernameKey = "username"
)

var ErrNotFound = errors.New("key not found")

// kvStore is the persisted key-value slot the session lives in.
type kvStore interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Close() error
}

type Store struct {
	kv  kvStore
	log zerolog.Logger
	now func() time.Time

	mu       sync.RWMutex
	token    string
	username string
}

func newStore(kv kvStore, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		kv:  kv,
		log: logger,
		now: time.Now,
	}

	token, err := kv.Get(tokenKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load token: %w", err)
	}
	username, err := kv.Get(usernameKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load username: %w", err)
	}

	s.token = string(token)
	s.username = string(username)
	return s, nil
}

// Credential returns the bearer token if one is stored and has not expired.
func (s *Store) Credential() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == "" {
		return "", false
	}
	if Expired(s.token, s.now()) {
		s.log.Debug().Msg("stored credential expired")
		return "", false
	}
	return s.token, true
}

func (s *Store) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// Save replaces the stored credential. username may be empty when it is not
// known yet; SetUsername fills it in later.
func (s *Store) Save(token, username string) error {
	if token == "" {
		return fmt.Errorf("empty token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Set(tokenKey, []byte(token)); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	if err := s.setUsernameLocked(username); err != nil {
		return err
	}

	s.token = token
	s.log.Info().Str("username", username).Msg("session saved")
	return nil
}

func (s *Store) SetUsername(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setUsernameLocked(username)
}

func (s *Store) setUsernameLocked(username string) error {
	if username == "" {
		if err := s.kv.Delete(usernameKey); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("delete username: %w", err)
		}
	} else if err := s.kv.Set(usernameKey, []byte(username)); err != nil {
		return fmt.Errorf("store username: %w", err)
	}
	s.username = username
	return nil
}

// Clear destroys the session, on logout or when the server rejects it.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range []string{tokenKey, usernameKey} {
		if err := s.kv.Delete(key); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}

	s.token = ""
	s.username = ""
	s.log.Info().Msg("session cleared")
	return nil
}

func (s *Store) Close() error {
	return s.kv.Close()
}

// Expired reports whether token is a JWT whose exp claim lies before now.
// The signature is not checked; only the server can do that. Opaque tokens
// never expire on the client.
func Expired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return false
	}
	if _, ok := claims["exp"]; !ok {
		return false
	}
	return !claims.VerifyExpiresAt(now.Unix(), true)
}
