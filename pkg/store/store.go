// Package store is the on-device persistence layer: local accounts, saved
// chat sessions and profile preferences, all keyed by email in a single
// bbolt file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	ErrAccountExists   = errors.New("an account with this email already exists")
	ErrAccountNotFound = errors.New("no account found for this email")
	ErrBadCredentials  = errors.New("incorrect password")
)

var (
	bucketAccounts = []byte("accounts")
	bucketSessions = []byte("sessions")
	bucketPrefs    = []byte("prefs")
)

// Account is a local login. The password is stored as entered; this is an
// on-device convenience login, not a security boundary.
type Account struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ChatMessage is one persisted turn of a chat conversation.
type ChatMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// ChatSession is one saved conversation.
type ChatSession struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Messages  []ChatMessage `json:"messages"`
	Timestamp int64         `json:"timestamp"`
}

// Prefs holds per-account profile settings.
type Prefs struct {
	Theme         string `json:"theme"`
	HighContrast  bool   `json:"highContrast"`
	SaveHistory   bool   `json:"saveHistory"`
	AvatarDataURL string `json:"avatarDataUrl,omitempty"`
}

func DefaultPrefs() Prefs {
	return Prefs{Theme: "dark", SaveHistory: true}
}

func NewChatSession(title string) ChatSession {
	return ChatSession{
		ID:        uuid.NewString(),
		Title:     title,
		Timestamp: time.Now().UnixMilli(),
	}
}

func NewChatMessage(role, content string) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Store is one open database handle. Safe for concurrent use.
type Store struct {
	db     *bbolt.DB
	logger *zap.Logger
}

func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketAccounts, bucketSessions, bucketPrefs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store buckets: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// normalizeEmail is applied to every key so logins are case-insensitive.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a new account. The email is normalized; a duplicate is
// rejected with ErrAccountExists.
func (s *Store) Register(name, email, password string) (Account, error) {
	acct := Account{Name: name, Email: normalizeEmail(email), Password: password}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		if b.Get([]byte(acct.Email)) != nil {
			return ErrAccountExists
		}
		raw, err := json.Marshal(acct)
		if err != nil {
			return err
		}
		return b.Put([]byte(acct.Email), raw)
	})
	if err != nil {
		return Account{}, err
	}
	s.logger.Info("account registered", zap.String("email", acct.Email))
	return acct, nil
}

// Authenticate checks a login against the stored account.
func (s *Store) Authenticate(email, password string) (Account, error) {
	var acct Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketAccounts).Get([]byte(normalizeEmail(email)))
		if raw == nil {
			return ErrAccountNotFound
		}
		return json.Unmarshal(raw, &acct)
	})
	if err != nil {
		return Account{}, err
	}
	if acct.Password != password {
		return Account{}, ErrBadCredentials
	}
	return acct, nil
}

// SaveSessions replaces the account's saved conversations. It is a no-op
// when the account has history saving turned off.
func (s *Store) SaveSessions(email string, sessions []ChatSession) error {
	prefs, err := s.Prefs(email)
	if err != nil {
		return err
	}
	if !prefs.SaveHistory {
		return nil
	}
	raw, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("failed to encode sessions: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(normalizeEmail(email)), raw)
	})
}

// LoadSessions returns the account's saved conversations, newest data as
// written. A missing record is an empty history, not an error.
func (s *Store) LoadSessions(email string) ([]ChatSession, error) {
	var sessions []ChatSession
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketSessions).Get([]byte(normalizeEmail(email)))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &sessions)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return sessions, nil
}

// ClearSessions deletes all saved conversations for the account.
func (s *Store) ClearSessions(email string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete([]byte(normalizeEmail(email)))
	})
}

// Prefs returns the account's preferences, falling back to defaults when
// none were saved yet.
func (s *Store) Prefs(email string) (Prefs, error) {
	prefs := DefaultPrefs()
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketPrefs).Get([]byte(normalizeEmail(email)))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &prefs)
	})
	if err != nil {
		return Prefs{}, fmt.Errorf("failed to decode prefs: %w", err)
	}
	return prefs, nil
}

func (s *Store) SetPrefs(email string, prefs Prefs) error {
	raw, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to encode prefs: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPrefs).Put([]byte(normalizeEmail(email)), raw)
	})
}

// SetAvatar updates only the avatar, leaving other preferences intact.
func (s *Store) SetAvatar(email, dataURL string) error {
	prefs, err := s.Prefs(email)
	if err != nil {
		return err
	}
	prefs.AvatarDataURL = dataURL
	return s.SetPrefs(email, prefs)
}
