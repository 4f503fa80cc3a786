package laiqclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CredentialStore is the port behind which credentials live. Implementations
// must tolerate concurrent use. Load returns (nil, nil) when the slot is
// empty; a non-nil error means the stored record is unreadable, which the
// resolver treats as an absent credential.
type CredentialStore interface {
	Load(role Role) (*Credential, error)
	Store(cred *Credential) error
	Clear(role Role) error
	// ClearAll wipes both slots. A 401 on either role's endpoint clears
	// everything so a stale sibling credential cannot linger.
	ClearAll() error
}

// MemoryCredentialStore keeps credentials in process memory. It is the
// default store and the one tests inject.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds map[Role]*Credential
}

// NewMemoryCredentialStore returns an empty in-memory store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[Role]*Credential)}
}

func (s *MemoryCredentialStore) Load(role Role) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[role]
	if !ok {
		return nil, nil
	}
	copied := *cred
	return &copied, nil
}

func (s *MemoryCredentialStore) Store(cred *Credential) error {
	if cred == nil {
		return fmt.Errorf("nil credential")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *cred
	s.creds[cred.Role] = &copied
	return nil
}

func (s *MemoryCredentialStore) Clear(role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, role)
	return nil
}

func (s *MemoryCredentialStore) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = make(map[Role]*Credential)
	return nil
}

// credentialKV is the small durable surface needed to persist credentials
// across restarts. RedisStore satisfies it.
type credentialKV interface {
	GetRaw(ctx context.Context, key string) ([]byte, bool, error)
	SetRaw(ctx context.Context, key string, value []byte) error
	DelRaw(ctx context.Context, key string) error
}

// PersistentCredentialStore mirrors credentials to a durable key/value
// backend so a restart keeps the session, mirroring the original's
// localStorage behavior.
type PersistentCredentialStore struct {
	kv      credentialKV
	timeout time.Duration
}

// NewPersistentCredentialStore wraps a durable backend.
func NewPersistentCredentialStore(kv credentialKV) *PersistentCredentialStore {
	return &PersistentCredentialStore{kv: kv, timeout: 2 * time.Second}
}

func (s *PersistentCredentialStore) key(role Role) string {
	return "cred:" + string(role)
}

func (s *PersistentCredentialStore) Load(role Role) (*Credential, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	raw, ok, err := s.kv.GetRaw(ctx, s.key(role))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var cred Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, fmt.Errorf("malformed stored credential for %s: %w", role, err)
	}
	return &cred, nil
}

func (s *PersistentCredentialStore) Store(cred *Credential) error {
	if cred == nil {
		return fmt.Errorf("nil credential")
	}
	raw, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.kv.SetRaw(ctx, s.key(cred.Role), raw)
}

func (s *PersistentCredentialStore) Clear(role Role) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.kv.DelRaw(ctx, s.key(role))
}

// ClearAll attempts both deletes even when one fails; a partial wipe would
// leave a stale sibling credential behind after a 401.
func (s *PersistentCredentialStore) ClearAll() error {
	return errors.Join(s.Clear(RoleCustomer), s.Clear(RoleAdmin))
}

// tokenClaims are the claims the backend embeds in its bearer tokens.
// The client only reads them; signature verification is the backend's job.
type tokenClaims struct {
	Role  string `json:"role"`
	Name  string `json:"name"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// RoleFromToken extracts the role claim from a bearer token without
// verifying the signature. An unparseable token yields an empty role.
func RoleFromToken(token string) Role {
	claims, err := parseClaims(token)
	if err != nil {
		return ""
	}
	return Role(claims.Role)
}

// TokenExpired reports whether the token carries an exp claim in the past.
// Tokens without exp are treated as unexpired; the backend still enforces.
func TokenExpired(token string, now time.Time) bool {
	claims, err := parseClaims(token)
	if err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return now.After(claims.ExpiresAt.Time)
}

// SubjectFromToken builds a Subject from token claims, used when the login
// response omits the user record.
func SubjectFromToken(token string) (Subject, error) {
	claims, err := parseClaims(token)
	if err != nil {
		return Subject{}, err
	}
	return Subject{
		ID:    claims.Subject,
		Role:  Role(claims.Role),
		Name:  claims.Name,
		Email: claims.Email,
	}, nil
}

func parseClaims(token string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}
