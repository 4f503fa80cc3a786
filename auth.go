package laiqclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Auth endpoints, split by role so admin logins flow through the admin
// credential slot.
const (
	customerLoginEndpoint   = "/auth/login"
	customerLogoutEndpoint  = "/auth/logout"
	customerRefreshEndpoint = "/auth/refresh-token"
	adminLoginEndpoint      = "/admin/login"
	adminLogoutEndpoint     = "/admin/logout"
	adminRefreshEndpoint    = "/admin/refresh-token"
)

// AuthManager owns the credential lifecycle: login, logout, refresh, and
// expiry detection. State transitions are fanned out to OnAuthChange
// subscribers so UI layers can react without polling.
type AuthManager struct {
	exec  *Executor
	creds CredentialStore

	mu          sync.RWMutex
	subscribers map[int]func(AuthEvent)
	next        int

	logger Logger
}

func NewAuthManager(exec *Executor, creds CredentialStore, logger Logger) *AuthManager {
	return &AuthManager{
		exec:        exec,
		creds:       creds,
		subscribers: make(map[int]func(AuthEvent)),
		logger:      logger,
	}
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Token   string  `json:"token"`
	User    Subject `json:"user"`
}

// Login authenticates against the role-appropriate endpoint and stores
// the returned credential. An existing credential for the other role is
// left untouched.
func (a *AuthManager) Login(ctx context.Context, email, password string, role Role) (*Credential, error) {
	endpoint := customerLoginEndpoint
	if role == RoleAdmin {
		endpoint = adminLoginEndpoint
	}

	resp, err := a.exec.Execute(ctx, endpoint, &RequestOptions{
		Method:    "POST",
		Body:      loginPayload{Email: email, Password: password},
		SkipCache: true,
	}, "")
	if err != nil {
		return nil, err
	}

	cred, err := a.storeFromResponse(resp.Body, role)
	if err != nil {
		return nil, err
	}
	a.emit(AuthEvent{Type: AuthLogin, Role: role})
	if a.logger != nil {
		a.logger.Info("Logged in", "role", role, "subject", cred.Subject.ID)
	}
	return cred, nil
}

// Logout clears the role's credential. The server-side logout call is
// best effort; local state is wiped regardless of its outcome.
func (a *AuthManager) Logout(ctx context.Context, role Role) error {
	endpoint := customerLogoutEndpoint
	if role == RoleAdmin {
		endpoint = adminLogoutEndpoint
	}
	if _, err := a.exec.Execute(ctx, endpoint, &RequestOptions{Method: "POST", SkipCache: true, Keepalive: true}, ""); err != nil {
		if a.logger != nil {
			a.logger.Warn("Server logout failed, clearing local credential anyway", "role", role, "error", err.Error())
		}
	}

	if err := a.creds.Clear(role); err != nil {
		return err
	}
	a.emit(AuthEvent{Type: AuthLogout, Role: role})
	return nil
}

// CheckAuth reports whether a live credential exists for role. An expired
// token is cleared on sight and an expiry event is emitted.
func (a *AuthManager) CheckAuth(role Role) bool {
	cred, err := a.creds.Load(role)
	if err != nil || cred == nil {
		return false
	}
	if TokenExpired(cred.Token, time.Now()) {
		_ = a.creds.Clear(role)
		a.emit(AuthEvent{Type: AuthExpired, Role: role})
		return false
	}
	return true
}

// Current returns the stored credential for role, if any.
func (a *AuthManager) Current(role Role) (*Credential, bool) {
	cred, err := a.creds.Load(role)
	if err != nil || cred == nil {
		return nil, false
	}
	return cred, true
}

// AuthHeader returns the Authorization header value for role.
func (a *AuthManager) AuthHeader(role Role) (string, bool) {
	cred, ok := a.Current(role)
	if !ok || cred.Token == "" {
		return "", false
	}
	return "Bearer " + cred.Token, true
}

// Refresh exchanges the stored token for a fresh one.
func (a *AuthManager) Refresh(ctx context.Context, role Role) error {
	return a.RefreshWithToken(ctx, role, "")
}

// RefreshWithToken performs the refresh exchange. It is the hook the
// recovery engine calls on auth failures: the 401 path wipes the store
// before the engine runs, so staleToken carries the token the failed
// request presented. A stored credential, when one survives, wins over
// staleToken.
func (a *AuthManager) RefreshWithToken(ctx context.Context, role Role, staleToken string) error {
	token := staleToken
	cred, err := a.creds.Load(role)
	if err != nil {
		return err
	}
	if cred != nil {
		token = cred.Token
	}
	if token == "" {
		return fmt.Errorf("no %s credential to refresh", role)
	}

	endpoint := customerRefreshEndpoint
	if role == RoleAdmin {
		endpoint = adminRefreshEndpoint
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	resp, err := a.exec.Execute(ctx, endpoint, &RequestOptions{Method: "POST", Header: header, SkipCache: true}, "")
	if err != nil {
		return err
	}
	if _, err := a.storeFromResponse(resp.Body, role); err != nil {
		return err
	}
	a.emit(AuthEvent{Type: AuthRefresh, Role: role})
	return nil
}

// OnAuthChange subscribes to auth state transitions. The returned function
// unsubscribes.
func (a *AuthManager) OnAuthChange(fn func(AuthEvent)) func() {
	a.mu.Lock()
	id := a.next
	a.next++
	a.subscribers[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.subscribers, id)
		a.mu.Unlock()
	}
}

func (a *AuthManager) storeFromResponse(body []byte, role Role) (*Credential, error) {
	var parsed authResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode auth response: %w", err)
	}
	if parsed.Token == "" {
		msg := parsed.Message
		if msg == "" {
			msg = "missing token in auth response"
		}
		return nil, fmt.Errorf("login failed: %s", msg)
	}

	subject := parsed.User
	if subject.Role == "" {
		subject.Role = role
	}
	cred := &Credential{Role: role, Token: parsed.Token, Subject: subject}
	if err := a.creds.Store(cred); err != nil {
		return nil, err
	}
	return cred, nil
}

func (a *AuthManager) emit(event AuthEvent) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, fn := range a.subscribers {
		fn(event)
	}
}
