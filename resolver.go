package laiqclient

import "strings"

// Default classification patterns for the Laiq Bags backend and pages.
var (
	defaultAdminRoutePrefixes = []string{
		"/admin/",
		"/api/admin/",
	}
	defaultAdminPagePatterns = []string{
		"admin.html",
		"admin-",
		"/admin/",
	}
)

// TokenResolver decides which stored credential, if any, to attach to an
// outgoing request. Resolution never fails: a malformed stored record is
// logged and treated as absent, and resolution continues down the fallback
// chain. Callers that receive nil proceed unauthenticated and let the
// backend reject with 401/403.
type TokenResolver struct {
	store              CredentialStore
	adminRoutePrefixes []string
	adminPagePatterns  []string
	crossRoleFallback  bool
	logger             Logger
}

// NewTokenResolver builds a resolver over the given store with the default
// route and page classification.
func NewTokenResolver(store CredentialStore, logger Logger) *TokenResolver {
	return &TokenResolver{
		store:              store,
		adminRoutePrefixes: defaultAdminRoutePrefixes,
		adminPagePatterns:  defaultAdminPagePatterns,
		crossRoleFallback:  true,
		logger:             logger,
	}
}

// Resolve picks the credential for endpoint given the current page context.
//
// Admin-scoped endpoints prefer the admin credential, but only when its
// subject really is an admin. When the admin slot is unusable, the customer
// slot is consulted as a fallback for the case of an admin who logged in
// through the customer flow; it qualifies only if its own role is admin.
//
// Non-admin endpoints prefer by context: on admin pages the admin
// credential wins, elsewhere the customer credential wins, with the other
// slot as fallback.
func (r *TokenResolver) Resolve(endpoint, pageContext string) *Credential {
	if r.IsAdminEndpoint(endpoint) {
		if cred := r.load(RoleAdmin); cred != nil && r.effectiveRole(cred) == RoleAdmin {
			return cred
		}
		if !r.crossRoleFallback {
			return nil
		}
		if cred := r.load(RoleCustomer); cred != nil && r.effectiveRole(cred) == RoleAdmin {
			if r.logger != nil {
				r.logger.Warn("Using customer-slot credential for admin endpoint", "endpoint", endpoint)
			}
			return cred
		}
		return nil
	}

	if r.isAdminContext(pageContext) {
		if cred := r.load(RoleAdmin); cred != nil {
			return cred
		}
		return r.load(RoleCustomer)
	}

	if cred := r.load(RoleCustomer); cred != nil {
		return cred
	}
	return r.load(RoleAdmin)
}

// IsAdminEndpoint reports whether endpoint requires the admin role.
func (r *TokenResolver) IsAdminEndpoint(endpoint string) bool {
	for _, prefix := range r.adminRoutePrefixes {
		if strings.HasPrefix(endpoint, prefix) || endpoint == strings.TrimSuffix(prefix, "/") {
			return true
		}
	}
	return false
}

func (r *TokenResolver) isAdminContext(pageContext string) bool {
	if pageContext == "" {
		return false
	}
	for _, pattern := range r.adminPagePatterns {
		if strings.Contains(pageContext, pattern) {
			return true
		}
	}
	return false
}

// effectiveRole prefers the stored subject role and falls back to the
// token's role claim when the subject record is incomplete.
func (r *TokenResolver) effectiveRole(cred *Credential) Role {
	if cred.Subject.Role != "" {
		return cred.Subject.Role
	}
	return RoleFromToken(cred.Token)
}

func (r *TokenResolver) load(role Role) *Credential {
	cred, err := r.store.Load(role)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("Unreadable stored credential, treating as absent", "role", role, "error", err.Error())
		}
		return nil
	}
	if cred == nil || cred.Token == "" {
		return nil
	}
	return cred
}
