package laiqclient

import (
	"testing"
	"time"
)

func storeWith(t *testing.T, creds ...*Credential) *MemoryCredentialStore {
	t.Helper()
	store := NewMemoryCredentialStore()
	for _, cred := range creds {
		if err := store.Store(cred); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func TestIsAdminEndpoint(t *testing.T) {
	r := NewTokenResolver(NewMemoryCredentialStore(), nil)

	cases := []struct {
		endpoint string
		want     bool
	}{
		{"/admin/products", true},
		{"/admin", true},
		{"/api/admin/orders", true},
		{"/administrator-notes", false},
		{"/products", false},
		{"/orders/admin-notes", false},
	}
	for _, tc := range cases {
		if got := r.IsAdminEndpoint(tc.endpoint); got != tc.want {
			t.Errorf("IsAdminEndpoint(%q) = %v, want %v", tc.endpoint, got, tc.want)
		}
	}
}

func TestResolveAdminEndpointPrefersAdminSlot(t *testing.T) {
	store := storeWith(t,
		&Credential{Role: RoleCustomer, Token: "c", Subject: Subject{Role: RoleCustomer}},
		&Credential{Role: RoleAdmin, Token: "a", Subject: Subject{Role: RoleAdmin}},
	)
	r := NewTokenResolver(store, nil)

	cred := r.Resolve("/admin/products", "")
	if cred == nil || cred.Token != "a" {
		t.Fatalf("Expected admin credential, got %+v", cred)
	}
}

func TestResolveAdminEndpointRejectsNonAdminSubject(t *testing.T) {
	// Admin slot holds a token whose subject is not actually an admin.
	store := storeWith(t,
		&Credential{Role: RoleAdmin, Token: "a", Subject: Subject{Role: RoleCustomer}},
	)
	r := NewTokenResolver(store, nil)

	if cred := r.Resolve("/admin/products", ""); cred != nil {
		t.Errorf("Non-admin subject must not authenticate admin endpoints, got %+v", cred)
	}
}

func TestResolveAdminEndpointCrossRoleFallback(t *testing.T) {
	// An admin who logged in through the customer flow: the customer slot
	// carries a token whose role claim is admin.
	token := makeToken(t, "admin", time.Hour)
	store := storeWith(t, &Credential{Role: RoleCustomer, Token: token})
	r := NewTokenResolver(store, nil)

	cred := r.Resolve("/admin/orders", "")
	if cred == nil || cred.Token != token {
		t.Fatalf("Expected customer-slot admin credential, got %+v", cred)
	}

	r.crossRoleFallback = false
	if cred := r.Resolve("/admin/orders", ""); cred != nil {
		t.Errorf("Fallback disabled, expected nil, got %+v", cred)
	}
}

func TestResolveAdminEndpointIgnoresPlainCustomer(t *testing.T) {
	store := storeWith(t,
		&Credential{Role: RoleCustomer, Token: "c", Subject: Subject{Role: RoleCustomer}},
	)
	r := NewTokenResolver(store, nil)

	if cred := r.Resolve("/admin/orders", ""); cred != nil {
		t.Errorf("Customer credential must not reach admin endpoints, got %+v", cred)
	}
}

func TestResolveContextPreference(t *testing.T) {
	store := storeWith(t,
		&Credential{Role: RoleCustomer, Token: "c", Subject: Subject{Role: RoleCustomer}},
		&Credential{Role: RoleAdmin, Token: "a", Subject: Subject{Role: RoleAdmin}},
	)
	r := NewTokenResolver(store, nil)

	// Shared endpoint on an admin page prefers the admin slot.
	if cred := r.Resolve("/products", "/admin/dashboard.html"); cred == nil || cred.Token != "a" {
		t.Errorf("Admin page context should pick admin slot, got %+v", cred)
	}
	if cred := r.Resolve("/products", "admin-orders.html"); cred == nil || cred.Token != "a" {
		t.Errorf("admin- page pattern should pick admin slot, got %+v", cred)
	}

	// Storefront pages prefer the customer slot.
	if cred := r.Resolve("/products", "/shop.html"); cred == nil || cred.Token != "c" {
		t.Errorf("Shop page context should pick customer slot, got %+v", cred)
	}
	if cred := r.Resolve("/products", ""); cred == nil || cred.Token != "c" {
		t.Errorf("Empty context should pick customer slot, got %+v", cred)
	}
}

func TestResolveFallbackToOtherSlot(t *testing.T) {
	admin := &Credential{Role: RoleAdmin, Token: "a", Subject: Subject{Role: RoleAdmin}}
	r := NewTokenResolver(storeWith(t, admin), nil)

	// No customer credential: a storefront request still authenticates
	// with the admin slot rather than going anonymous.
	if cred := r.Resolve("/products", "/shop.html"); cred == nil || cred.Token != "a" {
		t.Errorf("Expected admin fallback, got %+v", cred)
	}

	// Nothing stored at all resolves to nil.
	empty := NewTokenResolver(NewMemoryCredentialStore(), nil)
	if cred := empty.Resolve("/products", ""); cred != nil {
		t.Errorf("Empty store should resolve nil, got %+v", cred)
	}
}
