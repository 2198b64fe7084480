package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bullishbrief/briefauth/jwt"
)

func newManager(t *testing.T) *jwt.Manager {
	t.Helper()
	m, err := jwt.NewManager(jwt.Config{
		AccessTTL:     time.Minute,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "briefauth-idp",
		Audience:      "authenticated",
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestRequireSessionInjectsUser(t *testing.T) {
	m := newManager(t)
	token, _, err := m.CreateAccess("user-1", "reader@example.com", "reader_one")
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}

	var seen bool
	h := RequireSession(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFromContext(r.Context())
		if !ok {
			t.Fatal("user missing from context")
		}
		if u.ID != "user-1" || u.Email != "reader@example.com" || u.Username != "reader_one" {
			t.Fatalf("unexpected user: %+v", u)
		}
		seen = true
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusNoContent || !seen {
		t.Fatalf("expected handler to run, got status %d", w.Code)
	}
}

func TestRequireSessionRejects(t *testing.T) {
	m := newManager(t)
	other, err := jwt.NewManager(jwt.Config{
		AccessTTL:     time.Minute,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("ffffffffffffffffffffffffffffffff"),
		Issuer:        "briefauth-idp",
		Audience:      "authenticated",
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	forged, _, err := other.CreateAccess("user-1", "reader@example.com", "")
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}

	cases := []struct {
		name   string
		header string
	}{
		{name: "missing header"},
		{name: "not bearer", header: "Basic abc"},
		{name: "empty bearer", header: "Bearer "},
		{name: "garbage", header: "Bearer not-a-jwt"},
		{name: "wrong key", header: "Bearer " + forged},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := RequireSession(m)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("handler must not run")
			}))
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
		})
	}
}

func TestRequireSessionNilVerifier(t *testing.T) {
	h := RequireSession(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
