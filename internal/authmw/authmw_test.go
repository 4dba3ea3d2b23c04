package authmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

func TestBasicAuth_ValidCredentials(t *testing.T) {
	t.Parallel()

	h := BasicAuth("admin", "secret")(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/webhook", http.NoBody)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestBasicAuth_MissingHeader(t *testing.T) {
	t.Parallel()

	h := BasicAuth("admin", "secret")(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/webhook", http.NoBody)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestBasicAuth_WrongPrefix(t *testing.T) {
	t.Parallel()

	h := BasicAuth("admin", "secret")(okHandler)

	tests := []struct {
		name  string
		value string
	}{
		{"bearer auth", "Bearer sometoken"},
		{"lowercase basic", "basic YWRtaW46c2VjcmV0"},
		{"no prefix", "YWRtaW46c2VjcmV0"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/webhook", http.NoBody)
			if tt.value != "" {
				req.Header.Set("Authorization", tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestBasicAuth_InvalidCredentials(t *testing.T) {
	t.Parallel()

	h := BasicAuth("admin", "correct-pass")(okHandler)

	tests := []struct {
		name, user, pass string
	}{
		{"wrong username", "nobody", "correct-pass"},
		{"wrong password", "admin", "wrong-pass"},
		{"partial password match", "admin", "correct"},
		{"both empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/webhook", http.NoBody)
			req.SetBasicAuth(tt.user, tt.pass)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestBasicAuth_PassesRequestThrough(t *testing.T) {
	t.Parallel()

	var called bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	})

	h := BasicAuth("admin", "secret")(inner)

	req := httptest.NewRequest(http.MethodPost, "/webhook", http.NoBody)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !called {
		t.Error("inner handler was not called")
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
}
