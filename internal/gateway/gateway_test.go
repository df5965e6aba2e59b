package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDoAttachesBearerOnlyWhenTokenPresent(t *testing.T) {
	var gotAuth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 0, nil)
	if err := c.Do(context.Background(), http.MethodGet, "/books", nil, "", nil); err != nil {
		t.Fatalf("unauthenticated request: %v", err)
	}
	if err := c.Do(context.Background(), http.MethodGet, "/cart", nil, "tok-1", nil); err != nil {
		t.Fatalf("authenticated request: %v", err)
	}
	if gotAuth[0] != "" {
		t.Fatalf("expected no Authorization header, got %q", gotAuth[0])
	}
	if gotAuth[1] != "Bearer tok-1" {
		t.Fatalf("Authorization = %q, want %q", gotAuth[1], "Bearer tok-1")
	}
}

func TestJSONContentTypeOnEveryRequest(t *testing.T) {
	var gotContentType []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = append(gotContentType, r.Header.Get("Content-Type"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 0, nil)
	if err := c.Do(context.Background(), http.MethodGet, "/books", nil, "", nil); err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := c.Do(context.Background(), http.MethodPost, "/cart/add", map[string]string{"bookId": "b1"}, "tok", nil); err != nil {
		t.Fatalf("post: %v", err)
	}
	for i, ct := range gotContentType {
		if ct != "application/json" {
			t.Fatalf("request %d Content-Type = %q, want application/json", i, ct)
		}
	}
}

func TestErrorMessageExtractionPriority(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
		code string
	}{
		{"nested error object", `{"error":{"code":"out_of_stock","message":"not enough stock"}}`, "not enough stock", "out_of_stock"},
		{"flat error string", `{"error":"invalid quantity"}`, "invalid quantity", ""},
		{"top-level message", `{"message":"cart not found"}`, "cart not found", ""},
		{"unparseable body", `<html>boom</html>`, "request failed", ""},
		{"empty body", ``, "request failed", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := New(srv.URL, 0, nil)
			err := c.Do(context.Background(), http.MethodPost, "/cart/add", map[string]string{"bookId": "b1"}, "tok", nil)
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T: %v", err, err)
			}
			if apiErr.Status != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", apiErr.Status)
			}
			if apiErr.Message != tc.want {
				t.Fatalf("message = %q, want %q", apiErr.Message, tc.want)
			}
			if apiErr.Code != tc.code {
				t.Fatalf("code = %q, want %q", apiErr.Code, tc.code)
			}
		})
	}
}

func TestUnauthorizedMatchesErrorsIs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"token expired"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 0, nil)
	err := c.Do(context.Background(), http.MethodGet, "/cart", nil, "stale", nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized match, got %v", err)
	}
}

func TestTimeoutIsDistinguishable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 50*time.Millisecond, nil)
	err := c.Do(context.Background(), http.MethodGet, "/books", nil, "", nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestMultipartLeavesBoundaryIntact(t *testing.T) {
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"avatarUrl":"/media/a.png"}`))
	}))
	defer srv.Close()

	form, err := NewFileForm("avatar", "a.png", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("build form: %v", err)
	}
	c := New(srv.URL, 0, nil)
	var out struct {
		AvatarURL string `json:"avatarUrl"`
	}
	if err := c.DoMultipart(context.Background(), "/upload/avatar", form, "tok", &out); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(gotContentType, "multipart/form-data; boundary=") {
		t.Fatalf("content type = %q, want multipart with boundary", gotContentType)
	}
	if out.AvatarURL != "/media/a.png" {
		t.Fatalf("avatarUrl = %q", out.AvatarURL)
	}
}
