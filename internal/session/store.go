package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"bookmarket/internal/gateway"
	"bookmarket/pkg/domain"
)

// Store owns the Session entity: it is the single writer of the token and
// user pair, everything else only reads through it.
type Store struct {
	gw      *gateway.Client
	persist Persister
	logger  *slog.Logger

	mu        sync.Mutex
	current   *domain.Session
	listeners []func(*domain.Session)

	refreshGroup singleflight.Group
}

// NewStore constructs the session store. persist may be nil, in which case
// sessions live only for the process lifetime.
func NewStore(gw *gateway.Client, persist Persister, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{gw: gw, persist: persist, logger: logger}
}

// OnChange registers a listener invoked with the new session after every
// set, and with nil after every clear. Cart teardown and realtime
// connect/suspend recovery hang off this.
func (s *Store) OnChange(fn func(*domain.Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Current returns a copy of the active session, if any.
func (s *Store) Current() (domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return domain.Session{}, false
	}
	return *s.current, true
}

// Token returns the active bearer token, or empty when signed out.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.Token
}

// Restore loads a persisted session on startup. Missing or malformed data
// starts the store unauthenticated; it never fails the process.
func (s *Store) Restore() {
	if s.persist == nil {
		return
	}
	sess, ok, err := s.persist.Load()
	if err != nil {
		s.logger.Debug("session restore skipped", "err", err)
		return
	}
	if !ok {
		return
	}
	s.set(sess)
	s.logger.Info("session restored", "user", sess.User.ID)
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

// Login exchanges credentials for a session. Existing state is untouched on
// failure.
func (s *Store) Login(ctx context.Context, email, password string) (domain.Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.Session{}, fmt.Errorf("%w: email and password required", ErrValidation)
	}
	payload := map[string]string{"email": email, "password": password}
	var resp authResponse
	if err := s.gw.Do(ctx, http.MethodPost, "/login", payload, "", &resp); err != nil {
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusBadRequest) {
			return domain.Session{}, fmt.Errorf("%w: %s", ErrInvalidCredentials, apiErr.Message)
		}
		return domain.Session{}, err
	}
	sess := domain.Session{Token: resp.Token, User: resp.User}
	if !sess.Valid() {
		return domain.Session{}, fmt.Errorf("login response missing token or user")
	}
	s.set(sess)
	return sess, nil
}

// Register creates an account and signs in. A conflict on an existing email
// is surfaced as ErrEmailTaken so the UI can message it specifically.
func (s *Store) Register(ctx context.Context, email, password, displayName string) (domain.Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" || strings.TrimSpace(displayName) == "" {
		return domain.Session{}, fmt.Errorf("%w: email, password and display name required", ErrValidation)
	}
	payload := map[string]string{
		"email":       email,
		"password":    password,
		"displayName": strings.TrimSpace(displayName),
	}
	var resp authResponse
	if err := s.gw.Do(ctx, http.MethodPost, "/register", payload, "", &resp); err != nil {
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			return domain.Session{}, fmt.Errorf("%w: %s", ErrEmailTaken, apiErr.Message)
		}
		return domain.Session{}, err
	}
	sess := domain.Session{Token: resp.Token, User: resp.User}
	if !sess.Valid() {
		return domain.Session{}, fmt.Errorf("register response missing token or user")
	}
	s.set(sess)
	return sess, nil
}

// Logout notifies the backend best-effort and always clears local state.
// A failed server notification is logged, never surfaced.
func (s *Store) Logout(ctx context.Context) {
	token := s.Token()
	if token != "" {
		if err := s.gw.Do(ctx, http.MethodPost, "/logout", nil, token, nil); err != nil {
			s.logger.Warn("logout notification failed", "err", err)
		}
	}
	s.clear()
}

// ProfileUpdate carries the editable identity fields. Zero-value fields are
// omitted from the request.
type ProfileUpdate struct {
	DisplayName string `json:"displayName,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Address     string `json:"address,omitempty"`
}

// UpdateProfile round-trips edits through the backend and adopts the
// server's authoritative copy, never the locally-echoed values.
func (s *Store) UpdateProfile(ctx context.Context, update ProfileUpdate) (domain.User, error) {
	sess, ok := s.Current()
	if !ok {
		return domain.User{}, ErrNotAuthenticated
	}
	var user domain.User
	if err := s.gw.Do(ctx, http.MethodPut, "/profile", update, sess.Token, &user); err != nil {
		return domain.User{}, err
	}
	s.set(domain.Session{Token: sess.Token, User: user})
	return user, nil
}

// UploadAvatar replaces the avatar image via multipart upload and adopts
// the server's updated profile.
func (s *Store) UploadAvatar(ctx context.Context, filename string, r io.Reader) (domain.User, error) {
	sess, ok := s.Current()
	if !ok {
		return domain.User{}, ErrNotAuthenticated
	}
	form, err := gateway.NewFileForm("avatar", filename, r)
	if err != nil {
		return domain.User{}, err
	}
	var user domain.User
	if err := s.gw.DoMultipart(ctx, "/upload/avatar", form, sess.Token, &user); err != nil {
		return domain.User{}, err
	}
	s.set(domain.Session{Token: sess.Token, User: user})
	return user, nil
}

// Refresh renews the bearer token. Concurrent callers share a single
// in-flight renewal.
func (s *Store) Refresh(ctx context.Context) error {
	sess, ok := s.Current()
	if !ok {
		return ErrNotAuthenticated
	}
	_, err, _ := s.refreshGroup.Do("refresh", func() (any, error) {
		var resp authResponse
		if err := s.gw.Do(ctx, http.MethodPost, "/refresh", nil, sess.Token, &resp); err != nil {
			return nil, err
		}
		next := domain.Session{Token: resp.Token, User: resp.User}
		if resp.User.ID == "" {
			next.User = sess.User
		}
		if next.Token == "" {
			return nil, fmt.Errorf("refresh response missing token")
		}
		s.set(next)
		return nil, nil
	})
	return err
}

// TokenFresh reports whether the current token is still within its JWT
// expiry. Opaque tokens without parseable claims are assumed fresh; the
// backend remains the authority either way.
func (s *Store) TokenFresh() bool {
	token := s.Token()
	if token == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return time.Now().Before(exp.Time)
}

func (s *Store) set(sess domain.Session) {
	s.mu.Lock()
	s.current = &sess
	listeners := append([]func(*domain.Session){}, s.listeners...)
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.Save(sess); err != nil {
			s.logger.Warn("session persist failed", "err", err)
		}
	}
	copied := sess
	for _, fn := range listeners {
		fn(&copied)
	}
}

func (s *Store) clear() {
	s.mu.Lock()
	s.current = nil
	listeners := append([]func(*domain.Session){}, s.listeners...)
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.Clear(); err != nil {
			s.logger.Warn("session clear failed", "err", err)
		}
	}
	for _, fn := range listeners {
		fn(nil)
	}
}
