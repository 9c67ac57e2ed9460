package shared

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FlashMessage represents a one-time notification stored in session.
type FlashMessage struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SessionManager orchestrates cookie based sessions held in process memory.
// Sessions are deliberately not written to the relational store or any
// external backend; the map is the single source of truth for "is this
// request authenticated".
type SessionManager struct {
	mu         sync.Mutex
	sessions   map[string]sessionRecord
	cookieName string
	ttl        time.Duration
	secure     bool
	secret     []byte
	now        func() time.Time
}

// Session holds per-request session data.
type Session struct {
	ID        string
	values    map[string]string
	userID    int64
	username  string
	createdAt time.Time
	flashes   []FlashMessage
	manager   *SessionManager
	isNew     bool
	dirty     bool
	destroyed bool
	// priorID is set after an id rotation so Commit can drop the old entry.
	priorID string
}

type sessionRecord struct {
	payload   sessionPayload
	expiresAt time.Time
}

type sessionPayload struct {
	Values    map[string]string
	UserID    int64
	Username  string
	CreatedAt time.Time
	Flashes   []FlashMessage
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(cookieName string, secret string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		sessions:   make(map[string]sessionRecord),
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
		secret:     []byte(secret),
		now:        time.Now,
	}
}

// Load resolves the session referenced by the request cookie. An absent,
// expired or unknown id yields a fresh anonymous session; callers cannot
// distinguish the three cases.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return sm.newSession(), nil
		}
		return nil, err
	}

	sm.mu.Lock()
	record, ok := sm.sessions[cookie.Value]
	if ok && sm.now().After(record.expiresAt) {
		delete(sm.sessions, cookie.Value)
		ok = false
	}
	sm.mu.Unlock()

	if !ok {
		sess := sm.newSession()
		return sess, nil
	}

	sess := sm.newSession()
	sess.ID = cookie.Value
	sess.values = cloneValues(record.payload.Values)
	sess.userID = record.payload.UserID
	sess.username = record.payload.Username
	sess.createdAt = record.payload.CreatedAt
	sess.flashes = record.payload.Flashes
	sess.isNew = false
	sess.dirty = false
	return sess, nil
}

// Commit persists the session and writes cookie headers as needed.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *Session) error {
	if sess == nil {
		return nil
	}

	if sess.destroyed {
		sm.mu.Lock()
		delete(sm.sessions, sess.ID)
		if sess.priorID != "" {
			delete(sm.sessions, sess.priorID)
		}
		sm.mu.Unlock()
		http.SetCookie(w, &http.Cookie{
			Name:     sm.cookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   sm.secure,
			SameSite: http.SameSiteLaxMode,
		})
		return nil
	}

	if sess.ID == "" {
		sess.ID = sm.generateSessionID()
	}

	if sess.dirty || sess.isNew {
		payload := sessionPayload{
			Values:    sess.values,
			UserID:    sess.userID,
			Username:  sess.username,
			CreatedAt: sess.createdAt,
			Flashes:   sess.flashes,
		}
		sm.mu.Lock()
		if sess.priorID != "" && sess.priorID != sess.ID {
			delete(sm.sessions, sess.priorID)
		}
		sm.sessions[sess.ID] = sessionRecord{payload: payload, expiresAt: sm.now().Add(sm.ttl)}
		sm.mu.Unlock()
		sess.dirty = false
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  sm.now().Add(sm.ttl),
	})
	return nil
}

// Destroy marks the session for deletion. Destroying an already-absent
// session is not an error.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess == nil {
		return
	}
	sess.destroyed = true
}

// Renew assigns a fresh, previously-unissued id to the session. Called on
// login so an id handed out before authentication never names an
// authenticated session.
func (sm *SessionManager) Renew(sess *Session) {
	if sess == nil {
		return
	}
	if sess.priorID == "" {
		sess.priorID = sess.ID
	}
	sess.ID = sm.generateSessionID()
	sess.dirty = true
}

// PruneExpired drops sessions past their expiry. Resolve already treats
// expired entries as absent; this just bounds memory.
func (sm *SessionManager) PruneExpired() int {
	now := sm.now()
	sm.mu.Lock()
	defer sm.mu.Unlock()
	pruned := 0
	for id, record := range sm.sessions {
		if now.After(record.expiresAt) {
			delete(sm.sessions, id)
			pruned++
		}
	}
	return pruned
}

// Janitor periodically prunes expired sessions until ctx is cancelled.
func (sm *SessionManager) Janitor(ctx context.Context, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := sm.PruneExpired(); n > 0 && logger != nil {
				logger.Debug("pruned expired sessions", slog.Int("count", n))
			}
		}
	}
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

// Session helpers

// Set stores a key-value pair.
func (s *Session) Set(key, value string) {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	s.dirty = true
}

// Get retrieves a value.
func (s *Session) Get(key string) string {
	if s.values == nil {
		return ""
	}
	return s.values[key]
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	if s.values == nil {
		return
	}
	delete(s.values, key)
	s.dirty = true
}

// SetUser associates the session with an authenticated user.
func (s *Session) SetUser(id int64, username string) {
	s.userID = id
	s.username = username
	s.dirty = true
}

// UserID returns the authenticated user id, zero when anonymous.
func (s *Session) UserID() int64 {
	return s.userID
}

// Username returns the username snapshot taken at login.
func (s *Session) Username() string {
	return s.username
}

// IsAuthenticated reports whether a user is bound to this session.
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.userID != 0
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// AddFlash queues a flash message.
func (s *Session) AddFlash(msg FlashMessage) {
	s.flashes = append(s.flashes, msg)
	s.dirty = true
}

// PopFlash retrieves and clears the oldest flash message.
func (s *Session) PopFlash() *FlashMessage {
	if len(s.flashes) == 0 {
		return nil
	}
	msg := s.flashes[0]
	s.flashes = s.flashes[1:]
	s.dirty = true
	return &msg
}

func (sm *SessionManager) newSession() *Session {
	return &Session{
		ID:        sm.generateSessionID(),
		values:    make(map[string]string),
		createdAt: sm.now(),
		manager:   sm,
		isNew:     true,
		dirty:     true,
	}
}

func (sm *SessionManager) generateSessionID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return base64.RawURLEncoding.EncodeToString([]byte(time.Now().Format(time.RFC3339Nano)))
	}
	if len(sm.secret) > 0 {
		for i := range b {
			b[i] ^= sm.secret[i%len(sm.secret)]
		}
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func cloneValues(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
