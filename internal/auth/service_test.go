package auth_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureblog/secureblog/internal/audit"
	"github.com/secureblog/secureblog/internal/auth"
	"github.com/secureblog/secureblog/internal/shared"
	_ "github.com/secureblog/secureblog/testing"
)

type auditSink struct {
	actions []string
	err     error
}

func (s *auditSink) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if strings.Contains(sql, "INSERT INTO audit_logs") {
		s.actions = append(s.actions, args[1].(string))
	}
	return pgconn.CommandTag{}, s.err
}

type stubRepo struct {
	users     map[string]*auth.User
	createErr error
	nextID    int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{users: make(map[string]*auth.User)}
}

func (r *stubRepo) CreateUser(ctx context.Context, username, email, passwordHash string, role auth.Role) (*auth.User, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	if _, exists := r.users[username]; exists {
		return nil, shared.ErrConflict
	}
	r.nextID++
	user := &auth.User{
		ID:           r.nextID,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    time.Now(),
	}
	r.users[username] = user
	return user, nil
}

func (r *stubRepo) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	user, ok := r.users[username]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return user, nil
}

func newAnonymousSession(t *testing.T, sm *shared.SessionManager) *shared.Session {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	return sess
}

func newService(t *testing.T, repo auth.Repository, sink *auditSink) (*auth.Service, *shared.SessionManager) {
	t.Helper()
	sessions := shared.NewSessionManager("test_session", "secret", time.Hour, false)
	recorder := audit.NewRecorder(sink, slog.Default())
	service := auth.NewService(repo, auth.NewHasher(4), sessions, recorder, slog.Default())
	return service, sessions
}

func TestRegisterSuccess(t *testing.T) {
	repo := newStubRepo()
	sink := &auditSink{}
	service, _ := newService(t, repo, sink)

	user, err := service.Register(context.Background(), auth.RegisterInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "password1",
	}, "10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, auth.RoleUser, user.Role)
	assert.NotEqual(t, "password1", user.PasswordHash)

	require.Len(t, sink.actions, 1)
	assert.Equal(t, "New user registered: alice", sink.actions[0])
}

func TestRegisterValidationFailureWritesNothing(t *testing.T) {
	repo := newStubRepo()
	sink := &auditSink{}
	service, _ := newService(t, repo, sink)

	_, err := service.Register(context.Background(), auth.RegisterInput{
		Username: "al",
		Email:    "not-an-email",
		Password: "pw",
	}, "10.0.0.1")

	verrs, ok := shared.AsValidationErrors(err)
	require.True(t, ok)
	assert.Len(t, verrs, 3)
	assert.Empty(t, repo.users)
	assert.Len(t, sink.actions, 1)
}

func TestRegisterConflictIsGeneric(t *testing.T) {
	repo := newStubRepo()
	sink := &auditSink{}
	service, _ := newService(t, repo, sink)

	_, err := service.Register(context.Background(), auth.RegisterInput{Username: "alice", Email: "alice@example.com", Password: "password1"}, "10.0.0.1")
	require.NoError(t, err)

	_, err = service.Register(context.Background(), auth.RegisterInput{Username: "alice", Email: "other@example.com", Password: "password2"}, "10.0.0.1")
	assert.ErrorIs(t, err, shared.ErrConflict)
	// Message never names the colliding field.
	assert.NotContains(t, err.Error(), "username")
	assert.NotContains(t, err.Error(), "email")

	assert.Len(t, sink.actions, 2)
}

func TestRegisterAuditsEvenWhenInsertFails(t *testing.T) {
	repo := newStubRepo()
	repo.createErr = errors.New("connection reset")
	sink := &auditSink{}
	service, _ := newService(t, repo, sink)

	_, err := service.Register(context.Background(), auth.RegisterInput{Username: "alice", Email: "alice@example.com", Password: "password1"}, "10.0.0.1")
	require.Error(t, err)
	require.Len(t, sink.actions, 1)
	assert.Equal(t, "Failed registration attempt for alice", sink.actions[0])
}

func TestLoginUnknownUserAndWrongPasswordCollapse(t *testing.T) {
	repo := newStubRepo()
	sink := &auditSink{}
	service, _ := newService(t, repo, sink)

	_, err := service.Register(context.Background(), auth.RegisterInput{Username: "alice", Email: "alice@example.com", Password: "password1"}, "10.0.0.1")
	require.NoError(t, err)

	_, unknownErr := service.Login(context.Background(), "ghost", "password1", "10.0.0.1")
	_, wrongErr := service.Login(context.Background(), "alice", "wrongpass", "10.0.0.1")

	assert.ErrorIs(t, unknownErr, shared.ErrInvalidCredentials)
	assert.ErrorIs(t, wrongErr, shared.ErrInvalidCredentials)
	// Identical outcome and message for both failure causes.
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())

	require.Len(t, sink.actions, 3)
	assert.Equal(t, "Failed login attempt for ghost", sink.actions[1])
	assert.Equal(t, "Failed login attempt for alice", sink.actions[2])
}

func TestLoginSuccess(t *testing.T) {
	repo := newStubRepo()
	sink := &auditSink{}
	service, _ := newService(t, repo, sink)

	_, err := service.Register(context.Background(), auth.RegisterInput{Username: "alice", Email: "alice@example.com", Password: "password1"}, "10.0.0.1")
	require.NoError(t, err)

	user, err := service.Login(context.Background(), "alice", "password1", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	require.Len(t, sink.actions, 2)
	assert.Equal(t, "User logged in: alice", sink.actions[1])
}

func TestLoginSucceedsWhenAuditWriteFails(t *testing.T) {
	repo := newStubRepo()
	sink := &auditSink{}
	service, _ := newService(t, repo, sink)

	_, err := service.Register(context.Background(), auth.RegisterInput{Username: "alice", Email: "alice@example.com", Password: "password1"}, "10.0.0.1")
	require.NoError(t, err)

	// Audit persistence failure must never abort the primary operation.
	sink.err = errors.New("audit store down")
	user, err := service.Login(context.Background(), "alice", "password1", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
}

func TestEstablishSessionIssuesFreshIDs(t *testing.T) {
	repo := newStubRepo()
	sink := &auditSink{}
	service, sessions := newService(t, repo, sink)

	user, err := service.Register(context.Background(), auth.RegisterInput{Username: "alice", Email: "alice@example.com", Password: "password1"}, "10.0.0.1")
	require.NoError(t, err)

	seen := make(map[string]bool)
	for range 3 {
		sess := newAnonymousSession(t, sessions)
		before := sess.ID
		service.EstablishSession(sess, user)
		assert.NotEqual(t, before, sess.ID)
		assert.False(t, seen[sess.ID], "session id reissued")
		seen[sess.ID] = true
		assert.Equal(t, user.ID, sess.UserID())
	}
}

func TestLogoutAuditsOnlyExistingSessions(t *testing.T) {
	repo := newStubRepo()
	sink := &auditSink{}
	service, sessions := newService(t, repo, sink)

	// Anonymous session: nothing to destroy, nothing audited.
	service.Logout(context.Background(), newAnonymousSession(t, sessions), "10.0.0.1")
	assert.Empty(t, sink.actions)

	user, err := service.Register(context.Background(), auth.RegisterInput{Username: "alice", Email: "alice@example.com", Password: "password1"}, "10.0.0.1")
	require.NoError(t, err)

	sess := newAnonymousSession(t, sessions)
	service.EstablishSession(sess, user)
	service.Logout(context.Background(), sess, "10.0.0.1")

	require.Len(t, sink.actions, 2)
	assert.Equal(t, "User logged out: alice", sink.actions[1])
}
