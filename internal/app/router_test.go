package app_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureblog/secureblog/internal/app"
	"github.com/secureblog/secureblog/internal/audit"
	"github.com/secureblog/secureblog/internal/auth"
	"github.com/secureblog/secureblog/internal/observability"
	"github.com/secureblog/secureblog/internal/posts"
	"github.com/secureblog/secureblog/internal/shared"
	"github.com/secureblog/secureblog/internal/view"
	_ "github.com/secureblog/secureblog/testing"
)

var csrfTokenPattern = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

type auditSink struct {
	actions []string
}

func (s *auditSink) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if strings.Contains(sql, "INSERT INTO audit_logs") {
		s.actions = append(s.actions, args[1].(string))
	}
	return pgconn.CommandTag{}, nil
}

type userStore struct {
	users  map[string]*auth.User
	nextID int64
}

func (r *userStore) CreateUser(ctx context.Context, username, email, passwordHash string, role auth.Role) (*auth.User, error) {
	if r.users == nil {
		r.users = make(map[string]*auth.User)
	}
	if _, exists := r.users[username]; exists {
		return nil, shared.ErrConflict
	}
	r.nextID++
	user := &auth.User{ID: r.nextID, Username: username, Email: email, PasswordHash: passwordHash, Role: role, CreatedAt: time.Now()}
	r.users[username] = user
	return user, nil
}

func (r *userStore) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	user, ok := r.users[username]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return user, nil
}

type postStore struct {
	nextID int64
	rows   []posts.Post
}

func (r *postStore) CreatePost(ctx context.Context, userID int64, title, content string) (*posts.Post, error) {
	r.nextID++
	post := posts.Post{ID: r.nextID, UserID: userID, Title: title, Content: content, Author: "alice", CreatedAt: time.Now()}
	r.rows = append(r.rows, post)
	return &post, nil
}

func (r *postStore) ListPosts(ctx context.Context) ([]posts.Post, error) {
	return r.rows, nil
}

type fixture struct {
	server *httptest.Server
	client *http.Client
	users  *userStore
	posts  *postStore
	audit  *auditSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.Default()
	cfg := &app.Config{AppEnv: "test", AppRequestTimeout: 10 * time.Second}

	sessionManager := shared.NewSessionManager("test_session", "secret", time.Hour, false)
	csrfManager := shared.NewCSRFManager("csrfsecret")

	templates, err := view.NewEngine()
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	sink := &auditSink{}
	recorder := audit.NewRecorder(sink, logger)

	users := &userStore{}
	authService := auth.NewService(users, auth.NewHasher(4), sessionManager, recorder, logger)
	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, csrfManager, observability.NewMetrics())

	postRows := &postStore{}
	postsService := posts.NewService(postRows, posts.NewCache(redisClient, time.Minute), recorder, logger)
	postsHandler := posts.NewHandler(logger, postsService, templates, csrfManager)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Templates:      templates,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		AuthHandler:    authHandler,
		PostsHandler:   postsHandler,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &fixture{server: server, client: client, users: users, posts: postRows, audit: sink}
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	res, err := f.client.Get(f.server.URL + path)
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())
	return res, string(body)
}

func (f *fixture) post(t *testing.T, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	res, err := f.client.PostForm(f.server.URL+path, form)
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())
	return res, string(body)
}

func (f *fixture) csrfToken(t *testing.T, path string) string {
	t.Helper()
	_, body := f.get(t, path)
	match := csrfTokenPattern.FindStringSubmatch(body)
	require.NotNil(t, match, "csrf token not found in %s", path)
	return match[1]
}

func (f *fixture) sessionCookie(t *testing.T) string {
	t.Helper()
	u, err := url.Parse(f.server.URL)
	require.NoError(t, err)
	for _, c := range f.client.Jar.Cookies(u) {
		if c.Name == "test_session" {
			return c.Value
		}
	}
	return ""
}

func (f *fixture) register(t *testing.T, username, email, password string) {
	t.Helper()
	token := f.csrfToken(t, "/register")
	res, _ := f.post(t, "/register", url.Values{
		"csrf_token": {token},
		"username":   {username},
		"email":      {email},
		"password":   {password},
	})
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	require.Equal(t, "/login", res.Header.Get("Location"))
}

func (f *fixture) login(t *testing.T, username, password string) {
	t.Helper()
	token := f.csrfToken(t, "/login")
	res, _ := f.post(t, "/login", url.Values{
		"csrf_token": {token},
		"username":   {username},
		"password":   {password},
	})
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	require.Equal(t, "/", res.Header.Get("Location"))
}

func TestRegisterLoginCreateFlow(t *testing.T) {
	f := newFixture(t)

	f.register(t, "alice", "alice@example.com", "password1")
	assert.Contains(t, f.audit.actions, "New user registered: alice")

	anonID := f.sessionCookie(t)
	require.NotEmpty(t, anonID)

	f.login(t, "alice", "password1")
	assert.Contains(t, f.audit.actions, "User logged in: alice")

	// Login rotates the session id: the pre-login cookie never names an
	// authenticated session.
	assert.NotEqual(t, anonID, f.sessionCookie(t))

	// Authenticated create.
	token := f.csrfToken(t, "/create")
	res, _ := f.post(t, "/create", url.Values{
		"csrf_token": {token},
		"title":      {"Hi"},
		"content":    {"World"},
	})
	require.Equal(t, http.StatusSeeOther, res.StatusCode)

	require.Len(t, f.posts.rows, 1)
	assert.Equal(t, f.users.users["alice"].ID, f.posts.rows[0].UserID)
	assert.Contains(t, f.audit.actions, "created post titled: Hi")

	// Home lists the new post.
	res, body := f.get(t, "/")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "Hi")
}

func TestLoginFailureIsUniform(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@example.com", "password1")

	token := f.csrfToken(t, "/login")
	res, wrongBody := f.post(t, "/login", url.Values{
		"csrf_token": {token},
		"username":   {"alice"},
		"password":   {"wrongpass"},
	})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Contains(t, wrongBody, "Invalid credentials")
	assert.Contains(t, f.audit.actions, "Failed login attempt for alice")

	token = f.csrfToken(t, "/login")
	res, unknownBody := f.post(t, "/login", url.Values{
		"csrf_token": {token},
		"username":   {"ghost"},
		"password":   {"password1"},
	})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Contains(t, unknownBody, "Invalid credentials")
	assert.NotContains(t, unknownBody, "ghost does not exist")
}

func TestCSRFRejectedBeforeAnyWrite(t *testing.T) {
	f := newFixture(t)

	// Prime a session so the request carries a cookie but no valid token.
	f.get(t, "/register")

	res, _ := f.post(t, "/register", url.Values{
		"username": {"alice"},
		"email":    {"alice@example.com"},
		"password": {"password1"},
	})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Empty(t, f.users.users)
	assert.Empty(t, f.audit.actions)
}

func TestCSRFTokenSingleUse(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@example.com", "password1")
	f.login(t, "alice", "password1")

	token := f.csrfToken(t, "/create")
	res, _ := f.post(t, "/create", url.Values{
		"csrf_token": {token},
		"title":      {"First"},
		"content":    {"a"},
	})
	require.Equal(t, http.StatusSeeOther, res.StatusCode)

	// Replaying the consumed token is rejected and writes nothing.
	res, _ = f.post(t, "/create", url.Values{
		"csrf_token": {token},
		"title":      {"Second"},
		"content":    {"b"},
	})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Len(t, f.posts.rows, 1)
}

func TestCreateRequiresAuthentication(t *testing.T) {
	f := newFixture(t)

	res, _ := f.get(t, "/create")
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/login", res.Header.Get("Location"))
	assert.Empty(t, f.posts.rows)
}

func TestLogoutAsymmetry(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@example.com", "password1")
	f.login(t, "alice", "password1")

	// GET /logout is navigation only: it never destroys the session.
	res, _ := f.get(t, "/logout")
	require.Equal(t, http.StatusSeeOther, res.StatusCode)

	res, body := f.get(t, "/create")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "<form")

	// POST /logout with a valid token destroys it.
	token := f.csrfToken(t, "/")
	res, _ = f.post(t, "/logout", url.Values{"csrf_token": {token}})
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Contains(t, f.audit.actions, "User logged out: alice")

	res, _ = f.get(t, "/create")
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/login", res.Header.Get("Location"))
}

func TestInjectionPayloadStoredAsData(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@example.com", "password1")
	f.login(t, "alice", "password1")

	token := f.csrfToken(t, "/create")
	res, _ := f.post(t, "/create", url.Values{
		"csrf_token": {token},
		"title":      {`x'); DROP TABLE posts;--`},
		"content":    {"body"},
	})
	require.Equal(t, http.StatusSeeOther, res.StatusCode)

	require.Len(t, f.posts.rows, 1)
	assert.Contains(t, f.posts.rows[0].Title, "DROP TABLE posts;--")

	// The listing still renders afterwards.
	res, body := f.get(t, "/")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "DROP TABLE posts;--")
	assert.NotContains(t, body, "<script>")
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	res, body := f.get(t, "/healthz")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, `"status":"ok"`)
}
