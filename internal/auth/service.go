package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/secureblog/secureblog/internal/audit"
	"github.com/secureblog/secureblog/internal/sanitize"
	"github.com/secureblog/secureblog/internal/shared"
)

// Service wraps registration, login and logout business rules. Every
// security-relevant outcome, success or failure, produces one audit entry.
type Service struct {
	repo     Repository
	hasher   *Hasher
	sessions *shared.SessionManager
	recorder *audit.Recorder
	logger   *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, hasher *Hasher, sessions *shared.SessionManager, recorder *audit.Recorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, hasher: hasher, sessions: sessions, recorder: recorder, logger: logger}
}

// RegisterInput carries the raw registration form fields.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Register validates the input, hashes the password and creates the account.
// Uniqueness violations surface as shared.ErrConflict with a generic message
// so callers cannot probe which usernames or emails exist.
func (s *Service) Register(ctx context.Context, in RegisterInput, ip string) (*User, error) {
	form := sanitize.NewForm()
	username := form.Field("username", in.Username).Trim().MinLength(3).Username().Escape()
	email := form.Field("email", in.Email).Trim().IsEmail()
	form.Field("password", in.Password).MinLength(5)

	if errs := form.Errors(); errs != nil {
		s.recorder.Record(ctx, nil, "Failed registration attempt for "+username.Value(), ip)
		return nil, errs
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		s.recorder.Record(ctx, nil, "Failed registration attempt for "+username.Value(), ip)
		return nil, err
	}

	user, err := s.repo.CreateUser(ctx, username.Value(), email.Value(), passwordHash, RoleUser)
	if err != nil {
		s.recorder.Record(ctx, nil, "Failed registration attempt for "+username.Value(), ip)
		if errors.Is(err, shared.ErrConflict) {
			return nil, shared.ErrConflict
		}
		return nil, fmt.Errorf("auth: create user: %w", err)
	}

	s.recorder.Record(ctx, &user.ID, "New user registered: "+user.Username, ip)
	return user, nil
}

// Login authenticates username/password credentials. Unknown usernames and
// wrong passwords return the identical shared.ErrInvalidCredentials so the
// caller cannot tell whether the account exists.
func (s *Service) Login(ctx context.Context, username, password, ip string) (*User, error) {
	form := sanitize.NewForm()
	lookup := form.Field("username", username).Trim().Username().Escape()
	if errs := form.Errors(); errs != nil {
		s.recorder.Record(ctx, nil, "Failed login attempt for "+username, ip)
		return nil, shared.ErrInvalidCredentials
	}

	user, err := s.repo.FindByUsername(ctx, lookup.Value())
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.recorder.Record(ctx, nil, "Failed login attempt for "+lookup.Value(), ip)
			return nil, shared.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("auth: find user: %w", err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		// Unreadable stored hash. Surfaced internally, never to the client.
		s.logger.Error("password hash integrity fault",
			slog.Int64("user_id", user.ID),
			slog.Any("error", err))
		s.recorder.Record(ctx, &user.ID, "Failed login attempt for "+user.Username, ip)
		return nil, err
	}
	if !ok {
		s.recorder.Record(ctx, &user.ID, "Failed login attempt for "+user.Username, ip)
		return nil, shared.ErrInvalidCredentials
	}

	s.recorder.Record(ctx, &user.ID, "User logged in: "+user.Username, ip)
	return user, nil
}

// EstablishSession binds the user to the request session under a fresh,
// previously-unissued id. Call only after Login succeeds.
func (s *Service) EstablishSession(sess *shared.Session, user *User) {
	if sess == nil || user == nil {
		return
	}
	s.sessions.Renew(sess)
	sess.SetUser(user.ID, user.Username)
}

// Logout destroys the session and audits the event when one existed. The
// caller must have passed CSRF verification before reaching this point;
// plain navigations never call it.
func (s *Service) Logout(ctx context.Context, sess *shared.Session, ip string) {
	if sess == nil || !sess.IsAuthenticated() {
		return
	}
	userID := sess.UserID()
	s.recorder.Record(ctx, &userID, "User logged out: "+sess.Username(), ip)
	s.sessions.Destroy(sess)
}
