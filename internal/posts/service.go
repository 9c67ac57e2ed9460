package posts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/secureblog/secureblog/internal/audit"
	"github.com/secureblog/secureblog/internal/sanitize"
	"github.com/secureblog/secureblog/internal/shared"
)

// Service orchestrates post creation and listing.
type Service struct {
	repo     Repository
	cache    *Cache
	recorder *audit.Recorder
	logger   *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, cache *Cache, recorder *audit.Recorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, recorder: recorder, logger: logger}
}

// CreatePost sanitizes title/content and inserts a post owned by the
// session's user. The owning user id is taken exclusively from the session;
// nothing the client submits can change it. Requests without an
// authenticated session get shared.ErrUnauthenticated, which the boundary
// maps to a login redirect.
func (s *Service) CreatePost(ctx context.Context, sess *shared.Session, title, content, ip string) (*Post, error) {
	if !sess.IsAuthenticated() {
		return nil, shared.ErrUnauthenticated
	}

	form := sanitize.NewForm()
	titleField := form.Field("title", title).Trim().Required().Escape()
	contentField := form.Field("content", content).Trim().Required().Escape()
	userID := sess.UserID()
	if errs := form.Errors(); errs != nil {
		s.recorder.Record(ctx, &userID, "Failed to create post titled: "+titleField.Value(), ip)
		return nil, errs
	}

	post, err := s.repo.CreatePost(ctx, userID, titleField.Value(), contentField.Value())
	if err != nil {
		s.recorder.Record(ctx, &userID, "Failed to create post titled: "+titleField.Value(), ip)
		return nil, fmt.Errorf("posts: create: %w", err)
	}

	s.recorder.Record(ctx, &userID, "created post titled: "+post.Title, ip)
	if err := s.cache.Invalidate(ctx); err != nil && s.logger != nil {
		s.logger.Warn("invalidate post cache", slog.Any("error", err))
	}
	return post, nil
}

// ListPosts returns all posts newest-first, served from cache when warm.
func (s *Service) ListPosts(ctx context.Context) ([]Post, error) {
	if cached, ok := s.cache.GetList(ctx); ok {
		return cached, nil
	}
	list, err := s.repo.ListPosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("posts: list: %w", err)
	}
	if err := s.cache.SetList(ctx, list); err != nil && s.logger != nil {
		s.logger.Warn("store post cache", slog.Any("error", err))
	}
	return list, nil
}
