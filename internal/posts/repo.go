package posts

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence operations for posts.
type Repository interface {
	CreatePost(ctx context.Context, userID int64, title, content string) (*Post, error)
	ListPosts(ctx context.Context) ([]Post, error)
}

// PGRepository implements Repository using PostgreSQL. Every statement uses
// parameter binding; no field is ever interpolated into query text.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreatePost inserts a post owned by userID.
func (r *PGRepository) CreatePost(ctx context.Context, userID int64, title, content string) (*Post, error) {
	now := time.Now().UTC()
	post := &Post{UserID: userID, Title: title, Content: content, CreatedAt: now}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO posts (user_id, title, content, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING post_id`,
		userID, title, content, now,
	).Scan(&post.ID)
	if err != nil {
		return nil, err
	}
	return post, nil
}

// ListPosts returns all posts newest-first joined with author usernames.
func (r *PGRepository) ListPosts(ctx context.Context) ([]Post, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.post_id, p.user_id, p.title, p.content, u.username, p.created_at
		 FROM posts p
		 JOIN users u ON p.user_id = u.user_id
		 ORDER BY p.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Post
	for rows.Next() {
		var post Post
		if err := rows.Scan(&post.ID, &post.UserID, &post.Title, &post.Content, &post.Author, &post.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, post)
	}
	return result, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
