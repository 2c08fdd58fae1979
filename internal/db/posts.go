package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const postColumns = `id, slug, title, content, keywords, description, published_at, created_at, updated_at`

func scanPost(row pgx.Row) (*Post, error) {
	var p Post
	err := row.Scan(
		&p.ID,
		&p.Slug,
		&p.Title,
		&p.Content,
		&p.Keywords,
		&p.Description,
		&p.PublishedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CountPosts returns the number of posts.
func (r *Repository) CountPosts(ctx context.Context) (int, error) {
	var count int
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM posts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return count, nil
}

// ListPosts returns posts newest first. A limit <= 0 returns every post.
func (r *Repository) ListPosts(ctx context.Context, limit, offset int) ([]*Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts ORDER BY published_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return posts, nil
}

// GetPostBySlug returns the post with slug or ErrNotFound.
func (r *Repository) GetPostBySlug(ctx context.Context, slug string) (*Post, error) {
	row := r.db.Pool().QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE slug = $1`, slug)
	p, err := scanPost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query post: %w", err)
	}
	return p, nil
}

// CreatePost inserts p, filling its ID and timestamps.
func (r *Repository) CreatePost(ctx context.Context, p *Post) error {
	query := `
		INSERT INTO posts (id, slug, title, content, keywords, description, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	err := r.db.Pool().QueryRow(ctx, query,
		p.ID,
		p.Slug,
		p.Title,
		p.Content,
		p.Keywords,
		p.Description,
		p.PublishedAt,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err, constraintPostSlug) {
		return ErrDuplicateSlug
	}
	if err != nil {
		r.logger.Error("failed to create post",
			zap.Error(err),
			zap.String("slug", p.Slug),
		)
		return fmt.Errorf("insert post: %w", err)
	}

	r.logger.Info("post created",
		zap.String("post_id", p.ID.String()),
		zap.String("slug", p.Slug),
	)

	return nil
}

// UpdatePost rewrites the editable fields of the post identified by p.Slug.
func (r *Repository) UpdatePost(ctx context.Context, p *Post) error {
	query := `
		UPDATE posts
		SET title = $1, content = $2, keywords = $3, description = $4,
		    published_at = $5, updated_at = NOW()
		WHERE slug = $6
	`

	result, err := r.db.Pool().Exec(ctx, query,
		p.Title,
		p.Content,
		p.Keywords,
		p.Description,
		p.PublishedAt,
		p.Slug,
	)
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// DeletePost removes the post with slug.
func (r *Repository) DeletePost(ctx context.Context, slug string) error {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM posts WHERE slug = $1`, slug)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	r.logger.Info("post deleted", zap.String("slug", slug))

	return nil
}
