package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/waitlist/internal/db"
	"github.com/lalithlochan/waitlist/internal/telemetry"
)

const (
	postsPerPage     = 10
	snippetMaxLength = 250
	snippetMinLength = 10
)

var (
	htmlTagPattern  = regexp.MustCompile(`<[^>]+>`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
	slugUnsafeChars = regexp.MustCompile(`[^a-z0-9]+`)
)

// PostSummary is a post as shown in listings.
type PostSummary struct {
	Slug    string    `json:"slug"`
	Title   string    `json:"title"`
	Snippet string    `json:"snippet"`
	Date    time.Time `json:"date"`
}

// PostDetail is a full post with its SEO fields.
type PostDetail struct {
	Slug           string    `json:"slug"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Date           time.Time `json:"date"`
	SEOKeywords    *string   `json:"seoKeywords"`
	SEODescription *string   `json:"seoDescription"`
}

// PostContent is the content-only view of a post.
type PostContent struct {
	Slug    string    `json:"slug"`
	Title   string    `json:"title"`
	Content string    `json:"content"`
	Date    time.Time `json:"date"`
}

// PostRequest is the body for creating or updating a post. HTMLContent is
// markdown; it is rendered to HTML before storage.
type PostRequest struct {
	Title          string `json:"title" validate:"required"`
	HTMLContent    string `json:"htmlContent" validate:"required"`
	Date           string `json:"date" validate:"required"`
	SEOKeywords    string `json:"seoKeywords"`
	SEODescription string `json:"seoDescription"`
}

// snippet reduces rendered HTML to a plain-text teaser. Text longer than
// snippetMaxLength is cut at the last word boundary; near-empty text
// yields "".
func snippet(html string) string {
	text := htmlTagPattern.ReplaceAllString(html, " ")
	text = strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))

	runes := []rune(text)
	if len(runes) > snippetMaxLength {
		truncated := string(runes[:snippetMaxLength])
		if i := strings.LastIndex(truncated, " "); i > 0 {
			truncated = truncated[:i]
		}
		return truncated + "..."
	}
	if len(runes) > snippetMinLength {
		return text
	}
	return ""
}

// slugify derives a URL slug from a post title.
func slugify(title string) string {
	slug := slugUnsafeChars.ReplaceAllString(strings.ToLower(title), "-")
	return strings.Trim(slug, "-")
}

func parsePostDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q is not a valid date", s)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func summarize(posts []*db.Post) []PostSummary {
	out := make([]PostSummary, 0, len(posts))
	for _, p := range posts {
		out = append(out, PostSummary{
			Slug:    p.Slug,
			Title:   p.Title,
			Snippet: snippet(p.Content),
			Date:    p.PublishedAt,
		})
	}
	return out
}

// ListPosts handles GET /api/posts?page=1
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	page := 1
	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 1 {
			page = p
		}
	}

	total, err := h.posts.CountPosts(ctx)
	if err != nil {
		h.logger.Error("failed to count posts", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to fetch posts", "")
		return
	}

	posts, err := h.posts.ListPosts(ctx, postsPerPage, (page-1)*postsPerPage)
	if err != nil {
		h.logger.Error("failed to list posts", zap.Error(err), zap.Int("page", page))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to fetch posts", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"posts":       summarize(posts),
		"totalPages":  (total + postsPerPage - 1) / postsPerPage,
		"currentPage": page,
	})
}

// ListAdminPosts handles GET /api/admin/posts
func (h *Handler) ListAdminPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.posts.ListPosts(r.Context(), 0, 0)
	if err != nil {
		h.logger.Error("failed to list admin posts", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to fetch admin posts", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"posts": summarize(posts),
	})
}

func (h *Handler) lookupPost(w http.ResponseWriter, r *http.Request) (*db.Post, bool) {
	slug := chi.URLParam(r, "slug")
	if slug == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing slug parameter", "")
		return nil, false
	}

	post, err := h.posts.GetPostBySlug(r.Context(), slug)
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Post not found", "")
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to get post", zap.Error(err), zap.String("slug", slug))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to fetch post", "")
		return nil, false
	}
	return post, true
}

// GetPost handles GET /api/posts/{slug}
func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	post, ok := h.lookupPost(w, r)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, PostDetail{
		Slug:           post.Slug,
		Title:          post.Title,
		Content:        post.Content,
		Date:           post.PublishedAt,
		SEOKeywords:    post.Keywords,
		SEODescription: post.Description,
	})
}

// GetPostContent handles GET /api/post-content/{slug}
func (h *Handler) GetPostContent(w http.ResponseWriter, r *http.Request) {
	post, ok := h.lookupPost(w, r)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, PostContent{
		Slug:    post.Slug,
		Title:   post.Title,
		Content: post.Content,
		Date:    post.PublishedAt,
	})
}

// decodePost reads and validates a post body, rendering its markdown.
func (h *Handler) decodePost(w http.ResponseWriter, r *http.Request) (*db.Post, bool) {
	var req PostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return nil, false
	}

	req.Title = strings.TrimSpace(req.Title)
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Title, content, and date are required.", "")
		return nil, false
	}

	publishedAt, err := parsePostDate(strings.TrimSpace(req.Date))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid date", err.Error())
		return nil, false
	}

	var buf bytes.Buffer
	if err := h.markdown.Convert([]byte(req.HTMLContent), &buf); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid content", err.Error())
		return nil, false
	}

	return &db.Post{
		Title:       req.Title,
		Content:     buf.String(),
		PublishedAt: publishedAt,
		Keywords:    optional(req.SEOKeywords),
		Description: optional(req.SEODescription),
	}, true
}

// CreatePost handles POST /api/create-post
func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	post, ok := h.decodePost(w, r)
	if !ok {
		return
	}

	post.Slug = slugify(post.Title)
	if post.Slug == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid title", "title must contain letters or digits")
		return
	}

	err := h.posts.CreatePost(r.Context(), post)
	if errors.Is(err, db.ErrDuplicateSlug) {
		h.writeError(w, http.StatusConflict, "duplicate_slug", "A post with this title already exists", post.Slug)
		return
	}
	if err != nil {
		h.report(r, "Error in /api/create-post", err)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create post.", "")
		return
	}

	// Local development traffic is not reported.
	host := r.Host
	if hostname, _, err := net.SplitHostPort(r.Host); err == nil {
		host = hostname
	}
	if !isLocalHost(host) {
		h.reporter.Report(r.Context(), telemetry.Event{
			Type:    "blog_post_created",
			Domain:  host,
			Message: "post created: " + post.Slug,
		})
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "Post created successfully.",
		"slug":    post.Slug,
	})
}

func isLocalHost(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "0.0.0.0", "::1":
		return true
	}
	return false
}

// UpdatePost handles PUT /api/posts/{slug}
func (h *Handler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if slug == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing slug parameter", "")
		return
	}

	post, ok := h.decodePost(w, r)
	if !ok {
		return
	}
	post.Slug = slug

	err := h.posts.UpdatePost(r.Context(), post)
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Post not found", "")
		return
	}
	if err != nil {
		h.logger.Error("failed to update post", zap.Error(err), zap.String("slug", slug))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update post.", "")
		return
	}

	h.logger.Info("post updated", zap.String("slug", slug))

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Post updated successfully.",
	})
}

// DeletePost handles DELETE /api/admin/posts/{slug}
func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if slug == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing slug parameter", "")
		return
	}

	err := h.posts.DeletePost(r.Context(), slug)
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Post not found", "")
		return
	}
	if err != nil {
		h.logger.Error("failed to delete post", zap.Error(err), zap.String("slug", slug))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to delete post.", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Post deleted successfully.",
	})
}
