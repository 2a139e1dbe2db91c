package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ButyrinIA/blogpress/internal/models"
	"github.com/ButyrinIA/blogpress/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		image_id TEXT,
		author_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		title_terms TEXT NOT NULL,
		content_terms TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		post_id TEXT NOT NULL REFERENCES posts(id),
		parent_id TEXT,
		author_id TEXT NOT NULL,
		author_name TEXT NOT NULL,
		author_image TEXT,
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_posts_title_fts ON posts USING GIN (to_tsvector('simple', title_terms));
	CREATE INDEX IF NOT EXISTS idx_posts_content_fts ON posts USING GIN (to_tsvector('simple', content_terms));
	CREATE INDEX IF NOT EXISTS idx_comments_post_id ON comments(post_id);
	CREATE INDEX IF NOT EXISTS idx_comments_parent_id ON comments(parent_id);
`

type PostgresStorage struct {
	pool *pgxpool.Pool
}

var _ storage.Storage = (*PostgresStorage)(nil)

func New(ctx context.Context, dsn string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

func (s *PostgresStorage) CreatePost(ctx context.Context, post *models.Post) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO posts (id, title, content, image_id, author_id, created_at, title_terms, content_terms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		post.ID, post.Title, post.Content, post.ImageID, post.AuthorID, post.CreatedAt,
		terms(post.Title), terms(post.Content))
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetPost(ctx context.Context, id string) (*models.Post, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, title, content, image_id, author_id, created_at
		FROM posts
		WHERE id=$1`, id)

	p, err := scanPost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return p, nil
}

func (s *PostgresStorage) ListPosts(ctx context.Context, limit int, cursor *string) (*models.PaginatedPosts, error) {
	after, err := storage.ParseCursor(cursor)
	if err != nil {
		return nil, err
	}

	// Подсчет общего количества
	var totalCount int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM posts`).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, title, content, image_id, author_id, created_at
		FROM posts
		WHERE ($1::TIMESTAMPTZ IS NULL OR created_at < $1)
		ORDER BY created_at DESC, id
		LIMIT $2`, after, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	posts, err := collectPosts(rows)
	if err != nil {
		return nil, err
	}

	var nextCursor *string
	if len(posts) > limit {
		cursorVal := storage.FormatCursor(posts[limit-1].CreatedAt)
		nextCursor = &cursorVal
		posts = posts[:limit]
	}

	return &models.PaginatedPosts{
		Posts:      posts,
		TotalCount: totalCount,
		NextCursor: nextCursor,
	}, nil
}

// SearchPosts выполняет полнотекстовый запрос с префиксом по GIN индексу токенов заголовка или содержимого
func (s *PostgresStorage) SearchPosts(ctx context.Context, field storage.Field, term string, limit int) ([]models.Post, error) {
	var column string
	switch field {
	case storage.FieldTitle:
		column = "title_terms"
	case storage.FieldContent:
		column = "content_terms"
	default:
		return nil, fmt.Errorf("unknown search field %q", field)
	}

	query := tsQuery(term)
	if query == "" || limit <= 0 {
		return []models.Post{}, nil
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, title, content, image_id, author_id, created_at
		FROM posts
		WHERE to_tsvector('simple', %[1]s) @@ to_tsquery('simple', $1)
		ORDER BY ts_rank(to_tsvector('simple', %[1]s), to_tsquery('simple', $1)) DESC, created_at DESC
		LIMIT $2`, column), query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search posts by %s: %w", field, err)
	}
	return collectPosts(rows)
}

func (s *PostgresStorage) CreateComment(ctx context.Context, comment *models.Comment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO comments (id, post_id, parent_id, author_id, author_name, author_image, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		comment.ID, comment.PostID, comment.ParentID, comment.AuthorID, comment.AuthorName,
		comment.AuthorImage, comment.Content, comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetComments(ctx context.Context, postID string, parentID *string, limit int, cursor *string) (*models.PaginatedComments, error) {
	after, err := storage.ParseCursor(cursor)
	if err != nil {
		return nil, err
	}

	var totalCount int
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM comments
		WHERE post_id=$1 AND parent_id IS NOT DISTINCT FROM $2`, postID, parentID).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count comments: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, post_id, parent_id, author_id, author_name, author_image, content, created_at
		FROM comments
		WHERE post_id=$1 AND parent_id IS NOT DISTINCT FROM $2
		AND ($3::TIMESTAMPTZ IS NULL OR created_at < $3)
		ORDER BY created_at DESC
		LIMIT $4`, postID, parentID, after, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to get comments: %w", err)
	}
	defer rows.Close()

	comments := []models.Comment{}
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.ParentID, &c.AuthorID, &c.AuthorName, &c.AuthorImage, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read comments: %w", err)
	}

	var nextCursor *string
	if len(comments) > limit {
		cursorVal := storage.FormatCursor(comments[limit-1].CreatedAt)
		nextCursor = &cursorVal
		comments = comments[:limit]
	}

	return &models.PaginatedComments{
		Comments:   comments,
		TotalCount: totalCount,
		NextCursor: nextCursor,
	}, nil
}

func (s *PostgresStorage) CountComments(ctx context.Context, postIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(postIDs))
	for _, id := range postIDs {
		counts[id] = 0
	}
	if len(postIDs) == 0 {
		return counts, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT post_id, COUNT(*)
		FROM comments
		WHERE post_id = ANY($1)
		GROUP BY post_id`, postIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to count comments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan comment count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

func scanPost(row pgx.Row) (*models.Post, error) {
	var p models.Post
	if err := row.Scan(&p.ID, &p.Title, &p.Content, &p.ImageID, &p.AuthorID, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPosts(rows pgx.Rows) ([]models.Post, error) {
	defer rows.Close()

	posts := []models.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read posts: %w", err)
	}
	return posts, nil
}

// terms хранит текст уже разбитым storage.Terms, чтобы парсер postgres видел
// те же токены, что и остальные хранилища. Иначе 'Next.js' стал бы одной лексемой next.js
func terms(text string) string {
	return strings.Join(storage.Terms(text), " ")
}

// tsQuery строит выражение to_tsquery: нужны все токены, последний сравнивается как префикс.
// Токены состоят только из букв и цифр.
func tsQuery(term string) string {
	terms := storage.Terms(term)
	if len(terms) == 0 {
		return ""
	}
	terms[len(terms)-1] += ":*"
	return strings.Join(terms, " & ")
}
