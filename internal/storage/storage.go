package storage

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/ButyrinIA/blogpress/internal/models"
)

// ErrNotFound - пост не найден
var ErrNotFound = errors.New("post not found")

// Field выбирает полнотекстовый индекс для поиска
type Field string

const (
	FieldTitle   Field = "title"
	FieldContent Field = "content"
)

type Storage interface {
	CreatePost(ctx context.Context, post *models.Post) error
	GetPost(ctx context.Context, id string) (*models.Post, error)
	ListPosts(ctx context.Context, limit int, cursor *string) (*models.PaginatedPosts, error)
	SearchPosts(ctx context.Context, field Field, term string, limit int) ([]models.Post, error)
	CreateComment(ctx context.Context, comment *models.Comment) error
	GetComments(ctx context.Context, postID string, parentID *string, limit int, cursor *string) (*models.PaginatedComments, error)
	CountComments(ctx context.Context, postIDs []string) (map[string]int, error)
	Close() error
}

// Terms разбивает строку поиска на токены из букв и цифр в нижнем регистре.
// Последний токен все хранилища сравнивают как префикс.
func Terms(term string) []string {
	return strings.FieldsFunc(strings.ToLower(term), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// FormatCursor кодирует время создания в курсор пагинации
func FormatCursor(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseCursor декодирует курсор FormatCursor
func ParseCursor(cursor *string) (*time.Time, error) {
	if cursor == nil || *cursor == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, *cursor)
	if err != nil {
		return nil, errors.New("invalid cursor")
	}
	return &t, nil
}
