package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ButyrinIA/blogpress/internal/models"
	"github.com/ButyrinIA/blogpress/internal/storage"
)

type MemoryStorage struct {
	posts    map[string]*models.Post
	comments map[string][]*models.Comment
	mu       sync.RWMutex
}

var _ storage.Storage = (*MemoryStorage)(nil)

func New() *MemoryStorage {
	return &MemoryStorage{
		posts:    make(map[string]*models.Post),
		comments: make(map[string][]*models.Comment),
	}
}

func (s *MemoryStorage) CreatePost(ctx context.Context, post *models.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.posts[post.ID]; exists {
		return fmt.Errorf("post %s already exists", post.ID)
	}
	p := *post
	s.posts[post.ID] = &p
	return nil
}

func (s *MemoryStorage) GetPost(ctx context.Context, id string) (*models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	post, exists := s.posts[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	p := *post
	return &p, nil
}

func (s *MemoryStorage) ListPosts(ctx context.Context, limit int, cursor *string) (*models.PaginatedPosts, error) {
	after, err := storage.ParseCursor(cursor)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	posts := make([]models.Post, 0, len(s.posts))
	for _, post := range s.posts {
		posts = append(posts, *post)
	}
	sortNewestFirst(posts)

	totalCount := len(posts)

	// Применение курсора
	startIdx := 0
	if after != nil {
		startIdx = sort.Search(len(posts), func(i int) bool { return posts[i].CreatedAt.Before(*after) })
	}

	endIdx := startIdx + limit
	if endIdx > len(posts) {
		endIdx = len(posts)
	}

	var nextCursor *string
	if endIdx < len(posts) && endIdx > startIdx {
		cursorVal := storage.FormatCursor(posts[endIdx-1].CreatedAt)
		nextCursor = &cursorVal
	}

	return &models.PaginatedPosts{
		Posts:      posts[startIdx:endIdx],
		TotalCount: totalCount,
		NextCursor: nextCursor,
	}, nil
}

// SearchPosts просматривает все посты и ранжирует совпадения по числу найденных токенов
func (s *MemoryStorage) SearchPosts(ctx context.Context, field storage.Field, term string, limit int) ([]models.Post, error) {
	terms := storage.Terms(term)
	if len(terms) == 0 || limit <= 0 {
		return []models.Post{}, nil
	}

	s.mu.RLock()
	type hit struct {
		post  models.Post
		score int
	}
	var hits []hit
	for _, post := range s.posts {
		var text string
		switch field {
		case storage.FieldTitle:
			text = post.Title
		case storage.FieldContent:
			text = post.Content
		default:
			s.mu.RUnlock()
			return nil, fmt.Errorf("unknown search field %q", field)
		}
		if score := match(storage.Terms(text), terms); score > 0 {
			hits = append(hits, hit{post: *post, score: score})
		}
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		if !hits[i].post.CreatedAt.Equal(hits[j].post.CreatedAt) {
			return hits[i].post.CreatedAt.After(hits[j].post.CreatedAt)
		}
		return hits[i].post.ID < hits[j].post.ID
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	result := make([]models.Post, len(hits))
	for i, h := range hits {
		result[i] = h.post
	}
	return result, nil
}

func (s *MemoryStorage) CreateComment(ctx context.Context, comment *models.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *comment
	s.comments[comment.PostID] = append(s.comments[comment.PostID], &c)

	return nil
}

func (s *MemoryStorage) GetComments(ctx context.Context, postID string, parentID *string, limit int, cursor *string) (*models.PaginatedComments, error) {
	after, err := storage.ParseCursor(cursor)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	comments, exists := s.comments[postID]
	if !exists {
		return &models.PaginatedComments{Comments: []models.Comment{}, TotalCount: 0, NextCursor: nil}, nil
	}

	// Фильтрация по parentID
	var filtered []models.Comment
	for _, comment := range comments {
		if parentID == nil && comment.ParentID == nil {
			filtered = append(filtered, *comment)
		} else if parentID != nil && comment.ParentID != nil && *comment.ParentID == *parentID {
			filtered = append(filtered, *comment)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	totalCount := len(filtered)

	startIdx := 0
	if after != nil {
		startIdx = sort.Search(len(filtered), func(i int) bool { return filtered[i].CreatedAt.Before(*after) })
	}

	endIdx := startIdx + limit
	if endIdx > len(filtered) {
		endIdx = len(filtered)
	}

	var nextCursor *string
	if endIdx < len(filtered) && endIdx > startIdx {
		cursorVal := storage.FormatCursor(filtered[endIdx-1].CreatedAt)
		nextCursor = &cursorVal
	}

	result := make([]models.Comment, endIdx-startIdx)
	copy(result, filtered[startIdx:endIdx])

	return &models.PaginatedComments{
		Comments:   result,
		TotalCount: totalCount,
		NextCursor: nextCursor,
	}, nil
}

func (s *MemoryStorage) CountComments(ctx context.Context, postIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int, len(postIDs))
	for _, id := range postIDs {
		counts[id] = len(s.comments[id])
	}
	return counts, nil
}

// Close удаляет все данные, хранилище становится пустым
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.posts = make(map[string]*models.Post)
	s.comments = make(map[string][]*models.Comment)
	return nil
}

func sortNewestFirst(posts []models.Post) {
	sort.Slice(posts, func(i, j int) bool {
		if !posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].CreatedAt.After(posts[j].CreatedAt)
		}
		return posts[i].ID < posts[j].ID
	})
}

// match возвращает число совпавших токенов запроса или 0, если какого-то нет.
// Последний токен сравнивается как префикс.
func match(tokens, terms []string) int {
	score := 0
	for i, term := range terms {
		last := i == len(terms)-1
		hits := 0
		for _, tok := range tokens {
			if tok == term || (last && strings.HasPrefix(tok, term)) {
				hits++
			}
		}
		if hits == 0 {
			return 0
		}
		score += hits
	}
	return score
}
