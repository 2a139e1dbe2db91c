// Package search находит посты по строке запроса: сначала в индексе заголовков,
// затем, если нужно, в индексе содержимого.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/ButyrinIA/blogpress/internal/models"
	"github.com/ButyrinIA/blogpress/internal/storage"
)

var (
	// ErrInvalidLimit - limit не положительный
	ErrInvalidLimit = errors.New("limit must be positive")
	// ErrIndexUnavailable оборачивает ошибки индекса
	ErrIndexUnavailable = errors.New("search index unavailable")
)

// Index - полнотекстовый индекс по одному полю постов.
// Совпадения идут в порядке релевантности индекса, не больше limit.
type Index interface {
	Search(ctx context.Context, term string, limit int) ([]models.Post, error)
}

// Indexer получает новые посты
type Indexer interface {
	IndexPost(post models.Post) error
}

// Resolver объединяет совпадения по заголовку и содержимому в один список
type Resolver struct {
	title   Index
	content Index
}

func New(title, content Index) *Resolver {
	return &Resolver{title: title, content: content}
}

// Search возвращает не больше limit разных постов. Совпадения по заголовку
// всегда идут раньше совпадений по содержимому, индекс содержимого
// опрашивается, только пока результат короче limit.
func (r *Resolver) Search(ctx context.Context, term string, limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	// limit приходит снаружи, память под него заранее не выделяется
	results := []models.SearchResult{}
	seen := map[string]struct{}{}

	collect := func(name string, idx Index) error {
		posts, err := idx.Search(ctx, term, limit)
		if err != nil {
			return fmt.Errorf("%w: %s index: %w", ErrIndexUnavailable, name, err)
		}
		for _, p := range posts {
			if len(results) >= limit {
				break
			}
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			results = append(results, p.Project())
		}
		return nil
	}

	if err := collect("title", r.title); err != nil {
		return nil, err
	}
	if len(results) < limit {
		if err := collect("content", r.content); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// StorageIndex отдает одно поле хранилища как Index
type StorageIndex struct {
	Storage storage.Storage
	Field   storage.Field
}

func (s StorageIndex) Search(ctx context.Context, term string, limit int) ([]models.Post, error) {
	return s.Storage.SearchPosts(ctx, s.Field, term, limit)
}

// FromStorage строит Resolver над индексами заголовков и содержимого хранилища
func FromStorage(store storage.Storage) *Resolver {
	return New(
		StorageIndex{Storage: store, Field: storage.FieldTitle},
		StorageIndex{Storage: store, Field: storage.FieldContent},
	)
}
