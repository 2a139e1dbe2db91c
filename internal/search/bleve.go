package search

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/whitespace"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	log "github.com/go-pkgz/lgr"
	"github.com/microcosm-cc/bluemonday"

	"github.com/ButyrinIA/blogpress/internal/models"
	"github.com/ButyrinIA/blogpress/internal/storage"
)

const (
	termsAnalyzer = "terms"

	fieldTitle        = "title"
	fieldContent      = "content"
	fieldCreated      = "created"
	fieldTitleTerms   = "title_terms"
	fieldContentTerms = "content_terms"

	rebuildPage = 100
)

// document - то, что хранится в bleve. Поля для показа хранятся как есть,
// поля *_terms несут текст, уже разбитый storage.Terms.
type document struct {
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Created      time.Time `json:"created"`
	TitleTerms   string    `json:"title_terms"`
	ContentTerms string    `json:"content_terms"`
}

// Bleve - поисковый движок, хранящий посты в одном индексе bleve
type Bleve struct {
	index  bleve.Index
	policy *bluemonday.Policy
}

// NewBleve открывает индекс по пути path или создает его.
// С пустым path индекс живет в памяти.
func NewBleve(path string) (*Bleve, error) {
	m, err := indexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to build index mapping: %w", err)
	}

	var idx bleve.Index
	switch {
	case path == "":
		idx, err = bleve.NewMemOnly(m)
	default:
		idx, err = bleve.Open(path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			log.Printf("[INFO] создание поискового индекса в %s", path)
			idx, err = bleve.New(path, m)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open search index: %w", err)
	}
	return &Bleve{index: idx, policy: bluemonday.StrictPolicy()}, nil
}

func indexMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(termsAnalyzer, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": whitespace.Name,
	})
	if err != nil {
		return nil, err
	}

	stored := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Index = false
		fm.Store = true
		fm.IncludeInAll = false
		return fm
	}
	terms := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = termsAnalyzer
		fm.Store = false
		fm.IncludeInAll = false
		return fm
	}
	created := bleve.NewDateTimeFieldMapping()
	created.Store = true
	created.IncludeInAll = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(fieldTitle, stored())
	doc.AddFieldMappingsAt(fieldContent, stored())
	doc.AddFieldMappingsAt(fieldCreated, created)
	doc.AddFieldMappingsAt(fieldTitleTerms, terms())
	doc.AddFieldMappingsAt(fieldContentTerms, terms())

	im.DefaultMapping = doc
	im.DefaultAnalyzer = termsAnalyzer
	return im, nil
}

// Title возвращает индекс заголовков
func (b *Bleve) Title() Index { return fieldIndex{engine: b, field: fieldTitleTerms} }

// Content возвращает индекс содержимого
func (b *Bleve) Content() Index { return fieldIndex{engine: b, field: fieldContentTerms} }

// Resolver строит Resolver над индексами заголовков и содержимого движка
func (b *Bleve) Resolver() *Resolver { return New(b.Title(), b.Content()) }

// IndexPost добавляет или заменяет пост в индексе
func (b *Bleve) IndexPost(post models.Post) error {
	if err := b.index.Index(post.ID, b.document(post)); err != nil {
		return fmt.Errorf("failed to index post %s: %w", post.ID, err)
	}
	return nil
}

func (b *Bleve) document(post models.Post) document {
	return document{
		Title:        post.Title,
		Content:      post.Content,
		Created:      post.CreatedAt.UTC(),
		TitleTerms:   b.terms(post.Title),
		ContentTerms: b.terms(post.Content),
	}
}

func (b *Bleve) terms(text string) string {
	plain := html.UnescapeString(b.policy.Sanitize(text))
	return strings.Join(storage.Terms(plain), " ")
}

// Rebuild индексирует все посты хранилища постранично и удаляет
// документы постов, которых в хранилище уже нет. Индекс с диска
// может пережить хранилище, из которого был построен.
func (b *Bleve) Rebuild(ctx context.Context, store storage.Storage) (int, error) {
	var (
		cursor *string
		total  int
	)
	known := map[string]struct{}{}
	for {
		page, err := store.ListPosts(ctx, rebuildPage, cursor)
		if err != nil {
			return total, fmt.Errorf("failed to list posts: %w", err)
		}
		batch := b.index.NewBatch()
		for _, p := range page.Posts {
			if err := batch.Index(p.ID, b.document(p)); err != nil {
				return total, fmt.Errorf("failed to index post %s: %w", p.ID, err)
			}
			known[p.ID] = struct{}{}
		}
		if err := b.index.Batch(batch); err != nil {
			return total, fmt.Errorf("failed to apply index batch: %w", err)
		}
		total += len(page.Posts)
		if page.NextCursor == nil {
			break
		}
		cursor = page.NextCursor
	}

	stale, err := b.staleIDs(ctx, known)
	if err != nil {
		return total, err
	}
	if len(stale) > 0 {
		batch := b.index.NewBatch()
		for _, id := range stale {
			batch.Delete(id)
		}
		if err := b.index.Batch(batch); err != nil {
			return total, fmt.Errorf("failed to delete stale documents: %w", err)
		}
		log.Printf("[INFO] из поискового индекса удалено устаревших постов: %d", len(stale))
	}
	return total, nil
}

// staleIDs возвращает id документов индекса, которых нет в known
func (b *Bleve) staleIDs(ctx context.Context, known map[string]struct{}) ([]string, error) {
	n, err := b.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	if n <= uint64(len(known)) {
		return nil, nil
	}

	var stale []string
	for from := 0; uint64(from) < n; from += rebuildPage {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), rebuildPage, from, false)
		req.SortBy([]string{"_id"})
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to list indexed documents: %w", err)
		}
		for _, hit := range res.Hits {
			if _, ok := known[hit.ID]; !ok {
				stale = append(stale, hit.ID)
			}
		}
		if len(res.Hits) < rebuildPage {
			break
		}
	}
	return stale, nil
}

// DocCount возвращает число постов в индексе
func (b *Bleve) DocCount() (uint64, error) {
	return b.index.DocCount()
}

func (b *Bleve) Close() error {
	return b.index.Close()
}

type fieldIndex struct {
	engine *Bleve
	field  string
}

func (f fieldIndex) Search(ctx context.Context, term string, limit int) ([]models.Post, error) {
	terms := storage.Terms(term)
	if len(terms) == 0 || limit <= 0 {
		return []models.Post{}, nil
	}

	// bleve выделяет память под коллектор по размеру запроса
	n, err := f.engine.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	if n == 0 {
		return []models.Post{}, nil
	}
	if uint64(limit) > n {
		limit = int(n)
	}

	queries := make([]query.Query, 0, len(terms))
	for _, t := range terms[:len(terms)-1] {
		q := bleve.NewTermQuery(t)
		q.SetField(f.field)
		queries = append(queries, q)
	}
	last := bleve.NewPrefixQuery(terms[len(terms)-1])
	last.SetField(f.field)
	queries = append(queries, last)

	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(queries...), limit, 0, false)
	req.Fields = []string{fieldTitle, fieldContent, fieldCreated}
	req.SortBy([]string{"-_score", "-" + fieldCreated, "_id"})

	res, err := f.engine.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", f.field, err)
	}

	posts := make([]models.Post, 0, len(res.Hits))
	for _, hit := range res.Hits {
		p := models.Post{ID: hit.ID}
		if v, ok := hit.Fields[fieldTitle].(string); ok {
			p.Title = v
		}
		if v, ok := hit.Fields[fieldContent].(string); ok {
			p.Content = v
		}
		if v, ok := hit.Fields[fieldCreated].(string); ok {
			if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
				p.CreatedAt = ts
			}
		}
		posts = append(posts, p)
	}
	return posts, nil
}
