package graphql

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"

	"github.com/ButyrinIA/blogpress/internal/auth"
	"github.com/ButyrinIA/blogpress/internal/cache"
	"github.com/ButyrinIA/blogpress/internal/models"
	"github.com/ButyrinIA/blogpress/internal/presence"
	"github.com/ButyrinIA/blogpress/internal/search"
	"github.com/ButyrinIA/blogpress/internal/storage"
)

const (
	postListTag    = "bloglist"
	maxPageSize    = 100
	minTitleLen    = 3
	maxTitleLen    = 200
	minContentLen  = 10
	minCommentLen  = 10
	maxCommentLen  = 2000
	commentBacklog = 16
)

// Searcher находит посты по строке поиска
type Searcher interface {
	Search(ctx context.Context, term string, limit int) ([]models.SearchResult, error)
}

// BlobStore хранит обложки постов
type BlobStore interface {
	Exists(ctx context.Context, id string) bool
	Commit(ctx context.Context, id string) error
	URL(id string) string
}

// UploadTokens выдает токены для загрузки файлов
type UploadTokens interface {
	UploadToken(user models.User) (string, error)
}

// Resolver - основная структура, реализующая ResolverRoot
type Resolver struct {
	Storage  storage.Storage
	Search   Searcher
	Indexer  search.Indexer
	Blobs    BlobStore
	Tokens   UploadTokens
	Presence *presence.Hub
	Cache    *cache.Tagged[*PaginatedPosts]
	BaseURL  string

	comments *commentHub
}

// Option настраивает Resolver
type Option func(r *Resolver)

func WithSearch(s Searcher) Option {
	return func(r *Resolver) { r.Search = s }
}

func WithIndexer(i search.Indexer) Option {
	return func(r *Resolver) { r.Indexer = i }
}

func WithBlobs(b BlobStore) Option {
	return func(r *Resolver) { r.Blobs = b }
}

func WithTokens(t UploadTokens) Option {
	return func(r *Resolver) { r.Tokens = t }
}

func WithPresence(h *presence.Hub) Option {
	return func(r *Resolver) { r.Presence = h }
}

func WithBaseURL(u string) Option {
	return func(r *Resolver) { r.BaseURL = strings.TrimSuffix(u, "/") }
}

func WithCache(c *cache.Tagged[*PaginatedPosts]) Option {
	return func(r *Resolver) { r.Cache = c }
}

// NewResolver создает новый Resolver. По умолчанию поиск идет по индексам хранилища.
func NewResolver(store storage.Storage, opts ...Option) *Resolver {
	r := &Resolver{Storage: store, comments: newCommentHub()}
	if store != nil {
		r.Search = search.FromStorage(store)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type queryResolver struct{ *Resolver }
type mutationResolver struct{ *Resolver }
type subscriptionResolver struct{ *Resolver }
type postResolver struct{ *Resolver }
type commentResolver struct{ *Resolver }

func (r *Resolver) Query() QueryResolver {
	return &queryResolver{r}
}

func (r *Resolver) Mutation() MutationResolver {
	return &mutationResolver{r}
}

func (r *Resolver) Subscription() SubscriptionResolver {
	return &subscriptionResolver{r}
}

func (r *Resolver) Post() PostResolver {
	return &postResolver{r}
}

func (r *Resolver) Comment() CommentResolver {
	return &commentResolver{r}
}

// Posts реализует запрос posts
func (r *queryResolver) Posts(ctx context.Context, limit int, cursor *string) (*PaginatedPosts, error) {
	if limit < 1 || limit > maxPageSize {
		return nil, fmt.Errorf("limit must be between 1 and %d", maxPageSize)
	}

	load := func() (*PaginatedPosts, error) {
		posts, err := r.Storage.ListPosts(ctx, limit, cursor)
		if err != nil {
			return nil, fmt.Errorf("failed to list posts: %w", err)
		}
		return toPaginatedPosts(posts), nil
	}
	if r.Cache == nil {
		return load()
	}

	key := fmt.Sprintf("%d:", limit)
	if cursor != nil {
		key += *cursor
	}
	return r.Cache.Get(key, []string{postListTag}, load)
}

// Post реализует запрос post, отсутствующий пост - null
func (r *queryResolver) Post(ctx context.Context, id string) (*Post, error) {
	post, err := r.Storage.GetPost(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return toPost(*post), nil
}

// Comments реализует запрос comments, только комментарии верхнего уровня
func (r *queryResolver) Comments(ctx context.Context, postID string, limit int, cursor *string) (*PaginatedComments, error) {
	return r.loadComments(ctx, postID, nil, limit, cursor, "failed to load comments")
}

// SearchPosts реализует запрос searchPosts
func (r *queryResolver) SearchPosts(ctx context.Context, term string, limit int) ([]*SearchResult, error) {
	// неположительный limit отклоняет сам поиск
	if limit > maxPageSize {
		return nil, fmt.Errorf("limit must not exceed %d", maxPageSize)
	}
	found, err := r.Search.Search(ctx, term, limit)
	if err != nil {
		return nil, err
	}
	result := make([]*SearchResult, len(found))
	for i, f := range found {
		result[i] = &SearchResult{ID: f.ID, Title: f.Title, Content: f.Content}
	}
	return result, nil
}

// Viewers реализует запрос viewers
func (r *queryResolver) Viewers(ctx context.Context, roomID string) ([]*Viewer, error) {
	if r.Presence == nil {
		return []*Viewer{}, nil
	}
	return toViewers(r.Presence.Viewers(roomID)), nil
}

// Me возвращает текущего пользователя или null для анонимного запроса
func (r *queryResolver) Me(ctx context.Context) (*User, error) {
	u, ok := auth.UserFromContext(ctx)
	if !ok {
		return nil, nil
	}
	return &User{ID: u.ID, Name: u.Name, Image: u.Image}, nil
}

// CreatePost реализует мутацию createPost
func (r *mutationResolver) CreatePost(ctx context.Context, title string, content string, imageID *string) (*Post, error) {
	user, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, err
	}

	title, content = strings.TrimSpace(title), strings.TrimSpace(content)
	switch n := utf8.RuneCountInString(title); {
	case n < minTitleLen:
		return nil, fmt.Errorf("title must be at least %d characters", minTitleLen)
	case n > maxTitleLen:
		return nil, errors.New("title exceeds 200 characters")
	}
	if utf8.RuneCountInString(content) < minContentLen {
		return nil, fmt.Errorf("content must be at least %d characters", minContentLen)
	}

	if imageID != nil && *imageID == "" {
		imageID = nil
	}
	if imageID != nil {
		if r.Blobs == nil || !r.Blobs.Exists(ctx, *imageID) {
			return nil, errors.New("image not found")
		}
		if err := r.Blobs.Commit(ctx, *imageID); err != nil {
			return nil, fmt.Errorf("failed to commit image: %w", err)
		}
	}

	post := &models.Post{
		ID:        uuid.New().String(),
		Title:     title,
		Content:   content,
		ImageID:   imageID,
		AuthorID:  user.ID,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.Storage.CreatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	if r.Indexer != nil {
		if err := r.Indexer.IndexPost(*post); err != nil {
			log.Printf("[WARN] не удалось проиндексировать пост %s: %v", post.ID, err)
		}
	}
	if r.Cache != nil {
		r.Cache.Invalidate(postListTag)
	}
	return toPost(*post), nil
}

// CreateComment реализует мутацию createComment
func (r *mutationResolver) CreateComment(ctx context.Context, postID string, parentID *string, content string) (*Comment, error) {
	user, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, err
	}

	content = strings.TrimSpace(content)
	switch n := utf8.RuneCountInString(content); {
	case n < minCommentLen:
		return nil, fmt.Errorf("comment must be at least %d characters", minCommentLen)
	case n > maxCommentLen:
		return nil, errors.New("comment content exceeds 2000 characters")
	}

	if _, err := r.Storage.GetPost(ctx, postID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	if parentID != nil && *parentID == "" {
		parentID = nil
	}

	comment := &models.Comment{
		ID:          uuid.New().String(),
		PostID:      postID,
		ParentID:    parentID,
		AuthorID:    user.ID,
		AuthorName:  user.Name,
		AuthorImage: user.Image,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.Storage.CreateComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}

	// Уведомление подписчиков
	result := toComment(*comment)
	r.comments.publish(result)
	return result, nil
}

// GenerateUploadURL выдает ссылку для загрузки обложки
func (r *mutationResolver) GenerateUploadURL(ctx context.Context) (string, error) {
	user, err := auth.RequireUser(ctx)
	if err != nil {
		return "", err
	}
	if r.Tokens == nil {
		return "", errors.New("uploads are disabled")
	}
	token, err := r.Tokens.UploadToken(user)
	if err != nil {
		return "", fmt.Errorf("failed to issue upload token: %w", err)
	}
	return r.BaseURL + "/upload?token=" + url.QueryEscape(token), nil
}

// CommentAdded реализует подписку commentAdded
func (r *subscriptionResolver) CommentAdded(ctx context.Context, postID string) (<-chan *Comment, error) {
	return r.comments.subscribe(ctx, postID), nil
}

// Presence подписывает на список зрителей комнаты и держит сессию пользователя, пока подписка жива
func (r *subscriptionResolver) Presence(ctx context.Context, roomID string, userID *string) (<-chan []*Viewer, error) {
	hub := r.Resolver.Presence
	if hub == nil {
		return nil, errors.New("presence is disabled")
	}

	member := presence.Member{}
	if u, ok := auth.UserFromContext(ctx); ok {
		member = presence.Member{UserID: u.ID, Name: u.Name, Image: u.Image}
	} else if userID != nil && *userID != "" {
		member = presence.Member{UserID: *userID, Name: *userID}
	} else {
		return nil, auth.ErrUnauthenticated
	}

	sessionID := hub.Join(roomID, member)
	snapshots := hub.Subscribe(ctx, roomID)
	out := make(chan []*Viewer, 1)

	go func() {
		defer close(out)
		defer func() { hub.Leave(roomID, sessionID) }()

		interval := hub.TTL() / 3
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !hub.Heartbeat(roomID, sessionID) {
					sessionID = hub.Join(roomID, member)
				}
			case snap, ok := <-snapshots:
				if !ok {
					return
				}
				select {
				case out <- toViewers(snap):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// ImageURL возвращает адрес обложки поста
func (r *postResolver) ImageURL(ctx context.Context, obj *Post) (*string, error) {
	if obj.ImageID == nil || r.Blobs == nil {
		return nil, nil
	}
	u := r.Blobs.URL(*obj.ImageID)
	return &u, nil
}

// CommentCount считает комментарии поста, пачкой через загрузчик, если он есть в контексте
func (r *postResolver) CommentCount(ctx context.Context, obj *Post) (int, error) {
	if l, ok := loadersFrom(ctx); ok {
		n, err := l.CommentCount.Load(ctx, obj.ID)()
		if err != nil {
			return 0, fmt.Errorf("failed to count comments: %w", err)
		}
		return n, nil
	}
	counts, err := r.Storage.CountComments(ctx, []string{obj.ID})
	if err != nil {
		return 0, fmt.Errorf("failed to count comments: %w", err)
	}
	return counts[obj.ID], nil
}

// Comments реализует поле comments в Post
func (r *postResolver) Comments(ctx context.Context, obj *Post, limit int, cursor *string) (*PaginatedComments, error) {
	return r.loadComments(ctx, obj.ID, nil, limit, cursor, "failed to load comments")
}

// Replies реализует поле replies в Comment
func (r *commentResolver) Replies(ctx context.Context, obj *Comment, limit int, cursor *string) (*PaginatedComments, error) {
	return r.loadComments(ctx, obj.PostID, &obj.ID, limit, cursor, "failed to load comment replies")
}

func (r *Resolver) loadComments(ctx context.Context, postID string, parentID *string, limit int, cursor *string, errMsg string) (*PaginatedComments, error) {
	if limit < 1 || limit > maxPageSize {
		return nil, fmt.Errorf("limit must be between 1 and %d", maxPageSize)
	}
	comments, err := r.Storage.GetComments(ctx, postID, parentID, limit, cursor)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMsg, err)
	}
	return toPaginatedComments(comments), nil
}

// commentHub раздает новые комментарии подписчикам поста
type commentHub struct {
	mu        sync.RWMutex
	listeners map[string]map[chan *Comment]struct{}
}

func newCommentHub() *commentHub {
	return &commentHub{listeners: make(map[string]map[chan *Comment]struct{})}
}

func (h *commentHub) subscribe(ctx context.Context, postID string) <-chan *Comment {
	ch := make(chan *Comment, commentBacklog)

	h.mu.Lock()
	if h.listeners[postID] == nil {
		h.listeners[postID] = make(map[chan *Comment]struct{})
	}
	h.listeners[postID][ch] = struct{}{}
	h.mu.Unlock()

	// Очистка канала после завершения подписки
	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.listeners[postID], ch)
		if len(h.listeners[postID]) == 0 {
			delete(h.listeners, postID)
		}
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

// publish не блокируется: медленный подписчик теряет комментарий
func (h *commentHub) publish(c *Comment) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.listeners[c.PostID] {
		select {
		case ch <- c:
		default:
			log.Printf("[WARN] подписчик поста %s не успевает, комментарий %s пропущен", c.PostID, c.ID)
		}
	}
}
