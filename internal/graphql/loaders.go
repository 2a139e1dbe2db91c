package graphql

import (
	"context"
	"net/http"

	"github.com/graph-gophers/dataloader/v7"

	"github.com/ButyrinIA/blogpress/internal/storage"
)

type loadersKey struct{}

// Loaders собирают в пачки запросы по постам при отрисовке списка
type Loaders struct {
	CommentCount *dataloader.Loader[string, int]
}

// NewLoaders не запоминает результаты: websocket соединение живет с одним контекстом,
// а счетчики за это время меняются.
func NewLoaders(store storage.Storage) *Loaders {
	return &Loaders{
		CommentCount: dataloader.NewBatchedLoader(
			commentCountBatch(store),
			dataloader.WithCache[string, int](&dataloader.NoCache[string, int]{}),
		),
	}
}

func commentCountBatch(store storage.Storage) dataloader.BatchFunc[string, int] {
	return func(ctx context.Context, postIDs []string) []*dataloader.Result[int] {
		results := make([]*dataloader.Result[int], len(postIDs))
		counts, err := store.CountComments(ctx, postIDs)
		for i, id := range postIDs {
			if err != nil {
				results[i] = &dataloader.Result[int]{Error: err}
				continue
			}
			results[i] = &dataloader.Result[int]{Data: counts[id]}
		}
		return results
	}
}

// WithLoaders кладет загрузчики в контекст
func WithLoaders(ctx context.Context, l *Loaders) context.Context {
	return context.WithValue(ctx, loadersKey{}, l)
}

func loadersFrom(ctx context.Context) (*Loaders, bool) {
	l, ok := ctx.Value(loadersKey{}).(*Loaders)
	return l, ok
}

// LoaderMiddleware дает каждому запросу свой набор загрузчиков
func LoaderMiddleware(store storage.Storage) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithLoaders(r.Context(), NewLoaders(store))))
		})
	}
}
