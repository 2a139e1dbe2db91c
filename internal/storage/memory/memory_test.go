package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ButyrinIA/blogpress/internal/models"
	"github.com/ButyrinIA/blogpress/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPost(title, content string, createdAt time.Time) *models.Post {
	return &models.Post{
		ID:        uuid.New().String(),
		Title:     title,
		Content:   content,
		AuthorID:  "user1",
		CreatedAt: createdAt,
	}
}

func TestMemoryStorage(t *testing.T) {
	t.Run("CreatePost and GetPost", func(t *testing.T) {
		store := New()
		ctx := context.Background()

		post := newPost("Тестовый пост", "Содержимое", time.Now())

		err := store.CreatePost(ctx, post)
		assert.NoError(t, err, "Ошибка при создании поста")

		retrieved, err := store.GetPost(ctx, post.ID)
		assert.NoError(t, err, "Ошибка при получении поста")
		assert.Equal(t, post, retrieved, "Полученный пост не совпадает с созданным")

		err = store.CreatePost(ctx, post)
		assert.Error(t, err, "повторный ID должен быть отклонён")
	})

	t.Run("GetPost Not Found", func(t *testing.T) {
		store := New()
		ctx := context.Background()

		_, err := store.GetPost(ctx, "non-existent-id")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.Equal(t, "post not found", err.Error(), "Неверное сообщение об ошибке")
	})

	t.Run("ListPosts", func(t *testing.T) {
		store := New()
		ctx := context.Background()

		post1 := newPost("Пост 1", "Содержимое 1", time.Now().Add(-2*time.Hour))
		post2 := newPost("Пост 2", "Содержимое 2", time.Now().Add(-1*time.Hour))

		assert.NoError(t, store.CreatePost(ctx, post1))
		assert.NoError(t, store.CreatePost(ctx, post2))

		result, err := store.ListPosts(ctx, 1, nil)
		require.NoError(t, err, "Ошибка при получении списка постов")
		require.Len(t, result.Posts, 1, "Ожидался один пост")
		assert.Equal(t, post2.ID, result.Posts[0].ID, "Ожидался более новый пост")
		assert.Equal(t, 2, result.TotalCount, "Неверное общее количество постов")
		require.NotNil(t, result.NextCursor, "Ожидался ненулевой курсор")

		result, err = store.ListPosts(ctx, 1, result.NextCursor)
		require.NoError(t, err, "Ошибка при получении постов с курсором")
		require.Len(t, result.Posts, 1, "Ожидался один пост")
		assert.Equal(t, post1.ID, result.Posts[0].ID, "Ожидался более старый пост")
		assert.Nil(t, result.NextCursor, "последняя страница без курсора")
	})

	t.Run("ListPosts bad cursor", func(t *testing.T) {
		store := New()
		bad := "yesterday"
		_, err := store.ListPosts(context.Background(), 10, &bad)
		assert.Error(t, err)
	})

	t.Run("SearchPosts", func(t *testing.T) {
		store := New()
		ctx := context.Background()
		now := time.Now()

		a := newPost("Next steps with Go", "plain text", now.Add(-3*time.Hour))
		b := newPost("Next next next", "the next chapter", now.Add(-2*time.Hour))
		c := newPost("Unrelated", "read the next chapter", now.Add(-1*time.Hour))
		for _, p := range []*models.Post{a, b, c} {
			require.NoError(t, store.CreatePost(ctx, p))
		}

		titles, err := store.SearchPosts(ctx, storage.FieldTitle, "next", 10)
		require.NoError(t, err)
		require.Len(t, titles, 2)
		assert.Equal(t, b.ID, titles[0].ID, "больше совпадений, выше в выдаче")
		assert.Equal(t, a.ID, titles[1].ID)

		contents, err := store.SearchPosts(ctx, storage.FieldContent, "next chap", 10)
		require.NoError(t, err)
		require.Len(t, contents, 2)
		assert.Equal(t, c.ID, contents[0].ID, "при равных очках новее выше")
		assert.Equal(t, b.ID, contents[1].ID)

		limited, err := store.SearchPosts(ctx, storage.FieldTitle, "next", 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		none, err := store.SearchPosts(ctx, storage.FieldTitle, "rust", 10)
		require.NoError(t, err)
		assert.Empty(t, none)

		_, err = store.SearchPosts(ctx, storage.Field("author"), "next", 10)
		assert.Error(t, err)
	})

	t.Run("CreateComment and GetComments", func(t *testing.T) {
		store := New()
		ctx := context.Background()

		post := newPost("Тестовый пост", "Содержимое", time.Now())
		assert.NoError(t, store.CreatePost(ctx, post))

		comment := &models.Comment{
			ID:         uuid.New().String(),
			PostID:     post.ID,
			AuthorID:   "user1",
			AuthorName: "User One",
			Content:    "Тестовый комментарий",
			CreatedAt:  time.Now(),
		}
		err := store.CreateComment(ctx, comment)
		assert.NoError(t, err, "Ошибка при создании комментария")

		comments, err := store.GetComments(ctx, post.ID, nil, 10, nil)
		require.NoError(t, err, "Ошибка при получении комментариев")
		require.Len(t, comments.Comments, 1, "Ожидался один комментарий")
		assert.Equal(t, comment.ID, comments.Comments[0].ID, "Полученный комментарий не совпадает")

		counts, err := store.CountComments(ctx, []string{post.ID, "missing"})
		require.NoError(t, err)
		assert.Equal(t, map[string]int{post.ID: 1, "missing": 0}, counts)
	})

	t.Run("GetComments with ParentID", func(t *testing.T) {
		store := New()
		ctx := context.Background()

		post := newPost("Тестовый пост", "Содержимое", time.Now())
		assert.NoError(t, store.CreatePost(ctx, post))

		parentComment := &models.Comment{
			ID:        uuid.New().String(),
			PostID:    post.ID,
			AuthorID:  "user1",
			Content:   "Родительский комментарий",
			CreatedAt: time.Now(),
		}
		reply := &models.Comment{
			ID:        uuid.New().String(),
			PostID:    post.ID,
			ParentID:  &parentComment.ID,
			AuthorID:  "user2",
			Content:   "Ответ",
			CreatedAt: time.Now().Add(1 * time.Hour),
		}

		assert.NoError(t, store.CreateComment(ctx, parentComment))
		assert.NoError(t, store.CreateComment(ctx, reply))

		comments, err := store.GetComments(ctx, post.ID, &parentComment.ID, 10, nil)
		require.NoError(t, err, "Ошибка при получении ответов")
		require.Len(t, comments.Comments, 1, "Ожидался один ответ")
		assert.Equal(t, reply.ID, comments.Comments[0].ID, "Полученный ответ не совпадает")

		top, err := store.GetComments(ctx, post.ID, nil, 10, nil)
		require.NoError(t, err)
		require.Len(t, top.Comments, 1)
		assert.Equal(t, parentComment.ID, top.Comments[0].ID)
	})

	t.Run("GetComments pagination", func(t *testing.T) {
		store := New()
		ctx := context.Background()
		base := time.Now()

		var ids []string
		for i := 0; i < 3; i++ {
			c := &models.Comment{
				ID:        uuid.New().String(),
				PostID:    "post1",
				AuthorID:  "user1",
				Content:   "комментарий",
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}
			ids = append(ids, c.ID)
			require.NoError(t, store.CreateComment(ctx, c))
		}

		page, err := store.GetComments(ctx, "post1", nil, 2, nil)
		require.NoError(t, err)
		require.Len(t, page.Comments, 2)
		assert.Equal(t, ids[2], page.Comments[0].ID)
		assert.Equal(t, 3, page.TotalCount)
		require.NotNil(t, page.NextCursor)

		page, err = store.GetComments(ctx, "post1", nil, 2, page.NextCursor)
		require.NoError(t, err)
		require.Len(t, page.Comments, 1)
		assert.Equal(t, ids[0], page.Comments[0].ID)
		assert.Nil(t, page.NextCursor)
	})

	t.Run("Close", func(t *testing.T) {
		store := New()
		ctx := context.Background()

		post := newPost("Тестовый пост", "Содержимое", time.Now())
		assert.NoError(t, store.CreatePost(ctx, post))

		err := store.Close()
		assert.NoError(t, err, "Ошибка при закрытии хранилища")

		_, err = store.GetPost(ctx, post.ID)
		assert.Error(t, err, "Ожидалась ошибка после очистки хранилища")
	})
}
