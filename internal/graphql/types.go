package graphql

import (
	"context"
	"time"

	"github.com/ButyrinIA/blogpress/internal/models"
)

type Post struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Content   string  `json:"content"`
	AuthorID  string  `json:"authorId"`
	ImageID   *string `json:"imageId,omitempty"`
	CreatedAt string  `json:"createdAt"`
}

type Comment struct {
	ID          string  `json:"id"`
	PostID      string  `json:"postId"`
	ParentID    *string `json:"parentId,omitempty"`
	AuthorID    string  `json:"authorId"`
	AuthorName  string  `json:"authorName"`
	AuthorImage *string `json:"authorImage,omitempty"`
	Content     string  `json:"content"`
	CreatedAt   string  `json:"createdAt"`
}

type PaginatedPosts struct {
	Posts      []*Post `json:"posts"`
	TotalCount int     `json:"totalCount"`
	NextCursor *string `json:"nextCursor,omitempty"`
}

type PaginatedComments struct {
	Comments   []*Comment `json:"comments"`
	TotalCount int        `json:"totalCount"`
	NextCursor *string    `json:"nextCursor,omitempty"`
}

type SearchResult struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type Viewer struct {
	UserID   string  `json:"userId"`
	Name     string  `json:"name"`
	Image    *string `json:"image,omitempty"`
	Online   bool    `json:"online"`
	LastSeen string  `json:"lastSeen"`
}

type User struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Image *string `json:"image,omitempty"`
}

type ResolverRoot interface {
	Query() QueryResolver
	Mutation() MutationResolver
	Subscription() SubscriptionResolver
	Post() PostResolver
	Comment() CommentResolver
}

type QueryResolver interface {
	Posts(ctx context.Context, limit int, cursor *string) (*PaginatedPosts, error)
	Post(ctx context.Context, id string) (*Post, error)
	Comments(ctx context.Context, postID string, limit int, cursor *string) (*PaginatedComments, error)
	SearchPosts(ctx context.Context, term string, limit int) ([]*SearchResult, error)
	Viewers(ctx context.Context, roomID string) ([]*Viewer, error)
	Me(ctx context.Context) (*User, error)
}

type MutationResolver interface {
	CreatePost(ctx context.Context, title string, content string, imageID *string) (*Post, error)
	CreateComment(ctx context.Context, postID string, parentID *string, content string) (*Comment, error)
	GenerateUploadURL(ctx context.Context) (string, error)
}

type SubscriptionResolver interface {
	CommentAdded(ctx context.Context, postID string) (<-chan *Comment, error)
	Presence(ctx context.Context, roomID string, userID *string) (<-chan []*Viewer, error)
}

type PostResolver interface {
	ImageURL(ctx context.Context, obj *Post) (*string, error)
	CommentCount(ctx context.Context, obj *Post) (int, error)
	Comments(ctx context.Context, obj *Post, limit int, cursor *string) (*PaginatedComments, error)
}

type CommentResolver interface {
	Replies(ctx context.Context, obj *Comment, limit int, cursor *string) (*PaginatedComments, error)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toPost(p models.Post) *Post {
	return &Post{
		ID:        p.ID,
		Title:     p.Title,
		Content:   p.Content,
		AuthorID:  p.AuthorID,
		ImageID:   p.ImageID,
		CreatedAt: formatTime(p.CreatedAt),
	}
}

func toComment(c models.Comment) *Comment {
	return &Comment{
		ID:          c.ID,
		PostID:      c.PostID,
		ParentID:    c.ParentID,
		AuthorID:    c.AuthorID,
		AuthorName:  c.AuthorName,
		AuthorImage: c.AuthorImage,
		Content:     c.Content,
		CreatedAt:   formatTime(c.CreatedAt),
	}
}

func toPaginatedPosts(p *models.PaginatedPosts) *PaginatedPosts {
	result := &PaginatedPosts{
		TotalCount: p.TotalCount,
		NextCursor: p.NextCursor,
		Posts:      make([]*Post, len(p.Posts)),
	}
	for i, post := range p.Posts {
		result.Posts[i] = toPost(post)
	}
	return result
}

func toPaginatedComments(p *models.PaginatedComments) *PaginatedComments {
	result := &PaginatedComments{
		TotalCount: p.TotalCount,
		NextCursor: p.NextCursor,
		Comments:   make([]*Comment, len(p.Comments)),
	}
	for i, c := range p.Comments {
		result.Comments[i] = toComment(c)
	}
	return result
}

func toViewers(vs []models.Viewer) []*Viewer {
	result := make([]*Viewer, len(vs))
	for i, v := range vs {
		result[i] = &Viewer{
			UserID:   v.UserID,
			Name:     v.Name,
			Image:    v.Image,
			Online:   v.Online,
			LastSeen: formatTime(v.LastSeen),
		}
	}
	return result
}
