package models

import "time"

type Post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	ImageID   *string   `json:"imageId,omitempty"`
	AuthorID  string    `json:"authorId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Comment struct {
	ID          string    `json:"id"`
	PostID      string    `json:"postId"`
	ParentID    *string   `json:"parentId"`
	AuthorID    string    `json:"authorId"`
	AuthorName  string    `json:"authorName"`
	AuthorImage *string   `json:"authorImage,omitempty"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SearchResult - проекция поста для выдачи поиска
type SearchResult struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// User - аутентифицированный пользователь
type User struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Image *string `json:"image,omitempty"`
}

// Viewer - запись о присутствии в комнате
type Viewer struct {
	UserID   string    `json:"userId"`
	Name     string    `json:"name"`
	Image    *string   `json:"image,omitempty"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

type PaginatedComments struct {
	Comments   []Comment `json:"comments"`
	TotalCount int       `json:"totalCount"`
	NextCursor *string   `json:"nextCursor"`
}

type PaginatedPosts struct {
	Posts      []Post  `json:"posts"`
	TotalCount int     `json:"totalCount"`
	NextCursor *string `json:"nextCursor"`
}

// Project возвращает проекцию поста для поиска
func (p Post) Project() SearchResult {
	return SearchResult{ID: p.ID, Title: p.Title, Content: p.Content}
}
