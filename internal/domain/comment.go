package domain

import (
	"context"
	"time"
)

// Author содержит данные автора комментария
type Author struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Avatar   string `json:"avatar,omitempty"`
}

// Comment представляет комментарий к объявлению.
// Replies == nil означает, что ответы ещё не загружены;
// пустой, но не nil срез означает, что загружено ноль ответов.
type Comment struct {
	ID         int64      `json:"id"`
	PostID     int64      `json:"post_id"`
	ParentID   *int64     `json:"parent_id,omitempty"`
	UserID     int64      `json:"user_id"`
	Content    string     `json:"content"`
	User       *Author    `json:"user,omitempty"`
	ReplyCount int        `json:"reply_count"`
	Replies    []*Comment `json:"replies"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// IsRoot сообщает, является ли комментарий корневым
func (c *Comment) IsRoot() bool {
	return c.ParentID == nil
}

// RepliesLoaded сообщает, загружались ли ответы
func (c *Comment) RepliesLoaded() bool {
	return c.Replies != nil
}

// Clone возвращает поверхностную копию узла.
// Срез Replies разделяется с оригиналом и не должен изменяться на месте.
func (c *Comment) Clone() *Comment {
	cp := *c
	return &cp
}

// Pagination содержит метаданные пагинации
type Pagination struct {
	Total  int `json:"total"`
	Count  int `json:"count"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Meta содержит метаданные ответа со списком комментариев
type Meta struct {
	Pagination    Pagination `json:"pagination"`
	TotalComments int        `json:"total_comments"`
}

// Page представляет одну загруженную порцию комментариев
type Page struct {
	Data []*Comment `json:"data"`
	Meta Meta       `json:"meta"`
}

// CommentQuery содержит параметры запроса комментариев
type CommentQuery struct {
	PostID   int64
	ParentID *int64
	Limit    int
	Offset   int
}

// CommentSource определяет интерфейс источника комментариев
type CommentSource interface {
	FetchComments(ctx context.Context, query CommentQuery) (*Page, error)
}
