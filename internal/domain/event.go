package domain

import (
	"context"
	"encoding/json"
)

// Имена событий канала push-уведомлений
const (
	EventJoinPostComments  = "JOIN_POST_COMMENTS"
	EventLeavePostComments = "LEAVE_POST_COMMENTS"
	EventNewComment        = "NEW_COMMENT"
	EventDeleteComment     = "DELETE_COMMENT"
	EventDeletedComment    = "DELETED_COMMENT"
)

// SocketMeta содержит статус, который сервер прикладывает к каждому событию
type SocketMeta struct {
	Success bool    `json:"success"`
	Error   *string `json:"error"`
}

// ErrorMessage возвращает текст ошибки сервера или пустую строку
func (m SocketMeta) ErrorMessage() string {
	if m.Error == nil {
		return ""
	}
	return *m.Error
}

// NewCommentEvent входящее событие NEW_COMMENT
type NewCommentEvent struct {
	Data *Comment   `json:"data"`
	Meta SocketMeta `json:"meta"`
}

// DeletedCommentData полезная нагрузка DELETED_COMMENT
type DeletedCommentData struct {
	CommentID int64 `json:"comment_id"`
}

// DeletedCommentEvent входящее событие DELETED_COMMENT
type DeletedCommentEvent struct {
	Data *DeletedCommentData `json:"data"`
	Meta SocketMeta          `json:"meta"`
}

// JoinPostRequest исходящее событие JOIN_POST_COMMENTS / LEAVE_POST_COMMENTS
type JoinPostRequest struct {
	PostID int64 `json:"post_id"`
}

// NewCommentRequest исходящее событие NEW_COMMENT
type NewCommentRequest struct {
	Content  string `json:"content"`
	PostID   int64  `json:"post_id"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

// DeleteCommentRequest исходящее событие DELETE_COMMENT
type DeleteCommentRequest struct {
	CommentID int64 `json:"comment_id"`
}

// EventHandler получает сырую полезную нагрузку входящего события
type EventHandler func(payload json.RawMessage)

// PushChannel определяет интерфейс двунаправленного канала событий
type PushChannel interface {
	// Emit отправляет событие на сервер
	Emit(ctx context.Context, event string, payload any) error
	// On регистрирует обработчик входящего события и возвращает функцию отписки
	On(event string, handler EventHandler) (off func())
}
