package usecase

import (
	"context"
	"sync"

	"github.com/oziev02/CommentSync/internal/domain"
	"github.com/oziev02/CommentSync/internal/eventbus"
)

// ReplyTarget комментарий, на который пользователь собирается ответить
type ReplyTarget struct {
	PostID  int64
	Comment *domain.Comment
}

// ReplyComment тема выбора комментария для ответа
var ReplyComment = eventbus.NewTopic[ReplyTarget]("REPLY_COMMENT")

// StartReply публикует выбор комментария для ответа
func (v *View) StartReply(commentID int64) error {
	c := v.Snapshot().Find(commentID)
	if c == nil {
		return domain.ErrCommentNotFound
	}
	eventbus.Publish(v.sync.bus, ReplyComment, ReplyTarget{PostID: v.postID, Comment: c})
	return nil
}

// Composer поле ввода комментария представления.
// Цель ответа приходит через тему ReplyComment.
type Composer struct {
	view *View
	sub  *eventbus.Subscription

	mu     sync.Mutex
	target *domain.Comment
}

// NewComposer создает поле ввода для представления
func NewComposer(v *View) *Composer {
	c := &Composer{view: v}
	c.sub = eventbus.Subscribe(v.sync.bus, ReplyComment, func(t ReplyTarget) {
		if t.PostID != v.postID {
			return
		}
		c.mu.Lock()
		c.target = t.Comment
		c.mu.Unlock()
	})
	return c
}

// Target возвращает комментарий, на который будет отправлен ответ, или nil
func (c *Composer) Target() *domain.Comment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// CancelReply сбрасывает цель ответа
func (c *Composer) CancelReply() {
	c.mu.Lock()
	c.target = nil
	c.mu.Unlock()
}

// Submit отправляет текст как корневой комментарий или как ответ на выбранный.
// После успешной отправки цель ответа сбрасывается.
func (c *Composer) Submit(ctx context.Context, content string) error {
	var parentID *int64
	if t := c.Target(); t != nil {
		id := t.ID
		parentID = &id
	}
	if err := c.view.SubmitComment(ctx, content, parentID); err != nil {
		return err
	}
	c.CancelReply()
	return nil
}

// Close отписывает поле ввода от шины
func (c *Composer) Close() {
	c.sub.Unsubscribe()
}
