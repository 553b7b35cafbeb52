// Package notify превращает ошибки сетевых операций в уведомления для пользователя.
package notify

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oziev02/CommentSync/internal/eventbus"
)

// Level уровень уведомления
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// GenericErrorMessage показывается, когда у ошибки нет понятного пользователю текста
const GenericErrorMessage = "Something went wrong, please try again later"

// Notification кратковременное уведомление (toast)
type Notification struct {
	ID      string
	Level   Level
	PostID  int64
	Message string
	Time    time.Time
}

// Topic тема шины, в которую публикуются уведомления
var Topic = eventbus.NewTopic[Notification]("NOTIFICATION")

// UserMessager реализуется ошибками, у которых есть текст для пользователя
type UserMessager interface {
	UserMessage() string
}

// Notifier публикует уведомления в шину и дублирует их в лог
type Notifier struct {
	bus    *eventbus.Bus
	logger *slog.Logger
}

// New создает Notifier
func New(bus *eventbus.Bus, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{bus: bus, logger: logger}
}

// Error публикует уведомление об ошибке с готовым текстом
func (n *Notifier) Error(postID int64, message string) Notification {
	return n.publish(LevelError, postID, message)
}

// Info публикует информационное уведомление
func (n *Notifier) Info(postID int64, message string) Notification {
	return n.publish(LevelInfo, postID, message)
}

// FromError публикует уведомление об ошибке err.
// Если fallback не пуст, он показывается вместо текста ошибки.
func (n *Notifier) FromError(postID int64, err error, fallback string) Notification {
	n.logger.Warn("operation failed", "post_id", postID, "error", err)
	return n.publish(LevelError, postID, Message(err, fallback))
}

// Message выбирает текст уведомления для ошибки
func Message(err error, fallback string) string {
	if fallback != "" {
		return fallback
	}
	var um UserMessager
	if errors.As(err, &um) {
		if msg := um.UserMessage(); msg != "" {
			return msg
		}
		return GenericErrorMessage
	}
	if err == nil {
		return GenericErrorMessage
	}
	return err.Error()
}

func (n *Notifier) publish(level Level, postID int64, message string) Notification {
	note := Notification{
		ID:      uuid.NewString(),
		Level:   level,
		PostID:  postID,
		Message: message,
		Time:    time.Now(),
	}
	if n.bus != nil {
		eventbus.Publish(n.bus, Topic, note)
	}
	return note
}
