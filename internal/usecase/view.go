package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/oziev02/CommentSync/internal/cache"
	"github.com/oziev02/CommentSync/internal/domain"
	"github.com/oziev02/CommentSync/internal/eventbus"
	"github.com/oziev02/CommentSync/internal/metrics"
	"github.com/oziev02/CommentSync/internal/notify"
)

// Reconnector реализуется каналами, которые умеют сообщать о переподключении
type Reconnector interface {
	OnReconnect(fn func()) (off func())
}

// CommentSync связывает кэш, источник комментариев и канал push-событий
type CommentSync struct {
	store    *cache.Store
	channel  domain.PushChannel
	live     *LiveReducer
	replies  *ReplyExpander
	notifier *notify.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	bus      *eventbus.Bus

	mu            sync.Mutex
	views         int
	offRejections []func()
}

// Options зависимости CommentSync
type Options struct {
	Store      *cache.Store
	Source     domain.CommentSource
	Channel    domain.PushChannel
	Bus        *eventbus.Bus
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	ReplyBatch int
}

// NewCommentSync создает новый экземпляр CommentSync
func NewCommentSync(opts Options) *CommentSync {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bus := opts.Bus
	if bus == nil {
		bus = eventbus.New(logger)
	}
	notifier := notify.New(bus, logger)

	return &CommentSync{
		store:    opts.Store,
		channel:  opts.Channel,
		live:     NewLiveReducer(opts.Store, notifier, logger, opts.Metrics),
		replies:  NewReplyExpander(opts.Store, opts.Source, opts.ReplyBatch, logger, opts.Metrics),
		notifier: notifier,
		logger:   logger,
		metrics:  opts.Metrics,
		bus:      bus,
	}
}

// View представление комментариев одного объявления.
// Живет от Mount до Unmount.
type View struct {
	sync   *CommentSync
	postID int64

	mounted atomic.Bool
	release func()
	offs    []func()
	once    sync.Once
}

// Mount подписывается на события объявления и загружает первую страницу.
// Запись, оставшаяся в кэше дольше StaleTime, показывается сразу и перечитывается.
// Ошибка загрузки публикуется как уведомление и не прерывает монтирование.
func (s *CommentSync) Mount(ctx context.Context, postID int64) (*View, error) {
	if postID <= 0 {
		return nil, domain.ErrInvalidPost
	}

	v := &View{sync: s, postID: postID}
	v.mounted.Store(true)
	v.release = s.store.Mount(postID)
	s.acquireRejections()

	v.offs = append(v.offs,
		s.channel.On(domain.EventNewComment, v.guard(func(p json.RawMessage) {
			s.live.HandleNewComment(postID, p)
		})),
		s.channel.On(domain.EventDeletedComment, v.guard(func(p json.RawMessage) {
			s.live.HandleDeletedComment(postID, p)
		})),
	)
	if rc, ok := s.channel.(Reconnector); ok {
		v.offs = append(v.offs, rc.OnReconnect(func() {
			if v.mounted.Load() {
				go v.rejoin()
			}
		}))
	}

	if err := s.channel.Emit(ctx, domain.EventJoinPostComments, domain.JoinPostRequest{PostID: postID}); err != nil {
		v.teardown()
		return nil, fmt.Errorf("failed to join post %d comments: %w", postID, err)
	}

	s.metrics.ViewMounted(1)
	s.logger.Info("post view mounted", "post_id", postID)

	if _, err := s.store.Load(ctx, postID); err != nil {
		s.notifier.FromError(postID, err, "")
		s.logger.Warn("initial comments fetch failed", "post_id", postID, "error", err)
	}
	return v, nil
}

// acquireRejections регистрирует обработчики отказов сервера вместе с первым представлением
func (s *CommentSync) acquireRejections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views++
	if s.views > 1 {
		return
	}
	for _, event := range []string{domain.EventNewComment, domain.EventDeletedComment} {
		s.offRejections = append(s.offRejections, s.channel.On(event, func(p json.RawMessage) {
			s.live.HandleRejection(event, p)
		}))
	}
}

// releaseRejections снимает обработчики отказов вместе с последним представлением
func (s *CommentSync) releaseRejections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views--
	if s.views > 0 {
		return
	}
	for _, off := range s.offRejections {
		off()
	}
	s.offRejections = nil
}

// PostID возвращает ID объявления
func (v *View) PostID() int64 {
	return v.postID
}

// Mounted сообщает, смонтировано ли представление
func (v *View) Mounted() bool {
	return v.mounted.Load()
}

// Unmount покидает комнату объявления и снимает обработчики.
// После возврата события объявления больше не меняют кэш. Повторный вызов безопасен.
func (v *View) Unmount() {
	v.once.Do(func() {
		v.teardown()

		ctx := context.Background()
		if err := v.sync.channel.Emit(ctx, domain.EventLeavePostComments, domain.JoinPostRequest{PostID: v.postID}); err != nil {
			v.sync.logger.Warn("failed to leave post comments", "post_id", v.postID, "error", err)
		}
		v.sync.metrics.ViewMounted(-1)
		v.sync.logger.Info("post view unmounted", "post_id", v.postID)
	})
}

func (v *View) teardown() {
	v.mounted.Store(false)
	for _, off := range v.offs {
		off()
	}
	v.offs = nil
	v.release()
	v.sync.releaseRejections()
}

func (v *View) guard(fn domain.EventHandler) domain.EventHandler {
	return func(payload json.RawMessage) {
		if !v.mounted.Load() {
			return
		}
		fn(payload)
	}
}

// rejoin повторно входит в комнату после переподключения и перечитывает первую страницу,
// так как события за время разрыва потеряны
func (v *View) rejoin() {
	ctx := context.Background()
	if err := v.sync.channel.Emit(ctx, domain.EventJoinPostComments, domain.JoinPostRequest{PostID: v.postID}); err != nil {
		v.sync.notifier.FromError(v.postID, err, "")
		return
	}
	if err := v.sync.store.Reset(ctx, v.postID); err != nil {
		v.sync.notifier.FromError(v.postID, err, "")
		return
	}
	v.sync.notifier.Info(v.postID, "Comments refreshed after reconnect")
}

// FetchNextPage загружает следующую страницу корневых комментариев
func (v *View) FetchNextPage(ctx context.Context) (bool, error) {
	if !v.mounted.Load() {
		return false, domain.ErrNotMounted
	}
	more, err := v.sync.store.FetchNextPage(ctx, v.postID)
	if err != nil {
		v.sync.notifier.FromError(v.postID, err, "")
		return false, err
	}
	return more, nil
}

// HasNextPage сообщает, есть ли ещё корневые комментарии для загрузки
func (v *View) HasNextPage() bool {
	return v.sync.store.Get(v.postID).HasNextPage()
}

// ExpandReplies загружает следующую порцию ответов на комментарий.
// Возвращает число оставшихся незагруженных ответов.
func (v *View) ExpandReplies(ctx context.Context, parentID int64) (int, error) {
	if !v.mounted.Load() {
		return 0, domain.ErrNotMounted
	}
	remaining, err := v.sync.replies.ExpandNext(ctx, v.postID, parentID)
	if err != nil {
		v.sync.notifier.FromError(v.postID, err, "")
		return 0, err
	}
	return remaining, nil
}

// Remaining возвращает число незагруженных ответов на комментарий
func (v *View) Remaining(parentID int64) (int, bool) {
	return v.sync.replies.Remaining(v.postID, parentID)
}

// SubmitComment отправляет новый комментарий. Комментарий появится в дереве
// только после того, как сервер разошлет NEW_COMMENT.
func (v *View) SubmitComment(ctx context.Context, content string, parentID *int64) error {
	content = strings.TrimSpace(content)
	if content == "" {
		v.sync.notifier.FromError(v.postID, domain.ErrEmptyContent, "")
		return domain.ErrEmptyContent
	}

	req := domain.NewCommentRequest{Content: content, PostID: v.postID, ParentID: parentID}
	if err := v.sync.channel.Emit(ctx, domain.EventNewComment, req); err != nil {
		v.sync.notifier.FromError(v.postID, err, "")
		return fmt.Errorf("failed to submit comment: %w", err)
	}
	return nil
}

// DeleteComment запрашивает удаление комментария. Комментарий исчезнет
// из дерева только после DELETED_COMMENT от сервера.
func (v *View) DeleteComment(ctx context.Context, commentID int64) error {
	if err := v.sync.channel.Emit(ctx, domain.EventDeleteComment, domain.DeleteCommentRequest{CommentID: commentID}); err != nil {
		v.sync.notifier.FromError(v.postID, err, "")
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	return nil
}

// Watch подписывается на изменения дерева комментариев объявления
func (v *View) Watch() *cache.Subscription {
	return v.sync.store.Watch(v.postID)
}

// Snapshot возвращает текущее состояние кэша объявления
func (v *View) Snapshot() *cache.Entry {
	return v.sync.store.Get(v.postID)
}
