package usecase

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/oziev02/CommentSync/internal/cache"
	"github.com/oziev02/CommentSync/internal/domain"
	"github.com/oziev02/CommentSync/internal/metrics"
	"github.com/oziev02/CommentSync/internal/notify"
)

// LiveReducer разбирает входящие push-события и применяет их к кэшу
type LiveReducer struct {
	store    *cache.Store
	notifier *notify.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewLiveReducer создает новый экземпляр LiveReducer
func NewLiveReducer(store *cache.Store, notifier *notify.Notifier, logger *slog.Logger, m *metrics.Metrics) *LiveReducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveReducer{store: store, notifier: notifier, logger: logger, metrics: m}
}

// HandleNewComment обрабатывает NEW_COMMENT для объявления postID
func (r *LiveReducer) HandleNewComment(postID int64, payload json.RawMessage) Outcome {
	var evt domain.NewCommentEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return r.malformed(domain.EventNewComment, postID, err)
	}
	if !evt.Meta.Success {
		return r.rejected(domain.EventNewComment, postID)
	}
	if evt.Data == nil {
		r.metrics.Event(domain.EventNewComment, string(OutcomeMalformed))
		return OutcomeMalformed
	}

	outcome := OutcomeStale
	_, err := r.store.Update(postID, func(e *cache.Entry) (*cache.Entry, error) {
		next, o, err := ApplyNewComment(e, evt.Data)
		outcome = o
		return next, err
	})
	if err != nil {
		return r.malformed(domain.EventNewComment, postID, err)
	}

	r.metrics.Event(domain.EventNewComment, string(outcome))
	r.logger.Debug("new comment event applied",
		"post_id", postID,
		"comment_id", evt.Data.ID,
		"outcome", outcome,
	)
	return outcome
}

// HandleDeletedComment обрабатывает DELETED_COMMENT для объявления postID
func (r *LiveReducer) HandleDeletedComment(postID int64, payload json.RawMessage) Outcome {
	var evt domain.DeletedCommentEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return r.malformed(domain.EventDeletedComment, postID, err)
	}
	if !evt.Meta.Success {
		return r.rejected(domain.EventDeletedComment, postID)
	}
	if evt.Data == nil {
		r.metrics.Event(domain.EventDeletedComment, string(OutcomeMalformed))
		return OutcomeMalformed
	}

	outcome := OutcomeStale
	_, err := r.store.Update(postID, func(e *cache.Entry) (*cache.Entry, error) {
		next, o, err := ApplyDeletedComment(e, evt.Data.CommentID)
		outcome = o
		return next, err
	})
	if err != nil {
		return r.malformed(domain.EventDeletedComment, postID, err)
	}

	r.metrics.Event(domain.EventDeletedComment, string(outcome))
	r.logger.Debug("deleted comment event applied",
		"post_id", postID,
		"comment_id", evt.Data.CommentID,
		"outcome", outcome,
	)
	return outcome
}

// HandleRejection показывает ошибку из отказа сервера. Отказ приходит
// один раз на событие, поэтому обработчик регистрируется один на все представления.
func (r *LiveReducer) HandleRejection(event string, payload json.RawMessage) {
	var evt struct {
		Meta domain.SocketMeta `json:"meta"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil || evt.Meta.Success {
		return
	}
	r.metrics.Event(event, string(OutcomeRejected))
	msg := evt.Meta.ErrorMessage()
	if msg == "" {
		msg = notify.GenericErrorMessage
	}
	r.notifier.Error(0, msg)
}

// rejected пропускает отказ: уведомление показывает HandleRejection
func (r *LiveReducer) rejected(event string, postID int64) Outcome {
	r.logger.Debug("push event rejected by server", "event", event, "post_id", postID)
	return OutcomeRejected
}

func (r *LiveReducer) malformed(event string, postID int64, err error) Outcome {
	r.metrics.Event(event, string(OutcomeMalformed))
	if !errors.Is(err, domain.ErrMalformedEvent) {
		err = errors.Join(domain.ErrMalformedEvent, err)
	}
	r.logger.Warn("dropping push event", "event", event, "post_id", postID, "error", err)
	return OutcomeMalformed
}
