package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oziev02/CommentSync/internal/cache"
	"github.com/oziev02/CommentSync/internal/domain"
	"github.com/oziev02/CommentSync/internal/metrics"
	"github.com/oziev02/CommentSync/internal/tree"
)

// DefaultReplyBatch число ответов, загружаемых за одно раскрытие
const DefaultReplyBatch = 10

// ReplyExpander загружает ответы на комментарий и встраивает их в дерево
type ReplyExpander struct {
	store   *cache.Store
	source  domain.CommentSource
	batch   int
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewReplyExpander создает новый экземпляр ReplyExpander
func NewReplyExpander(store *cache.Store, source domain.CommentSource, batch int, logger *slog.Logger, m *metrics.Metrics) *ReplyExpander {
	if batch <= 0 {
		batch = DefaultReplyBatch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplyExpander{store: store, source: source, batch: batch, logger: logger, metrics: m}
}

// ExpandReplies загружает до limit ответов родителя начиная с offset
// и добавляет их в конец загруженных ответов, пропуская уже известные ID.
// Возвращает число ответов, которые ещё остаются незагруженными.
func (x *ReplyExpander) ExpandReplies(ctx context.Context, postID, parentID int64, offset, limit int) (int, error) {
	if limit <= 0 {
		limit = x.batch
	}

	start := time.Now()
	page, err := x.source.FetchComments(ctx, domain.CommentQuery{
		PostID:   postID,
		ParentID: &parentID,
		Limit:    limit,
		Offset:   offset,
	})
	x.metrics.ObserveFetch("replies", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch replies: %w", err)
	}

	found := false
	x.store.Write(postID, func(e *cache.Entry) *cache.Entry {
		next, ok := SpliceReplies(e, parentID, page.Data)
		found = ok
		return next
	})
	if !found {
		if x.store.IsMounted(postID) {
			return 0, fmt.Errorf("failed to splice replies of %d: %w", parentID, domain.ErrCommentNotFound)
		}
		return 0, domain.ErrNotMounted
	}

	remaining, _ := x.Remaining(postID, parentID)
	x.logger.Debug("replies expanded",
		"post_id", postID,
		"parent_id", parentID,
		"fetched", len(page.Data),
		"remaining", remaining,
	)
	return remaining, nil
}

// ExpandNext загружает следующую порцию ответов родителя
func (x *ReplyExpander) ExpandNext(ctx context.Context, postID, parentID int64) (int, error) {
	parent := x.store.Get(postID).Find(parentID)
	if parent == nil {
		return 0, fmt.Errorf("failed to expand replies of %d: %w", parentID, domain.ErrCommentNotFound)
	}
	return x.ExpandReplies(ctx, postID, parentID, len(parent.Replies), x.batch)
}

// Remaining возвращает число незагруженных ответов родителя
func (x *ReplyExpander) Remaining(postID, parentID int64) (int, bool) {
	parent := x.store.Get(postID).Find(parentID)
	if parent == nil {
		return 0, false
	}
	return tree.Remaining(parent), true
}

// SpliceReplies добавляет replies к ответам родителя parentID.
// Уже загруженные ID пропускаются. Если ответов становится больше ReplyCount,
// ReplyCount поднимается до их числа.
func SpliceReplies(e *cache.Entry, parentID int64, replies []*domain.Comment) (*cache.Entry, bool) {
	pages := e.ClonePages()
	for i := range pages {
		forest, ok := tree.LocateAndTransform(pages[i].Data, tree.ByID(parentID), func(parent *domain.Comment) *domain.Comment {
			cp := parent.Clone()
			merged := make([]*domain.Comment, 0, len(parent.Replies)+len(replies))
			merged = append(merged, parent.Replies...)
			for _, r := range replies {
				if r == nil || e.Contains(r.ID) || containsID(merged, r.ID) {
					continue
				}
				merged = append(merged, r)
			}
			cp.Replies = merged
			if cp.ReplyCount < len(merged) {
				cp.ReplyCount = len(merged)
			}
			return cp
		})
		if !ok {
			continue
		}
		pages[i].Data = forest
		return e.WithPages(pages), true
	}
	return e, false
}

func containsID(list []*domain.Comment, id int64) bool {
	for _, c := range list {
		if c.ID == id {
			return true
		}
	}
	return false
}
