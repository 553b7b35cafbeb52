package usecase

import (
	"fmt"

	"github.com/oziev02/CommentSync/internal/cache"
	"github.com/oziev02/CommentSync/internal/domain"
	"github.com/oziev02/CommentSync/internal/tree"
)

// Outcome результат применения push-события к записи кэша
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeCounted   Outcome = "counted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeOrphan    Outcome = "orphan"
	OutcomeForeign   Outcome = "foreign"
	OutcomeRemoved   Outcome = "removed"
	OutcomeMissing   Outcome = "missing"
	OutcomeRejected  Outcome = "rejected"
	OutcomeMalformed Outcome = "malformed"
	OutcomeStale     Outcome = "stale"
)

// ApplyNewComment вставляет новый комментарий в запись.
//
// Корневой комментарий добавляется в начало первой страницы, счетчик
// корневых комментариев увеличивается. Ответ добавляется в начало
// загруженных ответов родителя; если ответы родителя не загружены,
// увеличивается только ReplyCount. Ответ на незагруженного родителя
// отбрасывается. Если изменений нет, возвращается исходная запись.
func ApplyNewComment(e *cache.Entry, c *domain.Comment) (*cache.Entry, Outcome, error) {
	if c == nil || c.ID == 0 {
		return e, OutcomeMalformed, fmt.Errorf("%w: comment without id", domain.ErrMalformedEvent)
	}
	if e.PostID != 0 && c.PostID != 0 && c.PostID != e.PostID {
		return e, OutcomeForeign, nil
	}
	if len(e.Pages) == 0 {
		return e, OutcomeOrphan, nil
	}
	if e.Contains(c.ID) {
		return e, OutcomeDuplicate, nil
	}

	fresh := c.Clone()
	if fresh.Replies == nil && fresh.ReplyCount == 0 {
		fresh.Replies = []*domain.Comment{}
	}

	pages := e.ClonePages()

	if fresh.IsRoot() {
		pages[0].Data = prepend(fresh, pages[0].Data)
		adjustTotals(pages, 1, 1)
		return e.WithPages(pages), OutcomeInserted, nil
	}

	outcome := OutcomeOrphan
	for i := range pages {
		forest, ok := tree.LocateAndTransform(pages[i].Data, tree.ByID(*fresh.ParentID), func(parent *domain.Comment) *domain.Comment {
			cp := parent.Clone()
			cp.ReplyCount++
			if parent.RepliesLoaded() {
				cp.Replies = prepend(fresh, parent.Replies)
				outcome = OutcomeInserted
			} else {
				outcome = OutcomeCounted
			}
			return cp
		})
		if !ok {
			continue
		}
		pages[i].Data = forest
		adjustTotals(pages, 0, 1)
		return e.WithPages(pages), outcome, nil
	}

	return e, OutcomeOrphan, nil
}

// ApplyDeletedComment удаляет комментарий из записи вместе с его загруженными ответами.
// Для корневого комментария уменьшается счетчик корневых комментариев,
// для ответа уменьшается ReplyCount непосредственного родителя.
func ApplyDeletedComment(e *cache.Entry, commentID int64) (*cache.Entry, Outcome, error) {
	if commentID == 0 {
		return e, OutcomeMalformed, fmt.Errorf("%w: deletion without comment id", domain.ErrMalformedEvent)
	}

	pages := e.ClonePages()
	for i := range pages {
		forest, _, ok := tree.RemoveMatching(pages[i].Data, tree.ByID(commentID))
		if !ok {
			continue
		}
		rootDelta := 0
		if len(forest) < len(pages[i].Data) {
			rootDelta = -1
		}
		pages[i].Data = forest
		adjustTotals(pages, rootDelta, -1)
		return e.WithPages(pages), OutcomeRemoved, nil
	}

	return e, OutcomeMissing, nil
}

// adjustTotals изменяет счетчики на всех страницах: число корневых
// комментариев одно на объявление, поэтому хранится одинаковым на каждой странице
func adjustTotals(pages []domain.Page, roots, all int) {
	for i := range pages {
		pages[i].Meta.Pagination.Total = floorZero(pages[i].Meta.Pagination.Total + roots)
		pages[i].Meta.TotalComments = floorZero(pages[i].Meta.TotalComments + all)
	}
}

func prepend(c *domain.Comment, list []*domain.Comment) []*domain.Comment {
	out := make([]*domain.Comment, 0, len(list)+1)
	out = append(out, c)
	return append(out, list...)
}

func floorZero(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
