package cache

import (
	"time"

	"github.com/oziev02/CommentSync/internal/domain"
	"github.com/oziev02/CommentSync/internal/tree"
)

// Entry накопленные страницы корневых комментариев одного объявления.
// Значение неизменяемо: любое изменение создает новый Entry.
type Entry struct {
	PostID    int64
	Pages     []domain.Page
	UpdatedAt time.Time
}

// Roots возвращает корневые комментарии всех страниц в порядке загрузки
func (e *Entry) Roots() []*domain.Comment {
	if e == nil {
		return nil
	}
	roots := make([]*domain.Comment, 0, e.LoadedRoots())
	for _, p := range e.Pages {
		roots = append(roots, p.Data...)
	}
	return roots
}

// LoadedRoots возвращает число загруженных корневых комментариев
func (e *Entry) LoadedRoots() int {
	if e == nil {
		return 0
	}
	n := 0
	for _, p := range e.Pages {
		n += len(p.Data)
	}
	return n
}

// Total возвращает число корневых комментариев на сервере
func (e *Entry) Total() int {
	if e == nil || len(e.Pages) == 0 {
		return 0
	}
	return e.Pages[len(e.Pages)-1].Meta.Pagination.Total
}

// TotalComments возвращает число всех комментариев объявления, включая ответы
func (e *Entry) TotalComments() int {
	if e == nil || len(e.Pages) == 0 {
		return 0
	}
	return e.Pages[0].Meta.TotalComments
}

// HasNextPage сообщает, есть ли на сервере ещё не загруженные корневые комментарии
func (e *Entry) HasNextPage() bool {
	if e == nil || len(e.Pages) == 0 {
		return true
	}
	last := e.Pages[len(e.Pages)-1]
	if last.Meta.Pagination.Count == 0 && len(last.Data) == 0 {
		return false
	}
	return e.LoadedRoots() < e.Total()
}

// Find ищет загруженный комментарий по ID на всех страницах
func (e *Entry) Find(id int64) *domain.Comment {
	if e == nil {
		return nil
	}
	for _, p := range e.Pages {
		if c := tree.Find(p.Data, tree.ByID(id)); c != nil {
			return c
		}
	}
	return nil
}

// Contains сообщает, загружен ли комментарий с указанным ID
func (e *Entry) Contains(id int64) bool {
	return e.Find(id) != nil
}

// WithPages возвращает копию записи с новыми страницами
func (e *Entry) WithPages(pages []domain.Page) *Entry {
	return &Entry{
		PostID:    e.PostID,
		Pages:     pages,
		UpdatedAt: time.Now(),
	}
}

// ClonePages возвращает копию среза страниц.
// Срезы Data разделяются с исходной записью.
func (e *Entry) ClonePages() []domain.Page {
	pages := make([]domain.Page, len(e.Pages))
	copy(pages, e.Pages)
	return pages
}

// appendPage добавляет страницу, отбрасывая уже загруженные корневые комментарии.
// Для e == nil создается новая запись. Страница, все комментарии которой
// уже загружены, не добавляется: e возвращается без изменений.
func (e *Entry) appendPage(postID int64, page domain.Page) *Entry {
	if e == nil {
		e = &Entry{PostID: postID}
	}

	data := make([]*domain.Comment, 0, len(page.Data))
	for _, c := range page.Data {
		if c == nil || e.Contains(c.ID) {
			continue
		}
		data = append(data, c)
	}
	if len(page.Data) > 0 && len(data) == 0 && len(e.Pages) > 0 {
		return e
	}
	page.Data = data

	pages := make([]domain.Page, 0, len(e.Pages)+1)
	pages = append(pages, e.Pages...)
	pages = append(pages, page)
	return e.WithPages(pages)
}
