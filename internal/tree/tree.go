// Package tree содержит структурные операции над лесом комментариев.
//
// Все операции копируют только путь от корня до изменённого узла:
// поддеревья вне этого пути возвращаются по тем же указателям.
package tree

import "github.com/oziev02/CommentSync/internal/domain"

// Predicate выбирает узел дерева
type Predicate func(c *domain.Comment) bool

// Transform возвращает новую версию узла. Исходный узел изменять нельзя.
type Transform func(c *domain.Comment) *domain.Comment

// ByID возвращает предикат, совпадающий с комментарием с указанным ID
func ByID(id int64) Predicate {
	return func(c *domain.Comment) bool {
		return c.ID == id
	}
}

// LocateAndTransform ищет в глубину первый узел, удовлетворяющий match,
// и заменяет его результатом fn. Если совпадений нет, возвращает исходный срез и false.
func LocateAndTransform(forest []*domain.Comment, match Predicate, fn Transform) ([]*domain.Comment, bool) {
	for i, node := range forest {
		if match(node) {
			return replaceAt(forest, i, fn(node)), true
		}
		if len(node.Replies) == 0 {
			continue
		}
		replies, ok := LocateAndTransform(node.Replies, match, fn)
		if !ok {
			continue
		}
		cp := node.Clone()
		cp.Replies = replies
		return replaceAt(forest, i, cp), true
	}
	return forest, false
}

// RemoveMatching удаляет первый в порядке обхода в глубину узел, удовлетворяющий match.
// У загруженного родителя удалённого узла ReplyCount уменьшается на единицу, но не ниже нуля.
// Возвращает новый лес, удалённый узел и признак удаления.
func RemoveMatching(forest []*domain.Comment, match Predicate) ([]*domain.Comment, *domain.Comment, bool) {
	for i, node := range forest {
		if match(node) {
			out := make([]*domain.Comment, 0, len(forest)-1)
			out = append(out, forest[:i]...)
			out = append(out, forest[i+1:]...)
			return out, node, true
		}
		if len(node.Replies) == 0 {
			continue
		}
		replies, removed, ok := RemoveMatching(node.Replies, match)
		if !ok {
			continue
		}
		cp := node.Clone()
		// длина уменьшилась только если удалён прямой потомок
		if len(replies) < len(node.Replies) && cp.ReplyCount > 0 {
			cp.ReplyCount--
		}
		cp.Replies = replies
		return replaceAt(forest, i, cp), removed, true
	}
	return forest, nil, false
}

// Find возвращает первый узел, удовлетворяющий match, или nil
func Find(forest []*domain.Comment, match Predicate) *domain.Comment {
	var found *domain.Comment
	Walk(forest, func(c *domain.Comment, _ int) bool {
		if match(c) {
			found = c
			return false
		}
		return true
	})
	return found
}

// Contains сообщает, загружен ли комментарий с указанным ID
func Contains(forest []*domain.Comment, id int64) bool {
	return Find(forest, ByID(id)) != nil
}

// Walk обходит лес в глубину, передавая глубину узла (0 для корней).
// Обход прекращается, когда visit возвращает false.
func Walk(forest []*domain.Comment, visit func(c *domain.Comment, depth int) bool) {
	walk(forest, 0, visit)
}

func walk(forest []*domain.Comment, depth int, visit func(*domain.Comment, int) bool) bool {
	for _, node := range forest {
		if !visit(node, depth) {
			return false
		}
		if !walk(node.Replies, depth+1, visit) {
			return false
		}
	}
	return true
}

// Remaining возвращает количество ещё не загруженных ответов комментария
func Remaining(c *domain.Comment) int {
	n := c.ReplyCount - len(c.Replies)
	if n < 0 {
		return 0
	}
	return n
}

// Row одна строка плоского представления дерева
type Row struct {
	Comment   *domain.Comment
	Depth     int
	Remaining int
}

// Flatten разворачивает лес в список строк в порядке отображения
func Flatten(forest []*domain.Comment) []Row {
	rows := make([]Row, 0, len(forest))
	Walk(forest, func(c *domain.Comment, depth int) bool {
		rows = append(rows, Row{Comment: c, Depth: depth, Remaining: Remaining(c)})
		return true
	})
	return rows
}

func replaceAt(forest []*domain.Comment, i int, node *domain.Comment) []*domain.Comment {
	out := make([]*domain.Comment, len(forest))
	copy(out, forest)
	out[i] = node
	return out
}
