package cache

import "sync"

// Subscription доставляет последние значения записи одного объявления.
// Если подписчик не успевает читать, промежуточные значения пропускаются.
type Subscription struct {
	store  *Store
	postID int64
	ch     chan *Entry
	once   sync.Once
}

// C возвращает канал значений. Канал закрывается после Close.
func (sub *Subscription) C() <-chan *Entry {
	return sub.ch
}

// Close отписывается от изменений. Повторный вызов безопасен.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		s := sub.store
		s.mu.Lock()
		defer s.mu.Unlock()

		if sl, ok := s.slots[sub.postID]; ok {
			delete(sl.watchers, sub)
		}
		close(sub.ch)
	})
}

// Watch подписывается на изменения записи объявления.
// Если запись уже есть, она сразу доступна в канале.
func (s *Store) Watch(postID int64) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscription{
		store:  s,
		postID: postID,
		ch:     make(chan *Entry, 1),
	}
	sl := s.slotLocked(postID)
	sl.watchers[sub] = struct{}{}
	if sl.entry != nil {
		sub.ch <- sl.entry
	}
	return sub
}

func (s *Store) publishLocked(sl *slot) {
	for sub := range sl.watchers {
		offerLatest(sub.ch, sl.entry)
	}
}

// offerLatest кладет e в канал емкостью 1, вытесняя непрочитанное значение
func offerLatest(ch chan *Entry, e *Entry) {
	select {
	case ch <- e:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- e:
	default:
	}
}
