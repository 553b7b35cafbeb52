// Package cache хранит постраничные списки комментариев по объявлениям
// и уведомляет подписчиков о каждом изменении.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/oziev02/CommentSync/internal/domain"
	"github.com/oziev02/CommentSync/internal/metrics"
)

// Значения по умолчанию повторяют настройки клиента объявлений
const (
	DefaultPageSize     = 15
	DefaultGCTime       = 10 * time.Minute
	DefaultStaleTime    = 5 * time.Minute
	DefaultFetchTimeout = 30 * time.Second
)

// Config содержит настройки кэша
type Config struct {
	PageSize int
	GCTime   time.Duration
	// StaleTime время после последнего размонтирования, после которого
	// запись перечитывается при следующем монтировании
	StaleTime    time.Duration
	FetchTimeout time.Duration
}

type slot struct {
	entry      *Entry
	mounts     int
	watchers   map[*Subscription]struct{}
	releasedAt time.Time
	// stale выставляется при монтировании устаревшей записи
	stale bool
	// gen увеличивается при каждом Reset; страницы, запрошенные
	// до смены поколения, отбрасываются
	gen uint64
}

// Store кэш страниц комментариев по ID объявления.
// Все записи сериализуются мьютексом и применяются к последнему значению.
type Store struct {
	source  domain.CommentSource
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	group singleflight.Group

	mu    sync.Mutex
	slots map[int64]*slot
	now   func() time.Time
}

// New создает кэш поверх источника комментариев
func New(source domain.CommentSource, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Store {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.GCTime <= 0 {
		cfg.GCTime = DefaultGCTime
	}
	if cfg.StaleTime <= 0 {
		cfg.StaleTime = DefaultStaleTime
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		source:  source,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		slots:   make(map[int64]*slot),
		now:     time.Now,
	}
}

// Mount отмечает, что объявление просматривается. Пока есть хотя бы одно
// монтирование, запись принимает изменения. Возвращаемая функция снимает
// монтирование; повторные вызовы ничего не делают.
func (s *Store) Mount(postID int64) (release func()) {
	s.mu.Lock()
	sl := s.slotLocked(postID)
	if sl.mounts == 0 && sl.entry != nil && s.now().Sub(sl.releasedAt) >= s.cfg.StaleTime {
		sl.stale = true
	}
	sl.mounts++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sl, ok := s.slots[postID]; ok && sl.mounts > 0 {
				sl.mounts--
				if sl.mounts == 0 {
					sl.releasedAt = s.now()
				}
			}
		})
	}
}

// IsMounted сообщает, смонтировано ли объявление
func (s *Store) IsMounted(postID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[postID]
	return ok && sl.mounts > 0
}

// Get возвращает текущую запись или nil
func (s *Store) Get(postID int64) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.slots[postID]; ok {
		return sl.entry
	}
	return nil
}

// Load выполняет загрузку при монтировании: первую страницу для нового
// объявления, Reset для устаревшей записи. Свежая запись отдается как есть.
// Возвращает признак наличия следующих страниц.
func (s *Store) Load(ctx context.Context, postID int64) (bool, error) {
	s.mu.Lock()
	var (
		current *Entry
		stale   bool
	)
	if sl, ok := s.slots[postID]; ok {
		current, stale = sl.entry, sl.stale
	}
	s.mu.Unlock()

	switch {
	case current == nil:
		return s.FetchNextPage(ctx, postID)
	case stale:
		if err := s.Reset(ctx, postID); err != nil {
			return current.HasNextPage(), err
		}
		return s.Get(postID).HasNextPage(), nil
	default:
		return current.HasNextPage(), nil
	}
}

// FetchNextPage загружает следующую страницу корневых комментариев.
// Смещение равно числу уже загруженных корневых комментариев.
// Параллельные вызовы для одного объявления разделяют один запрос;
// отмена ctx одного вызова не прерывает запрос для остальных.
// Возвращает признак наличия следующих страниц.
func (s *Store) FetchNextPage(ctx context.Context, postID int64) (bool, error) {
	v, err := s.shared(ctx, strconv.FormatInt(postID, 10), func(fctx context.Context) (any, error) {
		return s.fetchNext(fctx, postID)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// shared выполняет fn один раз на ключ. Запрос отвязан от отмены ctx
// вызывающего и ограничен FetchTimeout.
func (s *Store) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FetchTimeout)
		defer cancel()
		return fn(fctx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) fetchNext(ctx context.Context, postID int64) (bool, error) {
	s.mu.Lock()
	sl, ok := s.slots[postID]
	if !ok || sl.mounts == 0 {
		s.mu.Unlock()
		return false, domain.ErrNotMounted
	}
	current, gen := sl.entry, sl.gen
	s.mu.Unlock()

	if current != nil && !current.HasNextPage() {
		return false, nil
	}

	query := domain.CommentQuery{
		PostID: postID,
		Limit:  s.cfg.PageSize,
		Offset: current.LoadedRoots(),
	}

	start := time.Now()
	page, err := s.source.FetchComments(ctx, query)
	s.metrics.ObserveFetch("page", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to fetch comments page: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	latest, ok := s.slots[postID]
	switch {
	case !ok || latest != sl || sl.mounts == 0:
		s.logger.Debug("discarded page for unmounted post", "post_id", postID, "offset", query.Offset)
		return false, nil
	case sl.gen != gen:
		s.logger.Debug("discarded page superseded by reset", "post_id", postID, "offset", query.Offset)
		return sl.entry.HasNextPage(), nil
	}

	s.commitLocked(sl, sl.entry.appendPage(postID, *page))
	s.logger.Debug("comments page loaded",
		"post_id", postID,
		"offset", query.Offset,
		"count", len(page.Data),
		"total", page.Meta.Pagination.Total,
	)
	return sl.entry.HasNextPage(), nil
}

// Reset заново загружает первую страницу и заменяет ею всю запись.
// Страницы, запрошенные до завершения Reset, отбрасываются.
func (s *Store) Reset(ctx context.Context, postID int64) error {
	_, err := s.shared(ctx, "reset:"+strconv.FormatInt(postID, 10), func(fctx context.Context) (any, error) {
		return nil, s.reset(fctx, postID)
	})
	return err
}

func (s *Store) reset(ctx context.Context, postID int64) error {
	s.mu.Lock()
	sl, ok := s.slots[postID]
	if !ok || sl.mounts == 0 {
		s.mu.Unlock()
		return domain.ErrNotMounted
	}
	sl.gen++
	gen := sl.gen
	s.mu.Unlock()

	start := time.Now()
	page, err := s.source.FetchComments(ctx, domain.CommentQuery{PostID: postID, Limit: s.cfg.PageSize})
	s.metrics.ObserveFetch("page", start, err)
	if err != nil {
		return fmt.Errorf("failed to refetch comments: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if latest, ok := s.slots[postID]; !ok || latest != sl || sl.mounts == 0 || sl.gen != gen {
		s.logger.Debug("discarded refetched page", "post_id", postID)
		return nil
	}

	var empty *Entry
	sl.gen++
	sl.stale = false
	s.commitLocked(sl, empty.appendPage(postID, *page))
	return nil
}

// Write применяет updater к последнему значению записи и сохраняет результат.
// Если записи ещё нет или объявление не смонтировано, updater не вызывается.
// Возвращает true, если значение изменилось.
func (s *Store) Write(postID int64, updater func(*Entry) *Entry) bool {
	ok, _ := s.Update(postID, func(e *Entry) (*Entry, error) {
		return updater(e), nil
	})
	return ok
}

// Update читает запись, применяет fn и сохраняет результат.
// Если fn возвращает ошибку, в кэше остается снимок, сделанный до вызова.
// Возврат того же указателя или nil означает отсутствие изменений.
func (s *Store) Update(postID int64, fn func(*Entry) (*Entry, error)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[postID]
	if !ok || sl.mounts == 0 || sl.entry == nil {
		return false, nil
	}

	snapshot := sl.entry
	next, err := fn(snapshot)
	if err != nil {
		sl.entry = snapshot
		return false, err
	}
	if next == nil || next == snapshot {
		return false, nil
	}

	sl.entry = next
	s.publishLocked(sl)
	return true, nil
}

// commitLocked сохраняет новое значение записи и оповещает подписчиков
func (s *Store) commitLocked(sl *slot, next *Entry) {
	if next == sl.entry {
		return
	}
	sl.entry = next
	s.publishLocked(sl)
}

// Sweep удаляет записи, которые не смонтированы и не наблюдаются дольше GCTime
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, sl := range s.slots {
		if sl.mounts > 0 || len(sl.watchers) > 0 {
			continue
		}
		if now.Sub(sl.releasedAt) < s.cfg.GCTime {
			continue
		}
		delete(s.slots, id)
		removed++
	}
	s.metrics.SetCacheEntries(len(s.slots))
	return removed
}

// RunGC периодически вызывает Sweep до отмены ctx
func (s *Store) RunGC(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("evicted cache entries", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) slotLocked(postID int64) *slot {
	sl, ok := s.slots[postID]
	if !ok {
		sl = &slot{watchers: make(map[*Subscription]struct{})}
		s.slots[postID] = sl
		s.metrics.SetCacheEntries(len(s.slots))
	}
	return sl
}
