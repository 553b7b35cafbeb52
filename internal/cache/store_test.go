package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oziev02/CommentSync/internal/domain"
	"github.com/oziev02/CommentSync/internal/metrics"
)

// fakeSource отдает корневые комментарии из фиксированного списка
type fakeSource struct {
	mu      sync.Mutex
	roots   []*domain.Comment
	queries []domain.CommentQuery
	calls   atomic.Int32
	gate    chan struct{}
	err     error
}

func (f *fakeSource) FetchComments(ctx context.Context, q domain.CommentQuery) (*domain.Page, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}

	end := q.Offset + q.Limit
	if end > len(f.roots) {
		end = len(f.roots)
	}
	var data []*domain.Comment
	if q.Offset < len(f.roots) {
		data = f.roots[q.Offset:end]
	}
	return &domain.Page{
		Data: data,
		Meta: domain.Meta{
			Pagination: domain.Pagination{
				Total:  len(f.roots),
				Count:  len(data),
				Limit:  q.Limit,
				Offset: q.Offset,
			},
			TotalComments: len(f.roots),
		},
	}, nil
}

// holdSource задерживает запрос с указанным смещением до закрытия release
type holdSource struct {
	*fakeSource
	offset  int
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newHoldSource(src *fakeSource, offset int) *holdSource {
	return &holdSource{
		fakeSource: src,
		offset:     offset,
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
}

func (h *holdSource) FetchComments(ctx context.Context, q domain.CommentQuery) (*domain.Page, error) {
	if q.Offset == h.offset {
		hold := false
		h.once.Do(func() {
			hold = true
			close(h.started)
		})
		if hold {
			<-h.release
		}
	}
	return h.fakeSource.FetchComments(ctx, q)
}

func rootIDs(e *Entry) []int64 {
	ids := []int64{}
	for _, c := range e.Roots() {
		ids = append(ids, c.ID)
	}
	return ids
}

func roots(n int) []*domain.Comment {
	out := make([]*domain.Comment, 0, n)
	for i := n; i >= 1; i-- {
		out = append(out, &domain.Comment{ID: int64(i), PostID: 7})
	}
	return out
}

func newStore(src domain.CommentSource, pageSize int) *Store {
	return New(src, Config{PageSize: pageSize}, nil, metrics.New(prometheus.NewRegistry()))
}

func TestStore_FetchNextPage(t *testing.T) {
	src := &fakeSource{roots: roots(5)}
	s := newStore(src, 2)
	release := s.Mount(7)
	defer release()

	ctx := context.Background()

	more, err := s.FetchNextPage(ctx, 7)
	require.NoError(t, err)
	assert.True(t, more)

	more, err = s.FetchNextPage(ctx, 7)
	require.NoError(t, err)
	assert.True(t, more)

	more, err = s.FetchNextPage(ctx, 7)
	require.NoError(t, err)
	assert.False(t, more)

	e := s.Get(7)
	require.NotNil(t, e)
	assert.Len(t, e.Pages, 3)
	assert.Equal(t, 5, e.LoadedRoots())
	assert.Equal(t, []int{0, 2, 4}, []int{src.queries[0].Offset, src.queries[1].Offset, src.queries[2].Offset})

	t.Run("no request once everything is loaded", func(t *testing.T) {
		before := src.calls.Load()
		more, err := s.FetchNextPage(ctx, 7)
		require.NoError(t, err)
		assert.False(t, more)
		assert.Equal(t, before, src.calls.Load())
	})
}

func TestStore_FetchNextPage_Deduplicates(t *testing.T) {
	src := &fakeSource{roots: roots(3), gate: make(chan struct{})}
	s := newStore(src, 15)
	release := s.Mount(7)
	defer release()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.FetchNextPage(context.Background(), 7)
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	assert.Len(t, s.Get(7).Pages, 1)
}

func TestStore_FetchNextPage_CallerCancelDoesNotFailOthers(t *testing.T) {
	src := &fakeSource{roots: roots(3), gate: make(chan struct{})}
	s := newStore(src, 15)
	release := s.Mount(7)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := s.FetchNextPage(ctx, 7)
		first <- err
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := s.FetchNextPage(context.Background(), 7)
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(src.gate)
	require.NoError(t, <-second)
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, 3, s.Get(7).LoadedRoots())
}

func TestStore_FetchNextPage_Errors(t *testing.T) {
	t.Run("not mounted", func(t *testing.T) {
		s := newStore(&fakeSource{}, 15)
		_, err := s.FetchNextPage(context.Background(), 7)
		assert.ErrorIs(t, err, domain.ErrNotMounted)
	})

	t.Run("source error leaves cache untouched", func(t *testing.T) {
		boom := errors.New("boom")
		s := newStore(&fakeSource{err: boom}, 15)
		release := s.Mount(7)
		defer release()

		_, err := s.FetchNextPage(context.Background(), 7)
		assert.ErrorIs(t, err, boom)
		assert.Nil(t, s.Get(7))
	})
}

func TestStore_LateFetchAfterUnmountIsDiscarded(t *testing.T) {
	src := &fakeSource{roots: roots(3), gate: make(chan struct{})}
	s := newStore(src, 15)
	release := s.Mount(7)

	done := make(chan struct{})
	go func() {
		defer close(done)
		more, err := s.FetchNextPage(context.Background(), 7)
		assert.NoError(t, err)
		assert.False(t, more)
	}()

	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	release()
	close(src.gate)
	<-done

	assert.Nil(t, s.Get(7))
}

func TestStore_FetchDropsAlreadyLoadedRoots(t *testing.T) {
	src := &fakeSource{roots: roots(3)}
	s := newStore(src, 2)
	release := s.Mount(7)
	defer release()

	_, err := s.FetchNextPage(context.Background(), 7)
	require.NoError(t, err)

	// новый корневой комментарий на сервере сдвинул смещения: следующая страница повторит ID 2
	src.mu.Lock()
	src.roots = append([]*domain.Comment{{ID: 4, PostID: 7}}, src.roots...)
	src.mu.Unlock()

	_, err = s.FetchNextPage(context.Background(), 7)
	require.NoError(t, err)

	ids := []int64{}
	for _, c := range s.Get(7).Roots() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []int64{3, 2, 1}, ids)
}

func TestStore_Write(t *testing.T) {
	s := newStore(&fakeSource{roots: roots(2)}, 15)

	t.Run("no entry means no-op", func(t *testing.T) {
		release := s.Mount(7)
		defer release()

		called := false
		ok := s.Write(7, func(e *Entry) *Entry {
			called = true
			return e
		})
		assert.False(t, ok)
		assert.False(t, called)
	})

	t.Run("applies against latest value", func(t *testing.T) {
		release := s.Mount(7)
		defer release()
		_, err := s.FetchNextPage(context.Background(), 7)
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			ok := s.Write(7, func(e *Entry) *Entry {
				pages := e.ClonePages()
				pages[0].Meta.Pagination.Total++
				return e.WithPages(pages)
			})
			assert.True(t, ok)
		}
		assert.Equal(t, 4, s.Get(7).Total())
	})

	t.Run("discarded after unmount", func(t *testing.T) {
		before := s.Get(7)
		ok := s.Write(7, func(e *Entry) *Entry {
			return e.WithPages(nil)
		})
		assert.False(t, ok)
		assert.Same(t, before, s.Get(7))
	})
}

func TestStore_UpdateRestoresSnapshotOnError(t *testing.T) {
	s := newStore(&fakeSource{roots: roots(2)}, 15)
	release := s.Mount(7)
	defer release()
	_, err := s.FetchNextPage(context.Background(), 7)
	require.NoError(t, err)

	before := s.Get(7)
	boom := errors.New("bad event")
	ok, err := s.Update(7, func(e *Entry) (*Entry, error) {
		return e.WithPages(nil), boom
	})
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
	assert.Same(t, before, s.Get(7))
}

func TestStore_Watch(t *testing.T) {
	s := newStore(&fakeSource{roots: roots(2)}, 15)
	release := s.Mount(7)
	defer release()

	sub := s.Watch(7)
	defer sub.Close()

	_, err := s.FetchNextPage(context.Background(), 7)
	require.NoError(t, err)

	first := <-sub.C()
	assert.Equal(t, 2, first.LoadedRoots())

	t.Run("keeps only latest value", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			s.Write(7, func(e *Entry) *Entry {
				pages := e.ClonePages()
				pages[0].Meta.TotalComments++
				return e.WithPages(pages)
			})
		}
		latest := <-sub.C()
		assert.Equal(t, 5, latest.TotalComments())
		select {
		case <-sub.C():
			t.Fatal("unexpected extra value")
		default:
		}
	})

	t.Run("late watcher sees current value", func(t *testing.T) {
		late := s.Watch(7)
		defer late.Close()
		e := <-late.C()
		assert.Equal(t, 5, e.TotalComments())
	})

	t.Run("close closes the channel", func(t *testing.T) {
		w := s.Watch(7)
		<-w.C()
		w.Close()
		w.Close()
		_, open := <-w.C()
		assert.False(t, open)
	})
}

func TestStore_Reset(t *testing.T) {
	src := &fakeSource{roots: roots(4)}
	s := newStore(src, 2)
	release := s.Mount(7)
	defer release()

	ctx := context.Background()
	_, err := s.FetchNextPage(ctx, 7)
	require.NoError(t, err)
	_, err = s.FetchNextPage(ctx, 7)
	require.NoError(t, err)
	require.Len(t, s.Get(7).Pages, 2)

	require.NoError(t, s.Reset(ctx, 7))
	e := s.Get(7)
	assert.Len(t, e.Pages, 1)
	assert.Equal(t, 0, src.queries[len(src.queries)-1].Offset)
}

func TestStore_ResetDiscardsInFlightPage(t *testing.T) {
	src := newHoldSource(&fakeSource{roots: roots(8)}, 4)
	s := newStore(src, 2)
	release := s.Mount(7)
	defer release()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := s.FetchNextPage(ctx, 7)
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.FetchNextPage(ctx, 7)
		assert.NoError(t, err)
	}()
	<-src.started

	require.NoError(t, s.Reset(ctx, 7))
	close(src.release)
	<-done

	assert.Equal(t, []int64{8, 7}, rootIDs(s.Get(7)))

	for i := 0; i < 10; i++ {
		more, err := s.FetchNextPage(ctx, 7)
		require.NoError(t, err)
		if !more {
			break
		}
	}
	e := s.Get(7)
	assert.Equal(t, []int64{8, 7, 6, 5, 4, 3, 2, 1}, rootIDs(e))
	assert.False(t, e.HasNextPage())
}

func TestStore_LoadRevalidatesStaleEntry(t *testing.T) {
	src := &fakeSource{roots: []*domain.Comment{{ID: 2, PostID: 7}, {ID: 1, PostID: 7}}}
	s := newStore(src, 15)
	now := time.Now()
	s.now = func() time.Time { return now }

	ctx := context.Background()
	release := s.Mount(7)
	more, err := s.Load(ctx, 7)
	require.NoError(t, err)
	assert.False(t, more)
	release()

	src.mu.Lock()
	src.roots = []*domain.Comment{{ID: 3, PostID: 7}, {ID: 1, PostID: 7}}
	src.mu.Unlock()

	t.Run("fresh entry is served without a request", func(t *testing.T) {
		release := s.Mount(7)
		defer release()
		before := src.calls.Load()

		_, err := s.Load(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, before, src.calls.Load())
		assert.Equal(t, []int64{2, 1}, rootIDs(s.Get(7)))
	})

	t.Run("stale entry is refetched", func(t *testing.T) {
		now = now.Add(DefaultStaleTime + time.Second)
		release := s.Mount(7)
		defer release()

		more, err := s.Load(ctx, 7)
		require.NoError(t, err)
		assert.False(t, more)
		assert.Equal(t, []int64{3, 1}, rootIDs(s.Get(7)))
	})
}

func TestStore_Sweep(t *testing.T) {
	s := newStore(&fakeSource{roots: roots(1)}, 15)
	now := time.Now()
	s.now = func() time.Time { return now }

	release := s.Mount(7)
	_, err := s.FetchNextPage(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, 0, s.Sweep())
	release()
	assert.Equal(t, 0, s.Sweep())

	now = now.Add(DefaultGCTime + time.Second)
	assert.Equal(t, 1, s.Sweep())
	assert.Nil(t, s.Get(7))
}

func TestEntry_HasNextPage(t *testing.T) {
	var empty *Entry
	assert.True(t, empty.HasNextPage())

	e := &Entry{Pages: []domain.Page{{
		Data: []*domain.Comment{{ID: 1}},
		Meta: domain.Meta{Pagination: domain.Pagination{Total: 3, Count: 1}},
	}}}
	assert.True(t, e.HasNextPage())

	e.Pages = append(e.Pages, domain.Page{Meta: domain.Meta{Pagination: domain.Pagination{Total: 3}}})
	assert.False(t, e.HasNextPage())
}

func TestEntry_AppendPageSkipsDuplicates(t *testing.T) {
	e := (*Entry)(nil).appendPage(7, domain.Page{
		Data: []*domain.Comment{{ID: 2}, {ID: 1}},
		Meta: domain.Meta{Pagination: domain.Pagination{Total: 4, Count: 2}},
	})

	same := e.appendPage(7, domain.Page{
		Data: []*domain.Comment{{ID: 1}},
		Meta: domain.Meta{Pagination: domain.Pagination{Total: 4, Count: 1, Offset: 1}},
	})
	assert.Same(t, e, same)
	assert.True(t, same.HasNextPage())
}
