package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oziev02/CommentSync/internal/cache"
	"github.com/oziev02/CommentSync/internal/domain"
	"github.com/oziev02/CommentSync/internal/tree"
)

const testPost int64 = 7

func comment(id, parent int64, replyCount int, replies ...*domain.Comment) *domain.Comment {
	c := &domain.Comment{ID: id, PostID: testPost, ReplyCount: replyCount}
	if parent != 0 {
		p := parent
		c.ParentID = &p
	}
	if replies != nil {
		c.Replies = replies
	}
	return c
}

func loaded(id, parent int64, replyCount int, replies ...*domain.Comment) *domain.Comment {
	c := comment(id, parent, replyCount, replies...)
	if c.Replies == nil {
		c.Replies = []*domain.Comment{}
	}
	return c
}

func page(total int, data ...*domain.Comment) domain.Page {
	return domain.Page{
		Data: data,
		Meta: domain.Meta{
			Pagination:    domain.Pagination{Total: total, Count: len(data), Limit: 15},
			TotalComments: total,
		},
	}
}

func entry(pages ...domain.Page) *cache.Entry {
	return &cache.Entry{PostID: testPost, Pages: pages}
}

func ids(list []*domain.Comment) []int64 {
	out := make([]int64, 0, len(list))
	for _, c := range list {
		out = append(out, c.ID)
	}
	return out
}

func assertCountInvariant(t *testing.T, e *cache.Entry) {
	t.Helper()
	for _, p := range e.Pages {
		tree.Walk(p.Data, func(c *domain.Comment, _ int) bool {
			assert.LessOrEqual(t, len(c.Replies), c.ReplyCount, "comment %d", c.ID)
			return true
		})
	}
}

func TestApplyNewComment_RootPrepend(t *testing.T) {
	e := entry(page(5, comment(1, 0, 0), comment(2, 0, 0), comment(3, 0, 0), comment(4, 0, 0), comment(5, 0, 0)))

	next, outcome, err := ApplyNewComment(e, comment(10, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome)

	assert.Equal(t, []int64{10, 1, 2, 3, 4, 5}, ids(next.Pages[0].Data))
	assert.Equal(t, 6, next.Pages[0].Meta.Pagination.Total)
	assert.Equal(t, 6, next.TotalComments())

	// исходная запись не изменилась
	assert.Len(t, e.Pages[0].Data, 5)
	assert.Equal(t, 5, e.Pages[0].Meta.Pagination.Total)
}

func TestApplyNewComment_RootGoesToFirstPage(t *testing.T) {
	c1, c2 := comment(1, 0, 0), comment(2, 0, 0)
	e := entry(page(2, c1), page(2, c2))

	next, _, err := ApplyNewComment(e, comment(10, 0, 0))
	require.NoError(t, err)

	assert.Equal(t, []int64{10, 1}, ids(next.Pages[0].Data))
	assert.Equal(t, []int64{2}, ids(next.Pages[1].Data))
	assert.Same(t, c2, next.Pages[1].Data[0])
	assert.Equal(t, 3, next.Total())
	assert.Equal(t, 3, next.Pages[0].Meta.Pagination.Total)
}

func TestApplyNewComment_NestedInsert(t *testing.T) {
	r1 := comment(11, 1, 0)
	c1 := comment(1, 0, 2, r1)
	c2 := loaded(2, 0, 0)
	e := entry(page(2, c1, c2))

	next, outcome, err := ApplyNewComment(e, comment(12, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome)

	got := next.Pages[0].Data[0]
	assert.Equal(t, []int64{12, 11}, ids(got.Replies))
	assert.Equal(t, 3, got.ReplyCount)
	assert.Equal(t, 2, next.Total(), "root total is unchanged by replies")
	assert.Equal(t, 3, next.TotalComments())

	t.Run("unrelated subtrees keep identity", func(t *testing.T) {
		assert.Same(t, c2, next.Pages[0].Data[1])
		assert.Same(t, r1, got.Replies[1])
		assert.NotSame(t, c1, got)
	})
}

func TestApplyNewComment_DeepNestedInsert(t *testing.T) {
	g := loaded(111, 11, 0)
	r1 := comment(11, 1, 1, g)
	r2 := loaded(12, 1, 0)
	c1 := comment(1, 0, 2, r1, r2)
	e := entry(page(1, c1))

	next, outcome, err := ApplyNewComment(e, comment(1111, 111, 0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome)

	newG := next.Pages[0].Data[0].Replies[0].Replies[0]
	assert.Equal(t, []int64{1111}, ids(newG.Replies))
	assert.Equal(t, 1, newG.ReplyCount)
	assert.Same(t, r2, next.Pages[0].Data[0].Replies[1])
	assertCountInvariant(t, next)
}

func TestApplyNewComment_UnloadedParentCountsOnly(t *testing.T) {
	c1 := comment(1, 0, 0)
	e := entry(page(1, c1))

	next, outcome, err := ApplyNewComment(e, comment(11, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCounted, outcome)

	got := next.Pages[0].Data[0]
	assert.Equal(t, 1, got.ReplyCount)
	assert.Nil(t, got.Replies)
	assert.False(t, got.RepliesLoaded())
}

func TestApplyNewComment_Dropped(t *testing.T) {
	e := entry(page(1, comment(1, 0, 0)))

	tests := []struct {
		name    string
		comment *domain.Comment
		want    Outcome
	}{
		{"orphan reply", comment(20, 99, 0), OutcomeOrphan},
		{"duplicate", comment(1, 0, 0), OutcomeDuplicate},
		{"other post", &domain.Comment{ID: 30, PostID: 8}, OutcomeForeign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, outcome, err := ApplyNewComment(e, tt.comment)
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome)
			assert.Same(t, e, next)
		})
	}

	t.Run("malformed", func(t *testing.T) {
		next, outcome, err := ApplyNewComment(e, &domain.Comment{})
		assert.ErrorIs(t, err, domain.ErrMalformedEvent)
		assert.Equal(t, OutcomeMalformed, outcome)
		assert.Same(t, e, next)
	})
}

func TestApplyNewComment_FreshCommentHasLoadedReplies(t *testing.T) {
	e := entry(page(0))
	e.Pages[0].Data = []*domain.Comment{}

	next, _, err := ApplyNewComment(e, comment(1, 0, 0))
	require.NoError(t, err)
	next, outcome, err := ApplyNewComment(next, comment(2, 1, 0))
	require.NoError(t, err)

	assert.Equal(t, OutcomeInserted, outcome)
	assert.Equal(t, []int64{2}, ids(next.Pages[0].Data[0].Replies))
}

func TestApplyDeletedComment(t *testing.T) {
	t.Run("nested delete", func(t *testing.T) {
		r1, r2 := comment(11, 1, 0), comment(12, 1, 0)
		c1 := comment(1, 0, 2, r1, r2)
		c2 := comment(2, 0, 0)
		e := entry(page(2, c1, c2))

		next, outcome, err := ApplyDeletedComment(e, 11)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRemoved, outcome)

		got := next.Pages[0].Data[0]
		assert.Equal(t, []int64{12}, ids(got.Replies))
		assert.Equal(t, 1, got.ReplyCount)
		assert.Equal(t, 2, next.Total())
		assert.Same(t, c2, next.Pages[0].Data[1])
		assert.Same(t, r2, got.Replies[0])
	})

	t.Run("root delete on later page", func(t *testing.T) {
		c1, c2, c3 := comment(1, 0, 0), comment(2, 0, 0), comment(3, 0, 0)
		e := entry(page(3, c1, c2), page(3, c3))

		next, outcome, err := ApplyDeletedComment(e, 3)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRemoved, outcome)

		assert.Empty(t, next.Pages[1].Data)
		assert.Equal(t, 2, next.Pages[1].Meta.Pagination.Total)
		assert.Equal(t, 2, next.Total())
		assert.Equal(t, 2, next.TotalComments())
		assert.Same(t, c1, next.Pages[0].Data[0])
		assert.False(t, next.HasNextPage())
	})

	t.Run("missing comment", func(t *testing.T) {
		e := entry(page(1, comment(1, 0, 0)))
		next, outcome, err := ApplyDeletedComment(e, 99)
		require.NoError(t, err)
		assert.Equal(t, OutcomeMissing, outcome)
		assert.Same(t, e, next)
	})

	t.Run("malformed", func(t *testing.T) {
		e := entry(page(1, comment(1, 0, 0)))
		_, outcome, err := ApplyDeletedComment(e, 0)
		assert.ErrorIs(t, err, domain.ErrMalformedEvent)
		assert.Equal(t, OutcomeMalformed, outcome)
	})
}

func TestReplies_DedupAcrossPushAndExpand(t *testing.T) {
	t.Run("push after expand", func(t *testing.T) {
		e := entry(page(1, comment(1, 0, 1)))

		next, ok := SpliceReplies(e, 1, []*domain.Comment{comment(11, 1, 0)})
		require.True(t, ok)
		next, outcome, err := ApplyNewComment(next, comment(11, 1, 0))
		require.NoError(t, err)

		assert.Equal(t, OutcomeDuplicate, outcome)
		assert.Equal(t, []int64{11}, ids(next.Pages[0].Data[0].Replies))
		assertCountInvariant(t, next)
	})

	t.Run("expand after push", func(t *testing.T) {
		e := entry(page(1, loaded(1, 0, 1, comment(10, 1, 0))))

		next, _, err := ApplyNewComment(e, comment(11, 1, 0))
		require.NoError(t, err)
		next, ok := SpliceReplies(next, 1, []*domain.Comment{comment(11, 1, 0), comment(10, 1, 0), comment(9, 1, 0)})
		require.True(t, ok)

		assert.Equal(t, []int64{11, 10, 9}, ids(next.Pages[0].Data[0].Replies))
		assert.Equal(t, 3, next.Pages[0].Data[0].ReplyCount)
		assertCountInvariant(t, next)
	})
}

func TestSpliceReplies(t *testing.T) {
	r0 := comment(10, 1, 0)
	c1 := comment(1, 0, 5, r0)
	c2 := comment(2, 0, 0)
	e := entry(page(2, c1, c2))

	next, ok := SpliceReplies(e, 1, []*domain.Comment{comment(11, 1, 0), comment(12, 1, 0)})
	require.True(t, ok)

	got := next.Pages[0].Data[0]
	assert.Equal(t, []int64{10, 11, 12}, ids(got.Replies))
	assert.Equal(t, 5, got.ReplyCount)
	assert.Equal(t, 2, tree.Remaining(got))
	assert.Same(t, r0, got.Replies[0])
	assert.Same(t, c2, next.Pages[0].Data[1])

	t.Run("initializes unloaded replies", func(t *testing.T) {
		next, ok := SpliceReplies(next, 2, []*domain.Comment{})
		require.True(t, ok)
		assert.True(t, next.Pages[0].Data[1].RepliesLoaded())
	})

	t.Run("unknown parent", func(t *testing.T) {
		same, ok := SpliceReplies(e, 42, []*domain.Comment{comment(43, 42, 0)})
		assert.False(t, ok)
		assert.Same(t, e, same)
	})
}
