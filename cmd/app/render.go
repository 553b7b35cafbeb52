package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/oziev02/CommentSync/internal/cache"
	"github.com/oziev02/CommentSync/internal/notify"
	"github.com/oziev02/CommentSync/internal/tree"
)

// renderEntry печатает дерево комментариев с отступами по глубине
func renderEntry(w io.Writer, e *cache.Entry) {
	if e == nil {
		fmt.Fprintln(w, "(loading comments)")
		return
	}

	fmt.Fprintf(w, "── post %d: %d comments ──\n", e.PostID, e.TotalComments())
	for _, row := range tree.Flatten(e.Roots()) {
		c := row.Comment
		author := "anonymous"
		if c.User != nil && c.User.FullName != "" {
			author = c.User.FullName
		}
		indent := strings.Repeat("  ", row.Depth)
		fmt.Fprintf(w, "%s#%d %s: %s\n", indent, c.ID, author, c.Content)
		if row.Remaining > 0 {
			fmt.Fprintf(w, "%s  … %d more replies (expand %d)\n", indent, row.Remaining, c.ID)
		}
	}
	if e.HasNextPage() {
		fmt.Fprintf(w, "… %d of %d loaded (more)\n", e.LoadedRoots(), e.Total())
	}
}

func renderNotification(w io.Writer, n notify.Notification) {
	fmt.Fprintf(w, "[%s] %s\n", n.Level, n.Message)
}
