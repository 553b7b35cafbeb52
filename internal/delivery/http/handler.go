package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/oziev02/CommentSync/internal/cache"
	"github.com/oziev02/CommentSync/internal/domain"
	"github.com/oziev02/CommentSync/internal/tree"
)

// SnapshotReader дает доступ к закэшированным деревьям комментариев
type SnapshotReader interface {
	Get(postID int64) *cache.Entry
	IsMounted(postID int64) bool
}

// CommentHandler обрабатывает HTTP запросы отладочного сервера
type CommentHandler struct {
	store SnapshotReader
}

// NewCommentHandler создает новый экземпляр CommentHandler
func NewCommentHandler(store SnapshotReader) *CommentHandler {
	return &CommentHandler{store: store}
}

// CommentResponse DTO для ответа с комментарием
type CommentResponse struct {
	ID         int64  `json:"id"`
	ParentID   *int64 `json:"parent_id,omitempty"`
	UserID     int64  `json:"user_id"`
	Author     string `json:"author,omitempty"`
	Content    string `json:"content"`
	ReplyCount int    `json:"reply_count"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// CommentTreeResponse DTO для узла дерева комментариев
type CommentTreeResponse struct {
	Comment CommentResponse `json:"comment"`
	// Replies равен null, если ответы еще не загружены
	Replies   []CommentTreeResponse `json:"replies"`
	Remaining int                   `json:"remaining"`
}

// CommentsListResponse DTO для закэшированного дерева поста
type CommentsListResponse struct {
	PostID        int64                 `json:"post_id"`
	Mounted       bool                  `json:"mounted"`
	Comments      []CommentTreeResponse `json:"comments"`
	Pages         int                   `json:"pages"`
	Loaded        int                   `json:"loaded"`
	Total         int                   `json:"total"`
	TotalComments int                   `json:"total_comments"`
	HasNextPage   bool                  `json:"has_next_page"`
}

// GetComments обрабатывает GET /posts/{id}/comments
func (h *CommentHandler) GetComments(w http.ResponseWriter, r *http.Request) {
	postID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || postID <= 0 {
		http.Error(w, domain.ErrInvalidPost.Error(), http.StatusBadRequest)
		return
	}

	entry := h.store.Get(postID)
	if entry == nil {
		http.Error(w, "post is not cached", http.StatusNotFound)
		return
	}

	resp := CommentsListResponse{
		PostID:        postID,
		Mounted:       h.store.IsMounted(postID),
		Comments:      toCommentTreeResponseList(entry.Roots()),
		Pages:         len(entry.Pages),
		Loaded:        entry.LoadedRoots(),
		Total:         entry.Total(),
		TotalComments: entry.TotalComments(),
		HasNextPage:   entry.HasNextPage(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Health обрабатывает GET /healthz
func (h *CommentHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func toCommentResponse(c *domain.Comment) CommentResponse {
	resp := CommentResponse{
		ID:         c.ID,
		ParentID:   c.ParentID,
		UserID:     c.UserID,
		Content:    c.Content,
		ReplyCount: c.ReplyCount,
		CreatedAt:  c.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:  c.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if c.User != nil {
		resp.Author = c.User.FullName
	}
	return resp
}

func toCommentTreeResponse(c *domain.Comment) CommentTreeResponse {
	resp := CommentTreeResponse{
		Comment:   toCommentResponse(c),
		Remaining: tree.Remaining(c),
	}
	if c.RepliesLoaded() {
		resp.Replies = toCommentTreeResponseList(c.Replies)
	}
	return resp
}

func toCommentTreeResponseList(comments []*domain.Comment) []CommentTreeResponse {
	result := make([]CommentTreeResponse, 0, len(comments))
	for _, c := range comments {
		result = append(result, toCommentTreeResponse(c))
	}
	return result
}
