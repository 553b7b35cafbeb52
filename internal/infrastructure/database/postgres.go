package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oziev02/CommentSync/internal/domain"
)

const listQuery = `
	SELECT c.id, c.post_id, c.parent_id, c.user_id, c.content,
	       c.created_at, c.updated_at,
	       u.id, u.full_name, COALESCE(u.avatar, ''),
	       (SELECT COUNT(*) FROM comments r WHERE r.parent_id = c.id) AS reply_count
	FROM comments c
	LEFT JOIN users u ON u.id = c.user_id
	WHERE c.post_id = $1 AND c.parent_id IS NOT DISTINCT FROM $2
	ORDER BY c.created_at DESC, c.id DESC
	LIMIT $3 OFFSET $4
`

const countQuery = `
	SELECT COUNT(*)
	FROM comments
	WHERE post_id = $1 AND parent_id IS NOT DISTINCT FROM $2
`

const totalQuery = `SELECT COUNT(*) FROM comments WHERE post_id = $1`

// PostgresSource реализует CommentSource поверх базы данных объявлений
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource создает новый экземпляр PostgresSource
func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

// FetchComments возвращает страницу корневых комментариев или ответов.
// Все три запроса уходят одним батчем.
func (s *PostgresSource) FetchComments(ctx context.Context, q domain.CommentQuery) (*domain.Page, error) {
	if q.PostID <= 0 {
		return nil, domain.ErrInvalidPost
	}

	batch := &pgx.Batch{}
	batch.Queue(listQuery, q.PostID, q.ParentID, q.Limit, q.Offset)
	batch.Queue(countQuery, q.PostID, q.ParentID)
	batch.Queue(totalQuery, q.PostID)

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	rows, err := br.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to get comments: %w", err)
	}
	data, err := scanComments(rows)
	if err != nil {
		return nil, err
	}

	page := &domain.Page{Data: data}
	if err := br.QueryRow().Scan(&page.Meta.Pagination.Total); err != nil {
		return nil, fmt.Errorf("failed to count comments: %w", err)
	}
	if err := br.QueryRow().Scan(&page.Meta.TotalComments); err != nil {
		return nil, fmt.Errorf("failed to count post comments: %w", err)
	}

	page.Meta.Pagination.Count = len(data)
	page.Meta.Pagination.Limit = q.Limit
	page.Meta.Pagination.Offset = q.Offset
	return page, nil
}

func scanComments(rows pgx.Rows) ([]*domain.Comment, error) {
	defer rows.Close()

	comments := make([]*domain.Comment, 0)
	for rows.Next() {
		var (
			c        domain.Comment
			authorID *int64
			fullName *string
			avatar   string
		)
		err := rows.Scan(
			&c.ID,
			&c.PostID,
			&c.ParentID,
			&c.UserID,
			&c.Content,
			&c.CreatedAt,
			&c.UpdatedAt,
			&authorID,
			&fullName,
			&avatar,
			&c.ReplyCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}

		if authorID != nil {
			c.User = &domain.Author{ID: *authorID, Avatar: avatar}
			if fullName != nil {
				c.User.FullName = *fullName
			}
		}
		// без ответов список считается загруженным
		if c.ReplyCount == 0 {
			c.Replies = []*domain.Comment{}
		}

		comments = append(comments, &c)
	}

	if err := rows.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return comments, nil
}
