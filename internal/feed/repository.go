package feed

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sraphaz/araponga-sub002/internal/shared"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx, so the store can join
// a caller's transaction (the moderation decision flow does).
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists posts.
type Store interface {
	Insert(ctx context.Context, post Post) (int64, error)
	GetByID(ctx context.Context, id int64) (Post, error)
	ListVisible(ctx context.Context, territoryID int64, limit, offset int) ([]Post, error)
	SetHidden(ctx context.Context, id int64, hidden bool) error
}

type store struct {
	db DBTX
}

// NewStore constructs a post store over the given pool or transaction.
func NewStore(db DBTX) Store {
	return &store{db: db}
}

const postColumns = `id, territory_id, author_id, body, hidden, created_at`

func (s *store) Insert(ctx context.Context, post Post) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `INSERT INTO posts
(territory_id, author_id, body, hidden, created_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		post.TerritoryID, post.AuthorID, post.Body, post.Hidden, post.CreatedAt).Scan(&id)
	return id, err
}

func (s *store) GetByID(ctx context.Context, id int64) (Post, error) {
	var post Post
	err := s.db.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id).
		Scan(&post.ID, &post.TerritoryID, &post.AuthorID, &post.Body, &post.Hidden, &post.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Post{}, shared.ErrNotFound
		}
		return Post{}, err
	}
	return post, nil
}

func (s *store) ListVisible(ctx context.Context, territoryID int64, limit, offset int) ([]Post, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	rows, err := s.db.Query(ctx, `SELECT `+postColumns+` FROM posts
WHERE territory_id = $1 AND hidden = FALSE
ORDER BY created_at DESC LIMIT $2 OFFSET $3`, territoryID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var post Post
		if err := rows.Scan(&post.ID, &post.TerritoryID, &post.AuthorID, &post.Body, &post.Hidden, &post.CreatedAt); err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func (s *store) SetHidden(ctx context.Context, id int64, hidden bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE posts SET hidden = $1 WHERE id = $2`, hidden, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
