package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"go-audit-trail/internal/model"
)

// UserRepository reads display identities from the host application's users
// table. It never writes to it.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// LookupActors resolves ids in one round-trip. Ids with no row are absent
// from the result.
func (r *UserRepository) LookupActors(ctx context.Context, ids []int64) (map[int64]model.Actor, error) {
	out := make(map[int64]model.Actor, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, COALESCE(name, ''), COALESCE(email, '') FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a model.Actor
		if err := rows.Scan(&a.ID, &a.Name, &a.Email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}
