// internal/database/player.go
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PlayerProfile is the persistent per-player progression row the reward hook
// updates when a session finishes.
type PlayerProfile struct {
	ID          int64
	Name        string
	Coins       int
	XP          int
	Level       int
	NextLevelXP int
	Wins        int
}

// PlayerRepo reads and writes player progression rows.
type PlayerRepo struct {
	pool *pgxpool.Pool
}

// NewPlayerRepo wraps a pgx pool.
func NewPlayerRepo(pool *pgxpool.Pool) *PlayerRepo {
	return &PlayerRepo{pool: pool}
}

// Get loads a profile, or nil if the player has never been seen.
func (r *PlayerRepo) Get(ctx context.Context, id int64) (*PlayerProfile, error) {
	q := `SELECT id, name, coins, xp, level, next_level_xp, wins FROM players WHERE id = $1`

	var p PlayerProfile
	err := r.pool.QueryRow(ctx, q, id).Scan(&p.ID, &p.Name, &p.Coins, &p.XP, &p.Level, &p.NextLevelXP, &p.Wins)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get player %d: %w", id, err)
	}
	return &p, nil
}

// Ensure creates the profile row if missing and returns it either way.
func (r *PlayerRepo) Ensure(ctx context.Context, id int64, name string) (*PlayerProfile, error) {
	q := `INSERT INTO players (id, name)
	      VALUES ($1, $2)
	      ON CONFLICT (id) DO UPDATE SET name = CASE WHEN $2 <> '' THEN $2 ELSE players.name END
	      RETURNING id, name, coins, xp, level, next_level_xp, wins`

	var p PlayerProfile
	err := r.pool.QueryRow(ctx, q, id, name).Scan(&p.ID, &p.Name, &p.Coins, &p.XP, &p.Level, &p.NextLevelXP, &p.Wins)
	if err != nil {
		return nil, fmt.Errorf("ensure player %d: %w", id, err)
	}
	return &p, nil
}

// Update writes back a mutated profile.
func (r *PlayerRepo) Update(ctx context.Context, p *PlayerProfile) error {
	q := `UPDATE players SET coins = $1, xp = $2, level = $3, next_level_xp = $4, wins = $5 WHERE id = $6`

	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, e := tx.Exec(ctx, q, p.Coins, p.XP, p.Level, p.NextLevelXP, p.Wins, p.ID)
		return e
	})
	if err != nil {
		return fmt.Errorf("update player %d: %w", p.ID, err)
	}
	return nil
}

// TopBy returns the highest-ranked profiles ordered by a progression column.
func (r *PlayerRepo) TopBy(ctx context.Context, by string, limit int) ([]PlayerProfile, error) {
	col := "coins"
	switch by {
	case "coins", "xp", "level", "wins":
		col = by
	}
	q := fmt.Sprintf(`SELECT id, name, coins, xp, level, next_level_xp, wins
	                  FROM players ORDER BY %s DESC LIMIT $1`, col)

	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("top players by %s: %w", col, err)
	}
	defer rows.Close()

	var out []PlayerProfile
	for rows.Next() {
		var p PlayerProfile
		if err := rows.Scan(&p.ID, &p.Name, &p.Coins, &p.XP, &p.Level, &p.NextLevelXP, &p.Wins); err != nil {
			return nil, fmt.Errorf("scan player row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
