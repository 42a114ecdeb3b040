package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/freeeve/hexhold/api/internal/model"
)

// PlayerRepo handles player persistence and the score sink.
type PlayerRepo struct {
	q querier
}

// NewPlayerRepo creates a PlayerRepo running auto-committed on db.
func NewPlayerRepo(db *sql.DB) *PlayerRepo {
	return &PlayerRepo{q: db}
}

// FindByID returns a player by ID, or nil.
func (r *PlayerRepo) FindByID(ctx context.Context, id string) (*model.Player, error) {
	var p model.Player
	err := r.q.QueryRowContext(ctx,
		`SELECT id, name, points, created_at FROM players WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Points, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find player: %w", err)
	}
	return &p, nil
}

// Create inserts a new player.
func (r *PlayerRepo) Create(ctx context.Context, name string) (*model.Player, error) {
	var p model.Player
	err := r.q.QueryRowContext(ctx,
		`INSERT INTO players (name) VALUES ($1) RETURNING id, name, points, created_at`, name,
	).Scan(&p.ID, &p.Name, &p.Points, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create player: %w", err)
	}
	return &p, nil
}

// ApplyScoreDelta adjusts a player's points. Points never go below zero.
func (r *PlayerRepo) ApplyScoreDelta(ctx context.Context, playerID string, delta int) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE players SET points = GREATEST(0, points + $1) WHERE id = $2`, delta, playerID)
	if err != nil {
		return fmt.Errorf("apply score delta: %w", err)
	}
	return nil
}

// WorldRepo tracks world-level background service timestamps.
type WorldRepo struct {
	q querier
}

// NewWorldRepo creates a WorldRepo running auto-committed on db.
func NewWorldRepo(db *sql.DB) *WorldRepo {
	return &WorldRepo{q: db}
}

// LastGrowth returns the time of the last committed growth batch.
func (r *WorldRepo) LastGrowth(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := r.q.QueryRowContext(ctx, `SELECT last_growth FROM world_state WHERE id = 1`).Scan(&t)
	if err != nil {
		return time.Time{}, fmt.Errorf("last growth: %w", err)
	}
	return t, nil
}

// SetLastGrowth advances the growth watermark.
func (r *WorldRepo) SetLastGrowth(ctx context.Context, t time.Time) error {
	_, err := r.q.ExecContext(ctx, `UPDATE world_state SET last_growth = $1 WHERE id = 1`, t)
	if err != nil {
		return fmt.Errorf("set last growth: %w", err)
	}
	return nil
}

// LastExpansion returns the time of the last committed expansion batch.
func (r *WorldRepo) LastExpansion(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := r.q.QueryRowContext(ctx, `SELECT last_expansion FROM world_state WHERE id = 1`).Scan(&t)
	if err != nil {
		return time.Time{}, fmt.Errorf("last expansion: %w", err)
	}
	return t, nil
}

// SetLastExpansion advances the expansion watermark.
func (r *WorldRepo) SetLastExpansion(ctx context.Context, t time.Time) error {
	_, err := r.q.ExecContext(ctx, `UPDATE world_state SET last_expansion = $1 WHERE id = 1`, t)
	if err != nil {
		return fmt.Errorf("set last expansion: %w", err)
	}
	return nil
}
