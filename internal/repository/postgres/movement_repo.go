package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/freeeve/hexhold/api/internal/model"
)

// MovementRepo handles the movements table.
type MovementRepo struct {
	q querier
}

// NewMovementRepo creates a MovementRepo running auto-committed on db.
func NewMovementRepo(db *sql.DB) *MovementRepo {
	return &MovementRepo{q: db}
}

const movementColumns = `id, kind, origin_id, target_id, units,
	haul_wood, haul_clay, haul_iron, due_at, sent_at`

// FindByID returns a movement by ID, or nil.
func (r *MovementRepo) FindByID(ctx context.Context, id string) (*model.MovementEntry, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+movementColumns+` FROM movements WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("find movement: %w", err)
	}
	out, err := scanMovements(rows)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return &out[0], nil
}

// ListDueTouching returns movements due by `until` that either leave or
// arrive at the given settlement, oldest first.
func (r *MovementRepo) ListDueTouching(ctx context.Context, settlementID string, until time.Time) ([]model.MovementEntry, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+movementColumns+` FROM movements
		 WHERE (origin_id = $1 OR target_id = $1) AND due_at <= $2
		 ORDER BY due_at, id`, settlementID, until)
	if err != nil {
		return nil, fmt.Errorf("list due movements: %w", err)
	}
	return scanMovements(rows)
}

// ListByOrigin returns all pending movements leaving a settlement.
func (r *MovementRepo) ListByOrigin(ctx context.Context, originID string) ([]model.MovementEntry, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+movementColumns+` FROM movements WHERE origin_id = $1 ORDER BY due_at, id`, originID)
	if err != nil {
		return nil, fmt.Errorf("list outbound movements: %w", err)
	}
	return scanMovements(rows)
}

// ListByTarget returns all pending movements arriving at a settlement.
func (r *MovementRepo) ListByTarget(ctx context.Context, targetID string) ([]model.MovementEntry, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+movementColumns+` FROM movements WHERE target_id = $1 ORDER BY due_at, id`, targetID)
	if err != nil {
		return nil, fmt.Errorf("list inbound movements: %w", err)
	}
	return scanMovements(rows)
}

// Insert adds a movement, filling in the generated ID.
func (r *MovementRepo) Insert(ctx context.Context, e *model.MovementEntry) error {
	units, err := json.Marshal(e.Units)
	if err != nil {
		return fmt.Errorf("marshal movement units: %w", err)
	}
	err = r.q.QueryRowContext(ctx,
		`INSERT INTO movements (kind, origin_id, target_id, units, haul_wood, haul_clay, haul_iron, due_at, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		e.Kind, e.OriginID, e.TargetID, units,
		e.Haul.Wood, e.Haul.Clay, e.Haul.Iron, e.DueAt, e.SentAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

// Delete removes a movement, reporting whether it still existed.
func (r *MovementRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM movements WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete movement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete movement: %w", err)
	}
	return n > 0, nil
}

// DeleteByOrigin cancels every pending movement leaving a settlement.
func (r *MovementRepo) DeleteByOrigin(ctx context.Context, originID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM movements WHERE origin_id = $1`, originID)
	if err != nil {
		return fmt.Errorf("delete movements by origin: %w", err)
	}
	return nil
}

func scanMovements(rows *sql.Rows) ([]model.MovementEntry, error) {
	defer rows.Close()
	var out []model.MovementEntry
	for rows.Next() {
		var e model.MovementEntry
		var units []byte
		if err := rows.Scan(&e.ID, &e.Kind, &e.OriginID, &e.TargetID, &units,
			&e.Haul.Wood, &e.Haul.Clay, &e.Haul.Iron, &e.DueAt, &e.SentAt); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		if err := json.Unmarshal(units, &e.Units); err != nil {
			return nil, fmt.Errorf("unmarshal movement units: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SupportRepo handles the standing supports table.
type SupportRepo struct {
	q querier
}

// NewSupportRepo creates a SupportRepo running auto-committed on db.
func NewSupportRepo(db *sql.DB) *SupportRepo {
	return &SupportRepo{q: db}
}

// FindByID returns a support entry by ID, or nil.
func (r *SupportRepo) FindByID(ctx context.Context, id string) (*model.SupportEntry, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, origin_id, target_id, units, created_at FROM supports WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("find support: %w", err)
	}
	out, err := scanSupports(rows)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return &out[0], nil
}

// ListByTarget returns all supports stationed at a settlement.
func (r *SupportRepo) ListByTarget(ctx context.Context, targetID string) ([]model.SupportEntry, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, origin_id, target_id, units, created_at FROM supports WHERE target_id = $1 ORDER BY created_at, id`, targetID)
	if err != nil {
		return nil, fmt.Errorf("list supports by target: %w", err)
	}
	return scanSupports(rows)
}

// ListByOrigin returns all supports a settlement has stationed elsewhere.
func (r *SupportRepo) ListByOrigin(ctx context.Context, originID string) ([]model.SupportEntry, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, origin_id, target_id, units, created_at FROM supports WHERE origin_id = $1 ORDER BY created_at, id`, originID)
	if err != nil {
		return nil, fmt.Errorf("list supports by origin: %w", err)
	}
	return scanSupports(rows)
}

// Insert adds a support entry, filling in the generated ID.
func (r *SupportRepo) Insert(ctx context.Context, e *model.SupportEntry) error {
	units, err := json.Marshal(e.Units)
	if err != nil {
		return fmt.Errorf("marshal support units: %w", err)
	}
	err = r.q.QueryRowContext(ctx,
		`INSERT INTO supports (origin_id, target_id, units) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		e.OriginID, e.TargetID, units,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert support: %w", err)
	}
	return nil
}

// UpdateUnits patches a support entry's unit counts in place.
func (r *SupportRepo) UpdateUnits(ctx context.Context, id string, units map[model.UnitKind]int) error {
	raw, err := json.Marshal(units)
	if err != nil {
		return fmt.Errorf("marshal support units: %w", err)
	}
	_, err = r.q.ExecContext(ctx, `UPDATE supports SET units = $1 WHERE id = $2`, raw, id)
	if err != nil {
		return fmt.Errorf("update support units: %w", err)
	}
	return nil
}

// Delete removes a support entry.
func (r *SupportRepo) Delete(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM supports WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete support: %w", err)
	}
	return nil
}

// DeleteByOrigin removes every support a settlement has stationed elsewhere.
func (r *SupportRepo) DeleteByOrigin(ctx context.Context, originID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM supports WHERE origin_id = $1`, originID)
	if err != nil {
		return fmt.Errorf("delete supports by origin: %w", err)
	}
	return nil
}

func scanSupports(rows *sql.Rows) ([]model.SupportEntry, error) {
	defer rows.Close()
	var out []model.SupportEntry
	for rows.Next() {
		var e model.SupportEntry
		var units []byte
		if err := rows.Scan(&e.ID, &e.OriginID, &e.TargetID, &units, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan support: %w", err)
		}
		if err := json.Unmarshal(units, &e.Units); err != nil {
			return nil, fmt.Errorf("unmarshal support units: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
