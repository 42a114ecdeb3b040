package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/freeeve/hexhold/api/internal/model"
)

// ConstructionRepo handles the construction queue table.
type ConstructionRepo struct {
	q querier
}

// NewConstructionRepo creates a ConstructionRepo running auto-committed on db.
func NewConstructionRepo(db *sql.DB) *ConstructionRepo {
	return &ConstructionRepo{q: db}
}

// ListDue returns construction entries due by `until`, oldest first.
func (r *ConstructionRepo) ListDue(ctx context.Context, settlementID string, until time.Time) ([]model.ConstructionEntry, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, settlement_id, building, target_level, due_at, created_at
		 FROM construction_queue WHERE settlement_id = $1 AND due_at <= $2
		 ORDER BY due_at, id`, settlementID, until)
	if err != nil {
		return nil, fmt.Errorf("list due construction: %w", err)
	}
	return scanConstruction(rows)
}

// ListBySettlement returns the full pending construction queue, oldest first.
func (r *ConstructionRepo) ListBySettlement(ctx context.Context, settlementID string) ([]model.ConstructionEntry, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, settlement_id, building, target_level, due_at, created_at
		 FROM construction_queue WHERE settlement_id = $1 ORDER BY due_at, id`, settlementID)
	if err != nil {
		return nil, fmt.Errorf("list construction: %w", err)
	}
	return scanConstruction(rows)
}

// LastDue returns the due time of the latest pending entry, or zero.
func (r *ConstructionRepo) LastDue(ctx context.Context, settlementID string) (time.Time, error) {
	var due sql.NullTime
	err := r.q.QueryRowContext(ctx,
		`SELECT MAX(due_at) FROM construction_queue WHERE settlement_id = $1`, settlementID,
	).Scan(&due)
	if err != nil {
		return time.Time{}, fmt.Errorf("last construction due: %w", err)
	}
	return due.Time, nil
}

// Insert adds a construction entry, filling in the generated ID.
func (r *ConstructionRepo) Insert(ctx context.Context, e *model.ConstructionEntry) error {
	err := r.q.QueryRowContext(ctx,
		`INSERT INTO construction_queue (settlement_id, building, target_level, due_at)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		e.SettlementID, e.Building, e.TargetLevel, e.DueAt,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert construction: %w", err)
	}
	return nil
}

// Delete removes a construction entry, reporting whether it still existed.
func (r *ConstructionRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM construction_queue WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete construction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete construction: %w", err)
	}
	return n > 0, nil
}

func scanConstruction(rows *sql.Rows) ([]model.ConstructionEntry, error) {
	defer rows.Close()
	var out []model.ConstructionEntry
	for rows.Next() {
		var e model.ConstructionEntry
		if err := rows.Scan(&e.ID, &e.SettlementID, &e.Building, &e.TargetLevel, &e.DueAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan construction: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecruitmentRepo handles the recruitment queue table.
type RecruitmentRepo struct {
	q querier
}

// NewRecruitmentRepo creates a RecruitmentRepo running auto-committed on db.
func NewRecruitmentRepo(db *sql.DB) *RecruitmentRepo {
	return &RecruitmentRepo{q: db}
}

// ListDue returns recruitment entries due by `until`, oldest first.
func (r *RecruitmentRepo) ListDue(ctx context.Context, settlementID string, until time.Time) ([]model.RecruitmentEntry, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, settlement_id, unit, amount, due_at, created_at
		 FROM recruitment_queue WHERE settlement_id = $1 AND due_at <= $2
		 ORDER BY due_at, id`, settlementID, until)
	if err != nil {
		return nil, fmt.Errorf("list due recruitment: %w", err)
	}
	return scanRecruitment(rows)
}

// ListBySettlement returns the full pending recruitment queue, oldest first.
func (r *RecruitmentRepo) ListBySettlement(ctx context.Context, settlementID string) ([]model.RecruitmentEntry, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, settlement_id, unit, amount, due_at, created_at
		 FROM recruitment_queue WHERE settlement_id = $1 ORDER BY due_at, id`, settlementID)
	if err != nil {
		return nil, fmt.Errorf("list recruitment: %w", err)
	}
	return scanRecruitment(rows)
}

// LastDue returns the due time of the latest pending entry, or zero.
// Recruitment serializes: the next order starts here.
func (r *RecruitmentRepo) LastDue(ctx context.Context, settlementID string) (time.Time, error) {
	var due sql.NullTime
	err := r.q.QueryRowContext(ctx,
		`SELECT MAX(due_at) FROM recruitment_queue WHERE settlement_id = $1`, settlementID,
	).Scan(&due)
	if err != nil {
		return time.Time{}, fmt.Errorf("last recruitment due: %w", err)
	}
	return due.Time, nil
}

// Insert adds a recruitment entry, filling in the generated ID.
func (r *RecruitmentRepo) Insert(ctx context.Context, e *model.RecruitmentEntry) error {
	err := r.q.QueryRowContext(ctx,
		`INSERT INTO recruitment_queue (settlement_id, unit, amount, due_at)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		e.SettlementID, e.Unit, e.Amount, e.DueAt,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert recruitment: %w", err)
	}
	return nil
}

// Delete removes a recruitment entry, reporting whether it still existed.
func (r *RecruitmentRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM recruitment_queue WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete recruitment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete recruitment: %w", err)
	}
	return n > 0, nil
}

func scanRecruitment(rows *sql.Rows) ([]model.RecruitmentEntry, error) {
	defer rows.Close()
	var out []model.RecruitmentEntry
	for rows.Next() {
		var e model.RecruitmentEntry
		if err := rows.Scan(&e.ID, &e.SettlementID, &e.Unit, &e.Amount, &e.DueAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recruitment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
