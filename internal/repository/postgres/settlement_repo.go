package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/freeeve/hexhold/api/internal/model"
	"github.com/freeeve/hexhold/api/pkg/hexmap"
)

// SettlementRepo handles settlement database operations.
type SettlementRepo struct {
	q querier
}

// NewSettlementRepo creates a SettlementRepo running auto-committed on db.
func NewSettlementRepo(db *sql.DB) *SettlementRepo {
	return &SettlementRepo{q: db}
}

const settlementColumns = `id, player_id, name, x, y, buildings, units,
	wood, clay, iron, loyalty, prod_wood, prod_clay, prod_iron, points,
	updated_at, created_at`

// FindByID returns a settlement by ID, or nil if it doesn't exist.
func (r *SettlementRepo) FindByID(ctx context.Context, id string) (*model.Settlement, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE id = $1`, id)
	return scanSettlement(row)
}

// FindByCoord returns the settlement at the given coordinate, or nil.
func (r *SettlementRepo) FindByCoord(ctx context.Context, coord hexmap.Coord) (*model.Settlement, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE x = $1 AND y = $2`, coord.X, coord.Y)
	return scanSettlement(row)
}

// LockByID reads a settlement under FOR UPDATE. The row stays locked until
// the surrounding transaction ends.
func (r *SettlementRepo) LockByID(ctx context.Context, id string) (*model.Settlement, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE id = $1 FOR UPDATE`, id)
	return scanSettlement(row)
}

// ListUnclaimed returns all settlements without an owner.
func (r *SettlementRepo) ListUnclaimed(ctx context.Context) ([]model.Settlement, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE player_id IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list unclaimed settlements: %w", err)
	}
	defer rows.Close()

	var out []model.Settlement
	for rows.Next() {
		s, err := scanSettlementRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ListByPlayer returns all settlements owned by a player, oldest first.
func (r *SettlementRepo) ListByPlayer(ctx context.Context, playerID string) ([]model.Settlement, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE player_id = $1 ORDER BY created_at`, playerID)
	if err != nil {
		return nil, fmt.Errorf("list settlements by player: %w", err)
	}
	defer rows.Close()

	var out []model.Settlement
	for rows.Next() {
		s, err := scanSettlementRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// OccupiedCoords returns the set of coordinates holding a settlement.
func (r *SettlementRepo) OccupiedCoords(ctx context.Context) (map[hexmap.Coord]bool, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT x, y FROM settlements`)
	if err != nil {
		return nil, fmt.Errorf("occupied coords: %w", err)
	}
	defer rows.Close()

	out := make(map[hexmap.Coord]bool)
	for rows.Next() {
		var c hexmap.Coord
		if err := rows.Scan(&c.X, &c.Y); err != nil {
			return nil, fmt.Errorf("scan coord: %w", err)
		}
		out[c] = true
	}
	return out, rows.Err()
}

// Create inserts a new settlement, filling in the generated ID and times.
func (r *SettlementRepo) Create(ctx context.Context, s *model.Settlement) error {
	buildings, units, err := marshalMaps(s)
	if err != nil {
		return err
	}
	var playerID sql.NullString
	if s.PlayerID != "" {
		playerID = sql.NullString{String: s.PlayerID, Valid: true}
	}
	err = r.q.QueryRowContext(ctx,
		`INSERT INTO settlements (player_id, name, x, y, buildings, units,
		        wood, clay, iron, loyalty, prod_wood, prod_clay, prod_iron, points, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING id, updated_at, created_at`,
		playerID, s.Name, s.Coord.X, s.Coord.Y, buildings, units,
		s.Resources.Wood, s.Resources.Clay, s.Resources.Iron, s.Loyalty,
		s.Production.Wood, s.Production.Clay, s.Production.Iron, s.Points, s.UpdatedAt,
	).Scan(&s.ID, &s.UpdatedAt, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("create settlement: %w", err)
	}
	return nil
}

// Update writes back all mutable settlement fields.
func (r *SettlementRepo) Update(ctx context.Context, s *model.Settlement) error {
	buildings, units, err := marshalMaps(s)
	if err != nil {
		return err
	}
	var playerID sql.NullString
	if s.PlayerID != "" {
		playerID = sql.NullString{String: s.PlayerID, Valid: true}
	}
	res, err := r.q.ExecContext(ctx,
		`UPDATE settlements SET player_id = $1, name = $2, buildings = $3, units = $4,
		        wood = $5, clay = $6, iron = $7, loyalty = $8,
		        prod_wood = $9, prod_clay = $10, prod_iron = $11, points = $12, updated_at = $13
		 WHERE id = $14`,
		playerID, s.Name, buildings, units,
		s.Resources.Wood, s.Resources.Clay, s.Resources.Iron, s.Loyalty,
		s.Production.Wood, s.Production.Clay, s.Production.Iron, s.Points, s.UpdatedAt, s.ID)
	if err != nil {
		return fmt.Errorf("update settlement: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update settlement: %s not found", s.ID)
	}
	return nil
}

func marshalMaps(s *model.Settlement) ([]byte, []byte, error) {
	buildings, err := json.Marshal(s.Buildings)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal buildings: %w", err)
	}
	units, err := json.Marshal(s.Units)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal units: %w", err)
	}
	return buildings, units, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSettlement(row *sql.Row) (*model.Settlement, error) {
	s, err := scanSettlementFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func scanSettlementRows(rows *sql.Rows) (*model.Settlement, error) {
	return scanSettlementFrom(rows)
}

func scanSettlementFrom(sc rowScanner) (*model.Settlement, error) {
	var s model.Settlement
	var playerID sql.NullString
	var buildings, units []byte
	err := sc.Scan(&s.ID, &playerID, &s.Name, &s.Coord.X, &s.Coord.Y, &buildings, &units,
		&s.Resources.Wood, &s.Resources.Clay, &s.Resources.Iron, &s.Loyalty,
		&s.Production.Wood, &s.Production.Clay, &s.Production.Iron, &s.Points,
		&s.UpdatedAt, &s.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan settlement: %w", err)
	}
	s.PlayerID = playerID.String
	if err := json.Unmarshal(buildings, &s.Buildings); err != nil {
		return nil, fmt.Errorf("unmarshal buildings: %w", err)
	}
	if err := json.Unmarshal(units, &s.Units); err != nil {
		return nil, fmt.Errorf("unmarshal units: %w", err)
	}
	return &s, nil
}
