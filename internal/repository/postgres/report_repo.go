package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/freeeve/hexhold/api/internal/model"
)

// ReportRepo handles battle report persistence. Unit breakdowns are stored
// as one zstd-compressed JSON blob; they are read far less often than the
// scalar columns and dominate row size for large battles.
type ReportRepo struct {
	q querier
}

// NewReportRepo creates a ReportRepo running auto-committed on db.
func NewReportRepo(db *sql.DB) *ReportRepo {
	return &ReportRepo{q: db}
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// reportUnits is the compressed payload layout.
type reportUnits struct {
	AttackerUnits  map[model.UnitKind]int `json:"attacker_units"`
	AttackerLosses map[model.UnitKind]int `json:"attacker_losses"`
	DefenderUnits  map[model.UnitKind]int `json:"defender_units"`
	DefenderLosses map[model.UnitKind]int `json:"defender_losses"`
	SupportUnits   map[model.UnitKind]int `json:"support_units,omitempty"`
	SupportLosses  map[model.UnitKind]int `json:"support_losses,omitempty"`
}

// Insert persists a report, filling in the generated ID.
func (r *ReportRepo) Insert(ctx context.Context, rep *model.Report) error {
	payload, err := json.Marshal(reportUnits{
		AttackerUnits:  rep.AttackerUnits,
		AttackerLosses: rep.AttackerLosses,
		DefenderUnits:  rep.DefenderUnits,
		DefenderLosses: rep.DefenderLosses,
		SupportUnits:   rep.SupportUnits,
		SupportLosses:  rep.SupportLosses,
	})
	if err != nil {
		return fmt.Errorf("marshal report units: %w", err)
	}
	compressed := zstdEncoder.EncodeAll(payload, nil)

	var attacker, defender sql.NullString
	if rep.AttackerPlayerID != "" {
		attacker = sql.NullString{String: rep.AttackerPlayerID, Valid: true}
	}
	if rep.DefenderPlayerID != "" {
		defender = sql.NullString{String: rep.DefenderPlayerID, Valid: true}
	}

	// Catch-up resolutions pass the combat instant, which can be well in
	// the past; only default to now when the caller left it zero.
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now()
	}

	err = r.q.QueryRowContext(ctx,
		`INSERT INTO reports (outcome, origin_id, target_id, attacker_player_id, defender_player_id,
		        units, haul_wood, haul_clay, haul_iron, loyalty_before, loyalty_after, conquered, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id`,
		rep.Outcome, rep.OriginID, rep.TargetID, attacker, defender,
		compressed, rep.Haul.Wood, rep.Haul.Clay, rep.Haul.Iron,
		rep.LoyaltyBefore, rep.LoyaltyAfter, rep.Conquered, rep.CreatedAt,
	).Scan(&rep.ID)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

const reportColumns = `id, outcome, origin_id, target_id, attacker_player_id, defender_player_id,
	units, haul_wood, haul_clay, haul_iron, loyalty_before, loyalty_after, conquered, created_at`

// FindByID returns a report by ID, or nil.
func (r *ReportRepo) FindByID(ctx context.Context, id string) (*model.Report, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("find report: %w", err)
	}
	out, err := scanReports(rows)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return &out[0], nil
}

// ListBySettlement returns the most recent reports touching a settlement.
func (r *ReportRepo) ListBySettlement(ctx context.Context, settlementID string, limit int) ([]model.Report, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports
		 WHERE origin_id = $1 OR target_id = $1
		 ORDER BY created_at DESC LIMIT $2`, settlementID, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports by settlement: %w", err)
	}
	return scanReports(rows)
}

// ListByPlayer returns the most recent reports involving a player.
func (r *ReportRepo) ListByPlayer(ctx context.Context, playerID string, limit int) ([]model.Report, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports
		 WHERE attacker_player_id = $1 OR defender_player_id = $1
		 ORDER BY created_at DESC LIMIT $2`, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports by player: %w", err)
	}
	return scanReports(rows)
}

func scanReports(rows *sql.Rows) ([]model.Report, error) {
	defer rows.Close()
	var out []model.Report
	for rows.Next() {
		var rep model.Report
		var attacker, defender sql.NullString
		var compressed []byte
		if err := rows.Scan(&rep.ID, &rep.Outcome, &rep.OriginID, &rep.TargetID, &attacker, &defender,
			&compressed, &rep.Haul.Wood, &rep.Haul.Clay, &rep.Haul.Iron,
			&rep.LoyaltyBefore, &rep.LoyaltyAfter, &rep.Conquered, &rep.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		rep.AttackerPlayerID = attacker.String
		rep.DefenderPlayerID = defender.String

		payload, err := zstdDecoder.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress report units: %w", err)
		}
		var units reportUnits
		if err := json.Unmarshal(payload, &units); err != nil {
			return nil, fmt.Errorf("unmarshal report units: %w", err)
		}
		rep.AttackerUnits = units.AttackerUnits
		rep.AttackerLosses = units.AttackerLosses
		rep.DefenderUnits = units.DefenderUnits
		rep.DefenderLosses = units.DefenderLosses
		rep.SupportUnits = units.SupportUnits
		rep.SupportLosses = units.SupportLosses

		out = append(out, rep)
	}
	return out, rows.Err()
}
