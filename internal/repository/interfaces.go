package repository

import (
	"context"
	"time"

	"github.com/freeeve/hexhold/api/internal/model"
	"github.com/freeeve/hexhold/api/pkg/hexmap"
)

// UnitOfWork groups the repositories bound to one storage transaction.
// Entities read for mutation must be written back through the same unit of
// work; nothing outside a unit of work may mutate simulation state.
type UnitOfWork interface {
	Settlements() SettlementRepository
	Construction() ConstructionRepository
	Recruitment() RecruitmentRepository
	Movements() MovementRepository
	Supports() SupportRepository
	Reports() ReportRepository
	Players() PlayerRepository
	World() WorldRepository
}

// Store is the root storage handle. Methods called directly on the Store
// run auto-committed; InTx runs fn inside one transaction, committing on
// nil and rolling back everything on error.
type Store interface {
	UnitOfWork
	InTx(ctx context.Context, fn func(uow UnitOfWork) error) error
}

// SettlementRepository defines settlement persistence.
type SettlementRepository interface {
	FindByID(ctx context.Context, id string) (*model.Settlement, error)
	FindByCoord(ctx context.Context, coord hexmap.Coord) (*model.Settlement, error)
	// LockByID reads a settlement with a row lock for the duration of the
	// surrounding transaction. Only meaningful inside InTx.
	LockByID(ctx context.Context, id string) (*model.Settlement, error)
	ListUnclaimed(ctx context.Context) ([]model.Settlement, error)
	ListByPlayer(ctx context.Context, playerID string) ([]model.Settlement, error)
	OccupiedCoords(ctx context.Context) (map[hexmap.Coord]bool, error)
	Create(ctx context.Context, s *model.Settlement) error
	// Update writes back all mutable fields (owner, buildings, units,
	// resources, loyalty, production, points, updated_at).
	Update(ctx context.Context, s *model.Settlement) error
}

// ConstructionRepository defines construction queue persistence.
type ConstructionRepository interface {
	ListDue(ctx context.Context, settlementID string, until time.Time) ([]model.ConstructionEntry, error)
	ListBySettlement(ctx context.Context, settlementID string) ([]model.ConstructionEntry, error)
	// LastDue returns the due time of the latest pending entry, or the
	// zero time when the queue is empty.
	LastDue(ctx context.Context, settlementID string) (time.Time, error)
	Insert(ctx context.Context, e *model.ConstructionEntry) error
	// Delete removes an entry and reports whether it still existed. A false
	// return means a concurrent resolver already applied it.
	Delete(ctx context.Context, id string) (bool, error)
}

// RecruitmentRepository defines recruitment queue persistence.
type RecruitmentRepository interface {
	ListDue(ctx context.Context, settlementID string, until time.Time) ([]model.RecruitmentEntry, error)
	ListBySettlement(ctx context.Context, settlementID string) ([]model.RecruitmentEntry, error)
	LastDue(ctx context.Context, settlementID string) (time.Time, error)
	Insert(ctx context.Context, e *model.RecruitmentEntry) error
	Delete(ctx context.Context, id string) (bool, error)
}

// MovementRepository defines movement queue persistence. Movements are
// jointly owned: visible from the origin as outbound and from the target
// as inbound.
type MovementRepository interface {
	FindByID(ctx context.Context, id string) (*model.MovementEntry, error)
	// ListDueTouching returns movements due by `until` whose origin or
	// target is the given settlement.
	ListDueTouching(ctx context.Context, settlementID string, until time.Time) ([]model.MovementEntry, error)
	ListByOrigin(ctx context.Context, originID string) ([]model.MovementEntry, error)
	ListByTarget(ctx context.Context, targetID string) ([]model.MovementEntry, error)
	Insert(ctx context.Context, e *model.MovementEntry) error
	Delete(ctx context.Context, id string) (bool, error)
	// DeleteByOrigin cancels every pending movement leaving a settlement.
	// Used on conquest; the troops are considered lost.
	DeleteByOrigin(ctx context.Context, originID string) error
}

// SupportRepository defines standing-support persistence.
type SupportRepository interface {
	FindByID(ctx context.Context, id string) (*model.SupportEntry, error)
	ListByTarget(ctx context.Context, targetID string) ([]model.SupportEntry, error)
	ListByOrigin(ctx context.Context, originID string) ([]model.SupportEntry, error)
	Insert(ctx context.Context, e *model.SupportEntry) error
	UpdateUnits(ctx context.Context, id string, units map[model.UnitKind]int) error
	Delete(ctx context.Context, id string) error
	DeleteByOrigin(ctx context.Context, originID string) error
}

// ReportRepository defines battle report persistence. Reports are
// write-once.
type ReportRepository interface {
	Insert(ctx context.Context, r *model.Report) error
	FindByID(ctx context.Context, id string) (*model.Report, error)
	ListBySettlement(ctx context.Context, settlementID string, limit int) ([]model.Report, error)
	ListByPlayer(ctx context.Context, playerID string, limit int) ([]model.Report, error)
}

// PlayerRepository defines player persistence and the score sink.
type PlayerRepository interface {
	FindByID(ctx context.Context, id string) (*model.Player, error)
	Create(ctx context.Context, name string) (*model.Player, error)
	ApplyScoreDelta(ctx context.Context, playerID string, delta int) error
}

// WorldRepository tracks world-level background service state.
type WorldRepository interface {
	LastGrowth(ctx context.Context) (time.Time, error)
	SetLastGrowth(ctx context.Context, t time.Time) error
	LastExpansion(ctx context.Context) (time.Time, error)
	SetLastExpansion(ctx context.Context, t time.Time) error
}
