package model

import (
	"time"

	"github.com/freeeve/hexhold/api/pkg/battle"
	"github.com/freeeve/hexhold/api/pkg/hexmap"
)

// BuildingKind identifies a structure type.
type BuildingKind string

const (
	BuildingHeadquarters BuildingKind = "headquarters"
	BuildingTimberCamp   BuildingKind = "timber_camp"
	BuildingClayPit      BuildingKind = "clay_pit"
	BuildingIronMine     BuildingKind = "iron_mine"
	BuildingWarehouse    BuildingKind = "warehouse"
	BuildingFarm         BuildingKind = "farm"
	BuildingBarracks     BuildingKind = "barracks"
	BuildingWall         BuildingKind = "wall"
	BuildingAcademy      BuildingKind = "academy"
)

// UnitKind identifies a military unit type.
type UnitKind string

const (
	UnitSpear  UnitKind = "spear"
	UnitSword  UnitKind = "sword"
	UnitAxe    UnitKind = "axe"
	UnitArcher UnitKind = "archer"
	UnitLight  UnitKind = "light"
	UnitHeavy  UnitKind = "heavy"
	UnitNoble  UnitKind = "noble"
)

// Building is the per-kind structure state of a settlement.
// QueuedLevel is the highest level currently pending in the construction
// queue, or 0 when nothing is queued.
type Building struct {
	Level       int `json:"level"`
	QueuedLevel int `json:"queued_level,omitempty"`
}

// Garrison is the per-kind unit state of a settlement. Inside units defend
// and can be sent out; Outside units are traveling or stationed elsewhere;
// Queued units are still being recruited.
type Garrison struct {
	Inside  int `json:"inside"`
	Outside int `json:"outside,omitempty"`
	Queued  int `json:"queued,omitempty"`
}

// Resources is a settlement's resource stock (or a production rate, or a
// movement haul). Alias of the battle engine's type so snapshots flow into
// combat without conversion.
type Resources = battle.Resources

// Settlement is a player-owned or unclaimed base on the hex map.
type Settlement struct {
	ID        string                    `json:"id"`
	PlayerID  string                    `json:"player_id,omitempty"` // empty = unclaimed
	Name      string                    `json:"name"`
	Coord     hexmap.Coord              `json:"coord"`
	Buildings map[BuildingKind]Building `json:"buildings"`
	Units     map[UnitKind]Garrison     `json:"units"`
	Resources Resources                 `json:"resources"`
	Loyalty   float64                   `json:"loyalty"`
	// Production is the derived per-hour rate; recomputed whenever a
	// production building changes level.
	Production Resources `json:"production"`
	Points     int       `json:"points"`
	UpdatedAt  time.Time `json:"updated_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Unclaimed reports whether no player owns the settlement.
func (s *Settlement) Unclaimed() bool { return s.PlayerID == "" }

// Level returns the current level of a building, 0 if absent.
func (s *Settlement) Level(kind BuildingKind) int {
	return s.Buildings[kind].Level
}

// InsideForce returns the in-settlement garrison as a battle force.
func (s *Settlement) InsideForce() battle.Force {
	f := make(battle.Force)
	for kind, g := range s.Units {
		if g.Inside > 0 {
			f[string(kind)] = g.Inside
		}
	}
	return f
}

// MovementKind is the purpose of a troop movement.
type MovementKind string

const (
	MovementAttack  MovementKind = "attack"
	MovementSupport MovementKind = "support"
	MovementReturn  MovementKind = "return"
)

// ConstructionEntry is a pending building upgrade.
type ConstructionEntry struct {
	ID           string       `json:"id"`
	SettlementID string       `json:"settlement_id"`
	Building     BuildingKind `json:"building"`
	TargetLevel  int          `json:"target_level"`
	DueAt        time.Time    `json:"due_at"`
	CreatedAt    time.Time    `json:"created_at"`
}

// RecruitmentEntry is a pending unit order. Orders from one settlement
// serialize: a new order starts when the previous one is due.
type RecruitmentEntry struct {
	ID           string    `json:"id"`
	SettlementID string    `json:"settlement_id"`
	Unit         UnitKind  `json:"unit"`
	Amount       int       `json:"amount"`
	DueAt        time.Time `json:"due_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// MovementEntry is a troop movement between two settlements. Haul is only
// meaningful for return movements.
type MovementEntry struct {
	ID       string           `json:"id"`
	Kind     MovementKind     `json:"kind"`
	OriginID string           `json:"origin_id"`
	TargetID string           `json:"target_id"`
	Units    map[UnitKind]int `json:"units"`
	Haul     Resources        `json:"haul,omitempty"`
	DueAt    time.Time        `json:"due_at"`
	SentAt   time.Time        `json:"sent_at"`
}

// Force returns the moving units as a battle force.
func (m *MovementEntry) Force() battle.Force {
	f := make(battle.Force)
	for kind, n := range m.Units {
		if n > 0 {
			f[string(kind)] = n
		}
	}
	return f
}

// SupportEntry is a standing detachment stationed at another settlement.
// It persists until recalled or destroyed in combat.
type SupportEntry struct {
	ID        string           `json:"id"`
	OriginID  string           `json:"origin_id"`
	TargetID  string           `json:"target_id"`
	Units     map[UnitKind]int `json:"units"`
	CreatedAt time.Time        `json:"created_at"`
}

// Force returns the stationed units as a battle force.
func (s *SupportEntry) Force() battle.Force {
	f := make(battle.Force)
	for kind, n := range s.Units {
		if n > 0 {
			f[string(kind)] = n
		}
	}
	return f
}

// Report is the immutable record of one resolved attack.
type Report struct {
	ID               string           `json:"id"`
	Outcome          string           `json:"outcome"` // attacker_won, defender_won
	OriginID         string           `json:"origin_id"`
	TargetID         string           `json:"target_id"`
	AttackerPlayerID string           `json:"attacker_player_id,omitempty"`
	DefenderPlayerID string           `json:"defender_player_id,omitempty"`
	AttackerUnits    map[UnitKind]int `json:"attacker_units"`
	AttackerLosses   map[UnitKind]int `json:"attacker_losses"`
	DefenderUnits    map[UnitKind]int `json:"defender_units"`
	DefenderLosses   map[UnitKind]int `json:"defender_losses"`
	SupportUnits     map[UnitKind]int `json:"support_units,omitempty"`
	SupportLosses    map[UnitKind]int `json:"support_losses,omitempty"`
	Haul             Resources        `json:"haul"`
	LoyaltyBefore    float64          `json:"loyalty_before"`
	LoyaltyAfter     float64          `json:"loyalty_after"`
	Conquered        bool             `json:"conquered"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Player is a registered player. Points is the ranking score sink.
type Player struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Points    int       `json:"points"`
	CreatedAt time.Time `json:"created_at"`
}

// KindForce converts a battle force back to typed unit counts.
func KindForce(f battle.Force) map[UnitKind]int {
	out := make(map[UnitKind]int, len(f))
	for k, n := range f {
		if n > 0 {
			out[UnitKind(k)] = n
		}
	}
	return out
}
