// Package battle implements the combat resolution engine.
//
// The engine is pure: it takes a fully materialized snapshot of the
// attacking force and the defending settlement (garrison, stationed
// supports, wall, loyalty, resource stock) and computes the complete
// mechanical outcome. Persistence, notification, and follow-up movements
// are the caller's concern.
package battle

import (
	"math/rand"
	"sort"
)

// Class is a combat class. Attacks belong to exactly one class; defense
// values are tracked per class.
type Class int

const (
	ClassGeneral Class = iota
	ClassCavalry
	ClassArcher
	classCount
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassGeneral:
		return "general"
	case ClassCavalry:
		return "cavalry"
	case ClassArcher:
		return "archer"
	}
	return "unknown"
}

// UnitStats holds the combat-relevant stats of one unit kind.
type UnitStats struct {
	Attack     int
	Class      Class
	DefGeneral int
	DefCavalry int
	DefArcher  int
	Haul       int
	Noble      bool
}

// defenseVs returns the unit's defense value against an attack of class c.
func (u UnitStats) defenseVs(c Class) int {
	switch c {
	case ClassCavalry:
		return u.DefCavalry
	case ClassArcher:
		return u.DefArcher
	default:
		return u.DefGeneral
	}
}

// Force maps unit kind to a count. Counts are never negative.
type Force map[string]int

// Total returns the number of units in the force.
func (f Force) Total() int {
	n := 0
	for _, c := range f {
		n += c
	}
	return n
}

// Empty reports whether the force contains no units.
func (f Force) Empty() bool {
	return f.Total() == 0
}

// Clone returns a copy of the force.
func (f Force) Clone() Force {
	out := make(Force, len(f))
	for k, c := range f {
		out[k] = c
	}
	return out
}

// kinds returns the unit kinds of the force in sorted order, for
// deterministic iteration.
func (f Force) kinds() []string {
	out := make([]string, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SupportGroup is one standing support contribution to the defense.
// ID is opaque to the engine and carried through to the outcome so the
// caller can patch or delete the backing entry.
type SupportGroup struct {
	ID    string
	Units Force
}

// Resources is a resource stock or haul.
type Resources struct {
	Wood float64 `json:"wood"`
	Clay float64 `json:"clay"`
	Iron float64 `json:"iron"`
}

// Total returns the summed stock across all three kinds.
func (r Resources) Total() float64 {
	return r.Wood + r.Clay + r.Iron
}

// Input is a complete combat snapshot, both sides as-of the same instant.
type Input struct {
	Stats     map[string]UnitStats
	Attackers Force
	Garrison  Force // defender's in-settlement units
	Supports  []SupportGroup
	WallBonus float64 // multiplier >= 1; values below 1 are treated as 1
	Loyalty   float64
	Stock     Resources

	// Per-noble loyalty damage range, inclusive. Each surviving noble
	// rolls independently.
	LoyaltyHitMin int
	LoyaltyHitMax int

	// Rand drives the loyalty rolls. Callers pass a seeded source so a
	// retried resolution reproduces the same outcome.
	Rand *rand.Rand
}

// Winner tags the winning side.
type Winner int

const (
	DefenderWon Winner = iota
	AttackerWon
)

// String returns the outcome tag used in reports.
func (w Winner) String() string {
	if w == AttackerWon {
		return "attacker_won"
	}
	return "defender_won"
}

// Outcome is the full mechanical result of one attack resolution.
type Outcome struct {
	Winner           Winner
	Survival         float64 // winning side's survival fraction
	SurvivalClamped  bool    // raw formula result fell outside [0,1]
	AttackerStrength float64 // effective scalar strengths
	DefenderStrength float64

	AttackerSurvivors Force // attacker win only; after conquest noble cost
	AttackerLosses    Force
	DefenderLosses    Force
	SupportLosses     []SupportGroup // parallel to Input.Supports
	SupportRemaining  []SupportGroup // groups with units left (defender win)

	Haul          Resources
	LoyaltyBefore float64
	LoyaltyAfter  float64
	Conquered     bool
}
