package service

import (
	"time"

	"github.com/freeeve/hexhold/api/internal/model"
	"github.com/freeeve/hexhold/api/internal/world"
)

// maxLoyalty is the ceiling loyalty regenerates toward. A settlement may
// start below it (Loyalty.Initial) but always recovers to the full value.
const maxLoyalty = 100

// Project returns the resource stock and loyalty a settlement would hold
// at `at`, without mutating it. Stock accrues at the stored production
// rate and is capped by the warehouse; loyalty regenerates toward its
// maximum. The projection is only valid between queue entries: anything
// that changes rates (a finished mine, a battle) must be applied first.
func Project(cfg *world.Config, s *model.Settlement, at time.Time) (model.Resources, float64) {
	hours := at.Sub(s.UpdatedAt).Hours()
	if hours <= 0 {
		// Clock skew or an already-projected snapshot. Never roll back.
		return s.Resources, s.Loyalty
	}

	cap := cfg.StorageCap(s.Level(model.BuildingWarehouse))
	res := model.Resources{
		Wood: accrue(s.Resources.Wood, s.Production.Wood, hours, cap),
		Clay: accrue(s.Resources.Clay, s.Production.Clay, hours, cap),
		Iron: accrue(s.Resources.Iron, s.Production.Iron, hours, cap),
	}

	loyalty := s.Loyalty + cfg.Loyalty.RegenPerHour*hours
	if loyalty > maxLoyalty {
		loyalty = maxLoyalty
	}
	if loyalty < s.Loyalty {
		// Already above the ceiling (from config changes); regen never lowers it.
		loyalty = s.Loyalty
	}

	return res, loyalty
}

// accrue grows a stock toward the warehouse cap. A stock already above the
// cap (a delivered haul, a shrunk warehouse) is kept, not confiscated.
func accrue(cur, rate, hours, cap float64) float64 {
	if cur >= cap {
		return cur
	}
	next := cur + rate*hours
	if next > cap {
		return cap
	}
	return next
}

// projectTo advances a settlement's stock, loyalty, and clock in place.
// Called at the instant a queue entry applies, so the interval between
// UpdatedAt and `at` is known to contain no other state change.
func projectTo(cfg *world.Config, s *model.Settlement, at time.Time) {
	if !at.After(s.UpdatedAt) {
		return
	}
	s.Resources, s.Loyalty = Project(cfg, s, at)
	s.UpdatedAt = at
}
