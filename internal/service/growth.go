package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/hexhold/api/internal/model"
	"github.com/freeeve/hexhold/api/internal/repository"
	"github.com/freeeve/hexhold/api/internal/world"
)

// GrowthService levels up unclaimed settlements on a fixed cadence so the
// frontier stays worth conquering. Each tick is one transaction: every
// eligible settlement gains one building level, chosen deterministically
// from the tick time and settlement ID, so a retried or replayed tick
// produces the same world.
type GrowthService struct {
	store repository.Store
	cfg   *world.Config
}

// NewGrowthService creates a GrowthService.
func NewGrowthService(store repository.Store, cfg *world.Config) *GrowthService {
	return &GrowthService{store: store, cfg: cfg}
}

// RunDue applies every growth tick elapsed since the stored watermark,
// one interval at a time, and returns how many ticks ran. A server that
// was down catches up through the same sequence of ticks it would have
// run live.
func (g *GrowthService) RunDue(ctx context.Context, now time.Time) (int, error) {
	applied := 0
	for {
		last, err := g.store.World().LastGrowth(ctx)
		if err != nil {
			return applied, err
		}
		tick := now
		if !last.IsZero() {
			tick = last.Add(g.cfg.GrowthInterval())
		}
		if tick.After(now) {
			return applied, nil
		}
		if err := g.runTick(ctx, tick); err != nil {
			return applied, err
		}
		applied++
	}
}

// NextTick returns when the next growth tick is due.
func (g *GrowthService) NextTick(ctx context.Context) (time.Time, error) {
	last, err := g.store.World().LastGrowth(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if last.IsZero() {
		return time.Now(), nil
	}
	return last.Add(g.cfg.GrowthInterval()), nil
}

func (g *GrowthService) runTick(ctx context.Context, tick time.Time) error {
	tickKey := tick.UTC().Format(time.RFC3339)
	grown := 0

	err := g.store.InTx(ctx, func(uow repository.UnitOfWork) error {
		// Re-read inside the transaction: another instance may have
		// advanced the watermark between RunDue's read and here.
		last, err := uow.World().LastGrowth(ctx)
		if err != nil {
			return err
		}
		if !last.Before(tick) {
			return nil
		}

		settlements, err := uow.Settlements().ListUnclaimed(ctx)
		if err != nil {
			return err
		}
		for i := range settlements {
			s := &settlements[i]
			eligible := g.cfg.EligibleUpgrades(s.Buildings)
			if len(eligible) == 0 {
				continue
			}
			pick := eligible[int(seedFor("growth", tickKey, s.ID)%uint64(len(eligible)))]

			projectTo(g.cfg, s, tick)
			if s.Buildings == nil {
				s.Buildings = map[model.BuildingKind]model.Building{}
			}
			b := s.Buildings[pick]
			b.Level++
			s.Buildings[pick] = b
			s.Production = g.cfg.ProductionRate(s.Buildings)
			s.Points = g.cfg.Points(s.Buildings)
			if err := uow.Settlements().Update(ctx, s); err != nil {
				return err
			}
			grown++
		}
		return uow.World().SetLastGrowth(ctx, tick)
	})
	if err != nil {
		return err
	}

	log.Info().Time("tick", tick).Int("settlements", grown).Msg("Growth tick applied")
	return nil
}
