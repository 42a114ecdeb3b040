package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ojrac/opensimplex-go"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/hexhold/api/internal/model"
	"github.com/freeeve/hexhold/api/internal/repository"
	"github.com/freeeve/hexhold/api/internal/world"
	"github.com/freeeve/hexhold/api/pkg/hexmap"
)

// ExpansionService seeds new unclaimed settlements across the map on a
// fixed cadence. Spawn probability is shaped by a fixed terrain noise
// field, so settlements cluster into regions instead of spraying
// uniformly; the per-coordinate accept rolls are keyed by tick and
// coordinate, so a replayed tick settles the same hexes.
type ExpansionService struct {
	store repository.Store
	cfg   *world.Config
	noise opensimplex.Noise
}

// NewExpansionService creates an ExpansionService.
func NewExpansionService(store repository.Store, cfg *world.Config) *ExpansionService {
	return &ExpansionService{
		store: store,
		cfg:   cfg,
		noise: opensimplex.New(int64(seedFor("terrain"))),
	}
}

// RunDue applies every expansion tick elapsed since the stored watermark
// and returns how many ticks ran.
func (e *ExpansionService) RunDue(ctx context.Context, now time.Time) (int, error) {
	applied := 0
	for {
		last, err := e.store.World().LastExpansion(ctx)
		if err != nil {
			return applied, err
		}
		tick := now
		if !last.IsZero() {
			tick = last.Add(e.cfg.ExpansionInterval())
		}
		if tick.After(now) {
			return applied, nil
		}
		if err := e.runTick(ctx, tick); err != nil {
			return applied, err
		}
		applied++
	}
}

// NextTick returns when the next expansion tick is due.
func (e *ExpansionService) NextTick(ctx context.Context) (time.Time, error) {
	last, err := e.store.World().LastExpansion(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if last.IsZero() {
		return time.Now(), nil
	}
	return last.Add(e.cfg.ExpansionInterval()), nil
}

func (e *ExpansionService) runTick(ctx context.Context, tick time.Time) error {
	free, err := e.FreeCoords(ctx)
	if err != nil {
		return err
	}

	created, _, err := e.Settle(ctx, free, tick)
	if err != nil {
		// The free set may have gone stale under us (a command founded a
		// settlement mid-tick). Re-query what is genuinely free and retry
		// once before giving up.
		log.Warn().Err(err).Time("tick", tick).Msg("Expansion batch failed, re-querying free coordinates")
		free, qerr := e.FreeCoords(ctx)
		if qerr != nil {
			return qerr
		}
		created, _, err = e.Settle(ctx, free, tick)
		if err != nil {
			return err
		}
	}

	log.Info().Time("tick", tick).Int("created", created).Int("candidates", len(free)).Msg("Expansion tick applied")
	return nil
}

// FreeCoords returns every in-bounds coordinate without a settlement.
func (e *ExpansionService) FreeCoords(ctx context.Context) ([]hexmap.Coord, error) {
	occupied, err := e.store.Settlements().OccupiedCoords(ctx)
	if err != nil {
		return nil, err
	}
	radius := e.cfg.Map.Radius
	center := hexmap.Coord{}
	var out []hexmap.Coord
	for x := -radius; x <= radius; x++ {
		for y := -radius; y <= radius; y++ {
			c := hexmap.Coord{X: x, Y: y}
			if hexmap.Distance(center, c) > radius {
				continue
			}
			if !occupied[c] {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

// Settle rolls every candidate coordinate against the noise-weighted spawn
// probability and creates the accepted ones in one transaction, advancing
// the expansion watermark with them. Returns the created count and the
// coordinates still free after the tick.
func (e *ExpansionService) Settle(ctx context.Context, candidates []hexmap.Coord, tick time.Time) (int, []hexmap.Coord, error) {
	tickKey := tick.UTC().Format(time.RFC3339)
	scale := e.cfg.Expansion.NoiseScale

	var accepted []*model.Settlement
	remaining := make([]hexmap.Coord, 0, len(candidates))
	for _, c := range candidates {
		// Eval2 is in [-1, 1]; remap to [0, 1] as a probability weight.
		n := e.noise.Eval2(float64(c.X)*scale, float64(c.Y)*scale)
		p := e.cfg.Expansion.Probability * (0.5 + 0.5*n)
		if seededUnit("expansion", tickKey, coordKey(c)) < p {
			accepted = append(accepted, e.newSettlement(c, tick))
		} else {
			remaining = append(remaining, c)
		}
	}

	err := e.store.InTx(ctx, func(uow repository.UnitOfWork) error {
		last, err := uow.World().LastExpansion(ctx)
		if err != nil {
			return err
		}
		if !last.Before(tick) {
			accepted = nil
			return nil
		}
		for _, s := range accepted {
			if err := uow.Settlements().Create(ctx, s); err != nil {
				return err
			}
		}
		return uow.World().SetLastExpansion(ctx, tick)
	})
	if err != nil {
		return 0, nil, err
	}
	return len(accepted), remaining, nil
}

// newSettlement builds an unclaimed settlement with baseline structures
// and a small deterministic garrison.
func (e *ExpansionService) newSettlement(c hexmap.Coord, tick time.Time) *model.Settlement {
	buildings := e.cfg.BaselineBuildings()
	garrison := 10 + int(seedFor("expansion-garrison", coordKey(c))%25)
	return &model.Settlement{
		Name:      fmt.Sprintf("Outpost %d|%d", c.X, c.Y),
		Coord:     c,
		Buildings: buildings,
		Units: map[model.UnitKind]model.Garrison{
			model.UnitSpear: {Inside: garrison},
		},
		Resources:  e.cfg.StartResources.Resources(),
		Loyalty:    e.cfg.Loyalty.Initial,
		Production: e.cfg.ProductionRate(buildings),
		Points:     e.cfg.Points(buildings),
		UpdatedAt:  tick,
		CreatedAt:  tick,
	}
}

func coordKey(c hexmap.Coord) string {
	return fmt.Sprintf("%d|%d", c.X, c.Y)
}
