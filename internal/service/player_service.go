package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/hexhold/api/internal/model"
	"github.com/freeeve/hexhold/api/internal/repository"
	"github.com/freeeve/hexhold/api/internal/world"
	"github.com/freeeve/hexhold/api/pkg/hexmap"
)

// PlayerService handles player registration and profile reads.
type PlayerService struct {
	store repository.Store
	cfg   *world.Config
}

// NewPlayerService creates a PlayerService.
func NewPlayerService(store repository.Store, cfg *world.Config) *PlayerService {
	return &PlayerService{store: store, cfg: cfg}
}

// Join registers a player and hands them a starting settlement: the oldest
// unclaimed one when available, otherwise a freshly founded one on the
// first free hex walking outward from the map center.
func (p *PlayerService) Join(ctx context.Context, name string, now time.Time) (*model.Player, *model.Settlement, error) {
	var player *model.Player
	var home *model.Settlement

	err := p.store.InTx(ctx, func(uow repository.UnitOfWork) error {
		var err error
		player, err = uow.Players().Create(ctx, name)
		if err != nil {
			return err
		}

		unclaimed, err := uow.Settlements().ListUnclaimed(ctx)
		if err != nil {
			return err
		}
		if len(unclaimed) > 0 {
			home, err = uow.Settlements().LockByID(ctx, unclaimed[0].ID)
			if err != nil {
				return err
			}
		}
		if home != nil {
			projectTo(p.cfg, home, now)
			home.PlayerID = player.ID
			home.Name = name + "'s Hold"
			home.Loyalty = p.cfg.Loyalty.Initial
			if err := uow.Settlements().Update(ctx, home); err != nil {
				return err
			}
		} else {
			home, err = p.foundSettlement(ctx, uow, player.ID, name+"'s Hold", now)
			if err != nil {
				return err
			}
		}
		return uow.Players().ApplyScoreDelta(ctx, player.ID, home.Points)
	})
	if err != nil {
		return nil, nil, err
	}

	log.Info().Str("playerId", player.ID).Str("settlementId", home.ID).Msg("Player joined world")
	return player, home, nil
}

// foundSettlement creates a fresh settlement on the first free hex walking
// outward from the center.
func (p *PlayerService) foundSettlement(ctx context.Context, uow repository.UnitOfWork, playerID, name string, now time.Time) (*model.Settlement, error) {
	occupied, err := uow.Settlements().OccupiedCoords(ctx)
	if err != nil {
		return nil, err
	}

	center := hexmap.Coord{}
	var coord hexmap.Coord
	found := false
	if !occupied[center] {
		coord, found = center, true
	}
	for r := 1; r <= p.cfg.Map.Radius && !found; r++ {
		for _, c := range hexmap.Ring(center, r) {
			if !occupied[c] {
				coord, found = c, true
				break
			}
		}
	}
	if !found {
		return nil, ErrMapFull
	}

	buildings := p.cfg.BaselineBuildings()
	s := &model.Settlement{
		PlayerID:   playerID,
		Name:       name,
		Coord:      coord,
		Buildings:  buildings,
		Units:      map[model.UnitKind]model.Garrison{},
		Resources:  p.cfg.StartResources.Resources(),
		Loyalty:    p.cfg.Loyalty.Initial,
		Production: p.cfg.ProductionRate(buildings),
		Points:     p.cfg.Points(buildings),
		UpdatedAt:  now,
		CreatedAt:  now,
	}
	if err := uow.Settlements().Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns a player with their settlements.
func (p *PlayerService) Get(ctx context.Context, playerID string) (*model.Player, []model.Settlement, error) {
	player, err := p.store.Players().FindByID(ctx, playerID)
	if err != nil {
		return nil, nil, err
	}
	if player == nil {
		return nil, nil, ErrPlayerNotFound
	}
	settlements, err := p.store.Settlements().ListByPlayer(ctx, playerID)
	if err != nil {
		return nil, nil, err
	}
	return player, settlements, nil
}
