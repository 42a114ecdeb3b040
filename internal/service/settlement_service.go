package service

import (
	"context"
	"time"

	"github.com/freeeve/hexhold/api/internal/model"
	"github.com/freeeve/hexhold/api/internal/repository"
	"github.com/freeeve/hexhold/api/internal/world"
	"github.com/freeeve/hexhold/api/pkg/hexmap"
)

// SettlementService handles player commands against a settlement. Every
// command first catches the settlement up to the command instant, then
// validates and applies against the current state in one transaction.
type SettlementService struct {
	store    repository.Store
	cfg      *world.Config
	resolver *Resolver
	notifier Notifier
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(store repository.Store, cfg *world.Config, resolver *Resolver, notifier Notifier) *SettlementService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &SettlementService{store: store, cfg: cfg, resolver: resolver, notifier: notifier}
}

// SettlementView is a settlement projected to a point in time together
// with its pending queues.
type SettlementView struct {
	Settlement   *model.Settlement         `json:"settlement"`
	Construction []model.ConstructionEntry `json:"construction"`
	Recruitment  []model.RecruitmentEntry  `json:"recruitment"`
	Outbound     []model.MovementEntry     `json:"outbound"`
	Inbound      []model.MovementEntry     `json:"inbound"`
	Supports     []model.SupportEntry      `json:"supports"`
}

// Get returns the settlement as of `now`: all due queue entries applied,
// the open interval since the last entry projected in memory.
func (s *SettlementService) Get(ctx context.Context, settlementID string, now time.Time) (*SettlementView, error) {
	if err := s.resolver.ResolveDue(ctx, settlementID, now); err != nil {
		return nil, err
	}

	st, err := s.store.Settlements().FindByID(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrSettlementNotFound
	}
	projectTo(s.cfg, st, now)

	cons, err := s.store.Construction().ListBySettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	recs, err := s.store.Recruitment().ListBySettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	outbound, err := s.store.Movements().ListByOrigin(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	inbound, err := s.store.Movements().ListByTarget(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	sups, err := s.store.Supports().ListByTarget(ctx, settlementID)
	if err != nil {
		return nil, err
	}

	return &SettlementView{
		Settlement:   st,
		Construction: cons,
		Recruitment:  recs,
		Outbound:     outbound,
		Inbound:      inbound,
		Supports:     sups,
	}, nil
}

// QueueConstruction queues the next upgrade of a building. Upgrades from
// one settlement serialize: the new entry starts when the queue drains.
func (s *SettlementService) QueueConstruction(ctx context.Context, playerID, settlementID string, kind model.BuildingKind, now time.Time) (*model.ConstructionEntry, error) {
	def, ok := s.cfg.Buildings[kind]
	if !ok {
		return nil, ErrUnknownBuilding
	}
	if err := s.resolver.ResolveDue(ctx, settlementID, now); err != nil {
		return nil, err
	}

	var entry *model.ConstructionEntry
	err := s.store.InTx(ctx, func(uow repository.UnitOfWork) error {
		st, err := uow.Settlements().LockByID(ctx, settlementID)
		if err != nil {
			return err
		}
		if st == nil {
			return ErrSettlementNotFound
		}
		if st.PlayerID != playerID {
			return ErrNotOwner
		}

		b := st.Buildings[kind]
		base := b.Level
		if b.QueuedLevel > base {
			base = b.QueuedLevel
		}
		target := base + 1
		if target > def.MaxLevel {
			return ErrMaxLevel
		}
		if !world.RequirementsMet(st.Buildings, def.Requires) {
			return ErrRequirementsUnmet
		}

		projectTo(s.cfg, st, now)
		cost := s.cfg.BuildCost(kind, target)
		if !deduct(&st.Resources, cost) {
			return ErrInsufficientResources
		}

		start := now
		if last, err := uow.Construction().LastDue(ctx, settlementID); err != nil {
			return err
		} else if last.After(start) {
			start = last
		}

		entry = &model.ConstructionEntry{
			SettlementID: settlementID,
			Building:     kind,
			TargetLevel:  target,
			DueAt:        start.Add(s.cfg.BuildDuration(kind, target)),
		}
		if err := uow.Construction().Insert(ctx, entry); err != nil {
			return err
		}

		b.QueuedLevel = target
		if st.Buildings == nil {
			st.Buildings = map[model.BuildingKind]model.Building{}
		}
		st.Buildings[kind] = b
		return uow.Settlements().Update(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	s.notifier.NotifySettlement(settlementID, "construction_queued", entry)
	return entry, nil
}

// QueueRecruitment queues a unit order. Orders serialize: a new order
// starts when the previous one is due.
func (s *SettlementService) QueueRecruitment(ctx context.Context, playerID, settlementID string, kind model.UnitKind, amount int, now time.Time) (*model.RecruitmentEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	u, ok := s.cfg.Units[kind]
	if !ok {
		return nil, ErrUnknownUnit
	}
	if err := s.resolver.ResolveDue(ctx, settlementID, now); err != nil {
		return nil, err
	}

	var entry *model.RecruitmentEntry
	err := s.store.InTx(ctx, func(uow repository.UnitOfWork) error {
		st, err := uow.Settlements().LockByID(ctx, settlementID)
		if err != nil {
			return err
		}
		if st == nil {
			return ErrSettlementNotFound
		}
		if st.PlayerID != playerID {
			return ErrNotOwner
		}
		if !world.RequirementsMet(st.Buildings, u.Requires) {
			return ErrRequirementsUnmet
		}

		// The farm limit counts units already alive, abroad, and queued.
		pop := s.cfg.Population(st.Units) + float64(u.Pop*amount)
		if pop > s.cfg.FarmLimit(st.Level(model.BuildingFarm)) {
			return ErrPopulationLimit
		}

		projectTo(s.cfg, st, now)
		if !deduct(&st.Resources, s.cfg.RecruitCost(kind, amount)) {
			return ErrInsufficientResources
		}

		start := now
		if last, err := uow.Recruitment().LastDue(ctx, settlementID); err != nil {
			return err
		} else if last.After(start) {
			start = last
		}

		entry = &model.RecruitmentEntry{
			SettlementID: settlementID,
			Unit:         kind,
			Amount:       amount,
			DueAt:        start.Add(s.cfg.RecruitDuration(kind, amount)),
		}
		if err := uow.Recruitment().Insert(ctx, entry); err != nil {
			return err
		}

		if st.Units == nil {
			st.Units = map[model.UnitKind]model.Garrison{}
		}
		g := st.Units[kind]
		g.Queued += amount
		st.Units[kind] = g
		return uow.Settlements().Update(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	s.notifier.NotifySettlement(settlementID, "recruitment_queued", entry)
	return entry, nil
}

// SendAttack dispatches an attack. The force leaves the garrison now and
// arrives after the slowest unit's travel time.
func (s *SettlementService) SendAttack(ctx context.Context, playerID, originID, targetID string, units map[model.UnitKind]int, now time.Time) (*model.MovementEntry, error) {
	return s.sendMovement(ctx, playerID, originID, targetID, units, model.MovementAttack, now)
}

// SendSupport dispatches a support detachment. On arrival it becomes a
// standing support at the target.
func (s *SettlementService) SendSupport(ctx context.Context, playerID, originID, targetID string, units map[model.UnitKind]int, now time.Time) (*model.MovementEntry, error) {
	return s.sendMovement(ctx, playerID, originID, targetID, units, model.MovementSupport, now)
}

func (s *SettlementService) sendMovement(ctx context.Context, playerID, originID, targetID string, units map[model.UnitKind]int, kind model.MovementKind, now time.Time) (*model.MovementEntry, error) {
	if originID == targetID {
		return nil, ErrSelfTarget
	}
	total := 0
	for k, n := range units {
		if _, ok := s.cfg.Units[k]; !ok {
			return nil, ErrUnknownUnit
		}
		if n < 0 {
			return nil, ErrInvalidAmount
		}
		total += n
	}
	if total == 0 {
		return nil, ErrInvalidAmount
	}
	if err := s.resolver.ResolveDue(ctx, originID, now); err != nil {
		return nil, err
	}

	var entry *model.MovementEntry
	err := s.store.InTx(ctx, func(uow repository.UnitOfWork) error {
		origin, err := uow.Settlements().LockByID(ctx, originID)
		if err != nil {
			return err
		}
		if origin == nil {
			return ErrSettlementNotFound
		}
		if origin.PlayerID != playerID {
			return ErrNotOwner
		}
		target, err := uow.Settlements().FindByID(ctx, targetID)
		if err != nil {
			return err
		}
		if target == nil {
			return ErrTargetNotFound
		}

		for k, n := range units {
			if origin.Units[k].Inside < n {
				return ErrInsufficientUnits
			}
		}
		for k, n := range units {
			if n == 0 {
				continue
			}
			g := origin.Units[k]
			g.Inside -= n
			g.Outside += n
			origin.Units[k] = g
		}

		dist := hexmap.Distance(origin.Coord, target.Coord)
		travel := hexmap.TravelTime(dist, s.cfg.SlowestSpeed(units), s.cfg.Speed)
		entry = &model.MovementEntry{
			Kind:     kind,
			OriginID: originID,
			TargetID: targetID,
			Units:    units,
			SentAt:   now,
			DueAt:    now.Add(travel),
		}
		if err := uow.Movements().Insert(ctx, entry); err != nil {
			return err
		}

		projectTo(s.cfg, origin, now)
		return uow.Settlements().Update(ctx, origin)
	})
	if err != nil {
		return nil, err
	}
	s.notifier.NotifySettlement(originID, "movement_sent", entry)
	return entry, nil
}

// RecallSupport orders a standing support home. The troops travel back as
// a return movement and rejoin the garrison on arrival.
func (s *SettlementService) RecallSupport(ctx context.Context, playerID, supportID string, now time.Time) (*model.MovementEntry, error) {
	var entry *model.MovementEntry
	err := s.store.InTx(ctx, func(uow repository.UnitOfWork) error {
		sp, err := uow.Supports().FindByID(ctx, supportID)
		if err != nil {
			return err
		}
		if sp == nil {
			return ErrSupportNotFound
		}

		home, err := uow.Settlements().LockByID(ctx, sp.OriginID)
		if err != nil {
			return err
		}
		if home == nil {
			return ErrSettlementNotFound
		}
		if home.PlayerID != playerID {
			return ErrNotOwner
		}
		stationed, err := uow.Settlements().FindByID(ctx, sp.TargetID)
		if err != nil {
			return err
		}
		if stationed == nil {
			return ErrTargetNotFound
		}

		if err := uow.Supports().Delete(ctx, sp.ID); err != nil {
			return err
		}

		dist := hexmap.Distance(stationed.Coord, home.Coord)
		travel := hexmap.TravelTime(dist, s.cfg.SlowestSpeed(sp.Units), s.cfg.Speed)
		entry = &model.MovementEntry{
			Kind:     model.MovementReturn,
			OriginID: sp.TargetID,
			TargetID: sp.OriginID,
			Units:    sp.Units,
			SentAt:   now,
			DueAt:    now.Add(travel),
		}
		return uow.Movements().Insert(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	s.notifier.NotifySettlement(entry.TargetID, "support_recalled", entry)
	return entry, nil
}

// Report returns one battle report.
func (s *SettlementService) Report(ctx context.Context, id string) (*model.Report, error) {
	rep, err := s.store.Reports().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rep == nil {
		return nil, ErrReportNotFound
	}
	return rep, nil
}

// Reports returns the most recent reports touching a settlement.
func (s *SettlementService) Reports(ctx context.Context, settlementID string, limit int) ([]model.Report, error) {
	return s.store.Reports().ListBySettlement(ctx, settlementID, limit)
}

// PlayerReports returns the most recent reports involving a player.
func (s *SettlementService) PlayerReports(ctx context.Context, playerID string, limit int) ([]model.Report, error) {
	return s.store.Reports().ListByPlayer(ctx, playerID, limit)
}

// deduct subtracts a cost from a stock if fully affordable.
func deduct(stock *model.Resources, cost model.Resources) bool {
	if stock.Wood < cost.Wood || stock.Clay < cost.Clay || stock.Iron < cost.Iron {
		return false
	}
	stock.Wood -= cost.Wood
	stock.Clay -= cost.Clay
	stock.Iron -= cost.Iron
	return true
}
