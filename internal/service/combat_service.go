package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/hexhold/api/internal/model"
	"github.com/freeeve/hexhold/api/internal/repository"
	"github.com/freeeve/hexhold/api/internal/world"
	"github.com/freeeve/hexhold/api/pkg/battle"
)

// settlementLockTTL bounds how long a crashed resolution can keep a
// settlement locked across instances.
const settlementLockTTL = 30 * time.Second

// SettlementLocker serializes movement resolution across server instances.
// Implemented by the Redis client; nil disables distributed locking.
type SettlementLocker interface {
	AcquireSettlementLock(ctx context.Context, settlementID string, ttl time.Duration) (token string, acquired bool, err error)
	ReleaseSettlementLock(ctx context.Context, settlementID, token string) error
}

// event is a notification deferred until after the transaction commits.
type event struct {
	settlementID string
	eventType    string
	data         any
}

// CombatService resolves movement arrivals: attacks, support deliveries,
// and returning troops. Each arrival is one atomic unit of work across
// both settlements; on any failure the whole arrival rolls back.
type CombatService struct {
	store    repository.Store
	cfg      *world.Config
	locks    SettlementLocker
	notifier Notifier
	stats    map[string]battle.UnitStats
}

// NewCombatService creates a CombatService.
func NewCombatService(store repository.Store, cfg *world.Config, locks SettlementLocker, notifier Notifier) *CombatService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &CombatService{
		store:    store,
		cfg:      cfg,
		locks:    locks,
		notifier: notifier,
		stats:    cfg.BattleStats(),
	}
}

// ResolveMovement applies one due movement. A movement already resolved by
// a concurrent drain is a no-op. Contention surfaces as
// repository.ErrContention so callers retry with a fresh read.
func (c *CombatService) ResolveMovement(ctx context.Context, movementID string) error {
	m, err := c.store.Movements().FindByID(ctx, movementID)
	if err != nil {
		return fmt.Errorf("find movement: %w", err)
	}
	if m == nil {
		return nil
	}

	release, err := c.lockPair(ctx, m.OriginID, m.TargetID)
	if err != nil {
		return err
	}
	defer release()

	var events []event
	err = c.store.InTx(ctx, func(uow repository.UnitOfWork) error {
		events = events[:0]
		return c.resolveInTx(ctx, uow, movementID, &events)
	})
	if err != nil {
		return err
	}
	for _, ev := range events {
		c.notifier.NotifySettlement(ev.settlementID, ev.eventType, ev.data)
	}
	return nil
}

// lockPair takes the distributed locks for both settlements in ID order.
// Failing to get either lock is contention, not an error state.
func (c *CombatService) lockPair(ctx context.Context, a, b string) (func(), error) {
	if c.locks == nil {
		return func() {}, nil
	}
	ids := []string{a, b}
	sort.Strings(ids)
	if ids[0] == ids[1] {
		ids = ids[:1]
	}

	var held []func()
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}
	for _, id := range ids {
		token, ok, err := c.locks.AcquireSettlementLock(ctx, id, settlementLockTTL)
		if err != nil {
			release()
			return nil, err
		}
		if !ok {
			release()
			return nil, fmt.Errorf("settlement %s busy: %w", id, repository.ErrContention)
		}
		id, token := id, token
		held = append(held, func() {
			if err := c.locks.ReleaseSettlementLock(context.Background(), id, token); err != nil {
				log.Warn().Err(err).Str("settlementId", id).Msg("Failed to release settlement lock")
			}
		})
	}
	return release, nil
}

func (c *CombatService) resolveInTx(ctx context.Context, uow repository.UnitOfWork, movementID string, events *[]event) error {
	// Re-read inside the transaction; nil means a concurrent drain got here
	// first and the arrival is already applied.
	m, err := uow.Movements().FindByID(ctx, movementID)
	if err != nil {
		return err
	}
	if m == nil {
		return nil
	}

	origin, target, err := lockBoth(ctx, uow, m.OriginID, m.TargetID)
	if err != nil {
		return err
	}
	if origin == nil || target == nil {
		// One side vanished; drop the movement rather than wedge the queue.
		_, err := uow.Movements().Delete(ctx, m.ID)
		return err
	}

	switch m.Kind {
	case model.MovementReturn:
		return c.resolveReturn(ctx, uow, m, target, events)
	case model.MovementSupport:
		return c.resolveSupportArrival(ctx, uow, m, events)
	case model.MovementAttack:
		return c.resolveAttack(ctx, uow, m, origin, target, events)
	default:
		return fmt.Errorf("unknown movement kind %q", m.Kind)
	}
}

// lockBoth row-locks two settlements in ID order so concurrent arrivals
// touching the same pair never deadlock in the database.
func lockBoth(ctx context.Context, uow repository.UnitOfWork, aID, bID string) (*model.Settlement, *model.Settlement, error) {
	first, second := aID, bID
	if second < first {
		first, second = second, first
	}
	s1, err := uow.Settlements().LockByID(ctx, first)
	if err != nil {
		return nil, nil, err
	}
	var s2 *model.Settlement
	if second != first {
		s2, err = uow.Settlements().LockByID(ctx, second)
		if err != nil {
			return nil, nil, err
		}
	} else {
		s2 = s1
	}
	if first == aID {
		return s1, s2, nil
	}
	return s2, s1, nil
}

// resolveReturn lands surviving troops and their haul back home. The home
// settlement is the movement's target.
func (c *CombatService) resolveReturn(ctx context.Context, uow repository.UnitOfWork, m *model.MovementEntry, home *model.Settlement, events *[]event) error {
	ok, err := uow.Movements().Delete(ctx, m.ID)
	if err != nil || !ok {
		return err
	}

	projectTo(c.cfg, home, m.DueAt)
	if home.Units == nil {
		home.Units = map[model.UnitKind]model.Garrison{}
	}
	for kind, n := range m.Units {
		g := home.Units[kind]
		g.Outside -= n
		if g.Outside < 0 {
			g.Outside = 0
		}
		g.Inside += n
		home.Units[kind] = g
	}

	// Haul beyond warehouse capacity is lost.
	cap := c.cfg.StorageCap(home.Level(model.BuildingWarehouse))
	home.Resources.Wood = capAdd(home.Resources.Wood, m.Haul.Wood, cap)
	home.Resources.Clay = capAdd(home.Resources.Clay, m.Haul.Clay, cap)
	home.Resources.Iron = capAdd(home.Resources.Iron, m.Haul.Iron, cap)

	if err := uow.Settlements().Update(ctx, home); err != nil {
		return err
	}
	*events = append(*events, event{home.ID, "troops_returned", map[string]any{
		"units": m.Units,
		"haul":  m.Haul,
	}})
	return nil
}

func capAdd(cur, add, cap float64) float64 {
	next := cur + add
	if next > cap && cur < cap {
		return cap
	}
	if next > cur && cur >= cap {
		return cur
	}
	return next
}

// resolveSupportArrival converts an arrived support movement into a
// standing support entry. The troops stay in the origin's outside census
// until recalled or destroyed.
func (c *CombatService) resolveSupportArrival(ctx context.Context, uow repository.UnitOfWork, m *model.MovementEntry, events *[]event) error {
	ok, err := uow.Movements().Delete(ctx, m.ID)
	if err != nil || !ok {
		return err
	}
	sup := &model.SupportEntry{
		OriginID: m.OriginID,
		TargetID: m.TargetID,
		Units:    m.Units,
	}
	if err := uow.Supports().Insert(ctx, sup); err != nil {
		return err
	}
	*events = append(*events, event{m.TargetID, "support_arrived", map[string]any{
		"support_id": sup.ID,
		"origin_id":  m.OriginID,
		"units":      m.Units,
	}})
	*events = append(*events, event{m.OriginID, "support_stationed", map[string]any{
		"support_id": sup.ID,
		"target_id":  m.TargetID,
	}})
	return nil
}

// resolveAttack runs the battle engine over a fully materialized snapshot
// of both sides and applies the outcome: losses, plunder, loyalty,
// conquest, the return march, and the report.
func (c *CombatService) resolveAttack(ctx context.Context, uow repository.UnitOfWork, m *model.MovementEntry, origin, target *model.Settlement, events *[]event) error {
	ok, err := uow.Movements().Delete(ctx, m.ID)
	if err != nil || !ok {
		return err
	}

	supports, err := uow.Supports().ListByTarget(ctx, target.ID)
	if err != nil {
		return err
	}
	// Support losses debit the senders' outside censuses, so their rows
	// join the transaction too.
	supportOrigins, err := lockSupportOrigins(ctx, uow, supports, origin, target)
	if err != nil {
		return err
	}

	projectTo(c.cfg, origin, m.DueAt)
	projectTo(c.cfg, target, m.DueAt)

	garrisonBefore := target.InsideForce()
	groups := make([]battle.SupportGroup, len(supports))
	for i, sp := range supports {
		groups[i] = battle.SupportGroup{ID: sp.ID, Units: sp.Force()}
	}

	out := battle.Resolve(battle.Input{
		Stats:         c.stats,
		Attackers:     m.Force(),
		Garrison:      garrisonBefore,
		Supports:      groups,
		WallBonus:     c.cfg.WallBonus(target.Level(model.BuildingWall)),
		Loyalty:       target.Loyalty,
		Stock:         target.Resources,
		LoyaltyHitMin: c.cfg.Loyalty.NobleHitMin,
		LoyaltyHitMax: c.cfg.Loyalty.NobleHitMax,
		Rand:          seededRand("combat", m.ID, m.DueAt.UTC().Format(time.RFC3339Nano)),
	})
	if out.SurvivalClamped {
		log.Warn().Str("movementId", m.ID).
			Float64("attackerStrength", out.AttackerStrength).
			Float64("defenderStrength", out.DefenderStrength).
			Msg("Survival formula clamped to [0,1]")
	}

	defenderPlayer := target.PlayerID

	if out.Winner == battle.AttackerWon {
		if err := c.applyAttackerWin(ctx, uow, m, origin, target, supports, supportOrigins, &out); err != nil {
			return err
		}
	} else {
		if err := c.applyDefenderWin(ctx, uow, m, origin, target, supports, supportOrigins, &out); err != nil {
			return err
		}
	}

	if err := uow.Settlements().Update(ctx, origin); err != nil {
		return err
	}
	if err := uow.Settlements().Update(ctx, target); err != nil {
		return err
	}

	report := buildReport(m, origin, defenderPlayer, garrisonBefore, supports, &out)
	if err := uow.Reports().Insert(ctx, report); err != nil {
		return err
	}

	log.Info().Str("movementId", m.ID).Str("originId", origin.ID).Str("targetId", target.ID).
		Str("outcome", out.Winner.String()).Bool("conquered", out.Conquered).
		Float64("survival", out.Survival).Msg("Attack resolved")

	data := map[string]any{
		"report_id": report.ID,
		"outcome":   report.Outcome,
		"conquered": out.Conquered,
	}
	*events = append(*events, event{origin.ID, "battle_resolved", data})
	*events = append(*events, event{target.ID, "battle_resolved", data})
	return nil
}

// lockSupportOrigins row-locks the home settlements of all stationed
// supports, in ID order, skipping the two already locked.
func lockSupportOrigins(ctx context.Context, uow repository.UnitOfWork, supports []model.SupportEntry, origin, target *model.Settlement) (map[string]*model.Settlement, error) {
	byID := map[string]*model.Settlement{origin.ID: origin, target.ID: target}
	var ids []string
	for _, sp := range supports {
		if _, ok := byID[sp.OriginID]; !ok {
			byID[sp.OriginID] = nil
			ids = append(ids, sp.OriginID)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		s, err := uow.Settlements().LockByID(ctx, id)
		if err != nil {
			return nil, err
		}
		byID[id] = s
	}
	return byID, nil
}

func (c *CombatService) applyAttackerWin(ctx context.Context, uow repository.UnitOfWork, m *model.MovementEntry, origin, target *model.Settlement, supports []model.SupportEntry, supportOrigins map[string]*model.Settlement, out *battle.Outcome) error {
	// Total defense wipe: garrison and every stationed support. The dead
	// supporters leave their home settlements' outside censuses too.
	for kind := range target.Units {
		g := target.Units[kind]
		g.Inside = 0
		target.Units[kind] = g
	}
	for _, sp := range supports {
		if err := uow.Supports().Delete(ctx, sp.ID); err != nil {
			return err
		}
		home := supportOrigins[sp.OriginID]
		if home == nil {
			continue
		}
		debitOutside(home, sp.Units)
		if home != origin && home != target {
			if err := uow.Settlements().Update(ctx, home); err != nil {
				return err
			}
		}
	}

	target.Resources.Wood = floorZero(target.Resources.Wood - out.Haul.Wood)
	target.Resources.Clay = floorZero(target.Resources.Clay - out.Haul.Clay)
	target.Resources.Iron = floorZero(target.Resources.Iron - out.Haul.Iron)
	target.Loyalty = out.LoyaltyAfter

	// Attacker casualties leave the origin's outside census; survivors stay
	// outside until the return march lands.
	debitOutside(origin, model.KindForce(out.AttackerLosses))

	if out.Conquered {
		if err := c.applyConquest(ctx, uow, origin, target); err != nil {
			return err
		}
	}

	if !out.AttackerSurvivors.Empty() {
		ret := &model.MovementEntry{
			Kind:     model.MovementReturn,
			OriginID: target.ID,
			TargetID: origin.ID,
			Units:    model.KindForce(out.AttackerSurvivors),
			Haul:     out.Haul,
			SentAt:   m.DueAt,
			DueAt:    m.DueAt.Add(m.DueAt.Sub(m.SentAt)),
		}
		if err := uow.Movements().Insert(ctx, ret); err != nil {
			return err
		}
	}
	return nil
}

// applyConquest transfers ownership. The former owner's troops abroad are
// lost, pending marches from the settlement are cancelled, loyalty resets,
// and the settlement's points change hands in the rankings.
func (c *CombatService) applyConquest(ctx context.Context, uow repository.UnitOfWork, origin, target *model.Settlement) error {
	former := target.PlayerID

	if err := uow.Movements().DeleteByOrigin(ctx, target.ID); err != nil {
		return err
	}
	if err := uow.Supports().DeleteByOrigin(ctx, target.ID); err != nil {
		return err
	}
	for kind := range target.Units {
		g := target.Units[kind]
		g.Outside = 0
		target.Units[kind] = g
	}

	target.PlayerID = origin.PlayerID
	target.Loyalty = c.cfg.Loyalty.Initial

	if former != "" {
		if err := uow.Players().ApplyScoreDelta(ctx, former, -target.Points); err != nil {
			return err
		}
	}
	if origin.PlayerID != "" {
		if err := uow.Players().ApplyScoreDelta(ctx, origin.PlayerID, target.Points); err != nil {
			return err
		}
	}
	return nil
}

func (c *CombatService) applyDefenderWin(ctx context.Context, uow repository.UnitOfWork, m *model.MovementEntry, origin, target *model.Settlement, supports []model.SupportEntry, supportOrigins map[string]*model.Settlement, out *battle.Outcome) error {
	// The attacking force is annihilated.
	debitOutside(origin, m.Units)

	for kind, n := range model.KindForce(out.DefenderLosses) {
		g := target.Units[kind]
		g.Inside -= n
		if g.Inside < 0 {
			g.Inside = 0
		}
		target.Units[kind] = g
	}
	target.Loyalty = out.LoyaltyAfter

	remaining := make(map[string]battle.Force, len(out.SupportRemaining))
	for _, g := range out.SupportRemaining {
		remaining[g.ID] = g.Units
	}
	losses := make(map[string]battle.Force, len(out.SupportLosses))
	for _, g := range out.SupportLosses {
		losses[g.ID] = g.Units
	}

	for _, sp := range supports {
		if units, ok := remaining[sp.ID]; ok {
			if err := uow.Supports().UpdateUnits(ctx, sp.ID, model.KindForce(units)); err != nil {
				return err
			}
		} else {
			if err := uow.Supports().Delete(ctx, sp.ID); err != nil {
				return err
			}
		}
		// Dead supporters leave their home settlement's outside census.
		home := supportOrigins[sp.OriginID]
		if home == nil {
			continue
		}
		debitOutside(home, model.KindForce(losses[sp.ID]))
		if home != origin && home != target {
			if err := uow.Settlements().Update(ctx, home); err != nil {
				return err
			}
		}
	}
	return nil
}

// debitOutside removes units from a settlement's outside census, floored
// at zero.
func debitOutside(s *model.Settlement, units map[model.UnitKind]int) {
	if s.Units == nil {
		return
	}
	for kind, n := range units {
		g := s.Units[kind]
		g.Outside -= n
		if g.Outside < 0 {
			g.Outside = 0
		}
		s.Units[kind] = g
	}
}

func floorZero(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// buildReport assembles the immutable battle record. defenderPlayer is the
// owner before any conquest.
func buildReport(m *model.MovementEntry, origin *model.Settlement, defenderPlayer string, garrisonBefore battle.Force, supports []model.SupportEntry, out *battle.Outcome) *model.Report {
	supportUnits := make(battle.Force)
	for _, sp := range supports {
		for kind, n := range sp.Units {
			supportUnits[string(kind)] += n
		}
	}
	supportLosses := make(battle.Force)
	for _, g := range out.SupportLosses {
		for kind, n := range g.Units {
			supportLosses[kind] += n
		}
	}

	return &model.Report{
		Outcome:          out.Winner.String(),
		OriginID:         m.OriginID,
		TargetID:         m.TargetID,
		AttackerPlayerID: origin.PlayerID,
		DefenderPlayerID: defenderPlayer,
		AttackerUnits:    m.Units,
		AttackerLosses:   model.KindForce(out.AttackerLosses),
		DefenderUnits:    model.KindForce(garrisonBefore),
		DefenderLosses:   model.KindForce(out.DefenderLosses),
		SupportUnits:     model.KindForce(supportUnits),
		SupportLosses:    model.KindForce(supportLosses),
		Haul:             out.Haul,
		LoyaltyBefore:    out.LoyaltyBefore,
		LoyaltyAfter:     out.LoyaltyAfter,
		Conquered:        out.Conquered,
		CreatedAt:        m.DueAt,
	}
}
