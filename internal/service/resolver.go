package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/hexhold/api/internal/model"
	"github.com/freeeve/hexhold/api/internal/repository"
	"github.com/freeeve/hexhold/api/internal/world"
)

// contentionRetries is how many times a single queue entry is retried with
// a fresh read when the storage layer reports contention.
const contentionRetries = 3

// Resolver drains a settlement's time-ordered queues (construction,
// recruitment, movements) up to a target time. Every entry applies in its
// own transaction at its own due instant, so a mid-drain failure leaves a
// consistent prefix behind rather than a half-applied settlement.
//
// Movements touch two settlements; before an arrival resolves, the far
// side is caught up to the arrival instant so combat sees both sides
// as-of the same moment. Catch-up chains can revisit a settlement
// (A attacks B while B attacks A); per-drain watermarks cut those cycles.
type Resolver struct {
	store    repository.Store
	cfg      *world.Config
	combat   *CombatService
	notifier Notifier
}

// NewResolver creates a Resolver.
func NewResolver(store repository.Store, cfg *world.Config, combat *CombatService, notifier Notifier) *Resolver {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Resolver{store: store, cfg: cfg, combat: combat, notifier: notifier}
}

// ResolveDue applies every queue entry of the settlement due by `until`,
// oldest first, recursing into other settlements' queues as movements
// require. On failure returns a *PartialResolveError describing how far
// the drain got.
func (r *Resolver) ResolveDue(ctx context.Context, settlementID string, until time.Time) error {
	return r.drain(ctx, map[string]time.Time{}, settlementID, until)
}

func (r *Resolver) drain(ctx context.Context, watermarks map[string]time.Time, settlementID string, until time.Time) error {
	if wm, ok := watermarks[settlementID]; ok && !wm.Before(until) {
		return nil
	}
	// Set the watermark before recursing: a movement cycle back into this
	// settlement only ever asks for a time <= the entry being applied,
	// which is already covered by this drain.
	watermarks[settlementID] = until

	applied := 0
	for {
		entries, err := r.dueEntries(ctx, r.store, settlementID, until)
		if err != nil {
			return &PartialResolveError{SettlementID: settlementID, Applied: applied, Err: err}
		}
		if len(entries) == 0 {
			return nil
		}
		e := entries[0]

		if e.movement != nil {
			// Bring the far side current before the arrival resolves.
			other := e.movement.TargetID
			if other == settlementID {
				other = e.movement.OriginID
			}
			if err := r.drain(ctx, watermarks, other, e.due); err != nil {
				return &PartialResolveError{SettlementID: settlementID, Applied: applied, EntryID: e.id, Err: err}
			}
		}

		if err := r.applyWithRetry(ctx, e); err != nil {
			return &PartialResolveError{SettlementID: settlementID, Applied: applied, EntryID: e.id, Err: err}
		}
		applied++
	}
}

// applyWithRetry applies one entry, retrying on contention. Each retry
// re-reads everything inside a fresh transaction.
func (r *Resolver) applyWithRetry(ctx context.Context, e queueEntry) error {
	var err error
	for attempt := 0; attempt < contentionRetries; attempt++ {
		err = r.applyEntry(ctx, e)
		if err == nil || !errors.Is(err, repository.ErrContention) {
			return err
		}
		log.Debug().Str("entryId", e.id).Int("attempt", attempt+1).Msg("Queue entry contended, retrying")
	}
	return err
}

func (r *Resolver) applyEntry(ctx context.Context, e queueEntry) error {
	switch {
	case e.construction != nil:
		return r.applyConstruction(ctx, e.construction)
	case e.recruitment != nil:
		return r.applyRecruitment(ctx, e.recruitment)
	case e.movement != nil:
		return r.combat.ResolveMovement(ctx, e.movement.ID)
	}
	return fmt.Errorf("empty queue entry %s", e.id)
}

// applyConstruction finishes a building upgrade at its due instant.
func (r *Resolver) applyConstruction(ctx context.Context, e *model.ConstructionEntry) error {
	var s *model.Settlement
	err := r.store.InTx(ctx, func(uow repository.UnitOfWork) error {
		var err error
		s, err = uow.Settlements().LockByID(ctx, e.SettlementID)
		if err != nil {
			return err
		}
		ok, err := uow.Construction().Delete(ctx, e.ID)
		if err != nil {
			return err
		}
		if !ok || s == nil {
			// Already applied by a concurrent drain, or the settlement
			// vanished under the entry. Either way nothing to do.
			s = nil
			return nil
		}

		projectTo(r.cfg, s, e.DueAt)
		b := s.Buildings[e.Building]
		if e.TargetLevel > b.Level {
			b.Level = e.TargetLevel
		}
		if b.QueuedLevel <= b.Level {
			b.QueuedLevel = 0
		}
		if s.Buildings == nil {
			s.Buildings = map[model.BuildingKind]model.Building{}
		}
		s.Buildings[e.Building] = b

		s.Production = r.cfg.ProductionRate(s.Buildings)
		oldPoints := s.Points
		s.Points = r.cfg.Points(s.Buildings)
		if err := uow.Settlements().Update(ctx, s); err != nil {
			return err
		}
		if s.PlayerID != "" && s.Points != oldPoints {
			return uow.Players().ApplyScoreDelta(ctx, s.PlayerID, s.Points-oldPoints)
		}
		return nil
	})
	if err != nil || s == nil {
		return err
	}
	r.notifier.NotifySettlement(s.ID, "construction_completed", map[string]any{
		"building": e.Building,
		"level":    e.TargetLevel,
	})
	return nil
}

// applyRecruitment moves a finished recruitment order into the garrison.
func (r *Resolver) applyRecruitment(ctx context.Context, e *model.RecruitmentEntry) error {
	var s *model.Settlement
	err := r.store.InTx(ctx, func(uow repository.UnitOfWork) error {
		var err error
		s, err = uow.Settlements().LockByID(ctx, e.SettlementID)
		if err != nil {
			return err
		}
		ok, err := uow.Recruitment().Delete(ctx, e.ID)
		if err != nil {
			return err
		}
		if !ok || s == nil {
			s = nil
			return nil
		}

		projectTo(r.cfg, s, e.DueAt)
		if s.Units == nil {
			s.Units = map[model.UnitKind]model.Garrison{}
		}
		g := s.Units[e.Unit]
		g.Queued -= e.Amount
		if g.Queued < 0 {
			g.Queued = 0
		}
		g.Inside += e.Amount
		s.Units[e.Unit] = g
		return uow.Settlements().Update(ctx, s)
	})
	if err != nil || s == nil {
		return err
	}
	r.notifier.NotifySettlement(s.ID, "recruitment_completed", map[string]any{
		"unit":   e.Unit,
		"amount": e.Amount,
	})
	return nil
}

// queueEntry is one pending item from any of the three queues, unified for
// chronological ordering.
type queueEntry struct {
	kind int // sort tiebreak: construction < recruitment < movement
	id   string
	due  time.Time

	construction *model.ConstructionEntry
	recruitment  *model.RecruitmentEntry
	movement     *model.MovementEntry
}

const (
	entryConstruction = iota
	entryRecruitment
	entryMovement
)

// dueEntries merges the three queues into one chronological list.
// Simultaneous entries order construction, recruitment, movement, then by
// ID, so every drain of the same backlog replays identically.
func (r *Resolver) dueEntries(ctx context.Context, uow repository.UnitOfWork, settlementID string, until time.Time) ([]queueEntry, error) {
	cons, err := uow.Construction().ListDue(ctx, settlementID, until)
	if err != nil {
		return nil, err
	}
	recs, err := uow.Recruitment().ListDue(ctx, settlementID, until)
	if err != nil {
		return nil, err
	}
	movs, err := uow.Movements().ListDueTouching(ctx, settlementID, until)
	if err != nil {
		return nil, err
	}

	out := make([]queueEntry, 0, len(cons)+len(recs)+len(movs))
	for i := range cons {
		e := &cons[i]
		out = append(out, queueEntry{kind: entryConstruction, id: e.ID, due: e.DueAt, construction: e})
	}
	for i := range recs {
		e := &recs[i]
		out = append(out, queueEntry{kind: entryRecruitment, id: e.ID, due: e.DueAt, recruitment: e})
	}
	for i := range movs {
		e := &movs[i]
		out = append(out, queueEntry{kind: entryMovement, id: e.ID, due: e.DueAt, movement: e})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].due.Equal(out[j].due) {
			return out[i].due.Before(out[j].due)
		}
		if out[i].kind != out[j].kind {
			return out[i].kind < out[j].kind
		}
		return out[i].id < out[j].id
	})
	return out, nil
}
