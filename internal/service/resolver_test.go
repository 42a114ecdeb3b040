package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/freeeve/hexhold/api/internal/model"
	"github.com/freeeve/hexhold/api/internal/world"
	"github.com/freeeve/hexhold/api/pkg/hexmap"
)

func newTestResolver(ms *mockStore) *Resolver {
	cfg := world.MustLoadDefault()
	combat := NewCombatService(ms, cfg, nil, nil)
	return NewResolver(ms, cfg, combat, nil)
}

func putSettlement(ms *mockStore, s *model.Settlement) *model.Settlement {
	if s.ID == "" {
		s.ID = ms.genID("stl")
	}
	if s.Buildings == nil {
		s.Buildings = map[model.BuildingKind]model.Building{}
	}
	if s.Units == nil {
		s.Units = map[model.UnitKind]model.Garrison{}
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = testBase
	}
	ms.settlements[s.ID] = cloneSettlement(s)
	return s
}

func TestResolveAppliesEntriesAtTheirOwnInstant(t *testing.T) {
	ms := newMockStore()
	r := newTestResolver(ms)
	cfg := world.MustLoadDefault()

	// Wood sits just under the level-1 cap; the warehouse upgrade lands
	// after 30 minutes. Accrual before the upgrade clips at the old cap,
	// accrual after it runs against the new one.
	s := putSettlement(ms, &model.Settlement{
		Buildings: map[model.BuildingKind]model.Building{
			model.BuildingTimberCamp: {Level: 1},
			model.BuildingWarehouse:  {Level: 1, QueuedLevel: 2},
		},
		Resources:  model.Resources{Wood: 990},
		Production: model.Resources{Wood: 30},
		Loyalty:    100,
	})
	entry := &model.ConstructionEntry{
		SettlementID: s.ID,
		Building:     model.BuildingWarehouse,
		TargetLevel:  2,
		DueAt:        testBase.Add(30 * time.Minute),
	}
	if err := ms.Insert(context.Background(), entry); err != nil {
		t.Fatal(err)
	}

	if err := r.ResolveDue(context.Background(), s.ID, testBase.Add(2*time.Hour)); err != nil {
		t.Fatalf("ResolveDue: %v", err)
	}

	stored := ms.settlements[s.ID]
	if !almostEqual(stored.Resources.Wood, cfg.StorageCap(1)) {
		t.Errorf("wood at upgrade instant = %v, want clipped at %v", stored.Resources.Wood, cfg.StorageCap(1))
	}
	if got := stored.Buildings[model.BuildingWarehouse]; got.Level != 2 || got.QueuedLevel != 0 {
		t.Errorf("warehouse = %+v, want level 2 with nothing queued", got)
	}
	if !stored.UpdatedAt.Equal(testBase.Add(30 * time.Minute)) {
		t.Errorf("UpdatedAt = %v, want the entry's due instant", stored.UpdatedAt)
	}

	// The open interval after the last entry projects against the new cap.
	res, _ := Project(cfg, stored, testBase.Add(2*time.Hour))
	if !almostEqual(res.Wood, cfg.StorageCap(1)+45) {
		t.Errorf("projected wood = %v, want %v", res.Wood, cfg.StorageCap(1)+45)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	ms := newMockStore()
	r := newTestResolver(ms)

	s := putSettlement(ms, &model.Settlement{
		Units: map[model.UnitKind]model.Garrison{model.UnitSpear: {Inside: 10, Queued: 5}},
	})
	rec := &model.RecruitmentEntry{SettlementID: s.ID, Unit: model.UnitSpear, Amount: 5, DueAt: testBase.Add(10 * time.Minute)}
	if err := (recruitmentRepo{ms}).Insert(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	until := testBase.Add(time.Hour)
	for i := 0; i < 3; i++ {
		if err := r.ResolveDue(context.Background(), s.ID, until); err != nil {
			t.Fatalf("ResolveDue pass %d: %v", i+1, err)
		}
	}

	g := ms.settlements[s.ID].Units[model.UnitSpear]
	if g.Inside != 15 || g.Queued != 0 {
		t.Errorf("garrison = %+v, want 15 inside, 0 queued", g)
	}
	if len(ms.recruitment) != 0 {
		t.Errorf("recruitment queue not drained: %d entries", len(ms.recruitment))
	}
}

func TestResolveCatchesUpDefenderBeforeArrival(t *testing.T) {
	ms := newMockStore()
	r := newTestResolver(ms)

	attacker := putSettlement(ms, &model.Settlement{
		Coord: hexmap.Coord{X: 0, Y: 0},
		Units: map[model.UnitKind]model.Garrison{model.UnitAxe: {Outside: 10}},
	})
	defender := putSettlement(ms, &model.Settlement{
		Coord: hexmap.Coord{X: 3, Y: 0},
		Units: map[model.UnitKind]model.Garrison{model.UnitSpear: {Inside: 10}},
	})

	// The defender's recruitment lands an hour before the attack arrives.
	rec := &model.RecruitmentEntry{SettlementID: defender.ID, Unit: model.UnitSpear, Amount: 100, DueAt: testBase.Add(time.Hour)}
	if err := (recruitmentRepo{ms}).Insert(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	mov := &model.MovementEntry{
		Kind:     model.MovementAttack,
		OriginID: attacker.ID,
		TargetID: defender.ID,
		Units:    map[model.UnitKind]int{model.UnitAxe: 10},
		SentAt:   testBase,
		DueAt:    testBase.Add(2 * time.Hour),
	}
	if err := (movementRepo{ms}).Insert(context.Background(), mov); err != nil {
		t.Fatal(err)
	}

	if err := r.ResolveDue(context.Background(), attacker.ID, testBase.Add(2*time.Hour)); err != nil {
		t.Fatalf("ResolveDue: %v", err)
	}

	if len(ms.reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(ms.reports))
	}
	rep := ms.reports[0]
	if rep.Outcome != "defender_won" {
		t.Errorf("outcome = %s, want defender_won", rep.Outcome)
	}
	// 110 spears, not 10: the recruits must be inside before combat.
	if rep.DefenderUnits[model.UnitSpear] != 110 {
		t.Errorf("defender units = %d spears, want 110", rep.DefenderUnits[model.UnitSpear])
	}

	if got := ms.settlements[attacker.ID].Units[model.UnitAxe]; got.Outside != 0 {
		t.Errorf("attacker outside = %d, want 0 after annihilation", got.Outside)
	}
	// survival = 1 - (400/1650)^1.5; 110 * survival rounds to 97.
	if got := ms.settlements[defender.ID].Units[model.UnitSpear]; got.Inside != 97 {
		t.Errorf("defender inside = %d, want 97", got.Inside)
	}
}

func TestResolveMovementCycleTerminates(t *testing.T) {
	ms := newMockStore()
	r := newTestResolver(ms)

	a := putSettlement(ms, &model.Settlement{
		Coord: hexmap.Coord{X: 0, Y: 0},
		Units: map[model.UnitKind]model.Garrison{
			model.UnitSpear: {Inside: 50},
			model.UnitAxe:   {Outside: 10},
		},
	})
	b := putSettlement(ms, &model.Settlement{
		Coord: hexmap.Coord{X: 2, Y: 2},
		Units: map[model.UnitKind]model.Garrison{
			model.UnitSpear: {Inside: 50},
			model.UnitAxe:   {Outside: 10},
		},
	})

	for _, mov := range []*model.MovementEntry{
		{Kind: model.MovementAttack, OriginID: a.ID, TargetID: b.ID,
			Units: map[model.UnitKind]int{model.UnitAxe: 10}, SentAt: testBase, DueAt: testBase.Add(time.Hour)},
		{Kind: model.MovementAttack, OriginID: b.ID, TargetID: a.ID,
			Units: map[model.UnitKind]int{model.UnitAxe: 10}, SentAt: testBase, DueAt: testBase.Add(90 * time.Minute)},
	} {
		if err := (movementRepo{ms}).Insert(context.Background(), mov); err != nil {
			t.Fatal(err)
		}
	}

	if err := r.ResolveDue(context.Background(), a.ID, testBase.Add(2*time.Hour)); err != nil {
		t.Fatalf("ResolveDue: %v", err)
	}

	if len(ms.movements) != 0 {
		t.Errorf("movements left = %d, want 0", len(ms.movements))
	}
	if len(ms.reports) != 2 {
		t.Errorf("reports = %d, want 2", len(ms.reports))
	}
}

func TestResolveAppliesStackedUpgradesOnOneBuilding(t *testing.T) {
	ms := newMockStore()
	r := newTestResolver(ms)
	cfg := world.MustLoadDefault()

	// Two queued upgrades of the same timber camp land in one drain.
	s := putSettlement(ms, &model.Settlement{
		Buildings: map[model.BuildingKind]model.Building{
			model.BuildingTimberCamp: {Level: 1, QueuedLevel: 3},
		},
		Production: model.Resources{Wood: 30},
	})
	first := &model.ConstructionEntry{SettlementID: s.ID, Building: model.BuildingTimberCamp, TargetLevel: 2, DueAt: testBase.Add(10 * time.Minute)}
	second := &model.ConstructionEntry{SettlementID: s.ID, Building: model.BuildingTimberCamp, TargetLevel: 3, DueAt: testBase.Add(20 * time.Minute)}
	for _, e := range []*model.ConstructionEntry{first, second} {
		if err := ms.Insert(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}

	if err := r.ResolveDue(context.Background(), s.ID, testBase.Add(time.Hour)); err != nil {
		t.Fatalf("ResolveDue: %v", err)
	}

	stored := ms.settlements[s.ID]
	got := stored.Buildings[model.BuildingTimberCamp]
	if got.Level != 3 || got.QueuedLevel != 0 {
		t.Errorf("timber camp = %+v, want level 3 with nothing queued", got)
	}
	if len(ms.construction) != 0 {
		t.Errorf("construction queue not drained: %d entries", len(ms.construction))
	}
	if !almostEqual(stored.Production.Wood, cfg.ProductionRate(stored.Buildings).Wood) {
		t.Errorf("production = %v, want rate for level 3", stored.Production.Wood)
	}
	if !stored.UpdatedAt.Equal(testBase.Add(20 * time.Minute)) {
		t.Errorf("UpdatedAt = %v, want the last entry's due instant", stored.UpdatedAt)
	}
}

func TestResolvePartialFailureKeepsPrefix(t *testing.T) {
	ms := newMockStore()
	r := newTestResolver(ms)

	s := putSettlement(ms, &model.Settlement{
		Buildings: map[model.BuildingKind]model.Building{
			model.BuildingWarehouse: {Level: 1, QueuedLevel: 2},
			model.BuildingFarm:      {Level: 1, QueuedLevel: 2},
		},
	})
	first := &model.ConstructionEntry{SettlementID: s.ID, Building: model.BuildingWarehouse, TargetLevel: 2, DueAt: testBase.Add(10 * time.Minute)}
	second := &model.ConstructionEntry{SettlementID: s.ID, Building: model.BuildingFarm, TargetLevel: 2, DueAt: testBase.Add(20 * time.Minute)}
	for _, e := range []*model.ConstructionEntry{first, second} {
		if err := ms.Insert(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}
	boom := errors.New("boom")
	ms.failDelete[second.ID] = boom

	err := r.ResolveDue(context.Background(), s.ID, testBase.Add(time.Hour))
	var partial *PartialResolveError
	if !errors.As(err, &partial) {
		t.Fatalf("err = %v, want *PartialResolveError", err)
	}
	if partial.Applied != 1 || partial.EntryID != second.ID {
		t.Errorf("partial = applied %d entry %s, want 1 applied, failing entry %s", partial.Applied, partial.EntryID, second.ID)
	}
	if !errors.Is(err, boom) {
		t.Errorf("cause not preserved: %v", err)
	}

	stored := ms.settlements[s.ID]
	if stored.Buildings[model.BuildingWarehouse].Level != 2 {
		t.Errorf("first entry not applied")
	}
	if stored.Buildings[model.BuildingFarm].Level != 1 {
		t.Errorf("failed entry applied anyway")
	}
	if _, ok := ms.construction[second.ID]; !ok {
		t.Errorf("failed entry removed from queue")
	}
}
