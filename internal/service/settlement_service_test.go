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

func newTestSettlementService(ms *mockStore) *SettlementService {
	cfg := world.MustLoadDefault()
	return NewSettlementService(ms, cfg, newTestResolver(ms), nil)
}

func TestQueueConstructionSerializesAndDeducts(t *testing.T) {
	ms := newMockStore()
	svc := newTestSettlementService(ms)
	ctx := context.Background()

	s := putSettlement(ms, &model.Settlement{
		PlayerID: "ply-1",
		Buildings: map[model.BuildingKind]model.Building{
			model.BuildingHeadquarters: {Level: 1},
			model.BuildingTimberCamp:   {Level: 1},
		},
		Resources: model.Resources{Wood: 1000, Clay: 1000, Iron: 1000},
		Loyalty:   100,
	})

	first, err := svc.QueueConstruction(ctx, "ply-1", s.ID, model.BuildingTimberCamp, testBase)
	if err != nil {
		t.Fatalf("first queue: %v", err)
	}
	if first.TargetLevel != 2 {
		t.Errorf("first target = %d, want 2", first.TargetLevel)
	}
	// Level 2 takes 900 * 1.2 seconds.
	if want := testBase.Add(1080 * time.Second); !first.DueAt.Equal(want) {
		t.Errorf("first due = %v, want %v", first.DueAt, want)
	}

	second, err := svc.QueueConstruction(ctx, "ply-1", s.ID, model.BuildingTimberCamp, testBase)
	if err != nil {
		t.Fatalf("second queue: %v", err)
	}
	if second.TargetLevel != 3 {
		t.Errorf("second target = %d, want 3", second.TargetLevel)
	}
	// The second upgrade starts when the first finishes.
	if want := testBase.Add((1080 + 1296) * time.Second); !second.DueAt.Equal(want) {
		t.Errorf("second due = %v, want %v", second.DueAt, want)
	}

	stored := ms.settlements[s.ID]
	if got := stored.Buildings[model.BuildingTimberCamp]; got.Level != 1 || got.QueuedLevel != 3 {
		t.Errorf("timber camp = %+v, want level 1 with 3 queued", got)
	}
	// 50/60/40 at 1.25 and 1.25^2.
	if !almostEqual(stored.Resources.Wood, 1000-62.5-78.125) {
		t.Errorf("wood = %v, want %v", stored.Resources.Wood, 1000-62.5-78.125)
	}
	if !almostEqual(stored.Resources.Clay, 1000-75-93.75) {
		t.Errorf("clay = %v, want %v", stored.Resources.Clay, 1000-75-93.75)
	}
	if !almostEqual(stored.Resources.Iron, 1000-50-62.5) {
		t.Errorf("iron = %v, want %v", stored.Resources.Iron, 1000-50-62.5)
	}
}

func TestQueueConstructionValidation(t *testing.T) {
	ms := newMockStore()
	svc := newTestSettlementService(ms)
	ctx := context.Background()

	s := putSettlement(ms, &model.Settlement{
		PlayerID: "ply-1",
		Buildings: map[model.BuildingKind]model.Building{
			model.BuildingHeadquarters: {Level: 1},
			model.BuildingAcademy:      {Level: 1},
		},
		Loyalty: 100,
	})
	maxed := putSettlement(ms, &model.Settlement{
		PlayerID:  "ply-1",
		Coord:     hexmap.Coord{X: 1, Y: 0},
		Buildings: map[model.BuildingKind]model.Building{model.BuildingHeadquarters: {Level: 5}},
		Loyalty:   100,
	})

	tests := []struct {
		name         string
		playerID     string
		settlementID string
		building     model.BuildingKind
		wantErr      error
	}{
		{"unknown building", "ply-1", s.ID, model.BuildingKind("palace"), ErrUnknownBuilding},
		{"already at max level", "ply-1", s.ID, model.BuildingAcademy, ErrMaxLevel},
		{"requirements unmet", "ply-1", maxed.ID, model.BuildingAcademy, ErrRequirementsUnmet},
		{"insufficient resources", "ply-1", s.ID, model.BuildingHeadquarters, ErrInsufficientResources},
		{"not the owner", "ply-2", s.ID, model.BuildingHeadquarters, ErrNotOwner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.QueueConstruction(ctx, tt.playerID, tt.settlementID, tt.building, testBase)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestQueueRecruitment(t *testing.T) {
	ms := newMockStore()
	svc := newTestSettlementService(ms)
	ctx := context.Background()

	s := putSettlement(ms, &model.Settlement{
		PlayerID: "ply-1",
		Buildings: map[model.BuildingKind]model.Building{
			model.BuildingFarm:     {Level: 1},
			model.BuildingBarracks: {Level: 1},
		},
		Units:     map[model.UnitKind]model.Garrison{model.UnitSpear: {Inside: 200}},
		Resources: model.Resources{Wood: 5000, Clay: 5000, Iron: 5000},
		Loyalty:   100,
	})

	entry, err := svc.QueueRecruitment(ctx, "ply-1", s.ID, model.UnitSpear, 40, testBase)
	if err != nil {
		t.Fatalf("QueueRecruitment: %v", err)
	}
	// 40 spears at 600 seconds each.
	if want := testBase.Add(24000 * time.Second); !entry.DueAt.Equal(want) {
		t.Errorf("due = %v, want %v", entry.DueAt, want)
	}

	stored := ms.settlements[s.ID]
	if g := stored.Units[model.UnitSpear]; g.Queued != 40 || g.Inside != 200 {
		t.Errorf("garrison = %+v, want 200 inside, 40 queued", g)
	}
	if !almostEqual(stored.Resources.Wood, 3000) || !almostEqual(stored.Resources.Clay, 3800) || !almostEqual(stored.Resources.Iron, 4600) {
		t.Errorf("stock = %+v, want 3000/3800/4600", stored.Resources)
	}

	// A level-1 farm feeds 240; 200 alive plus 40 queued fills it exactly.
	if _, err := svc.QueueRecruitment(ctx, "ply-1", s.ID, model.UnitSpear, 1, testBase); !errors.Is(err, ErrPopulationLimit) {
		t.Errorf("over farm limit: err = %v, want ErrPopulationLimit", err)
	}
	// Axes need a level-5 barracks.
	if _, err := svc.QueueRecruitment(ctx, "ply-1", s.ID, model.UnitAxe, 1, testBase); !errors.Is(err, ErrRequirementsUnmet) {
		t.Errorf("missing barracks level: err = %v, want ErrRequirementsUnmet", err)
	}
	if _, err := svc.QueueRecruitment(ctx, "ply-1", s.ID, model.UnitKind("dragon"), 1, testBase); !errors.Is(err, ErrUnknownUnit) {
		t.Errorf("unknown unit: err = %v, want ErrUnknownUnit", err)
	}
	if _, err := svc.QueueRecruitment(ctx, "ply-1", s.ID, model.UnitSpear, 0, testBase); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero amount: err = %v, want ErrInvalidAmount", err)
	}
}

func TestSendAttack(t *testing.T) {
	ms := newMockStore()
	svc := newTestSettlementService(ms)
	ctx := context.Background()

	origin := putSettlement(ms, &model.Settlement{
		PlayerID: "ply-1",
		Coord:    hexmap.Coord{X: 0, Y: 0},
		Units:    map[model.UnitKind]model.Garrison{model.UnitSpear: {Inside: 50}},
		Loyalty:  100,
	})
	target := putSettlement(ms, &model.Settlement{
		Coord:   hexmap.Coord{X: 4, Y: 2},
		Loyalty: 100,
	})

	force := map[model.UnitKind]int{model.UnitSpear: 10}

	if _, err := svc.SendAttack(ctx, "ply-1", origin.ID, origin.ID, force, testBase); !errors.Is(err, ErrSelfTarget) {
		t.Errorf("self target: err = %v, want ErrSelfTarget", err)
	}
	if _, err := svc.SendAttack(ctx, "ply-1", origin.ID, target.ID, map[model.UnitKind]int{"dragon": 1}, testBase); !errors.Is(err, ErrUnknownUnit) {
		t.Errorf("unknown unit: err = %v, want ErrUnknownUnit", err)
	}
	if _, err := svc.SendAttack(ctx, "ply-1", origin.ID, target.ID, map[model.UnitKind]int{model.UnitSpear: 0}, testBase); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("empty force: err = %v, want ErrInvalidAmount", err)
	}
	if _, err := svc.SendAttack(ctx, "ply-1", origin.ID, target.ID, map[model.UnitKind]int{model.UnitSpear: 51}, testBase); !errors.Is(err, ErrInsufficientUnits) {
		t.Errorf("too many: err = %v, want ErrInsufficientUnits", err)
	}
	if _, err := svc.SendAttack(ctx, "ply-2", origin.ID, target.ID, force, testBase); !errors.Is(err, ErrNotOwner) {
		t.Errorf("not owner: err = %v, want ErrNotOwner", err)
	}

	mov, err := svc.SendAttack(ctx, "ply-1", origin.ID, target.ID, force, testBase)
	if err != nil {
		t.Fatalf("SendAttack: %v", err)
	}
	if mov.Kind != model.MovementAttack || mov.OriginID != origin.ID || mov.TargetID != target.ID {
		t.Errorf("movement = %+v", mov)
	}

	dist := hexmap.Distance(origin.Coord, target.Coord)
	// Spears march at 18 minutes per hex.
	if want := testBase.Add(hexmap.TravelTime(dist, 18, 1.0)); !mov.DueAt.Equal(want) {
		t.Errorf("due = %v, want %v", mov.DueAt, want)
	}

	if g := ms.settlements[origin.ID].Units[model.UnitSpear]; g.Inside != 40 || g.Outside != 10 {
		t.Errorf("garrison = %+v, want 40 inside, 10 outside", g)
	}
	if _, ok := ms.movements[mov.ID]; !ok {
		t.Error("movement not persisted")
	}
}

func TestRecallSupport(t *testing.T) {
	ms := newMockStore()
	svc := newTestSettlementService(ms)
	ctx := context.Background()

	home := putSettlement(ms, &model.Settlement{
		PlayerID: "ply-1",
		Coord:    hexmap.Coord{X: 0, Y: 0},
		Units:    map[model.UnitKind]model.Garrison{model.UnitSpear: {Outside: 20}},
		Loyalty:  100,
	})
	stationedAt := putSettlement(ms, &model.Settlement{
		Coord:   hexmap.Coord{X: 3, Y: 1},
		Loyalty: 100,
	})
	sup := &model.SupportEntry{
		OriginID: home.ID,
		TargetID: stationedAt.ID,
		Units:    map[model.UnitKind]int{model.UnitSpear: 20},
	}
	if err := (supportRepo{ms}).Insert(ctx, sup); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.RecallSupport(ctx, "ply-2", sup.ID, testBase); !errors.Is(err, ErrNotOwner) {
		t.Errorf("not owner: err = %v, want ErrNotOwner", err)
	}
	if _, err := svc.RecallSupport(ctx, "ply-1", "sup-missing", testBase); !errors.Is(err, ErrSupportNotFound) {
		t.Errorf("missing support: err = %v, want ErrSupportNotFound", err)
	}

	mov, err := svc.RecallSupport(ctx, "ply-1", sup.ID, testBase)
	if err != nil {
		t.Fatalf("RecallSupport: %v", err)
	}
	if mov.Kind != model.MovementReturn || mov.OriginID != stationedAt.ID || mov.TargetID != home.ID {
		t.Errorf("return = %+v, want %s -> %s", mov, stationedAt.ID, home.ID)
	}
	if mov.Units[model.UnitSpear] != 20 {
		t.Errorf("return units = %v, want the full detachment", mov.Units)
	}
	if _, ok := ms.supports[sup.ID]; ok {
		t.Error("support entry survived recall")
	}
}

func TestGetProjectsWithoutPersisting(t *testing.T) {
	ms := newMockStore()
	svc := newTestSettlementService(ms)

	s := putSettlement(ms, &model.Settlement{
		Buildings:  map[model.BuildingKind]model.Building{model.BuildingWarehouse: {Level: 5}},
		Resources:  model.Resources{Wood: 100},
		Production: model.Resources{Wood: 30},
		Loyalty:    100,
	})

	view, err := svc.Get(context.Background(), s.ID, testBase.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !almostEqual(view.Settlement.Resources.Wood, 160) {
		t.Errorf("projected wood = %v, want 160", view.Settlement.Resources.Wood)
	}
	// Nothing was due, so the stored row is untouched.
	if stored := ms.settlements[s.ID]; !almostEqual(stored.Resources.Wood, 100) || !stored.UpdatedAt.Equal(testBase) {
		t.Errorf("stored settlement mutated: %+v", stored)
	}

	if _, err := svc.Get(context.Background(), "stl-missing", testBase); !errors.Is(err, ErrSettlementNotFound) {
		t.Errorf("missing settlement: err = %v, want ErrSettlementNotFound", err)
	}
}
