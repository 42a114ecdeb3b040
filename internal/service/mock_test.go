package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/freeeve/hexhold/api/internal/model"
	"github.com/freeeve/hexhold/api/internal/repository"
	"github.com/freeeve/hexhold/api/pkg/hexmap"
)

// mockStore is an in-memory repository.Store. Reads hand out copies so
// services mutate and write back the way they would against a database.
// InTx runs the function directly; failure injection happens before any
// mutation, so tests never depend on rollback.
type mockStore struct {
	settlements  map[string]*model.Settlement
	construction map[string]*model.ConstructionEntry
	recruitment  map[string]*model.RecruitmentEntry
	movements    map[string]*model.MovementEntry
	supports     map[string]*model.SupportEntry
	reports      []model.Report
	players      map[string]*model.Player

	lastGrowth    time.Time
	lastExpansion time.Time

	nextID int

	// failDelete makes Delete on the given queue entry ID fail, before any
	// state change, to exercise partial-resolve behavior.
	failDelete map[string]error
}

func newMockStore() *mockStore {
	return &mockStore{
		settlements:  make(map[string]*model.Settlement),
		construction: make(map[string]*model.ConstructionEntry),
		recruitment:  make(map[string]*model.RecruitmentEntry),
		movements:    make(map[string]*model.MovementEntry),
		supports:     make(map[string]*model.SupportEntry),
		players:      make(map[string]*model.Player),
		failDelete:   make(map[string]error),
	}
}

func (m *mockStore) genID(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%03d", prefix, m.nextID)
}

func (m *mockStore) Settlements() repository.SettlementRepository    { return m }
func (m *mockStore) Construction() repository.ConstructionRepository { return m }
func (m *mockStore) Recruitment() repository.RecruitmentRepository   { return recruitmentRepo{m} }
func (m *mockStore) Movements() repository.MovementRepository        { return movementRepo{m} }
func (m *mockStore) Supports() repository.SupportRepository          { return supportRepo{m} }
func (m *mockStore) Reports() repository.ReportRepository            { return reportRepo{m} }
func (m *mockStore) Players() repository.PlayerRepository            { return playerRepo{m} }
func (m *mockStore) World() repository.WorldRepository               { return worldRepo{m} }

func (m *mockStore) InTx(_ context.Context, fn func(uow repository.UnitOfWork) error) error {
	return fn(m)
}

// --- settlements ---

func cloneSettlement(s *model.Settlement) *model.Settlement {
	cp := *s
	cp.Buildings = make(map[model.BuildingKind]model.Building, len(s.Buildings))
	for k, v := range s.Buildings {
		cp.Buildings[k] = v
	}
	cp.Units = make(map[model.UnitKind]model.Garrison, len(s.Units))
	for k, v := range s.Units {
		cp.Units[k] = v
	}
	return &cp
}

func (m *mockStore) FindByID(_ context.Context, id string) (*model.Settlement, error) {
	s, ok := m.settlements[id]
	if !ok {
		return nil, nil
	}
	return cloneSettlement(s), nil
}

func (m *mockStore) FindByCoord(_ context.Context, coord hexmap.Coord) (*model.Settlement, error) {
	for _, s := range m.settlements {
		if s.Coord == coord {
			return cloneSettlement(s), nil
		}
	}
	return nil, nil
}

func (m *mockStore) LockByID(ctx context.Context, id string) (*model.Settlement, error) {
	return m.FindByID(ctx, id)
}

func (m *mockStore) ListUnclaimed(_ context.Context) ([]model.Settlement, error) {
	var out []model.Settlement
	for _, s := range m.settlements {
		if s.PlayerID == "" {
			out = append(out, *cloneSettlement(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) ListByPlayer(_ context.Context, playerID string) ([]model.Settlement, error) {
	var out []model.Settlement
	for _, s := range m.settlements {
		if s.PlayerID == playerID {
			out = append(out, *cloneSettlement(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) OccupiedCoords(_ context.Context) (map[hexmap.Coord]bool, error) {
	out := make(map[hexmap.Coord]bool)
	for _, s := range m.settlements {
		out[s.Coord] = true
	}
	return out, nil
}

func (m *mockStore) Create(_ context.Context, s *model.Settlement) error {
	for _, existing := range m.settlements {
		if existing.Coord == s.Coord {
			return fmt.Errorf("coordinate %v occupied", s.Coord)
		}
	}
	if s.ID == "" {
		s.ID = m.genID("stl")
	}
	m.settlements[s.ID] = cloneSettlement(s)
	return nil
}

func (m *mockStore) Update(_ context.Context, s *model.Settlement) error {
	if _, ok := m.settlements[s.ID]; !ok {
		return fmt.Errorf("settlement %s not found", s.ID)
	}
	m.settlements[s.ID] = cloneSettlement(s)
	return nil
}

// --- construction queue ---

func (m *mockStore) ListDue(_ context.Context, settlementID string, until time.Time) ([]model.ConstructionEntry, error) {
	var out []model.ConstructionEntry
	for _, e := range m.construction {
		if e.SettlementID == settlementID && !e.DueAt.After(until) {
			out = append(out, *e)
		}
	}
	sortByDue(out, func(e model.ConstructionEntry) (time.Time, string) { return e.DueAt, e.ID })
	return out, nil
}

func (m *mockStore) ListBySettlement(_ context.Context, settlementID string) ([]model.ConstructionEntry, error) {
	var out []model.ConstructionEntry
	for _, e := range m.construction {
		if e.SettlementID == settlementID {
			out = append(out, *e)
		}
	}
	sortByDue(out, func(e model.ConstructionEntry) (time.Time, string) { return e.DueAt, e.ID })
	return out, nil
}

func (m *mockStore) LastDue(_ context.Context, settlementID string) (time.Time, error) {
	var last time.Time
	for _, e := range m.construction {
		if e.SettlementID == settlementID && e.DueAt.After(last) {
			last = e.DueAt
		}
	}
	return last, nil
}

func (m *mockStore) Insert(_ context.Context, e *model.ConstructionEntry) error {
	if e.ID == "" {
		e.ID = m.genID("con")
	}
	cp := *e
	m.construction[e.ID] = &cp
	return nil
}

func (m *mockStore) Delete(_ context.Context, id string) (bool, error) {
	if err := m.failDelete[id]; err != nil {
		return false, err
	}
	if _, ok := m.construction[id]; ok {
		delete(m.construction, id)
		return true, nil
	}
	return false, nil
}

// --- recruitment queue ---

// recruitmentRepo disambiguates the overlapping method sets of the queue
// repositories on mockStore.
type recruitmentRepo struct{ m *mockStore }

func (r recruitmentRepo) ListDue(_ context.Context, settlementID string, until time.Time) ([]model.RecruitmentEntry, error) {
	var out []model.RecruitmentEntry
	for _, e := range r.m.recruitment {
		if e.SettlementID == settlementID && !e.DueAt.After(until) {
			out = append(out, *e)
		}
	}
	sortByDue(out, func(e model.RecruitmentEntry) (time.Time, string) { return e.DueAt, e.ID })
	return out, nil
}

func (r recruitmentRepo) ListBySettlement(_ context.Context, settlementID string) ([]model.RecruitmentEntry, error) {
	var out []model.RecruitmentEntry
	for _, e := range r.m.recruitment {
		if e.SettlementID == settlementID {
			out = append(out, *e)
		}
	}
	sortByDue(out, func(e model.RecruitmentEntry) (time.Time, string) { return e.DueAt, e.ID })
	return out, nil
}

func (r recruitmentRepo) LastDue(_ context.Context, settlementID string) (time.Time, error) {
	var last time.Time
	for _, e := range r.m.recruitment {
		if e.SettlementID == settlementID && e.DueAt.After(last) {
			last = e.DueAt
		}
	}
	return last, nil
}

func (r recruitmentRepo) Insert(_ context.Context, e *model.RecruitmentEntry) error {
	if e.ID == "" {
		e.ID = r.m.genID("rec")
	}
	cp := *e
	r.m.recruitment[e.ID] = &cp
	return nil
}

func (r recruitmentRepo) Delete(_ context.Context, id string) (bool, error) {
	if err := r.m.failDelete[id]; err != nil {
		return false, err
	}
	if _, ok := r.m.recruitment[id]; ok {
		delete(r.m.recruitment, id)
		return true, nil
	}
	return false, nil
}

// --- movements ---

type movementRepo struct{ m *mockStore }

func (r movementRepo) FindByID(_ context.Context, id string) (*model.MovementEntry, error) {
	e, ok := r.m.movements[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	cp.Units = cloneUnits(e.Units)
	return &cp, nil
}

func (r movementRepo) ListDueTouching(_ context.Context, settlementID string, until time.Time) ([]model.MovementEntry, error) {
	var out []model.MovementEntry
	for _, e := range r.m.movements {
		if (e.OriginID == settlementID || e.TargetID == settlementID) && !e.DueAt.After(until) {
			out = append(out, *e)
		}
	}
	sortByDue(out, func(e model.MovementEntry) (time.Time, string) { return e.DueAt, e.ID })
	return out, nil
}

func (r movementRepo) ListByOrigin(_ context.Context, originID string) ([]model.MovementEntry, error) {
	var out []model.MovementEntry
	for _, e := range r.m.movements {
		if e.OriginID == originID {
			out = append(out, *e)
		}
	}
	sortByDue(out, func(e model.MovementEntry) (time.Time, string) { return e.DueAt, e.ID })
	return out, nil
}

func (r movementRepo) ListByTarget(_ context.Context, targetID string) ([]model.MovementEntry, error) {
	var out []model.MovementEntry
	for _, e := range r.m.movements {
		if e.TargetID == targetID {
			out = append(out, *e)
		}
	}
	sortByDue(out, func(e model.MovementEntry) (time.Time, string) { return e.DueAt, e.ID })
	return out, nil
}

func (r movementRepo) Insert(_ context.Context, e *model.MovementEntry) error {
	if e.ID == "" {
		e.ID = r.m.genID("mov")
	}
	cp := *e
	cp.Units = cloneUnits(e.Units)
	r.m.movements[e.ID] = &cp
	return nil
}

func (r movementRepo) Delete(_ context.Context, id string) (bool, error) {
	if err := r.m.failDelete[id]; err != nil {
		return false, err
	}
	if _, ok := r.m.movements[id]; ok {
		delete(r.m.movements, id)
		return true, nil
	}
	return false, nil
}

func (r movementRepo) DeleteByOrigin(_ context.Context, originID string) error {
	for id, e := range r.m.movements {
		if e.OriginID == originID {
			delete(r.m.movements, id)
		}
	}
	return nil
}

// --- supports ---

type supportRepo struct{ m *mockStore }

func (r supportRepo) FindByID(_ context.Context, id string) (*model.SupportEntry, error) {
	e, ok := r.m.supports[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	cp.Units = cloneUnits(e.Units)
	return &cp, nil
}

func (r supportRepo) ListByTarget(_ context.Context, targetID string) ([]model.SupportEntry, error) {
	var out []model.SupportEntry
	for _, e := range r.m.supports {
		if e.TargetID == targetID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r supportRepo) ListByOrigin(_ context.Context, originID string) ([]model.SupportEntry, error) {
	var out []model.SupportEntry
	for _, e := range r.m.supports {
		if e.OriginID == originID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r supportRepo) Insert(_ context.Context, e *model.SupportEntry) error {
	if e.ID == "" {
		e.ID = r.m.genID("sup")
	}
	cp := *e
	cp.Units = cloneUnits(e.Units)
	r.m.supports[e.ID] = &cp
	return nil
}

func (r supportRepo) UpdateUnits(_ context.Context, id string, units map[model.UnitKind]int) error {
	e, ok := r.m.supports[id]
	if !ok {
		return fmt.Errorf("support %s not found", id)
	}
	e.Units = cloneUnits(units)
	return nil
}

func (r supportRepo) Delete(_ context.Context, id string) error {
	delete(r.m.supports, id)
	return nil
}

func (r supportRepo) DeleteByOrigin(_ context.Context, originID string) error {
	for id, e := range r.m.supports {
		if e.OriginID == originID {
			delete(r.m.supports, id)
		}
	}
	return nil
}

// --- reports ---

type reportRepo struct{ m *mockStore }

func (r reportRepo) Insert(_ context.Context, rep *model.Report) error {
	if rep.ID == "" {
		rep.ID = r.m.genID("rep")
	}
	r.m.reports = append(r.m.reports, *rep)
	return nil
}

func (r reportRepo) FindByID(_ context.Context, id string) (*model.Report, error) {
	for i := range r.m.reports {
		if r.m.reports[i].ID == id {
			cp := r.m.reports[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (r reportRepo) ListBySettlement(_ context.Context, settlementID string, limit int) ([]model.Report, error) {
	var out []model.Report
	for _, rep := range r.m.reports {
		if rep.OriginID == settlementID || rep.TargetID == settlementID {
			out = append(out, rep)
		}
	}
	return out, nil
}

func (r reportRepo) ListByPlayer(_ context.Context, playerID string, limit int) ([]model.Report, error) {
	var out []model.Report
	for _, rep := range r.m.reports {
		if rep.AttackerPlayerID == playerID || rep.DefenderPlayerID == playerID {
			out = append(out, rep)
		}
	}
	return out, nil
}

// --- players ---

type playerRepo struct{ m *mockStore }

func (r playerRepo) FindByID(_ context.Context, id string) (*model.Player, error) {
	p, ok := r.m.players[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r playerRepo) Create(_ context.Context, name string) (*model.Player, error) {
	p := &model.Player{ID: r.m.genID("ply"), Name: name}
	r.m.players[p.ID] = p
	cp := *p
	return &cp, nil
}

func (r playerRepo) ApplyScoreDelta(_ context.Context, playerID string, delta int) error {
	p, ok := r.m.players[playerID]
	if !ok {
		return fmt.Errorf("player %s not found", playerID)
	}
	p.Points += delta
	if p.Points < 0 {
		p.Points = 0
	}
	return nil
}

// --- world state ---

type worldRepo struct{ m *mockStore }

func (r worldRepo) LastGrowth(_ context.Context) (time.Time, error) { return r.m.lastGrowth, nil }
func (r worldRepo) SetLastGrowth(_ context.Context, t time.Time) error {
	r.m.lastGrowth = t
	return nil
}
func (r worldRepo) LastExpansion(_ context.Context) (time.Time, error) { return r.m.lastExpansion, nil }
func (r worldRepo) SetLastExpansion(_ context.Context, t time.Time) error {
	r.m.lastExpansion = t
	return nil
}

func cloneUnits(units map[model.UnitKind]int) map[model.UnitKind]int {
	out := make(map[model.UnitKind]int, len(units))
	for k, v := range units {
		out[k] = v
	}
	return out
}

func sortByDue[T any](entries []T, key func(T) (time.Time, string)) {
	sort.Slice(entries, func(i, j int) bool {
		di, ii := key(entries[i])
		dj, ij := key(entries[j])
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return ii < ij
	})
}
