// Package world holds the immutable world configuration snapshot: unit and
// building stat tables, global rates, and background service cadence. The
// defaults are embedded; deployments override them with WORLD_CONFIG.
package world

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/freeeve/hexhold/api/internal/model"
	"github.com/freeeve/hexhold/api/pkg/battle"
)

//go:embed world.yaml
var defaultYAML []byte

// Cost is a resource price.
type Cost struct {
	Wood float64 `yaml:"wood"`
	Clay float64 `yaml:"clay"`
	Iron float64 `yaml:"iron"`
}

// Resources converts a cost to a resource amount.
func (c Cost) Resources() model.Resources {
	return model.Resources{Wood: c.Wood, Clay: c.Clay, Iron: c.Iron}
}

// UnitDef is the static definition of one unit kind.
type UnitDef struct {
	Attack         int                        `yaml:"attack"`
	Class          string                     `yaml:"class"` // general, cavalry, archer
	DefGeneral     int                        `yaml:"def_general"`
	DefCavalry     int                        `yaml:"def_cavalry"`
	DefArcher      int                        `yaml:"def_archer"`
	Haul           int                        `yaml:"haul"`
	Pop            int                        `yaml:"pop"`
	SpeedMinPerHex float64                    `yaml:"speed_min_per_hex"`
	Cost           Cost                       `yaml:"cost"`
	RecruitSeconds int                        `yaml:"recruit_seconds"`
	Noble          bool                       `yaml:"noble"`
	Requires       map[model.BuildingKind]int `yaml:"requires"`
}

// BuildingDef is the static definition of one building kind.
type BuildingDef struct {
	MaxLevel    int     `yaml:"max_level"`
	BaseCost    Cost    `yaml:"base_cost"`
	CostFactor  float64 `yaml:"cost_factor"`
	BaseSeconds int     `yaml:"base_seconds"`
	TimeFactor  float64 `yaml:"time_factor"`
	Points      int     `yaml:"points"`

	// Production buildings.
	Produces       string  `yaml:"produces,omitempty"` // wood, clay, iron
	ProductionBase float64 `yaml:"production_base,omitempty"`
	ProductionFac  float64 `yaml:"production_factor,omitempty"`

	// Warehouse.
	CapBase   float64 `yaml:"cap_base,omitempty"`
	CapFactor float64 `yaml:"cap_factor,omitempty"`

	// Farm.
	PopBase   float64 `yaml:"pop_base,omitempty"`
	PopFactor float64 `yaml:"pop_factor,omitempty"`

	// Wall.
	BonusPerLevel float64 `yaml:"bonus_per_level,omitempty"`

	Requires map[model.BuildingKind]int `yaml:"requires"`
}

// Config is the read-only world configuration snapshot.
type Config struct {
	Speed float64 `yaml:"speed"` // global time scaling, higher = faster

	Loyalty struct {
		RegenPerHour float64 `yaml:"regen_per_hour"`
		Initial      float64 `yaml:"initial"`
		NobleHitMin  int     `yaml:"noble_hit_min"`
		NobleHitMax  int     `yaml:"noble_hit_max"`
	} `yaml:"loyalty"`

	Map struct {
		Radius int `yaml:"radius"`
	} `yaml:"map"`

	Growth struct {
		IntervalMinutes int `yaml:"interval_minutes"`
	} `yaml:"growth"`

	Expansion struct {
		IntervalMinutes int     `yaml:"interval_minutes"`
		Probability     float64 `yaml:"probability"`
		NoiseScale      float64 `yaml:"noise_scale"`
	} `yaml:"expansion"`

	StartResources Cost `yaml:"start_resources"`

	Units     map[model.UnitKind]UnitDef         `yaml:"units"`
	Buildings map[model.BuildingKind]BuildingDef `yaml:"buildings"`
}

// Load returns the world configuration. If path is non-empty the file
// replaces the embedded defaults entirely.
func Load(path string) (*Config, error) {
	raw := defaultYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read world config: %w", err)
		}
		raw = b
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse world config: %w", err)
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}
	if len(cfg.Units) == 0 || len(cfg.Buildings) == 0 {
		return nil, fmt.Errorf("world config missing unit or building tables")
	}
	return &cfg, nil
}

// MustLoadDefault parses the embedded defaults, panicking on error.
// Intended for tests.
func MustLoadDefault() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

// BattleStats converts the unit table to the battle engine's stat map.
func (c *Config) BattleStats() map[string]battle.UnitStats {
	out := make(map[string]battle.UnitStats, len(c.Units))
	for kind, u := range c.Units {
		class := battle.ClassGeneral
		switch u.Class {
		case "cavalry":
			class = battle.ClassCavalry
		case "archer":
			class = battle.ClassArcher
		}
		out[string(kind)] = battle.UnitStats{
			Attack:     u.Attack,
			Class:      class,
			DefGeneral: u.DefGeneral,
			DefCavalry: u.DefCavalry,
			DefArcher:  u.DefArcher,
			Haul:       u.Haul,
			Noble:      u.Noble,
		}
	}
	return out
}

// GrowthInterval returns the growth tick cadence.
func (c *Config) GrowthInterval() time.Duration {
	return time.Duration(c.Growth.IntervalMinutes) * time.Minute
}

// ExpansionInterval returns the expansion tick cadence.
func (c *Config) ExpansionInterval() time.Duration {
	return time.Duration(c.Expansion.IntervalMinutes) * time.Minute
}

// StorageCap returns the warehouse capacity at the given warehouse level.
// A razed warehouse still holds a small baseline stock.
func (c *Config) StorageCap(level int) float64 {
	def := c.Buildings[model.BuildingWarehouse]
	if level <= 0 {
		return def.CapBase / 2
	}
	return def.CapBase * math.Pow(def.CapFactor, float64(level-1))
}

// FarmLimit returns the population limit at the given farm level.
func (c *Config) FarmLimit(level int) float64 {
	def := c.Buildings[model.BuildingFarm]
	if level <= 0 {
		return 0
	}
	return def.PopBase * math.Pow(def.PopFactor, float64(level-1))
}

// WallBonus returns the defense multiplier for a wall level. Always >= 1.
func (c *Config) WallBonus(level int) float64 {
	if level <= 0 {
		return 1
	}
	return 1 + c.Buildings[model.BuildingWall].BonusPerLevel*float64(level)
}

// ProductionRate returns the per-hour resource production for the given
// building levels.
func (c *Config) ProductionRate(buildings map[model.BuildingKind]model.Building) model.Resources {
	var out model.Resources
	for kind, b := range buildings {
		def := c.Buildings[kind]
		if def.Produces == "" || b.Level <= 0 {
			continue
		}
		rate := def.ProductionBase * math.Pow(def.ProductionFac, float64(b.Level-1))
		switch def.Produces {
		case "wood":
			out.Wood += rate
		case "clay":
			out.Clay += rate
		case "iron":
			out.Iron += rate
		}
	}
	return out
}

// Points returns the derived score for a settlement's building levels.
func (c *Config) Points(buildings map[model.BuildingKind]model.Building) int {
	total := 0
	for kind, b := range buildings {
		total += c.Buildings[kind].Points * b.Level
	}
	return total
}

// BuildCost returns the price of upgrading a building to targetLevel.
func (c *Config) BuildCost(kind model.BuildingKind, targetLevel int) model.Resources {
	def := c.Buildings[kind]
	factor := math.Pow(def.CostFactor, float64(targetLevel-1))
	return model.Resources{
		Wood: def.BaseCost.Wood * factor,
		Clay: def.BaseCost.Clay * factor,
		Iron: def.BaseCost.Iron * factor,
	}
}

// BuildDuration returns how long the upgrade to targetLevel takes.
func (c *Config) BuildDuration(kind model.BuildingKind, targetLevel int) time.Duration {
	def := c.Buildings[kind]
	secs := float64(def.BaseSeconds) * math.Pow(def.TimeFactor, float64(targetLevel-1)) / c.Speed
	return time.Duration(secs * float64(time.Second))
}

// RecruitCost returns the price of recruiting amount units.
func (c *Config) RecruitCost(kind model.UnitKind, amount int) model.Resources {
	u := c.Units[kind]
	n := float64(amount)
	return model.Resources{Wood: u.Cost.Wood * n, Clay: u.Cost.Clay * n, Iron: u.Cost.Iron * n}
}

// RecruitDuration returns how long recruiting amount units takes.
func (c *Config) RecruitDuration(kind model.UnitKind, amount int) time.Duration {
	u := c.Units[kind]
	secs := float64(u.RecruitSeconds*amount) / c.Speed
	return time.Duration(secs * float64(time.Second))
}

// SlowestSpeed returns the minutes-per-hex of the slowest unit in the force.
func (c *Config) SlowestSpeed(units map[model.UnitKind]int) float64 {
	slowest := 0.0
	for kind, n := range units {
		if n <= 0 {
			continue
		}
		if s := c.Units[kind].SpeedMinPerHex; s > slowest {
			slowest = s
		}
	}
	return slowest
}

// Population returns the farm population used by a unit census, counting
// inside, outside, and queued units.
func (c *Config) Population(units map[model.UnitKind]model.Garrison) float64 {
	total := 0.0
	for kind, g := range units {
		total += float64(c.Units[kind].Pop * (g.Inside + g.Outside + g.Queued))
	}
	return total
}

// RequirementsMet reports whether a settlement's buildings satisfy the
// requirement map.
func RequirementsMet(buildings map[model.BuildingKind]model.Building, req map[model.BuildingKind]int) bool {
	for kind, lvl := range req {
		if buildings[kind].Level < lvl {
			return false
		}
	}
	return true
}

// EligibleUpgrades returns the building kinds that can currently be raised
// one level: below max, requirements met, nothing already queued ahead of
// the current level. Sorted for deterministic selection.
func (c *Config) EligibleUpgrades(buildings map[model.BuildingKind]model.Building) []model.BuildingKind {
	var out []model.BuildingKind
	for kind, def := range c.Buildings {
		b := buildings[kind]
		if b.Level >= def.MaxLevel {
			continue
		}
		if !RequirementsMet(buildings, def.Requires) {
			continue
		}
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// BaselineBuildings returns the starting structure levels for a new
// settlement.
func (c *Config) BaselineBuildings() map[model.BuildingKind]model.Building {
	return map[model.BuildingKind]model.Building{
		model.BuildingHeadquarters: {Level: 1},
		model.BuildingTimberCamp:   {Level: 1},
		model.BuildingClayPit:      {Level: 1},
		model.BuildingIronMine:     {Level: 1},
		model.BuildingWarehouse:    {Level: 1},
		model.BuildingFarm:         {Level: 1},
	}
}
