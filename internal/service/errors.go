package service

import (
	"errors"
	"fmt"
)

var (
	ErrSettlementNotFound    = errors.New("settlement not found")
	ErrTargetNotFound        = errors.New("target settlement not found")
	ErrSupportNotFound       = errors.New("support not found")
	ErrReportNotFound        = errors.New("report not found")
	ErrPlayerNotFound        = errors.New("player not found")
	ErrNotOwner              = errors.New("settlement belongs to another player")
	ErrUnknownBuilding       = errors.New("unknown building kind")
	ErrUnknownUnit           = errors.New("unknown unit kind")
	ErrMaxLevel              = errors.New("building already at max level")
	ErrRequirementsUnmet     = errors.New("building requirements not met")
	ErrInsufficientResources = errors.New("not enough resources")
	ErrInsufficientUnits     = errors.New("not enough units inside the settlement")
	ErrPopulationLimit       = errors.New("farm population limit exceeded")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrSelfTarget            = errors.New("origin and target are the same settlement")
	ErrMapFull               = errors.New("no free coordinate left on the map")
)

// PartialResolveError reports a catch-up that stopped partway through a
// settlement's queue. Entries applied before the failure stay committed;
// the failing entry and everything after it remain pending, so a retry
// picks up exactly where this attempt stopped.
type PartialResolveError struct {
	SettlementID string
	Applied      int
	EntryID      string
	Err          error
}

func (e *PartialResolveError) Error() string {
	return fmt.Sprintf("resolve settlement %s: %d entries applied, entry %s failed: %v",
		e.SettlementID, e.Applied, e.EntryID, e.Err)
}

func (e *PartialResolveError) Unwrap() error { return e.Err }
