package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/freeeve/hexhold/api/internal/repository"
)

// Connect opens a connection pool to the PostgreSQL database.
func Connect(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx, so every repository
// works auto-committed and inside a unit of work.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// uow binds the repository set to one querier.
type uow struct {
	q querier
}

func (u uow) Settlements() repository.SettlementRepository    { return &SettlementRepo{q: u.q} }
func (u uow) Construction() repository.ConstructionRepository { return &ConstructionRepo{q: u.q} }
func (u uow) Recruitment() repository.RecruitmentRepository   { return &RecruitmentRepo{q: u.q} }
func (u uow) Movements() repository.MovementRepository        { return &MovementRepo{q: u.q} }
func (u uow) Supports() repository.SupportRepository          { return &SupportRepo{q: u.q} }
func (u uow) Reports() repository.ReportRepository            { return &ReportRepo{q: u.q} }
func (u uow) Players() repository.PlayerRepository            { return &PlayerRepo{q: u.q} }
func (u uow) World() repository.WorldRepository               { return &WorldRepo{q: u.q} }

// Store implements repository.Store on PostgreSQL.
type Store struct {
	db *sql.DB
	uow
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, uow: uow{q: db}}
}

// InTx runs fn inside one transaction. Serialization failures and lock
// timeouts surface as repository.ErrContention so callers retry with a
// fresh read.
func (s *Store) InTx(ctx context.Context, fn func(repo repository.UnitOfWork) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}
	defer tx.Rollback()

	if err := fn(uow{q: tx}); err != nil {
		return contentionOr(err)
	}
	if err := tx.Commit(); err != nil {
		return contentionOr(fmt.Errorf("commit unit of work: %w", err))
	}
	return nil
}

// contentionOr maps postgres concurrency failures onto ErrContention.
func contentionOr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03": // serialization, deadlock, lock_not_available
			return fmt.Errorf("%w: %v", repository.ErrContention, err)
		}
	}
	return err
}
