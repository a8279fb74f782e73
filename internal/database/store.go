package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a lookup matches no rows.
var ErrNotFound = errors.New("not found")

// DBPool defines the pool operations repositories need. Both pgxpool.Pool
// and pgxmock satisfy it.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Store bundles every repository over one pool. It implements the
// persistence contract consumed by connectors, services and jobs.
type Store struct {
	*LaunchRepository
	*SignalRepository
	*RiskRepository
	*StrategyRepository
	*SnapshotRepository
}

// NewStore creates a Store over the given pool.
func NewStore(pool DBPool) *Store {
	return &Store{
		LaunchRepository:   NewLaunchRepository(pool),
		SignalRepository:   NewSignalRepository(pool),
		RiskRepository:     NewRiskRepository(pool),
		StrategyRepository: NewStrategyRepository(pool),
		SnapshotRepository: NewSnapshotRepository(pool),
	}
}

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
