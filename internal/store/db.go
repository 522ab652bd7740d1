package store

import (
	"errors"
	"log"

	"referral-engine/internal/observability"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // Import the pgx stdlib for sqlx
	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a concurrent-write conflict: a unique
	// constraint violation or a guarded update that matched no row.
	ErrConflict = errors.New("persistence conflict")
)

type Store struct {
	db     *sqlx.DB
	logger *observability.Logger
}

func New(connectionString string, logger *observability.Logger) (Store, error) {
	db, err := sqlx.Open("pgx", connectionString)
	if err != nil {
		log.Fatal(err)
		return Store{}, err
	}
	return Store{db: db, logger: logger}, nil
}

// DB returns the underlying database connection
func (s *Store) DB() *sqlx.DB {
	return s.db
}

const pgUniqueViolation = "23505"

// isUniqueViolation reports whether an error is a PostgreSQL unique
// constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
