package statsstore

import (
	"database/sql"

	_ "github.com/lib/pq"
	"golang.org/x/xerrors"

	"github.com/laned/laned/internal/scheduler"
)

const upsertRunQuery = `
INSERT INTO run_summaries (
	run_id, frames_ingested, frames_emitted, frames_dropped, workers_lost,
	drain_timed_out, errors
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (run_id) DO UPDATE SET
	frames_ingested = $2, frames_emitted = $3, frames_dropped = $4,
	workers_lost = $5, drain_timed_out = $6, errors = $7
`

// PostgresStore persists RunSummary rows to a Postgres (or
// CockroachDB-compatible) database, grounded on
// Chapter06/linkgraph/store/cdb.CockroachDBGraph's sql.Open/lib-pq shape.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore opens a connection pool against dsn. The run_summaries
// table is expected to already exist; laned does not run migrations.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, xerrors.Errorf("opening stats store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Errorf("pinging stats store: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// SaveRunSummary implements Store.
func (p *PostgresStore) SaveRunSummary(s scheduler.RunSummary) error {
	var errText sql.NullString
	if s.Errors != nil {
		errText = sql.NullString{String: s.Errors.Error(), Valid: true}
	}

	_, err := p.db.Exec(upsertRunQuery,
		s.RunID, s.FramesIngested, s.FramesEmitted, s.FramesDropped,
		s.WorkersLost, s.DrainTimedOut, errText,
	)
	if err != nil {
		return xerrors.Errorf("saving run summary: %w", err)
	}
	return nil
}

// Close implements Store.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}
