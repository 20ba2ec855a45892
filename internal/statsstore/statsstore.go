// Package statsstore optionally persists each run's RunSummary, the way
// Chapter06's linkgraph CockroachDBGraph persists crawl state: a thin
// database/sql wrapper behind a tiny interface, with lib/pq supplying the
// Postgres driver (spec.md §10.5).
package statsstore

import "github.com/laned/laned/internal/scheduler"

// Store persists RunSummary records. A laned run's output is correctness
// data, not user-facing state, so the interface is deliberately this
// narrow: one write per run.
type Store interface {
	SaveRunSummary(s scheduler.RunSummary) error
	Close() error
}
