package statsstore

import "github.com/laned/laned/internal/scheduler"

// NullStore discards every RunSummary. It is the default Store when no
// --stats-store-uri is configured.
type NullStore struct{}

var _ Store = NullStore{}

func (NullStore) SaveRunSummary(scheduler.RunSummary) error { return nil }
func (NullStore) Close() error                              { return nil }
