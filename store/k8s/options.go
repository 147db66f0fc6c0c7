package k8s

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithTTL sets how long an unrefreshed Lease object stays alive.
// Default: 30s.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock sets the clock used for heartbeats and expiry.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithNamePrefix sets the prefix of every Lease object name.
// Default: "shardlease".
func WithNamePrefix(prefix string) Option {
	return func(s *Store) { s.namePrefix = prefix }
}
