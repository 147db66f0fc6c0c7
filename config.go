package shardlease

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds configuration for membership tracking and lease management.
type Config struct {
	// TTL is how long an unrefreshed member or lease record is considered
	// alive. Members older than TTL are not counted towards the cluster size.
	TTL time.Duration `mapstructure:"ttl" validate:"required,gt=0"`

	// HeartbeatInterval is the delay between the end of one heartbeat cycle
	// and the start of the next one.
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval" validate:"required,gt=0,ltfield=TTL"`

	// FirstHeartbeatDelay is the delay before the first cycle after Start.
	FirstHeartbeatDelay time.Duration `mapstructure:"firstHeartbeatDelay" validate:"gte=0"`

	// OveracquireFactor scales each instance's share of partitions above an
	// even split so short membership churn does not leave a range unowned.
	OveracquireFactor float64 `mapstructure:"overacquireFactor" validate:"gte=1"`

	// SingleOwnerMode makes every lease manager take over all partitions,
	// deleting leases held by anybody else. Intended for local testing only.
	SingleOwnerMode bool `mapstructure:"singleOwnerMode"`

	// SchedulingDisabled suppresses heartbeat scheduling entirely, e.g. for
	// read-only deployments. Cluster size is never updated in this mode.
	SchedulingDisabled bool `mapstructure:"schedulingDisabled"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TTL:                 30 * time.Second,
		HeartbeatInterval:   10 * time.Second,
		FirstHeartbeatDelay: 100 * time.Millisecond,
		OveracquireFactor:   2,
	}
}

// Validate checks the configuration. A non-nil error wraps ErrInvalidConfig.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("%w: %s failed on %q", ErrInvalidConfig, f.Field(), f.Tag())
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
