package shardlease

import "errors"

var (
	// Store errors.
	ErrNoStore = errors.New("shardlease: no store configured")

	// Conflict errors.
	ErrAlreadyExists = errors.New("shardlease: lease already exists")

	// Configuration errors.
	ErrInvalidConfig         = errors.New("shardlease: invalid configuration")
	ErrInvalidPartitionCount = errors.New("shardlease: partition count must be at least 1")
	ErrInvalidAlphabet       = errors.New("shardlease: alphabet must be non-empty strictly ascending ASCII")
	ErrInvalidTaskName       = errors.New("shardlease: task name must not be empty")
	ErrDuplicateTask         = errors.New("shardlease: lease manager already registered for task")

	// Lifecycle errors.
	ErrAlreadyStarted = errors.New("shardlease: already started")
)
