package shardlease

import "github.com/xraph/shardlease/id"

// ID identifies a cluster member.
type ID = id.ID

// Prefix identifies the entity type encoded in an ID.
type Prefix = id.Prefix
