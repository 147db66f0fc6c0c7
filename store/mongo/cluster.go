package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/shardlease/cluster"
	"github.com/xraph/shardlease/id"
)

// UpsertMember creates or refreshes the member document. The heartbeat is
// assigned by the server.
func (s *Store) UpsertMember(ctx context.Context, memberID id.InstanceID) error {
	_, err := s.mdb.Collection(colMembers).UpdateOne(ctx,
		bson.M{"_id": memberID.String()},
		touch(),
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("shardlease/mongo: upsert member: %w", err)
	}
	return nil
}

// CountMembersSince counts members whose heartbeat is after cutoff.
func (s *Store) CountMembersSince(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.mdb.Collection(colMembers).CountDocuments(ctx,
		bson.M{"heartbeat": bson.M{"$gt": cutoff.UTC()}},
	)
	if err != nil {
		return 0, fmt.Errorf("shardlease/mongo: count members: %w", err)
	}
	return int(n), nil
}

// ListMembers returns members whose heartbeat is after cutoff, ordered by ID.
func (s *Store) ListMembers(ctx context.Context, cutoff time.Time) ([]*cluster.Member, error) {
	cursor, err := s.mdb.Collection(colMembers).Find(ctx,
		bson.M{"heartbeat": bson.M{"$gt": cutoff.UTC()}},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("shardlease/mongo: list members: %w", err)
	}

	var models []memberModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("shardlease/mongo: list members decode: %w", err)
	}

	members := make([]*cluster.Member, 0, len(models))
	for i := range models {
		m, err := fromMemberModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("shardlease/mongo: list members: %w", err)
		}
		members = append(members, m)
	}
	return members, nil
}
