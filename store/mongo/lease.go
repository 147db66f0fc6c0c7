package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/shardlease"
	"github.com/xraph/shardlease/id"
	"github.com/xraph/shardlease/lease"
)

// InsertLease creates the lease, or takes over one whose heartbeat is older
// than the TTL. A live lease under the same ID makes the upsert collide on
// _id, which is reported as shardlease.ErrAlreadyExists.
func (s *Store) InsertLease(ctx context.Context, l *lease.Lease) error {
	filter := bson.M{
		"_id": l.ID,
		"$expr": bson.M{"$lt": bson.A{
			"$heartbeat",
			bson.M{"$subtract": bson.A{"$$NOW", s.ttl.Milliseconds()}},
		}},
	}
	update := touch()
	update["$set"] = bson.M{"task": l.Task, "owner": l.Owner.String()}

	_, err := s.mdb.Collection(colLeases).UpdateOne(ctx, filter, update,
		options.UpdateOne().SetUpsert(true),
	)
	if isDuplicateKey(err) {
		return shardlease.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("shardlease/mongo: insert lease: %w", err)
	}
	return nil
}

// RefreshLease sets the heartbeat of the lease if owner holds it.
func (s *Store) RefreshLease(ctx context.Context, leaseID string, owner id.InstanceID) (int64, error) {
	res, err := s.mdb.Collection(colLeases).UpdateOne(ctx,
		bson.M{"_id": leaseID, "owner": owner.String()},
		touch(),
	)
	if err != nil {
		return 0, fmt.Errorf("shardlease/mongo: refresh lease: %w", err)
	}
	return res.MatchedCount, nil
}

// RemoveLease deletes the lease if owner holds it.
func (s *Store) RemoveLease(ctx context.Context, leaseID string, owner id.InstanceID) (int64, error) {
	res, err := s.mdb.Collection(colLeases).DeleteOne(ctx,
		bson.M{"_id": leaseID, "owner": owner.String()},
	)
	if err != nil {
		return 0, fmt.Errorf("shardlease/mongo: remove lease: %w", err)
	}
	return res.DeletedCount, nil
}

// RemoveForeignLease deletes the lease if anybody other than owner holds it.
func (s *Store) RemoveForeignLease(ctx context.Context, leaseID string, owner id.InstanceID) (int64, error) {
	res, err := s.mdb.Collection(colLeases).DeleteOne(ctx,
		bson.M{"_id": leaseID, "owner": bson.M{"$ne": owner.String()}},
	)
	if err != nil {
		return 0, fmt.Errorf("shardlease/mongo: remove foreign lease: %w", err)
	}
	return res.DeletedCount, nil
}

// ListLeases returns the leases of task ordered by ID. Leases past their TTL
// that the server has not reaped yet are included.
func (s *Store) ListLeases(ctx context.Context, task string) ([]*lease.Lease, error) {
	cursor, err := s.mdb.Collection(colLeases).Find(ctx,
		bson.M{"task": task},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("shardlease/mongo: list leases: %w", err)
	}

	var models []leaseModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("shardlease/mongo: list leases decode: %w", err)
	}

	leases := make([]*lease.Lease, 0, len(models))
	for i := range models {
		l, err := fromLeaseModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("shardlease/mongo: list leases: %w", err)
		}
		leases = append(leases, l)
	}
	return leases, nil
}
