package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/xraph/shardlease"
	"github.com/xraph/shardlease/id"
	"github.com/xraph/shardlease/lease"
)

// InsertLease creates the Lease object. An existing object is taken over
// only once it has expired; the update carries the resource version read,
// so of two racing takeovers exactly one wins.
func (s *Store) InsertLease(ctx context.Context, l *lease.Lease) error {
	leases := s.client.CoordinationV1().Leases(s.namespace)
	now := s.now()

	_, err := leases.Create(ctx, s.newLease(l, now), metav1.CreateOptions{})
	if err == nil {
		l.Heartbeat = now
		return nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("k8s: create lease: %w", err)
	}

	cur, err := leases.Get(ctx, s.leaseName(l.ID), metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		// Removed since the create; somebody else is competing for it.
		return shardlease.ErrAlreadyExists
	case err != nil:
		return fmt.Errorf("k8s: get lease: %w", err)
	case s.live(cur):
		return shardlease.ErrAlreadyExists
	}

	s.hold(cur, l.Owner, now)
	if _, err := leases.Update(ctx, cur, metav1.UpdateOptions{}); err != nil {
		if apierrors.IsConflict(err) || apierrors.IsNotFound(err) {
			return shardlease.ErrAlreadyExists
		}
		return fmt.Errorf("k8s: take over lease: %w", err)
	}
	s.logger.Debug("took over expired lease", slog.String("lease_id", l.ID))
	l.Heartbeat = now
	return nil
}

// RefreshLease renews the Lease object if owner still holds it.
func (s *Store) RefreshLease(ctx context.Context, leaseID string, owner id.InstanceID) (int64, error) {
	leases := s.client.CoordinationV1().Leases(s.namespace)

	cur, err := s.get(ctx, leaseID)
	if err != nil || cur == nil || !s.heldBy(cur, owner) {
		return 0, err
	}

	s.renew(cur, s.now())
	if _, err := leases.Update(ctx, cur, metav1.UpdateOptions{}); err != nil {
		if apierrors.IsConflict(err) || apierrors.IsNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("k8s: renew lease: %w", err)
	}
	return 1, nil
}

// RemoveLease deletes the Lease object if owner holds it.
func (s *Store) RemoveLease(ctx context.Context, leaseID string, owner id.InstanceID) (int64, error) {
	cur, err := s.get(ctx, leaseID)
	if err != nil || cur == nil || !s.heldBy(cur, owner) {
		return 0, err
	}
	return s.delete(ctx, cur)
}

// RemoveForeignLease deletes the Lease object if a live holder other than
// owner holds it.
func (s *Store) RemoveForeignLease(ctx context.Context, leaseID string, owner id.InstanceID) (int64, error) {
	cur, err := s.get(ctx, leaseID)
	if err != nil || cur == nil || !s.live(cur) || holder(cur) == owner.String() {
		return 0, err
	}
	return s.delete(ctx, cur)
}

// ListLeases returns the live leases of task, ordered by ID.
func (s *Store) ListLeases(ctx context.Context, task string) ([]*lease.Lease, error) {
	list, err := s.client.CoordinationV1().Leases(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: taskSelector(task),
	})
	if err != nil {
		return nil, fmt.Errorf("k8s: list leases: %w", err)
	}

	var result []*lease.Lease
	for i := range list.Items {
		obj := &list.Items[i]
		if !s.live(obj) || obj.Annotations[annotationTask] != task {
			continue
		}
		l, convErr := toLease(obj)
		if convErr != nil {
			s.logger.Warn("skipping lease", slog.String("name", obj.Name), slog.String("error", convErr.Error()))
			continue
		}
		result = append(result, l)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].ID < result[k].ID
	})
	return result, nil
}

// ── helpers ──────────────────────────────────────────

// get returns the Lease object of leaseID, or nil when it does not exist.
func (s *Store) get(ctx context.Context, leaseID string) (*coordinationv1.Lease, error) {
	cur, err := s.client.CoordinationV1().Leases(s.namespace).Get(ctx, s.leaseName(leaseID), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("k8s: get lease: %w", err)
	}
	return cur, nil
}

// delete removes obj unless it changed since it was read.
func (s *Store) delete(ctx context.Context, obj *coordinationv1.Lease) (int64, error) {
	err := s.client.CoordinationV1().Leases(s.namespace).Delete(ctx, obj.Name, metav1.DeleteOptions{
		Preconditions: &metav1.Preconditions{
			UID:             &obj.UID,
			ResourceVersion: &obj.ResourceVersion,
		},
	})
	if apierrors.IsNotFound(err) || apierrors.IsConflict(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("k8s: delete lease: %w", err)
	}
	return 1, nil
}
