package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/xraph/shardlease/cluster"
	"github.com/xraph/shardlease/id"
)

// UpsertMember creates the member Lease or renews it.
func (s *Store) UpsertMember(ctx context.Context, memberID id.InstanceID) error {
	leases := s.client.CoordinationV1().Leases(s.namespace)
	now := s.now()

	cur, err := leases.Get(ctx, s.memberName(memberID), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err = leases.Create(ctx, s.newMember(memberID, now), metav1.CreateOptions{})
		if err != nil {
			return fmt.Errorf("k8s: create member: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("k8s: get member: %w", err)
	}

	s.renew(cur, now)
	if _, err := leases.Update(ctx, cur, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("k8s: renew member: %w", err)
	}
	return nil
}

// CountMembersSince returns the number of members renewed after cutoff.
func (s *Store) CountMembersSince(ctx context.Context, cutoff time.Time) (int, error) {
	members, err := s.ListMembers(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

// ListMembers returns members renewed after cutoff, ordered by ID.
func (s *Store) ListMembers(ctx context.Context, cutoff time.Time) ([]*cluster.Member, error) {
	list, err := s.client.CoordinationV1().Leases(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: memberSelector(),
	})
	if err != nil {
		return nil, fmt.Errorf("k8s: list members: %w", err)
	}

	members := make([]*cluster.Member, 0, len(list.Items))
	for i := range list.Items {
		obj := &list.Items[i]
		if !s.live(obj) || !heartbeat(obj).After(cutoff) {
			continue
		}
		m, convErr := toMember(obj)
		if convErr != nil {
			s.logger.Warn("skipping member lease", slog.String("name", obj.Name), slog.String("error", convErr.Error()))
			continue
		}
		members = append(members, m)
	}
	sort.Slice(members, func(i, k int) bool {
		return members[i].ID.String() < members[k].ID.String()
	})
	return members, nil
}
