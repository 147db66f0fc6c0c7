package k8s

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"

	"github.com/xraph/shardlease/cluster"
	"github.com/xraph/shardlease/id"
	"github.com/xraph/shardlease/lease"
)

const (
	labelKind     = "shardlease.io/kind"
	labelTaskHash = "shardlease.io/task-hash"

	annotationLeaseID = "shardlease.io/lease-id"
	annotationTask    = "shardlease.io/task"

	kindMember = "member"
	kindLease  = "lease"
)

// memberName maps an instance ID to a DNS-1123 object name.
func (s *Store) memberName(memberID id.InstanceID) string {
	return s.namePrefix + "-member-" + strings.ToLower(strings.ReplaceAll(memberID.String(), "_", "-"))
}

// leaseName maps a lease ID to a DNS-1123 object name. Lease IDs contain
// arbitrary task names and mixed-case partition bounds, so they are hashed.
func (s *Store) leaseName(leaseID string) string {
	return s.namePrefix + "-lease-" + digest(leaseID)
}

func digest(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:16])
}

func memberSelector() string {
	return labels.SelectorFromSet(labels.Set{labelKind: kindMember}).String()
}

func taskSelector(task string) string {
	return labels.SelectorFromSet(labels.Set{
		labelKind:     kindLease,
		labelTaskHash: digest(task),
	}).String()
}

func (s *Store) durationSeconds() *int32 {
	sec := int32(math.Ceil(s.ttl.Seconds()))
	return &sec
}

func (s *Store) newMember(memberID id.InstanceID, now time.Time) *coordinationv1.Lease {
	holder := memberID.String()
	renew := metav1.NewMicroTime(now)
	return &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Name:      s.memberName(memberID),
			Namespace: s.namespace,
			Labels:    map[string]string{labelKind: kindMember},
		},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity:       &holder,
			LeaseDurationSeconds: s.durationSeconds(),
			AcquireTime:          &renew,
			RenewTime:            &renew,
		},
	}
}

func (s *Store) newLease(l *lease.Lease, now time.Time) *coordinationv1.Lease {
	obj := &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Name:      s.leaseName(l.ID),
			Namespace: s.namespace,
			Labels: map[string]string{
				labelKind:     kindLease,
				labelTaskHash: digest(l.Task),
			},
			Annotations: map[string]string{
				annotationLeaseID: l.ID,
				annotationTask:    l.Task,
			},
		},
	}
	s.hold(obj, l.Owner, now)
	return obj
}

// hold makes owner the holder of obj as of now.
func (s *Store) hold(obj *coordinationv1.Lease, owner id.InstanceID, now time.Time) {
	holder := owner.String()
	renew := metav1.NewMicroTime(now)
	obj.Spec.HolderIdentity = &holder
	obj.Spec.LeaseDurationSeconds = s.durationSeconds()
	obj.Spec.AcquireTime = &renew
	obj.Spec.RenewTime = &renew
}

// renew moves the heartbeat of obj to now.
func (s *Store) renew(obj *coordinationv1.Lease, now time.Time) {
	renew := metav1.NewMicroTime(now)
	obj.Spec.LeaseDurationSeconds = s.durationSeconds()
	obj.Spec.RenewTime = &renew
}

func heartbeat(obj *coordinationv1.Lease) time.Time {
	if obj.Spec.RenewTime == nil {
		return time.Time{}
	}
	return obj.Spec.RenewTime.UTC()
}

func holder(obj *coordinationv1.Lease) string {
	if obj.Spec.HolderIdentity == nil {
		return ""
	}
	return *obj.Spec.HolderIdentity
}

// live reports whether obj was renewed within the TTL.
func (s *Store) live(obj *coordinationv1.Lease) bool {
	hb := heartbeat(obj)
	return !hb.IsZero() && hb.After(s.now().Add(-s.ttl))
}

func (s *Store) heldBy(obj *coordinationv1.Lease, owner id.InstanceID) bool {
	return s.live(obj) && holder(obj) == owner.String()
}

func toMember(obj *coordinationv1.Lease) (*cluster.Member, error) {
	memberID, err := id.ParseInstanceID(holder(obj))
	if err != nil {
		return nil, fmt.Errorf("k8s: member %q: %w", obj.Name, err)
	}
	return &cluster.Member{ID: memberID, Heartbeat: heartbeat(obj)}, nil
}

func toLease(obj *coordinationv1.Lease) (*lease.Lease, error) {
	owner, err := id.ParseInstanceID(holder(obj))
	if err != nil {
		return nil, fmt.Errorf("k8s: lease %q: %w", obj.Name, err)
	}
	return &lease.Lease{
		ID:        obj.Annotations[annotationLeaseID],
		Task:      obj.Annotations[annotationTask],
		Owner:     owner,
		Heartbeat: heartbeat(obj),
	}, nil
}
