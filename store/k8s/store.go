package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/xraph/shardlease/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

const (
	defaultTTL        = 30 * time.Second
	defaultNamePrefix = "shardlease"
)

// Store implements store.Store on coordination/v1 Lease objects.
type Store struct {
	client     kubernetes.Interface
	namespace  string
	namePrefix string
	ttl        time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger
}

// New creates a Kubernetes store. The clientset and namespace are required.
func New(client kubernetes.Interface, namespace string, opts ...Option) *Store {
	s := &Store{
		client:     client,
		namespace:  namespace,
		namePrefix: defaultNamePrefix,
		ttl:        defaultTTL,
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Migrate is a no-op: the Lease kind is built into every cluster.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping checks that Lease objects in the namespace can be listed.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.CoordinationV1().Leases(s.namespace).List(ctx, metav1.ListOptions{Limit: 1})
	if err != nil {
		return fmt.Errorf("k8s: ping: %w", err)
	}
	return nil
}

// Close is a no-op; the clientset is owned by the caller.
func (s *Store) Close() error { return nil }

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}
