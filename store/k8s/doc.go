// Package k8s provides a Kubernetes-native store.Store implementation built
// on the coordination/v1 Lease API.
//
// Every member record and every partition lease is one Lease object in the
// configured namespace. The holder identity carries the owning instance ID
// and the renew time carries the heartbeat. Objects are told apart by the
// shardlease.io/kind label; partition leases also carry a task label so a
// task's leases can be listed with a label selector.
//
// The API server does not expire Lease objects. Records older than the
// store TTL are treated as absent and are overwritten or deleted by the next
// writer. Heartbeats are taken from the local clock, so instances should
// run with synchronised clocks.
//
// Example:
//
//	cfg, _ := rest.InClusterConfig()
//	client := kubernetes.NewForConfigOrDie(cfg)
//	s := k8s.New(client, "my-namespace", k8s.WithTTL(30*time.Second))
package k8s
