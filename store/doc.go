// Package store defines the aggregate persistence interface. The cluster and
// lease subsystems each define their own store interface; the composite
// Store composes them. Backends: Memory, MongoDB, Redis,
// PostgreSQL and Kubernetes Leases.
package store
