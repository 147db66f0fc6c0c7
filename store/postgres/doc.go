// Package postgres implements the store using pgx/v5 with raw SQL.
// Timestamps come from the database clock. A lease row older than the TTL
// is taken over by the next insert through ON CONFLICT ... WHERE, and stale
// member rows are trimmed on every member upsert. Schema changes ship as
// embedded SQL migrations.
package postgres
