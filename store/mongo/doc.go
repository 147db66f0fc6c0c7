// Package mongo implements store.Store using the grove ORM with its MongoDB
// driver. Suitable for deployments that already run a replica set.
//
// Member and lease documents carry a server-assigned heartbeat. A TTL index
// on that field lets MongoDB reap rows that stopped being refreshed; a lease
// older than the TTL but not yet reaped is taken over by the next insert.
//
// The caller owns the *grove.DB lifecycle; Close never closes it:
//
//	drv := mongodriver.New()
//	_ = drv.Open(ctx, uri, mongodriver.WithDatabase("app"))
//	db, _ := grove.Open(drv)
//	s := mongostore.New(db, mongostore.WithTTL(30*time.Second))
//	s.Migrate(ctx)
package mongo
