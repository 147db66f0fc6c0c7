// Package redis implements store.Store on Redis. Leases are String keys
// created with SET NX and a millisecond TTL, so Redis expires them on its
// own. Refresh and removal compare the owner inside Lua scripts. Members
// live in a Sorted Set scored by the server clock and trimmed on every
// upsert.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client, redisstore.WithTTL(30*time.Second))
//	if err := s.Ping(ctx); err != nil { ... }
package redis
