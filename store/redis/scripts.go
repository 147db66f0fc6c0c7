package redis

import goredis "github.com/redis/go-redis/v9"

// upsertMemberScript scores the member with the server clock and trims
// members older than ARGV[2] milliseconds. Returns the server time in ms.
var upsertMemberScript = goredis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
redis.call('ZADD', KEYS[1], now, ARGV[1])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - tonumber(ARGV[2]))
return now
`)

// insertLeaseScript creates KEYS[1] owned by ARGV[1] with a TTL of ARGV[2]
// ms unless it exists, and indexes ARGV[3] in the task set KEYS[2] in the
// same step. Returns 1 when created, 0 when the lease is held.
var insertLeaseScript = goredis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
  redis.call('SADD', KEYS[2], ARGV[3])
  return 1
end
return 0
`)

// refreshLeaseScript extends the key TTL to ARGV[2] ms if ARGV[1] owns it.
var refreshLeaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// removeLeaseScript deletes the key if ARGV[1] owns it.
var removeLeaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// removeForeignLeaseScript deletes the key if it exists and ARGV[1] does
// not own it.
var removeForeignLeaseScript = goredis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v and v ~= ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
