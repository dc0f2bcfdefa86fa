// Package redisqueue implements queue.Engine on Redis with go-redis/v9.
//
// Each job is a hash; claimable ids sit in a per-name sorted set scored by
// their start time and move to an "active" sorted set scored by their expiry
// deadline when a worker claims them. Singleton keys, throttle windows and
// debounced jobs are plain string markers. Inserts, claims and debounce
// updates run as Lua scripts; settlement uses WATCH transactions.
//
//	client, err := redis.Connect(ctx, cfg.Redis)
//	if err != nil {
//	    return err
//	}
//	engine := redisqueue.New(client, cfg.Redis.KeyPrefix, queue.WithLogger(log))
//	defer engine.Close()
//
// Redis Cluster is not supported: scripts and transactions address job,
// queue and marker keys in one call, which Cluster rejects across slots.
// New therefore takes a *redis.Client (a single node, or a Sentinel
// failover client from go-redis NewFailoverClient).
package redisqueue
