// Package redis provides a Redis-backed output cache for the task graph.
//
// Redis fits runs that span processes or hosts: every worker sharing the
// same instance observes the same cached outputs, and TTL-based expiration
// keeps the keyspace bounded.
//
// # Basic Usage
//
//	store := redis.NewRedisOutputCache(redis.RedisOptions{
//		Addr:   "localhost:6379",
//		Prefix: "taskgraph:",
//		TTL:    24 * time.Hour,
//	})
//
//	runner := graph.NewRunner(g)
//	runner.SetCache(store)
//
// # Custom Client
//
// Applications that already pool Redis connections can hand the cache an
// existing client:
//
//	rdb := redis.NewClient(&redis.Options{
//		Addr:         "redis.example.com:6379",
//		PoolSize:     10,
//		MinIdleConns: 5,
//	})
//	store := redis.NewOutputCacheFromClient(rdb, "taskgraph:", time.Hour)
//
// Outputs are stored as JSON under "<prefix>output:<taskType>:<key>"; a TTL
// of zero disables expiration.
package redis
