// Package redis implements store.Store on Redis. Jobs are Hashes indexed
// by one Sorted Set per queue scored by RunAt; dequeue and cancellation
// run as Lua scripts so each claim is atomic. Recurring locks are plain
// SET NX PX keys.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
