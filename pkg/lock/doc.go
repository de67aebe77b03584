// Package lock provides per-key exclusive locks used to keep a single
// writer per case. KeyedMutex serves a single process; RedisLocker
// coordinates several instances through Redis.
package lock
