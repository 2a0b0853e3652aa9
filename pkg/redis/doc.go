// Package redis wraps go-redis with a retrying Connect, a healthcheck
// and Locker, a lease lock used to keep periodic jobs single-active across
// worker replicas.
package redis
