// Package redis implements the cross-instance broadcast bus on Redis Pub/Sub.
//
// NewClient builds a go-redis client with a circuit breaker hook and a metrics
// hook installed; Bus adapts that client to domain.Bus.
package redis
