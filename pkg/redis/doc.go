// Package redis connects to Redis with go-redis, retrying until the server
// answers, and exposes a ping probe for readiness checks. The billing webhook
// deduplicator runs on the returned client.
package redis
