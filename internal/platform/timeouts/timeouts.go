// Package timeouts defines shared timeout constants used across the ingest
// pipeline. Centralizing these values prevents drift between component
// boundaries and makes the durations discoverable.
package timeouts

import "time"

// MetadataLookup caps a call to the external player-metadata service.
const MetadataLookup = 10 * time.Second

// SemanticLookup caps a call to the wiki semantic service.
const SemanticLookup = 5 * time.Second

// PriceLookup caps a call to the GE pricing service.
const PriceLookup = 5 * time.Second

// SQLQuery caps a single database query.
const SQLQuery = 30 * time.Second

// RedisOp caps a single Redis operation or pipeline execute.
const RedisOp = 3 * time.Second

// HealthRedis caps the Redis probe used by the health checker.
const HealthRedis = 1 * time.Second

// HealthDB caps the database probe used by the health checker.
const HealthDB = 2 * time.Second

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
