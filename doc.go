// Package resilkit is a client-side resilience toolkit for applications that
// follow a live event feed.
//
// # Packages
//
// The four primitives are independent and can be used on their own:
//
//   - pkg/bloom: a Bloom filter for cheap "definitely absent" answers
//   - pkg/ratelimit: a token bucket limiter and per-key limiter groups
//   - pkg/lww: a last-write-wins map that replicas converge by merging
//   - channel: a reconnecting feed with exponential backoff over an
//     injected transport (WebSocket and NATS are provided)
//
// Supporting packages:
//
//   - pkg/lookup: a Bloom-filter guard in front of a loader, with request
//     coalescing and retry
//   - pkg/retry: retry loops and the Backoff sequence used by channel
//   - pkg/clock: a wall clock and a manual clock for tests
//   - errors: classified errors (transient, invalid, fatal) and sentinels
//   - metric, health: Prometheus registry, /metrics and /health server,
//     component health
//   - config: layered JSON/YAML configuration with RESILKIT_* overrides
//
// # Daemon
//
// cmd/resilkit wires everything together: the feed channel delivers
// messages through an admission limiter into a last-write-wins map, keys
// are tracked in a Bloom filter, and an HTTP server exposes
//
//	GET /metrics       Prometheus metrics
//	GET /health        aggregated health
//	GET /status        feed state and lookup counters
//	GET /snapshot      encoded map snapshot for other replicas
//	GET /state/{key}   filter-guarded lookup, 404 when absent
//
// Feed messages are JSON objects with a type, an optional id and timestamp,
// and a payload:
//
//	{"type": "set", "payload": {"key": "status", "value": "filed", "ts": 200}}
//	{"type": "snapshot", "payload": {"data": "<base64 snapshot>"}}
//
// # Quick Start
//
//	RESILKIT_FEED_URL=wss://feeds.example.com/events ./bin/resilkit --log-format=text
//
// # Testing
//
//	go test ./...
//	go test -tags=integration ./channel/...   # needs Docker for the NATS container
package resilkit
