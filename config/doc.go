// Package config loads the resilkit daemon configuration.
//
// Configuration is layered: Default values, then each file layer in order
// (JSON, or YAML for .yaml/.yml files), then variables from dotenv files,
// then RESILKIT_* environment overrides. A layer only overrides the fields
// it sets. Durations are written as strings ("1s", "250ms").
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("resilkit.yaml")
//	loader.AddLayer("resilkit.local.json") // overrides resilkit.yaml
//	loader.AddDotEnv(".env")
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Environment Overrides
//
//	RESILKIT_FEED_URL                     feed.url
//	RESILKIT_FEED_TRANSPORT               feed.transport (websocket | nats)
//	RESILKIT_FEED_SUBJECT                 feed.subject
//	RESILKIT_FEED_MAX_RECONNECT_ATTEMPTS  feed.max_reconnect_attempts
//	RESILKIT_FEED_BASE_DELAY              feed.base_delay
//	RESILKIT_FEED_MAX_DELAY               feed.max_delay
//	RESILKIT_FEED_MULTIPLIER              feed.multiplier
//	RESILKIT_LIMITER_CAPACITY             limiter.capacity
//	RESILKIT_LIMITER_REFILL_RATE          limiter.refill_rate
//	RESILKIT_STATE_REPLICA                state.replica
//	RESILKIT_SERVER_ADDR                  server.addr
//	RESILKIT_LOG_LEVEL                    log.level
//	RESILKIT_LOG_FORMAT                   log.format
//
// Config files are read with size, depth and path-traversal checks.
package config
