// Package laiqclient is the API client for the Laiq Bags storefront and
// its admin back-office. It layers the reliability features the web shop
// needs over a plain HTTP transport:
//
//   - Role-aware credential resolution (customer vs admin tokens)
//   - TTL response caching with least-used eviction, durable mirroring
//     and cross-instance change synchronization
//   - In-flight de-duplication (merges concurrent identical requests)
//   - Windowed request batching with self-tuning parameters
//   - Typed errors with automated recovery: token refresh, category
//     waits, login redirects, and an error-rate breaker
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area – functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - Pluggable storage: bring any PersistentStore / ChangeFeed pair
//     (a Redis implementation ships in the box)
//
// Typical usage:
//
//	client := laiqclient.New(
//	    laiqclient.WithBaseURL("https://laiq.example.com/api"),
//	    laiqclient.WithDefaultCacheTTL(5*time.Minute),
//	    laiqclient.WithMetrics(),
//	)
//	defer client.Close()
//	resp, err := client.Get(ctx, "/products", nil)
//
// The library avoids opinionated logging: provide a Logger (e.g. via
// WithSimpleLogger) + enable debug flags selectively (WithDebug /
// WithDebugConfig) for insight without noise.
package laiqclient
