// Package engine provides [Shared], the process-wide context that lets many
// tasks run concurrently while reusing expensive transport state.
//
// # Shared state
//
// A Shared owns three caches, each guarded by its own lock:
//
//   - [KindDNS]: resolved addresses, reused for 60 seconds by default.
//   - [KindSSLSession]: TLS session tickets, so repeated handshakes to the
//     same server resume instead of starting over.
//   - [KindConnect]: the pooled transports, one per [IPResolve] family,
//     whose idle connections are reused across tasks.
//
// The locks are taken only around cache reads and writes. Any other kind
// passed to [Shared.Acquire] or [Shared.Release] maps to [KindOther].
//
// # Lifecycle
//
// Build one Shared at startup and inject it into every task:
//
//	shared, err := engine.New(
//		engine.WithLogger(logger),
//		engine.WithThrottle(20, 5),
//	)
//	if err != nil {
//		log.Fatal(err) // the process cannot fetch anything
//	}
//	defer shared.Close()
//
// # Transport policy
//
// Every request goes through the same policy: only http and https, at most
// [MaxRedirects] redirects, transparent compression, and a fixed
// User-Agent from [UserAgent]. Per-request connect timeout and address
// family travel on the request context via [WithDialOptions].
package engine
