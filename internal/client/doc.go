// Package client provides a load generator for the line server.
//
// The Client sends one-line GET requests to a server address from a
// worker pool of its own and collects request metrics. Each request opens
// a fresh connection and reads until the server closes it.
//
// # Basic Usage
//
//	config := client.DefaultConfig()
//	config.Addr = "127.0.0.1:7878"
//	config.Paths = []string{"/", "/sleep"}
//	cl := client.New(config)
//
//	// Run for a duration
//	snap, err := cl.RunFor(ctx, 10*time.Second)
//	fmt.Print(snap.Report())
//
//	// Or run a fixed number of requests
//	snap, err = cl.RunRequests(ctx, 10000)
//
// A single request can be made with Get:
//
//	resp, err := client.Get(ctx, "127.0.0.1:7878", "/", 5*time.Second)
//
// # Configuration
//
// The Config struct allows tuning:
//   - Workers: parallel requests (0 = CPU count)
//   - Paths: request paths, picked at random per request
//   - RequestsLimit: max requests (0 = unlimited)
//   - Timeout: per-request deadline
package client
