// Package mesh provides the public types for the Mesh API client library:
// configuration, the error taxonomy, the Client and Session interfaces, the
// interceptor chain, and the shared discovery cache.
//
// Clients are constructed through the meshclient package:
//
//	client, err := meshclient.New(&mesh.Config{
//	    RootURL:  "https://mesh.example.com",
//	    API:      "graph",
//	    Username: "deploy",
//	    Password: os.Getenv("MESH_PASSWORD"),
//	})
//
// The Mesh platform publishes its concrete endpoints only through a discovery
// document at GET <root>/api/version, mapping named APIs to endpoints. The
// client fetches and caches that version map lazily; explicit endpoint
// overrides in Config.Overrides bypass discovery permanently for the named
// API.
//
// Every request carries an Authorization: Bearer header. On a 401 the client
// refreshes the token once per logical request and retries; transient
// transport failures are retried up to Config.RetryMax times. WebSocket
// sessions carry the token in the Sec-WebSocket-Protocol header as a
// "token-<value>" sub-protocol entry and reconnect with a ramp-then-jitter
// backoff.
package mesh
