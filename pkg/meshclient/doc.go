// Package meshclient provides the primary entry point for constructing a
// Mesh API client that implements the mesh.Client interface.
//
// It layers configuration, HTTP transport, authentication, and endpoint
// discovery on top of the types defined in the mesh package. Most
// applications should import meshclient to build a client, then use the
// returned mesh.Client to resolve endpoints, execute requests, and open
// WebSocket sessions.
//
// Quick start
//
//	import (
//	  "context"
//	  "log"
//
//	  "github.com/fivetwenty-io/meshapi/pkg/mesh"
//	  "github.com/fivetwenty-io/meshapi/pkg/meshclient"
//	)
//
//	func example() {
//	  ctx := context.Background()
//
//	  // Minimal: just a root URL (no auth).
//	  cli, err := meshclient.New(&mesh.Config{RootURL: "https://mesh.example.com"})
//	  if err != nil { log.Fatal(err) }
//
//	  // Or with an access token you already have:
//	  cli, err = meshclient.New(&mesh.Config{
//	    RootURL:     "https://mesh.example.com",
//	    AccessToken: "eyJhbGciOi...", // bearer token
//	  })
//
//	  // Or with username/password. When credentials are provided and no
//	  // token URL is set, the exchange endpoint is discovered from the
//	  // version map's "auth" entry on first use.
//	  cli, err = meshclient.New(&mesh.Config{
//	    RootURL:  "https://mesh.example.com",
//	    Username: "user",
//	    Password: "pass",
//	  })
//	  if err != nil { log.Fatal(err) }
//
//	  resp, err := cli.Request(ctx, &mesh.Request{
//	    Method: "GET",
//	    API:    "things",
//	    Path:   "/widgets",
//	  })
//	  if err != nil { log.Fatal(err) }
//	  _ = resp
//	}
//
// # TLS and development mode
//
// For local development, you can set Config.SkipTLSVerify=true. This is gated
// by the environment variable MESH_DEV_MODE to avoid accidental insecure
// usage in production environments.
//
// # Helpers
//
// The package also provides convenience constructors NewWithEndpoint,
// NewWithToken, NewWithPassword, and NewFromEnv that wrap New with the
// appropriate configuration, and NewShared for building clients that share
// one discovery cache and credential exchange.
package meshclient
