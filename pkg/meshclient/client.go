// Package meshclient provides the main entry point for creating Mesh API clients
package meshclient

import (
	"fmt"
	"os"
	"strings"

	"github.com/fivetwenty-io/meshapi/internal/client"
	"github.com/fivetwenty-io/meshapi/pkg/mesh"
)

// New creates a new Mesh API client from configuration.
func New(config *mesh.Config) (mesh.Client, error) {
	if config == nil {
		return nil, mesh.ErrConfigRequired
	}

	if config.RootURL == "" {
		return nil, mesh.ErrRootURLRequired
	}

	// Normalize root URL
	rootURL := strings.TrimSuffix(config.RootURL, "/")
	if !strings.HasPrefix(rootURL, "http://") && !strings.HasPrefix(rootURL, "https://") {
		rootURL = "https://" + rootURL
	}

	config.RootURL = rootURL

	if config.SkipTLSVerify && !isDevelopmentEnvironment() {
		return nil, fmt.Errorf("%w (set MESH_DEV_MODE=true)", mesh.ErrSkipTLSOnlyInDev)
	}

	meshClient, err := client.New(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create new client: %w", err)
	}

	return meshClient, nil
}

// NewShared creates a client that shares the given client's discovery cache
// and credentials, so several clients targeting the same deployment perform
// one discovery call and one credential exchange between them. The parent
// must itself have been built by this package.
func NewShared(parent mesh.Client, config *mesh.Config) (mesh.Client, error) {
	if config == nil {
		return nil, mesh.ErrConfigRequired
	}

	concrete, ok := parent.(*client.Client)
	if !ok {
		return nil, fmt.Errorf("%w: parent is not a shareable client", mesh.ErrConfigRequired)
	}

	shared, err := client.NewShared(config, concrete.Resolver(), concrete.TokenManager())
	if err != nil {
		return nil, fmt.Errorf("failed to create shared client: %w", err)
	}

	return shared, nil
}

// isDevelopmentEnvironment checks if we're in a development environment.
func isDevelopmentEnvironment() bool {
	devMode := os.Getenv("MESH_DEV_MODE")

	return devMode == "true" || devMode == "1"
}

// NewWithEndpoint creates a new client with just a root URL (no auth).
func NewWithEndpoint(rootURL string) (mesh.Client, error) {
	return New(&mesh.Config{
		RootURL: rootURL,
	})
}

// NewWithToken creates a new client with a root URL and access token.
func NewWithToken(rootURL, token string) (mesh.Client, error) {
	return New(&mesh.Config{
		RootURL:     rootURL,
		AccessToken: token,
	})
}

// NewWithPassword creates a new client using username/password authentication.
// The credential-exchange endpoint is discovered from the version map's
// "auth" entry on first use unless Config.TokenURL is set.
func NewWithPassword(rootURL, username, password string) (mesh.Client, error) {
	return New(&mesh.Config{
		RootURL:  rootURL,
		Username: username,
		Password: password,
	})
}

// NewFromEnv creates a new client whose token is read from the named process
// environment variable on every request, picking up external rotation.
func NewFromEnv(rootURL, tokenVar string) (mesh.Client, error) {
	return New(&mesh.Config{
		RootURL:  rootURL,
		TokenVar: tokenVar,
	})
}
