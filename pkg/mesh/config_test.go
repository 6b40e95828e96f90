package mesh_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/meshapi/pkg/mesh"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	var nilConfig *mesh.Config

	require.ErrorIs(t, nilConfig.Validate(), mesh.ErrConfigRequired)
	require.ErrorIs(t, (&mesh.Config{}).Validate(), mesh.ErrRootURLRequired)
	require.NoError(t, (&mesh.Config{RootURL: "https://mesh.example.com"}).Validate())
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestLoadConfig(t *testing.T) {
	t.Run("full config", func(t *testing.T) {
		t.Parallel()

		path := writeConfigFile(t, `
root_url: https://mesh.example.com
api: things
username: user
password: pass
overrides:
  graph: https://pinned.example.com/api/graph/6
connect_timeout: 5s
request_timeout: 45s
retry_max: 5
retry_wait_min: 500ms
retry_wait_max: 8s
user_agent: my-app/2.0
cache:
  type: memory
  max_size: 50
`)

		config, err := mesh.LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, "https://mesh.example.com", config.RootURL)
		assert.Equal(t, "things", config.API)
		assert.Equal(t, "user", config.Username)
		assert.Equal(t, "https://pinned.example.com/api/graph/6", config.Overrides["graph"])
		assert.Equal(t, 5*time.Second, config.ConnectTimeout)
		assert.Equal(t, 45*time.Second, config.RequestTimeout)
		assert.Equal(t, 5, config.RetryMax)
		assert.Equal(t, 500*time.Millisecond, config.RetryWaitMin)
		assert.Equal(t, 8*time.Second, config.RetryWaitMax)
		assert.Equal(t, "my-app/2.0", config.UserAgent)
		require.NotNil(t, config.Cache)
		assert.Equal(t, mesh.CacheTypeMemory, config.Cache.Type)
		assert.Equal(t, 50, config.Cache.MaxSize)
	})

	t.Run("environment expansion keeps credentials out of the file", func(t *testing.T) {
		t.Setenv("MESH_CONFIG_TEST_TOKEN", "secret-token")

		path := writeConfigFile(t, `
root_url: https://mesh.example.com
access_token: ${MESH_CONFIG_TEST_TOKEN}
`)

		config, err := mesh.LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "secret-token", config.AccessToken)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := mesh.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})

	t.Run("malformed YAML", func(t *testing.T) {
		t.Parallel()

		path := writeConfigFile(t, "root_url: [broken")

		_, err := mesh.LoadConfig(path)
		require.Error(t, err)
	})
}
