//go:build integration

package integration

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/fivetwenty-io/meshapi/pkg/mesh"
	"github.com/fivetwenty-io/meshapi/pkg/meshclient"
)

// ClientIntegrationTestSuite exercises a real Mesh deployment. It needs
// MESH_ENDPOINT, and optionally MESH_USERNAME/MESH_PASSWORD or MESH_TOKEN.
type ClientIntegrationTestSuite struct {
	suite.Suite
	client   mesh.Client
	endpoint string
}

func (suite *ClientIntegrationTestSuite) SetupSuite() {
	suite.endpoint = os.Getenv("MESH_ENDPOINT")
	if suite.endpoint == "" {
		suite.T().Skip("MESH_ENDPOINT environment variable not set, skipping integration tests")
	}

	config := &mesh.Config{
		RootURL:        suite.endpoint,
		Username:       os.Getenv("MESH_USERNAME"),
		Password:       os.Getenv("MESH_PASSWORD"),
		AccessToken:    os.Getenv("MESH_TOKEN"),
		RequestTimeout: 30 * time.Second,
	}

	client, err := meshclient.New(config)
	suite.Require().NoError(err)
	suite.client = client
}

func (suite *ClientIntegrationTestSuite) TestVersionMap() {
	info, err := suite.client.Info(context.Background())
	suite.Require().NoError(err)
	suite.NotEmpty(info)

	for name, endpoint := range info {
		suite.NotEmpty(name)
		suite.NotEmpty(endpoint.Endpoint)
	}
}

func (suite *ClientIntegrationTestSuite) TestResolveKnownAPIs() {
	info, err := suite.client.Info(context.Background())
	suite.Require().NoError(err)

	for name := range info {
		resolved, err := suite.client.Resolve(context.Background(), name)
		suite.Require().NoError(err)
		suite.Contains(resolved, "://")
	}
}

func (suite *ClientIntegrationTestSuite) TestResolveUnknownAPI() {
	_, err := suite.client.Resolve(context.Background(), "no-such-api-name")
	suite.Require().Error(err)
	suite.True(mesh.IsUnknownAPI(err))
}

func (suite *ClientIntegrationTestSuite) TestAuthenticatedRequest() {
	if os.Getenv("MESH_USERNAME") == "" && os.Getenv("MESH_TOKEN") == "" {
		suite.T().Skip("no credentials configured, skipping authenticated request test")
	}

	api := os.Getenv("MESH_TEST_API")
	if api == "" {
		suite.T().Skip("MESH_TEST_API environment variable not set, skipping")
	}

	resp, err := suite.client.Request(context.Background(), &mesh.Request{
		Method: http.MethodGet,
		API:    api,
		Path:   os.Getenv("MESH_TEST_PATH"),
	})
	suite.Require().NoError(err)
	suite.Equal(http.StatusOK, resp.StatusCode)
}

func TestClientIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(ClientIntegrationTestSuite))
}
