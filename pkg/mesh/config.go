package mesh

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents client configuration for building a mesh.Client.
//
// # Authentication precedence
//
// The concrete client implementation applies the following precedence:
//  1. AccessToken: used directly as a static Bearer token. Refresh and revoke
//     are refused (the token is immutable).
//  2. TokenVar: the named process environment variable is read on every
//     request, so an externally rotated token is picked up without a restart.
//     Refresh and revoke are refused.
//  3. Username/Password: a token is obtained through a credential exchange
//     against TokenURL and refreshed reactively on 401 or proactively when it
//     nears expiry.
//  4. No credentials: requests are sent without an Authorization header.
//
// # Token URL discovery
//
// If a credential exchange is required and TokenURL is empty, meshclient.New
// resolves the "auth" API through the version map and uses its endpoint.
//
// # Transport configuration
//
// HTTPClient, when set, is used as-is and the TLS/proxy/redirect/pool fields
// are ignored; the core never inspects it. Otherwise a transport is built
// once from those fields.
type Config struct {
	// RootURL is the base URL of the Mesh deployment, e.g.
	// "https://mesh.example.com". Normalized by meshclient.New (trailing slash
	// trimmed, "https://" assumed when no scheme is present).
	RootURL string `yaml:"root_url"`

	// API is the default named API requests are resolved against when a
	// Request does not name one.
	API string `yaml:"api,omitempty"`

	// Authentication options (provide one).
	AccessToken string `yaml:"access_token,omitempty"`
	TokenVar    string `yaml:"token_var,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	// TokenURL is the full credential-exchange endpoint. If empty and an
	// exchange is required, it is discovered from the version map.
	TokenURL string `yaml:"token_url,omitempty"`

	// Overrides maps API names to fixed endpoints. A listed name never goes
	// through discovery.
	Overrides map[string]string `yaml:"overrides,omitempty"`

	// HTTPClient is an externally supplied transport handle. Applied as-is.
	HTTPClient *http.Client `yaml:"-"`

	// Transport knobs, applied once when no HTTPClient is supplied. The
	// duration fields accept Go duration strings in YAML (handled by
	// UnmarshalYAML below).
	ProxyURL        string        `yaml:"proxy_url,omitempty"`
	SkipTLSVerify   bool          `yaml:"skip_tls_verify,omitempty"`
	FollowRedirects bool          `yaml:"follow_redirects,omitempty"`
	ConnectTimeout  time.Duration `yaml:"-"`
	RequestTimeout  time.Duration `yaml:"-"`
	PoolSize        int           `yaml:"pool_size,omitempty"`

	// Retry knobs for transient transport failures.
	RetryMax     int           `yaml:"retry_max,omitempty"`
	RetryWaitMin time.Duration `yaml:"-"`
	RetryWaitMax time.Duration `yaml:"-"`

	// UserAgent overrides the default User-Agent header.
	UserAgent string `yaml:"user_agent,omitempty"`

	// Debug enables verbose request/response logging when a Logger is set.
	Debug bool `yaml:"debug,omitempty"`

	// Logger is the injected structured event sink. Optional.
	Logger Logger `yaml:"-"`

	// Cache configures the shared discovery cache. Defaults to in-memory.
	Cache *CacheConfig `yaml:"cache,omitempty"`
}

// duration accepts Go duration strings ("30s") as well as integer
// nanoseconds in YAML.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var asInt int64
	if err := node.Decode(&asInt); err == nil {
		*d = duration(asInt)

		return nil
	}

	var asString string

	err := node.Decode(&asString)
	if err != nil {
		return fmt.Errorf("decoding duration: %w", err)
	}

	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", asString, err)
	}

	*d = duration(parsed)

	return nil
}

// UnmarshalYAML decodes the config, accepting duration strings for the
// timeout and retry-wait fields.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type plain Config

	var aux struct {
		plain          `yaml:",inline"`
		ConnectTimeout duration `yaml:"connect_timeout,omitempty"`
		RequestTimeout duration `yaml:"request_timeout,omitempty"`
		RetryWaitMin   duration `yaml:"retry_wait_min,omitempty"`
		RetryWaitMax   duration `yaml:"retry_wait_max,omitempty"`
	}

	err := node.Decode(&aux)
	if err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}

	*c = Config(aux.plain)
	c.ConnectTimeout = time.Duration(aux.ConnectTimeout)
	c.RequestTimeout = time.Duration(aux.RequestTimeout)
	c.RetryWaitMin = time.Duration(aux.RetryWaitMin)
	c.RetryWaitMax = time.Duration(aux.RetryWaitMax)

	return nil
}

// Validate checks the config for construction-time errors.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigRequired
	}

	if c.RootURL == "" {
		return ErrRootURLRequired
	}

	return nil
}

// LoadConfig reads a YAML config file. ${VAR} references in the file are
// expanded from the process environment before parsing, so credentials can be
// kept out of the file itself.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is caller-chosen by design
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.Expand(string(data), os.Getenv)

	var config Config

	err = yaml.Unmarshal([]byte(expanded), &config)
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &config, nil
}
