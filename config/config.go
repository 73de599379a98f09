package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

var (
	defaultConfig = Config{
		Server: defaultServer,

		Proxy:       defaultProxy,
		Upstream:    defaultUpstream,
		ResultCache: defaultResultCache,
		AssetCache:  defaultAssetCache,
		RateLimit:   defaultRateLimit,
		HeartBeat:   defaultHeartBeat,
	}

	defaultServer = Server{
		HTTP: HTTP{
			ListenAddr: ":8080",
		},
	}

	defaultProxy = Proxy{
		TrustedHops: 1,
	}

	defaultUpstream = Upstream{
		BaseURL: "https://www.natomanga.com",
		Timeout: Duration(30 * time.Second),
		// The origin throttles or blocks clients without a browser-like
		// identity; see `user_agent` and `referer` in config examples.
		RateLimit: 4,
	}

	defaultResultCache = ResultCache{
		TTL: Duration(10 * time.Minute),
	}

	defaultAssetCache = AssetCache{
		Dir:           "asset-cache-data",
		SweepInterval: Duration(24 * time.Hour),
		MaxAge:        Duration(7 * 24 * time.Hour),
	}

	defaultRateLimit = RateLimit{
		Window:      Duration(15 * time.Minute),
		MaxRequests: 100,
	}

	defaultHeartBeat = HeartBeat{
		Interval: Duration(5 * time.Minute),
		Timeout:  Duration(10 * time.Second),
	}
)

// Config describes the complete service configuration.
type Config struct {
	Server Server `yaml:"server,omitempty"`

	// Whether to print debug logs.
	LogDebug bool `yaml:"log_debug,omitempty"`

	Proxy       Proxy       `yaml:"proxy,omitempty"`
	Upstream    Upstream    `yaml:"upstream,omitempty"`
	ResultCache ResultCache `yaml:"result_cache,omitempty"`
	AssetCache  AssetCache  `yaml:"asset_cache,omitempty"`
	RateLimit   RateLimit   `yaml:"rate_limit,omitempty"`
	HeartBeat   HeartBeat   `yaml:"heartbeat,omitempty"`

	// Catches all undefined fields.
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*c = defaultConfig

	// Set c to the defaults and then overwrite it with the input.
	type plain Config
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	if len(c.Server.HTTP.ListenAddr) == 0 && len(c.Server.HTTPS.ListenAddr) == 0 {
		return fmt.Errorf("neither `server.http.listen_addr` nor `server.https.listen_addr` is configured")
	}

	return checkOverflow(c.XXX, "config")
}

// Server describes the configuration of the network listeners.
type Server struct {
	HTTP    HTTP    `yaml:"http,omitempty"`
	HTTPS   HTTPS   `yaml:"https,omitempty"`
	Metrics Metrics `yaml:"metrics,omitempty"`

	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (s *Server) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Server
	if err := unmarshal((*plain)(s)); err != nil {
		return err
	}
	return checkOverflow(s.XXX, "server")
}

// HTTP describes the plain-text listener.
type HTTP struct {
	// TCP address to listen to for http.
	ListenAddr string `yaml:"listen_addr,omitempty"`

	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (h *HTTP) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain HTTP
	if err := unmarshal((*plain)(h)); err != nil {
		return err
	}
	return checkOverflow(h.XXX, "http")
}

// HTTPS describes the TLS listener.
type HTTPS struct {
	// TCP address to listen to for https.
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// Certificate and key files for the listener.
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`

	Autocert Autocert `yaml:"autocert,omitempty"`

	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (h *HTTPS) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain HTTPS
	if err := unmarshal((*plain)(h)); err != nil {
		return err
	}

	if len(h.ListenAddr) > 0 {
		if len(h.Autocert.CacheDir) == 0 && (len(h.CertFile) == 0 || len(h.KeyFile) == 0) {
			return fmt.Errorf("configuration `https` requires either `cert_file` with `key_file` or `autocert.cache_dir`")
		}
	}

	return checkOverflow(h.XXX, "https")
}

// Autocert describes certificate retrieval via ACME.
type Autocert struct {
	// Path to the directory where certificates are cached.
	CacheDir string `yaml:"cache_dir,omitempty"`

	// List of hosts the certificates may be issued for.
	// If empty, certificates are issued for any requested host.
	AllowedHosts []string `yaml:"allowed_hosts,omitempty"`

	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (a *Autocert) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Autocert
	if err := unmarshal((*plain)(a)); err != nil {
		return err
	}
	return checkOverflow(a.XXX, "autocert")
}

// Metrics describes the /metrics endpoint restrictions.
type Metrics struct {
	// List of networks the endpoint may be accessed from.
	// If empty, access is unrestricted.
	AllowedNetworks Networks `yaml:"allowed_networks,omitempty"`

	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (m *Metrics) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Metrics
	if err := unmarshal((*plain)(m)); err != nil {
		return err
	}
	return checkOverflow(m.XXX, "metrics")
}

// Proxy describes how to derive the client address when the service
// runs behind a reverse proxy.
//
// This is advisory protection only: header forgery from clients that
// can reach the service directly is not defended against.
type Proxy struct {
	// Whether to read the client address from proxy headers.
	Enable bool `yaml:"enable,omitempty"`

	// Header to read the address from. If empty, the standard
	// X-Forwarded-For, X-Real-Ip and Forwarded headers are tried.
	Header string `yaml:"header,omitempty"`

	// Number of reverse proxy hops in front of the service.
	// Determines which X-Forwarded-For entry is the real client.
	TrustedHops int `yaml:"trusted_hops,omitempty"`

	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (p *Proxy) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*p = defaultProxy

	type plain Proxy
	if err := unmarshal((*plain)(p)); err != nil {
		return err
	}

	if p.TrustedHops < 1 {
		return fmt.Errorf("field `trusted_hops` must be positive. Got %d instead", p.TrustedHops)
	}

	return checkOverflow(p.XXX, "proxy")
}

// Upstream describes the scraped origin site and how to talk to it.
type Upstream struct {
	// Site root, e.g. https://www.natomanga.com.
	BaseURL string `yaml:"base_url,omitempty"`

	// Per-request timeout for outbound fetches.
	Timeout Duration `yaml:"timeout,omitempty"`

	// Maximum outbound requests per second to the origin.
	// Zero disables the throttle.
	RateLimit float64 `yaml:"rate_limit,omitempty"`

	// Browser identity presented to the origin. The origin rejects or
	// alters behavior for unidentified clients, so these are data, not
	// logic; expect to retune them when the origin changes heuristics.
	UserAgent string `yaml:"user_agent,omitempty"`
	Referer   string `yaml:"referer,omitempty"`

	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (u *Upstream) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*u = defaultUpstream

	type plain Upstream
	if err := unmarshal((*plain)(u)); err != nil {
		return err
	}

	if len(u.BaseURL) == 0 {
		return fmt.Errorf("field `base_url` cannot be empty")
	}
	if u.Timeout <= 0 {
		return fmt.Errorf("field `timeout` must be positive")
	}
	if u.RateLimit < 0 {
		return fmt.Errorf("field `rate_limit` cannot be negative")
	}

	return checkOverflow(u.XXX, "upstream")
}

// ResultCache describes the in-memory cache for structured query results.
type ResultCache struct {
	// Time after which a cached result is considered stale.
	TTL Duration `yaml:"ttl,omitempty"`

	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (r *ResultCache) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*r = defaultResultCache

	type plain ResultCache
	if err := unmarshal((*plain)(r)); err != nil {
		return err
	}

	if r.TTL <= 0 {
		return fmt.Errorf("field `ttl` must be positive")
	}

	return checkOverflow(r.XXX, "result_cache")
}

// AssetCache describes the disk cache for proxied binary assets.
type AssetCache struct {
	// Directory holding one file per cached asset.
	Dir string `yaml:"dir,omitempty"`

	// How often the background sweep runs.
	SweepInterval Duration `yaml:"sweep_interval,omitempty"`

	// Files whose modification time is older than MaxAge are deleted
	// by the sweep.
	MaxAge Duration `yaml:"max_age,omitempty"`

	// Optional cap on the total size of cached assets. Zero means
	// no size pressure eviction; the sweep is the only bound.
	MaxSize ByteSize `yaml:"max_size,omitempty"`

	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (a *AssetCache) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*a = defaultAssetCache

	type plain AssetCache
	if err := unmarshal((*plain)(a)); err != nil {
		return err
	}

	if len(a.Dir) == 0 {
		return fmt.Errorf("field `dir` cannot be empty")
	}
	if a.SweepInterval <= 0 {
		return fmt.Errorf("field `sweep_interval` must be positive")
	}
	if a.MaxAge <= 0 {
		return fmt.Errorf("field `max_age` must be positive")
	}

	return checkOverflow(a.XXX, "asset_cache")
}

// RateLimit describes the fixed-window admission control applied to
// every inbound request.
type RateLimit struct {
	// Window duration.
	Window Duration `yaml:"window,omitempty"`

	// Maximum requests per client identity within one window.
	// Zero disables admission control.
	MaxRequests uint32 `yaml:"max_requests,omitempty"`

	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (r *RateLimit) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*r = defaultRateLimit

	type plain RateLimit
	if err := unmarshal((*plain)(r)); err != nil {
		return err
	}

	if r.Window <= 0 {
		return fmt.Errorf("field `window` must be positive")
	}

	return checkOverflow(r.XXX, "rate_limit")
}

// HeartBeat describes the background upstream reachability probe
// feeding the /health endpoint.
type HeartBeat struct {
	// How often the upstream is probed.
	Interval Duration `yaml:"interval,omitempty"`

	// Per-probe timeout.
	Timeout Duration `yaml:"timeout,omitempty"`

	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (h *HeartBeat) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*h = defaultHeartBeat

	type plain HeartBeat
	if err := unmarshal((*plain)(h)); err != nil {
		return err
	}

	if h.Interval <= 0 {
		return fmt.Errorf("field `interval` must be positive")
	}
	if h.Timeout <= 0 {
		return fmt.Errorf("field `timeout` must be positive")
	}

	return checkOverflow(h.XXX, "heartbeat")
}

// LoadFile loads and validates configuration from the provided YAML file.
func LoadFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.UnmarshalStrict(content, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
