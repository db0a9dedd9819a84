// Package config loads hsmlink tool configuration from YAML.
//
// Durations are written as Go duration strings ("250ms", "5s"). Values
// missing from a file keep their defaults; command-line flags override
// both.
package config

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hsmlink/hsmlink-go/pkg/cert"
	"github.com/hsmlink/hsmlink-go/pkg/connection"
	"github.com/hsmlink/hsmlink-go/pkg/discovery"
	"github.com/hsmlink/hsmlink-go/pkg/socket"
)

// Defaults.
const (
	DefaultPort           = 9443
	DefaultStore          = "MY"
	DefaultConnectTimeout = 10 * time.Second
	DefaultAcceptTimeout  = time.Second
	DefaultLogLevel       = "info"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the complete tool configuration.
type Config struct {
	Link      LinkConfig               `yaml:"link"`
	TLS       TLSConfig                `yaml:"tls"`
	Timeouts  TimeoutConfig            `yaml:"timeouts"`
	Framing   FramingConfig            `yaml:"framing"`
	Reconnect connection.BackoffConfig `yaml:"reconnect"`
	Log       LogConfig                `yaml:"log"`
	Metrics   MetricsConfig            `yaml:"metrics"`
	Discovery DiscoveryConfig          `yaml:"discovery"`
}

// LinkConfig names the peer (clients) or the listen address (servers).
type LinkConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Listen is the interface a server binds. Empty binds all interfaces.
	Listen string `yaml:"listen"`
}

// TLSConfig selects credentials and peer verification.
type TLSConfig struct {
	Enabled bool `yaml:"enabled"`

	// Subject picks the local credential from the store.
	Subject   string `yaml:"subject"`
	Store     string `yaml:"store"`
	StoreRoot string `yaml:"store_root"`
	Password  string `yaml:"password"`

	// CAFile is a PEM bundle used to verify the peer.
	CAFile string `yaml:"ca_file"`

	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	RequireClientCert  bool   `yaml:"require_client_cert"`
}

// TimeoutConfig holds the operation timeouts.
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	IO      time.Duration `yaml:"io"`
	Accept  time.Duration `yaml:"accept"`
	Poll    time.Duration `yaml:"poll"`
}

// FramingConfig bounds packet sizes.
type FramingConfig struct {
	MaxPacketSize int `yaml:"max_packet_size"`
}

// LogConfig controls operational and protocol logging.
type LogConfig struct {
	Level string `yaml:"level"`

	// Protocol is the .hlog file protocol events are written to.
	Protocol string `yaml:"protocol"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// DiscoveryConfig controls mDNS advertisement and browsing.
type DiscoveryConfig struct {
	Advertise bool   `yaml:"advertise"`
	Instance  string `yaml:"instance"`

	// Interface restricts mDNS to one network interface.
	Interface string        `yaml:"interface"`
	BrowseFor time.Duration `yaml:"browse_for"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.Link.Port == 0 {
		c.Link.Port = DefaultPort
	}
	if c.Link.Host == "" {
		c.Link.Host = "localhost"
	}
	if c.TLS.Store == "" {
		c.TLS.Store = DefaultStore
	}
	if c.Timeouts.Connect == 0 {
		c.Timeouts.Connect = DefaultConnectTimeout
	}
	if c.Timeouts.IO == 0 {
		c.Timeouts.IO = socket.DefaultIOTimeout
	}
	if c.Timeouts.Accept == 0 {
		c.Timeouts.Accept = DefaultAcceptTimeout
	}
	if c.Timeouts.Poll == 0 {
		c.Timeouts.Poll = connection.DefaultPollSlice
	}
	if c.Framing.MaxPacketSize == 0 {
		c.Framing.MaxPacketSize = socket.MaxPacketSize
	}
	if c.Reconnect.Initial == 0 {
		c.Reconnect.Initial = connection.InitialBackoff
	}
	if c.Reconnect.Max == 0 {
		c.Reconnect.Max = connection.MaxBackoff
	}
	if c.Reconnect.Multiplier == 0 {
		c.Reconnect.Multiplier = connection.BackoffMultiplier
	}
	if c.Reconnect.Jitter == 0 {
		c.Reconnect.Jitter = connection.JitterFactor
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Discovery.BrowseFor == 0 {
		c.Discovery.BrowseFor = discovery.BrowseTimeout
	}
}

// LoadError reports a file that could not be loaded.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Cause }

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	c.ApplyDefaults()
	return c, nil
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	c, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
		}
		return nil, err
	}
	return c, nil
}

// Validate returns every problem found, or nil.
func (c *Config) Validate() []error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Link.Port < 0 || c.Link.Port > 65535 {
		bad("link.port %d out of range", c.Link.Port)
	}
	if c.Framing.MaxPacketSize < 0 || c.Framing.MaxPacketSize > socket.MaxPacketSize {
		bad("framing.max_packet_size %d out of range 1..%d", c.Framing.MaxPacketSize, socket.MaxPacketSize)
	}
	for name, d := range map[string]time.Duration{
		"timeouts.connect": c.Timeouts.Connect,
		"timeouts.io":      c.Timeouts.IO,
		"timeouts.accept":  c.Timeouts.Accept,
		"timeouts.poll":    c.Timeouts.Poll,
	} {
		if d < 0 {
			bad("%s must not be negative", name)
		}
	}
	if c.Reconnect.Max > 0 && c.Reconnect.Max < c.Reconnect.Initial {
		bad("reconnect.max %v below reconnect.initial %v", c.Reconnect.Max, c.Reconnect.Initial)
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
		bad("reconnect.jitter %v out of range 0..1", c.Reconnect.Jitter)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		bad("log.level: %v", err)
	}
	if c.TLS.RequireClientCert && !c.TLS.Enabled {
		bad("tls.require_client_cert needs tls.enabled")
	}
	if c.TLS.InsecureSkipVerify && c.TLS.CAFile != "" {
		bad("tls.insecure_skip_verify and tls.ca_file are exclusive")
	}
	if c.Discovery.Advertise && c.Discovery.Instance == "" {
		bad("discovery.advertise needs discovery.instance")
	}
	return errs
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(s))
	return l, err
}

// Level returns the configured level, falling back to info.
func (c *Config) Level() slog.Level {
	l, err := ParseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

// Endpoint resolves Link.Host and Link.Port.
func (c *Config) Endpoint() (socket.Endpoint, error) {
	return socket.Resolve(c.Link.Host, c.Link.Port)
}

// ListenHost returns the interface a server binds.
func (c *Config) ListenHost() string {
	if c.Link.Listen == "" {
		return "0.0.0.0"
	}
	return c.Link.Listen
}

// ConnectOptions builds client options. roots overrides TLS.CAFile when
// non-nil. The client credential is left for the caller to fill in.
func (c *Config) ConnectOptions(roots *x509.CertPool) socket.ConnectOptions {
	return socket.ConnectOptions{
		TLS:                c.TLS.Enabled,
		ServerName:         c.TLS.ServerName,
		RootCAs:            roots,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
		MaxPacketSize:      c.Framing.MaxPacketSize,
		IOTimeout:          c.Timeouts.IO,
	}
}

// RootCAs reads TLS.CAFile. It returns nil when no file is configured.
func (c *Config) RootCAs() (*x509.CertPool, error) {
	if c.TLS.CAFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.TLS.CAFile)
	if err != nil {
		return nil, err
	}
	certs, err := cert.DecodeCertPEM(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.TLS.CAFile, err)
	}
	pool := x509.NewCertPool()
	for _, crt := range certs {
		pool.AddCert(crt)
	}
	return pool, nil
}

// Locator returns the credential store locator for TLS.StoreRoot.
func (c *Config) Locator() cert.Locator {
	return cert.DirLocator{Root: c.TLS.StoreRoot, Password: c.TLS.Password}
}

// Credential finds TLS.Subject in TLS.Store. It returns nil when no
// subject is configured.
func (c *Config) Credential() (*cert.Credential, error) {
	if c.TLS.Subject == "" {
		return nil, nil
	}
	store, err := c.Locator().Open(c.TLS.Store)
	if err != nil {
		return nil, err
	}
	return store.Find(c.TLS.Subject)
}

// Backoff returns a reconnect backoff for the Reconnect settings.
func (c *Config) Backoff() *connection.Backoff {
	return connection.NewBackoffWithConfig(c.Reconnect)
}
