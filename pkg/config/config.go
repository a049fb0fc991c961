package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Redirect RedirectConfig `yaml:"redirect"`
	Probe    ProbeConfig    `yaml:"probe"`
	Trust    TrustConfig    `yaml:"trust"`
	Log      LogConfig      `yaml:"log"`
}

// RedirectConfig controls how the vendor endpoint is substituted locally
type RedirectConfig struct {
	VendorHost    string `yaml:"vendor_host"`    // Hostname the game resolves to reach the official service (e.g., "gosredirector.ea.com")
	VendorPort    int    `yaml:"vendor_port"`    // Default game-service port, also the default probe port when the user omits one
	RelayBindIP   string `yaml:"relay_bind_ip"`  // Address the local relay binds and the hosts entry points at (defaults to 127.0.0.1)
	HostsFile     string `yaml:"hosts_file"`     // Override for the system hosts file path (mainly for tests)
	LockFile      string `yaml:"lock_file"`      // Path of the single-instance lock file
	ListenAddress string `yaml:"listen_address"` // Metrics listener address
	TelemetryPath string `yaml:"telemetry_path"` // Metrics path
}

// ProbeConfig controls the compatibility probe against a candidate server
type ProbeConfig struct {
	Timeout       int    `yaml:"timeout"`         // Probe timeout in seconds
	Marker        string `yaml:"marker"`          // Identification marker expected from a compatible server
	MinVersion    int    `yaml:"min_version"`     // Lowest supported protocol version (inclusive)
	MaxVersion    int    `yaml:"max_version"`     // Highest supported protocol version (inclusive)
	DetailsPath   string `yaml:"details_path"`    // HTTP path of the identification endpoint
	SkipTLSVerify bool   `yaml:"skip_tls_verify"` // Accept self-signed certificates from alternative servers
}

// TrustConfig controls trust store persistence
type TrustConfig struct {
	StorePath string `yaml:"store_path"` // Path of the persisted server records file
}

// LogConfig log configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from file
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		// Try default path
		configPath = "config.yaml"
	}

	// Check if file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}

	// Set default values
	config.SetDefaults()

	// Apply environment variable overrides
	config.ApplyEnvOverrides()

	return &config, nil
}

// SetDefaults sets default values
func (c *Config) SetDefaults() {
	if c.Redirect.VendorHost == "" {
		c.Redirect.VendorHost = "gosredirector.ea.com"
	}
	if c.Redirect.VendorPort == 0 {
		c.Redirect.VendorPort = 42230
	}
	if c.Redirect.RelayBindIP == "" {
		c.Redirect.RelayBindIP = "127.0.0.1"
	}
	if c.Redirect.LockFile == "" {
		c.Redirect.LockFile = defaultLockFile()
	}
	if c.Redirect.ListenAddress == "" {
		c.Redirect.ListenAddress = ":9090"
	}
	if c.Redirect.TelemetryPath == "" {
		c.Redirect.TelemetryPath = "/metrics"
	}

	if c.Probe.Timeout == 0 {
		c.Probe.Timeout = 10
	}
	if c.Probe.Marker == "" {
		c.Probe.Marker = "PARK"
	}
	if c.Probe.MinVersion == 0 {
		c.Probe.MinVersion = 1
	}
	if c.Probe.MaxVersion == 0 {
		c.Probe.MaxVersion = 5
	}
	if c.Probe.DetailsPath == "" {
		c.Probe.DetailsPath = "/link/client/details"
	}

	if c.Trust.StorePath == "" {
		c.Trust.StorePath = defaultStorePath()
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// GetProbeTimeout gets the probe timeout
func (c *Config) GetProbeTimeout() time.Duration {
	return time.Duration(c.Probe.Timeout) * time.Second
}

// ApplyEnvOverrides applies environment variable overrides
func (c *Config) ApplyEnvOverrides() {
	// Redirect config
	if val := os.Getenv("VENDOR_HOST"); val != "" {
		c.Redirect.VendorHost = val
	}
	if val := os.Getenv("VENDOR_PORT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			c.Redirect.VendorPort = i
		}
	}
	if val := os.Getenv("RELAY_BIND_IP"); val != "" {
		c.Redirect.RelayBindIP = val
	}
	if val := os.Getenv("HOSTS_FILE"); val != "" {
		c.Redirect.HostsFile = val
	}
	if val := os.Getenv("LOCK_FILE"); val != "" {
		c.Redirect.LockFile = val
	}
	if val := os.Getenv("LISTEN_ADDRESS"); val != "" {
		c.Redirect.ListenAddress = val
	}
	if val := os.Getenv("TELEMETRY_PATH"); val != "" {
		c.Redirect.TelemetryPath = val
	}

	// Probe config
	if val := os.Getenv("PROBE_TIMEOUT_SECONDS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			c.Probe.Timeout = i
		}
	}
	if val := os.Getenv("PROBE_MARKER"); val != "" {
		c.Probe.Marker = val
	}
	if val := os.Getenv("PROBE_MIN_VERSION"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			c.Probe.MinVersion = i
		}
	}
	if val := os.Getenv("PROBE_MAX_VERSION"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			c.Probe.MaxVersion = i
		}
	}
	if val := os.Getenv("PROBE_DETAILS_PATH"); val != "" {
		c.Probe.DetailsPath = val
	}
	if val := os.Getenv("PROBE_SKIP_TLS_VERIFY"); val != "" {
		c.Probe.SkipTLSVerify = strings.EqualFold(val, "true") || val == "1"
	}

	// Trust config
	if val := os.Getenv("TRUST_STORE_PATH"); val != "" {
		c.Trust.StorePath = val
	}

	// Log config
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
}

// defaultStorePath places the trust store next to the user's config data
func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "servers.json"
	}
	return dir + string(os.PathSeparator) + "park-link" + string(os.PathSeparator) + "servers.json"
}

// defaultLockFile places the single-instance lock in the temp dir so a
// crashed instance's leftover lock is cleaned by the OS eventually
func defaultLockFile() string {
	return os.TempDir() + string(os.PathSeparator) + "park-link.lock"
}
