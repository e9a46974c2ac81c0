// Package config loads the broker's TOML configuration file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level broker configuration, loaded from a TOML file.
type Config struct {
	BrokerID string `toml:"broker_id"`

	MaxConnections int `toml:"max_connections"`

	TCPAddr string `toml:"tcp_addr"`
	TCPPort int    `toml:"tcp_port"`

	TLSAddr  string `toml:"tls_addr"`
	TLSPort  int    `toml:"tls_port"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`

	WSPort        int    `toml:"ws_port"`
	WSPath        string `toml:"ws_path"`

	ActivityCheckInterval int `toml:"activity_check_interval"`
	KeepAlive             int `toml:"keep_alive"`

	LogDest  string `toml:"log_dest"`
	LogLevel string `toml:"log_level"`

	MaxPacketSize   int `toml:"max_packet_size"`
	MaxInflight     int `toml:"max_inflight"`
	MaxSessionQueue int `toml:"max_session_queue"`

	AnonymousAllowed bool   `toml:"anonymous_allowed"`
	AuthFile         string `toml:"auth_file"`
	AuthEndpoint     string `toml:"auth_endpoint"`
	AuthEndpointTimeout int `toml:"auth_endpoint_timeout"`
	ACLCacheSize     int    `toml:"acl_cache_size"`

	SysTopicsUpdateInterval int `toml:"sys_topics_update_interval"`

	AdminAPIPort int `toml:"admin_api_port"`
}

const (
	DefaultBrokerID              = "<undefined>"
	DefaultMaxConnections         = 10_000
	DefaultTCPPort                = 1883
	DefaultTLSPort                = 8883
	DefaultWSPath                 = "/mqtt"
	DefaultActivityCheckInterval  = 120
	DefaultKeepAlive              = 120
	DefaultLog                    = "stdout"
	DefaultLogLevel               = "info"
	DefaultAnonymousAllowed       = true
	DefaultSysTopicsUpdateInterval = 30
	DefaultMaxInflight            = 64
	DefaultMaxSessionQueue        = 1000
	DefaultACLCacheSize           = 4096
	DefaultAuthEndpointTimeout    = 5
)

var logDestPattern = regexp.MustCompile(`^(file:)`)

var validLogLevels = map[string]bool{
	"error": true,
	"warn":  true,
	"info":  true,
	"debug": true,
}

// Load reads and validates a TOML configuration file at path, applying
// defaults for any field left unset.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if !meta.IsDefined("anonymous_allowed") {
		cfg.AnonymousAllowed = DefaultAnonymousAllowed
	}
	if !meta.IsDefined("sys_topics_update_interval") {
		cfg.SysTopicsUpdateInterval = DefaultSysTopicsUpdateInterval
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.BrokerID == "" {
		cfg.BrokerID = DefaultBrokerID
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.TCPPort == 0 {
		cfg.TCPPort = DefaultTCPPort
	}
	if cfg.TCPAddr == "" {
		cfg.TCPAddr = fmt.Sprintf(":%d", cfg.TCPPort)
	}
	if cfg.TLSPort == 0 {
		cfg.TLSPort = DefaultTLSPort
	}
	if cfg.TLSAddr == "" {
		cfg.TLSAddr = fmt.Sprintf(":%d", cfg.TLSPort)
	}
	if cfg.WSPath == "" {
		cfg.WSPath = DefaultWSPath
	}
	if cfg.ActivityCheckInterval == 0 {
		cfg.ActivityCheckInterval = DefaultActivityCheckInterval
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.LogDest == "" {
		cfg.LogDest = DefaultLog
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.MaxInflight == 0 {
		cfg.MaxInflight = DefaultMaxInflight
	}
	if cfg.MaxSessionQueue == 0 {
		cfg.MaxSessionQueue = DefaultMaxSessionQueue
	}
	if cfg.ACLCacheSize == 0 {
		cfg.ACLCacheSize = DefaultACLCacheSize
	}
	if cfg.AuthEndpointTimeout == 0 {
		cfg.AuthEndpointTimeout = DefaultAuthEndpointTimeout
	}
}

func validate(cfg *Config) error {
	if cfg.BrokerID == "" {
		return fmt.Errorf("config: broker_id is required")
	}
	if !logDestPattern.MatchString(cfg.LogDest) && cfg.LogDest != "stdout" && cfg.LogDest != "stderr" {
		return fmt.Errorf("config: log_dest must be %q, %q, or %q", "stdout", "stderr", "file:<path>")
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("config: log_level must be one of error, warn, info, debug")
	}
	if !cfg.AnonymousAllowed && cfg.AuthFile == "" && cfg.AuthEndpoint == "" {
		return fmt.Errorf("config: at least one of anonymous_allowed, auth_file, or auth_endpoint must be set")
	}
	if cfg.AuthFile != "" {
		if _, err := os.Stat(cfg.AuthFile); err != nil {
			return fmt.Errorf("config: auth_file: %w", err)
		}
	}
	return nil
}

// ActivityCheckPeriod returns the activity check interval as a duration.
func (c *Config) ActivityCheckPeriod() time.Duration {
	return time.Duration(c.ActivityCheckInterval) * time.Second
}

// KeepAliveDuration returns the configured keep-alive as a duration.
func (c *Config) KeepAliveDuration() time.Duration {
	return time.Duration(c.KeepAlive) * time.Second
}

// SysTopicsInterval returns the $SYS publish interval as a duration.
func (c *Config) SysTopicsInterval() time.Duration {
	return time.Duration(c.SysTopicsUpdateInterval) * time.Second
}

// AuthEndpointTimeoutDuration returns the auth HTTP call timeout as a duration.
func (c *Config) AuthEndpointTimeoutDuration() time.Duration {
	return time.Duration(c.AuthEndpointTimeout) * time.Second
}
