package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ProxyConfig holds all configuration for the routing proxy.
type ProxyConfig struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Probe    ProbeConfig    `mapstructure:"probe"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig describes the backend cluster and how to log into it.
type DatabaseConfig struct {
	Driver         string        `mapstructure:"driver"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	Name           string        `mapstructure:"name"`
	Port           int           `mapstructure:"port"`
	PrimaryHost    string        `mapstructure:"primary_host"`
	ReplicaHosts   []string      `mapstructure:"replica_hosts"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
}

// ProbeConfig controls the latency probes of the custom routing policy.
type ProbeConfig struct {
	Mode       string        `mapstructure:"mode"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Count      int           `mapstructure:"count"`
	Privileged bool          `mapstructure:"privileged"`
}

// proxyEnvAliases are the plain variable names the deployment scripts export.
var proxyEnvAliases = map[string][]string{
	"database.user":          {"DATABASE_USER", "DB_USER"},
	"database.password":      {"PASSWORD", "DB_PASSWORD"},
	"database.name":          {"DATABASE", "DB_NAME"},
	"database.primary_host":  {"MANAGER_HOST"},
	"database.replica_hosts": {"DATA_NODES_HOST"},
}

// LoadProxy reads proxy configuration from an optional file and the environment.
func LoadProxy(configPath string) (*ProxyConfig, error) {
	var cfg ProxyConfig
	if err := load(configPath, "PROXY", "proxy", setProxyDefaults, proxyEnvAliases, &cfg); err != nil {
		return nil, err
	}

	cfg.Database.ReplicaHosts = splitHosts(cfg.Database.ReplicaHosts)
	if cfg.Database.Port == 0 {
		cfg.Database.Port = defaultDatabasePort(cfg.Database.Driver)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setProxyDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.connect_timeout", "5s")
	v.SetDefault("database.query_timeout", "30s")

	v.SetDefault("probe.mode", "tcp")
	v.SetDefault("probe.timeout", "1s")
	v.SetDefault("probe.count", 1)
	v.SetDefault("probe.privileged", false)
}

// Validate checks that every required startup input is present.
func (c *ProxyConfig) Validate() error {
	if err := c.Server.validate(); err != nil {
		return err
	}

	var missing []string
	if c.Database.User == "" {
		missing = append(missing, "database.user")
	}
	if c.Database.Name == "" {
		missing = append(missing, "database.name")
	}
	if c.Database.PrimaryHost == "" {
		missing = append(missing, "database.primary_host")
	}
	if len(c.Database.ReplicaHosts) == 0 {
		missing = append(missing, "database.replica_hosts")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}

	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}

	switch c.Probe.Mode {
	case "tcp", "icmp":
	default:
		return fmt.Errorf("probe mode must be tcp or icmp, got %q", c.Probe.Mode)
	}
	if c.Probe.Timeout <= 0 {
		return errors.New("probe timeout must be positive")
	}
	if c.Probe.Count <= 0 {
		return errors.New("probe count must be positive")
	}

	return c.Metrics.validate()
}

func defaultDatabasePort(driver string) int {
	if driver == "postgres" {
		return 5432
	}
	return 3306
}

// splitHosts flattens comma separated entries and drops blanks.
func splitHosts(entries []string) []string {
	var hosts []string
	for _, entry := range entries {
		for _, host := range strings.Split(entry, ",") {
			if host = strings.TrimSpace(host); host != "" {
				hosts = append(hosts, host)
			}
		}
	}
	return hosts
}
