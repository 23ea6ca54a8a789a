// Package config loads the tablectl configuration: which control device to
// use and which anchors, tables and entries should exist.
package config

import (
	"time"

	"grimm.is/tablectl/internal/table"
)

// CurrentSchemaVersion defines the current schema version of the configuration.
const CurrentSchemaVersion = "1.0"

// DefaultRefreshInterval is used for domain-backed tables without refresh_interval.
const DefaultRefreshInterval = 5 * time.Minute

// Config is the top-level configuration.
type Config struct {
	// Schema version for forward compatibility. Empty means CurrentSchemaVersion.
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty" yaml:"schema_version,omitempty"`

	Backend string `hcl:"backend,optional" json:"backend,omitempty" yaml:"backend,omitempty"` // pf, nftables, memory
	Device  string `hcl:"device,optional" json:"device,omitempty" yaml:"device,omitempty"`    // pf control device
	NetNS   string `hcl:"netns,optional" json:"netns,omitempty" yaml:"netns,omitempty"`       // nftables only

	Resolver  *Resolver  `hcl:"resolver,block" json:"resolver,omitempty" yaml:"resolver,omitempty"`
	OpenRetry *OpenRetry `hcl:"open_retry,block" json:"open_retry,omitempty" yaml:"open_retry,omitempty"`
	Metrics   *Metrics   `hcl:"metrics,block" json:"metrics,omitempty" yaml:"metrics,omitempty"`
	History   *History   `hcl:"history,block" json:"history,omitempty" yaml:"history,omitempty"`

	Anchors []Anchor `hcl:"anchor,block" json:"anchors" yaml:"anchors"`
}

// Anchor groups the tables of one firewall anchor.
type Anchor struct {
	Name   string  `hcl:"name,label" json:"name" yaml:"name"`
	Tables []Table `hcl:"table,block" json:"tables" yaml:"tables"`
}

// Table describes the desired contents of one address table.
type Table struct {
	Name    string   `hcl:"name,label" json:"name" yaml:"name"`
	Entries []string `hcl:"entries,optional" json:"entries,omitempty" yaml:"entries,omitempty"`

	// Domains are resolved to A/AAAA records and added alongside Entries.
	Domains []string `hcl:"domains,optional" json:"domains,omitempty" yaml:"domains,omitempty"`

	// How often domain-backed tables are re-resolved (e.g., "5m", "1h").
	RefreshInterval string `hcl:"refresh_interval,optional" json:"refresh_interval,omitempty" yaml:"refresh_interval,omitempty"`
}

// Resolver configures the upstream DNS servers used for Domains.
type Resolver struct {
	Server   string   `hcl:"server,optional" json:"server,omitempty" yaml:"server,omitempty"`    // host:port
	Servers  []string `hcl:"servers,optional" json:"servers,omitempty" yaml:"servers,omitempty"` // additional upstreams
	Protocol string   `hcl:"protocol,optional" json:"protocol,omitempty" yaml:"protocol,omitempty"` // udp (default), tcp, tcp-tls
	Timeout  string   `hcl:"timeout,optional" json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Upstream health checking. Empty HealthCheck disables it.
	HealthCheck string `hcl:"health_check,optional" json:"health_check,omitempty" yaml:"health_check,omitempty"`
	Check       string `hcl:"check,optional" json:"check,omitempty" yaml:"check,omitempty"` // dns (default), ping
	MaxFails    int    `hcl:"max_fails,optional" json:"max_fails,omitempty" yaml:"max_fails,omitempty"`
	Policy      string `hcl:"policy,optional" json:"policy,omitempty" yaml:"policy,omitempty"` // random (default), round_robin, first
	Spray       bool   `hcl:"spray,optional" json:"spray,omitempty" yaml:"spray,omitempty"`    // use any upstream when all are down
}

// OpenRetry configures backoff when the control device is unavailable.
type OpenRetry struct {
	Attempts     int    `hcl:"attempts,optional" json:"attempts,omitempty" yaml:"attempts,omitempty"`
	InitialDelay string `hcl:"initial_delay,optional" json:"initial_delay,omitempty" yaml:"initial_delay,omitempty"`
	MaxDelay     string `hcl:"max_delay,optional" json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
}

// Metrics configures the Prometheus endpoint used in watch mode.
type Metrics struct {
	Listen string `hcl:"listen" json:"listen" yaml:"listen"`
}

// History configures the SQLite record of apply results.
type History struct {
	Path          string `hcl:"path" json:"path" yaml:"path"`
	RetentionDays int    `hcl:"retention_days,optional" json:"retention_days,omitempty" yaml:"retention_days,omitempty"`
}

// TableConfig returns the control device settings.
func (c *Config) TableConfig() table.Config {
	tc := table.DefaultConfig()
	if c.Backend != "" {
		tc.Backend = c.Backend
	}
	if c.Device != "" {
		tc.DevicePath = c.Device
	}
	tc.NetNS = c.NetNS
	return tc
}

// Addresses parses the static entries of t.
func (t Table) Addresses() ([]table.Address, error) {
	out := make([]table.Address, 0, len(t.Entries))
	for _, e := range t.Entries {
		a, err := table.ParseAddress(e)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Interval returns the refresh interval of a domain-backed table.
func (t Table) Interval() time.Duration {
	if t.RefreshInterval == "" {
		return DefaultRefreshInterval
	}
	d, err := time.ParseDuration(t.RefreshInterval)
	if err != nil || d <= 0 {
		return DefaultRefreshInterval
	}
	return d
}

// TimeoutDuration returns the per-query timeout, defaulting to 2s.
func (r *Resolver) TimeoutDuration() time.Duration {
	if r == nil || r.Timeout == "" {
		return 2 * time.Second
	}
	d, err := time.ParseDuration(r.Timeout)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// Upstreams returns Server followed by Servers, without duplicates.
func (r *Resolver) Upstreams() []string {
	if r == nil {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, s := range append([]string{r.Server}, r.Servers...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// HealthCheckInterval returns the upstream check interval, or 0 when
// health checking is off.
func (r *Resolver) HealthCheckInterval() time.Duration {
	if r == nil || r.HealthCheck == "" {
		return 0
	}
	d, err := time.ParseDuration(r.HealthCheck)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

// HasDomains reports whether any table needs DNS resolution.
func (c *Config) HasDomains() bool {
	for _, a := range c.Anchors {
		for _, t := range a.Tables {
			if len(t.Domains) > 0 {
				return true
			}
		}
	}
	return false
}
