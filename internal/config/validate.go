package config

import (
	"fmt"
	"strings"
	"time"

	"grimm.is/tablectl/internal/table"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate validates the entire configuration.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.Backend != "" && !table.ValidBackend(c.Backend) {
		errs = append(errs, ValidationError{"backend", fmt.Sprintf("unknown backend %q", c.Backend)})
	}
	if c.NetNS != "" && c.Backend != "" && c.Backend != table.BackendNFTables {
		errs = append(errs, ValidationError{"netns", "only supported by the nftables backend"})
	}

	errs = append(errs, c.validateResolver()...)
	errs = append(errs, c.validateOpenRetry()...)
	if c.Metrics != nil && c.Metrics.Listen == "" {
		errs = append(errs, ValidationError{"metrics.listen", "must not be empty"})
	}
	if c.History != nil {
		if c.History.Path == "" {
			errs = append(errs, ValidationError{"history.path", "must not be empty"})
		}
		if c.History.RetentionDays < 0 {
			errs = append(errs, ValidationError{"history.retention_days", "must not be negative"})
		}
	}
	errs = append(errs, c.validateAnchors()...)

	return errs
}

func (c *Config) validateResolver() ValidationErrors {
	var errs ValidationErrors
	if c.Resolver == nil {
		if c.HasDomains() {
			errs = append(errs, ValidationError{"resolver", "required when a table lists domains"})
		}
		return errs
	}
	r := c.Resolver
	if len(r.Upstreams()) == 0 {
		errs = append(errs, ValidationError{"resolver.server", "at least one server is required"})
	}
	for i, s := range r.Servers {
		if s == "" {
			errs = append(errs, ValidationError{fmt.Sprintf("resolver.servers[%d]", i), "must not be empty"})
		}
	}
	switch r.Protocol {
	case "", "udp", "tcp", "tcp-tls":
	default:
		errs = append(errs, ValidationError{"resolver.protocol", fmt.Sprintf("unknown protocol %q", r.Protocol)})
	}
	switch r.Check {
	case "", "dns", "ping":
	default:
		errs = append(errs, ValidationError{"resolver.check", fmt.Sprintf("unknown check %q", r.Check)})
	}
	switch r.Policy {
	case "", "random", "round_robin", "first":
	default:
		errs = append(errs, ValidationError{"resolver.policy", fmt.Sprintf("unknown policy %q", r.Policy)})
	}
	if r.MaxFails < 0 {
		errs = append(errs, ValidationError{"resolver.max_fails", "must not be negative"})
	}
	errs = append(errs, validateDuration("resolver.timeout", r.Timeout)...)
	errs = append(errs, validateDuration("resolver.health_check", r.HealthCheck)...)
	return errs
}

func (c *Config) validateOpenRetry() ValidationErrors {
	var errs ValidationErrors
	if c.OpenRetry == nil {
		return errs
	}
	if c.OpenRetry.Attempts < 0 {
		errs = append(errs, ValidationError{"open_retry.attempts", "must not be negative"})
	}
	errs = append(errs, validateDuration("open_retry.initial_delay", c.OpenRetry.InitialDelay)...)
	errs = append(errs, validateDuration("open_retry.max_delay", c.OpenRetry.MaxDelay)...)
	return errs
}

func (c *Config) validateAnchors() ValidationErrors {
	var errs ValidationErrors
	anchors := make(map[string]bool)
	for _, a := range c.Anchors {
		field := fmt.Sprintf("anchor.%s", a.Name)
		if err := table.ValidateAnchor(a.Name); err != nil {
			errs = append(errs, ValidationError{field, err.Error()})
		}
		if anchors[a.Name] {
			errs = append(errs, ValidationError{field, "duplicate anchor"})
		}
		anchors[a.Name] = true

		tables := make(map[string]bool)
		for _, t := range a.Tables {
			tfield := fmt.Sprintf("%s.table.%s", field, t.Name)
			if err := table.ValidateTableName(t.Name); err != nil {
				errs = append(errs, ValidationError{tfield, err.Error()})
			}
			if tables[t.Name] {
				errs = append(errs, ValidationError{tfield, "duplicate table"})
			}
			tables[t.Name] = true

			for _, e := range t.Entries {
				if _, err := table.ParseAddress(e); err != nil {
					errs = append(errs, ValidationError{tfield + ".entries", err.Error()})
				}
			}
			for _, d := range t.Domains {
				if strings.TrimSpace(d) == "" {
					errs = append(errs, ValidationError{tfield + ".domains", "empty domain"})
				}
			}
			errs = append(errs, validateDuration(tfield+".refresh_interval", t.RefreshInterval)...)
		}
	}
	return errs
}

func validateDuration(field, s string) ValidationErrors {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return ValidationErrors{{field, fmt.Sprintf("invalid duration %q", s)}}
	}
	if d <= 0 {
		return ValidationErrors{{field, "must be positive"}}
	}
	return nil
}
