package ratelimit

import (
	"fmt"
	"strings"
	"time"

	"feedrelay/internal/domain/entity"
)

// Params are the admission parameters for one source.
type Params struct {
	MinDelay    time.Duration `yaml:"min_delay"`
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// Validate rejects parameters that would make admission undefined.
func (p Params) Validate() error {
	if p.MinDelay < 0 {
		return &entity.ValidationError{Field: "min_delay", Message: "must be >= 0"}
	}
	if p.MaxRequests < 1 {
		return &entity.ValidationError{Field: "max_requests", Message: "must be >= 1"}
	}
	if p.Window <= 0 {
		return &entity.ValidationError{Field: "window", Message: "must be positive"}
	}
	return nil
}

// DomainTable holds per-domain defaults. A host matches a domain when it
// equals it or ends with "."+domain; the longest matching domain wins.
type DomainTable struct {
	Default Params            `yaml:"default"`
	Domains map[string]Params `yaml:"domains"`
}

// Lookup returns the parameters for host.
func (t DomainTable) Lookup(host string) Params {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	best, bestLen := t.Default, -1
	for domain, p := range t.Domains {
		d := strings.ToLower(domain)
		if host != d && !strings.HasSuffix(host, "."+d) {
			continue
		}
		if len(d) > bestLen {
			best, bestLen = p, len(d)
		}
	}
	return best
}

// Validate checks the default and every domain entry.
func (t DomainTable) Validate() error {
	if err := t.Default.Validate(); err != nil {
		return fmt.Errorf("rate_limits.default: %w", err)
	}
	for domain, p := range t.Domains {
		if strings.TrimSpace(domain) == "" {
			return &entity.ValidationError{Field: "rate_limits.domains", Message: "domain must not be empty"}
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("rate_limits.domains[%s]: %w", domain, err)
		}
	}
	return nil
}

// DefaultDomainTable returns the built-in table. Hosts known to throttle feed
// readers get wider spacing.
func DefaultDomainTable() DomainTable {
	return DomainTable{
		Default: Params{MinDelay: time.Second, MaxRequests: 20, Window: time.Minute},
		Domains: map[string]Params{
			"reddit.com":           {MinDelay: 5 * time.Second, MaxRequests: 10, Window: time.Minute},
			"old.reddit.com":       {MinDelay: 5 * time.Second, MaxRequests: 10, Window: time.Minute},
			"youtube.com":          {MinDelay: 2 * time.Second, MaxRequests: 15, Window: time.Minute},
			"github.com":           {MinDelay: 2 * time.Second, MaxRequests: 30, Window: time.Minute},
			"medium.com":           {MinDelay: 3 * time.Second, MaxRequests: 10, Window: time.Minute},
			"substack.com":         {MinDelay: 2 * time.Second, MaxRequests: 20, Window: time.Minute},
			"news.ycombinator.com": {MinDelay: 3 * time.Second, MaxRequests: 10, Window: time.Minute},
			"feedburner.com":       {MinDelay: 2 * time.Second, MaxRequests: 20, Window: time.Minute},
		},
	}
}
