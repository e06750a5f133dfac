package entity

import (
	"fmt"
	"net"
	"net/url"
)

// maxURLLength caps accepted feed URLs.
const maxURLLength = 2048

// privateNetworks are refused as feed hosts so that a subscription cannot be
// used to probe the relay's own network.
var privateNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"fc00::/7",
)

// lookupIP is replaced in tests.
var lookupIP = net.LookupIP

// ValidateURL checks that rawURL is an absolute http(s) URL whose host does
// not resolve into a loopback, link-local or private range.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return &ValidationError{Field: "url", Message: "is required"}
	}
	if len(rawURL) > maxURLLength {
		return &ValidationError{Field: "url", Message: fmt.Sprintf("must not exceed %d characters", maxURLLength)}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return &ValidationError{Field: "url", Message: "is invalid: " + err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "url", Message: "must use http or https scheme"}
	}
	if u.Hostname() == "" {
		return &ValidationError{Field: "url", Message: "must have a valid host"}
	}

	ips, err := lookupIP(u.Hostname())
	if err != nil {
		// Unresolvable hosts are allowed here; the fetch itself will fail and be
		// classified like any other network error.
		return nil
	}
	for _, ip := range ips {
		if isRestrictedIP(ip) {
			return &ValidationError{Field: "url", Message: "cannot point to private network"}
		}
	}
	return nil
}

// ValidateInterval checks a check cadence in minutes.
func ValidateInterval(minutes int) error {
	if minutes < MinIntervalMinutes || minutes > MaxIntervalMinutes {
		return &ValidationError{
			Field:   "interval_minutes",
			Message: fmt.Sprintf("must be between %d and %d", MinIntervalMinutes, MaxIntervalMinutes),
		}
	}
	return nil
}

func isRestrictedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return true
	}
	for _, n := range privateNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}
