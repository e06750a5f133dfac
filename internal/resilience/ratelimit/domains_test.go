package ratelimit

import (
	"testing"
	"time"
)

func TestDomainTable_Lookup(t *testing.T) {
	def := Params{MinDelay: time.Second, MaxRequests: 20, Window: time.Minute}
	reddit := Params{MinDelay: 5 * time.Second, MaxRequests: 10, Window: time.Minute}
	old := Params{MinDelay: 7 * time.Second, MaxRequests: 5, Window: time.Minute}
	table := DomainTable{
		Default: def,
		Domains: map[string]Params{"reddit.com": reddit, "old.reddit.com": old},
	}

	tests := []struct {
		host string
		want Params
	}{
		{"reddit.com", reddit},
		{"www.reddit.com", reddit},
		{"old.reddit.com", old},
		{"a.old.reddit.com", old},
		{"REDDIT.COM", reddit},
		{"notreddit.com", def},
		{"example.org", def},
	}
	for _, tt := range tests {
		if got := table.Lookup(tt.host); got != tt.want {
			t.Errorf("Lookup(%q) = %+v, want %+v", tt.host, got, tt.want)
		}
	}
}

func TestDomainTable_Validate(t *testing.T) {
	if err := DefaultDomainTable().Validate(); err != nil {
		t.Fatalf("DefaultDomainTable().Validate() error = %v", err)
	}

	tests := []struct {
		name  string
		table DomainTable
	}{
		{"negative delay", DomainTable{Default: Params{MinDelay: -1, MaxRequests: 1, Window: time.Second}}},
		{"zero window", DomainTable{Default: Params{MaxRequests: 1}}},
		{"bad domain entry", DomainTable{
			Default: Params{MaxRequests: 1, Window: time.Second},
			Domains: map[string]Params{"x.test": {MaxRequests: 0, Window: time.Second}},
		}},
		{"empty domain", DomainTable{
			Default: Params{MaxRequests: 1, Window: time.Second},
			Domains: map[string]Params{" ": {MaxRequests: 1, Window: time.Second}},
		}},
	}
	for _, tt := range tests {
		if err := tt.table.Validate(); err == nil {
			t.Errorf("%s: Validate() error = nil", tt.name)
		}
	}
}
