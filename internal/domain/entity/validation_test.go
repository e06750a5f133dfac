package entity

import (
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubLookup(t *testing.T, ips map[string][]net.IP) {
	t.Helper()
	orig := lookupIP
	lookupIP = func(host string) ([]net.IP, error) {
		if v, ok := ips[host]; ok {
			return v, nil
		}
		return nil, errors.New("no such host")
	}
	t.Cleanup(func() { lookupIP = orig })
}

func TestValidateURL(t *testing.T) {
	stubLookup(t, map[string][]net.IP{
		"feeds.example.com": {net.ParseIP("93.184.216.34")},
		"intranet.local":    {net.ParseIP("10.1.2.3")},
		"metadata":          {net.ParseIP("169.254.169.254")},
		"localhost":         {net.ParseIP("127.0.0.1")},
	})

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"public https", "https://feeds.example.com/rss.xml", false},
		{"public http", "http://feeds.example.com/atom", false},
		{"unresolvable host allowed", "https://unknown.example.org/feed", false},
		{"empty", "", true},
		{"ftp scheme", "ftp://feeds.example.com/rss", true},
		{"no host", "https:///rss", true},
		{"private range", "http://intranet.local/feed", true},
		{"link local metadata", "http://metadata/latest", true},
		{"loopback", "http://localhost:8080/feed", true},
		{"too long", "https://feeds.example.com/" + strings.Repeat("a", maxURLLength), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ve *ValidationError
			assert.True(t, errors.As(err, &ve), "want ValidationError, got %T", err)
		})
	}
}

func TestValidateInterval(t *testing.T) {
	assert.NoError(t, ValidateInterval(1))
	assert.NoError(t, ValidateInterval(DefaultIntervalMinutes))
	assert.NoError(t, ValidateInterval(MaxIntervalMinutes))
	assert.Error(t, ValidateInterval(0))
	assert.Error(t, ValidateInterval(MaxIntervalMinutes+1))
}
