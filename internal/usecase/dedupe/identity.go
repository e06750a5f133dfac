package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"feedrelay/internal/domain/entity"
)

// Identity returns the stable dedupe key of an item: its explicit id, else
// its guid, else its canonical link, else "h:" plus a SHA-256 of
// title|link|publish time.
func Identity(item entity.Item) string {
	if id := strings.TrimSpace(item.ID); id != "" {
		return id
	}
	if guid := strings.TrimSpace(item.GUID); guid != "" {
		return guid
	}
	if link := CanonicalLink(item.Link); link != "" {
		return link
	}
	published := ""
	if item.PublishedAt != nil {
		published = item.PublishedAt.UTC().Format(time.RFC3339)
	}
	sum := sha256.Sum256([]byte(item.Title + "|" + item.Link + "|" + published))
	return "h:" + hex.EncodeToString(sum[:])
}

// CanonicalLink normalises a link so trivially different spellings of the
// same article collide: the scheme and host are lowercased, the fragment and
// utm_* tracking parameters are dropped, and a trailing slash is trimmed.
func CanonicalLink(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for key := range q {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()

	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	}
	return u.String()
}
