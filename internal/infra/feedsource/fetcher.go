// Package feedsource fetches feed documents over HTTP and decodes them with
// gofeed.
package feedsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"feedrelay/internal/domain/entity"
	"feedrelay/internal/resilience/faults"
	"feedrelay/internal/usecase/check"
)

// Config controls the HTTP fetcher.
type Config struct {
	// Timeout bounds a whole request including the body read. The caller's
	// context deadline applies as well.
	Timeout time.Duration
	// MaxBodySize rejects larger documents as client errors.
	MaxBodySize  int64
	MaxRedirects int
	UserAgent    string
	// DenyPrivateIPs refuses redirects into loopback, link-local and private
	// ranges.
	DenyPrivateIPs bool
}

// DefaultConfig returns 30s, 10MB, 5 redirects and private targets denied.
func DefaultConfig() Config {
	return Config{
		Timeout:        30 * time.Second,
		MaxBodySize:    10 << 20,
		MaxRedirects:   5,
		UserAgent:      "feedrelay/1.0 (+https://github.com/feedrelay)",
		DenyPrivateIPs: true,
	}
}

var errTooManyRedirects = errors.New("too many redirects")

// Fetcher implements check.FeedFetcher.
type Fetcher struct {
	client *http.Client
	cfg    Config
}

var _ check.FeedFetcher = (*Fetcher)(nil)

// NewFetcher returns a Fetcher. Zero fields of cfg take DefaultConfig values,
// except DenyPrivateIPs which is used as given.
func NewFetcher(cfg Config) *Fetcher {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = def.MaxRedirects
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	f := &Fetcher{cfg: cfg}
	f.client = &http.Client{
		Timeout:       cfg.Timeout,
		CheckRedirect: f.checkRedirect,
	}
	return f
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= f.cfg.MaxRedirects {
		return errTooManyRedirects
	}
	if f.cfg.DenyPrivateIPs {
		if err := entity.ValidateURL(req.URL.String()); err != nil {
			return fmt.Errorf("redirect to %s refused: %w", req.URL.Host, err)
		}
	}
	return nil
}

// Fetch GETs url with the given conditional headers. A 304 is returned as a
// result, not an error. Every failure is a *faults.TransportError.
func (f *Fetcher) Fetch(ctx context.Context, url string, header http.Header) (*check.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &faults.TransportError{Kind: faults.ClientError, Message: "invalid request", Err: err}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		kind := faults.Classify(err)
		if errors.Is(err, errTooManyRedirects) || errors.Is(err, entity.ErrInvalidInput) {
			kind = faults.ClientError
		}
		return nil, &faults.TransportError{Kind: kind, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &check.FetchResult{StatusCode: resp.StatusCode}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, faults.FromResponse(resp, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodySize+1))
	if err != nil {
		return nil, &faults.TransportError{Code: resp.StatusCode, Kind: faults.Classify(err), Message: "read body", Err: err}
	}
	if int64(len(body)) > f.cfg.MaxBodySize {
		return nil, &faults.TransportError{
			Code:    resp.StatusCode,
			Kind:    faults.ClientError,
			Message: fmt.Sprintf("feed exceeds %d bytes", f.cfg.MaxBodySize),
		}
	}
	return &check.FetchResult{
		StatusCode:   resp.StatusCode,
		Body:         body,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}
