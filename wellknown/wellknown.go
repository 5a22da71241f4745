// Package wellknown fetches the HTTPS fallback form of an AID record. The
// JSON object served at /.well-known/agent is canonicalized to the same
// text form a TXT record carries and fed through the same parser, so the
// two discovery paths cannot drift apart.
package wellknown

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentcommunity/aid-go/core"
	aiderrors "github.com/agentcommunity/aid-go/errors"
	blog "github.com/agentcommunity/aid-go/log"
	"github.com/agentcommunity/aid-go/metrics"
)

// Path is where the fallback record is served, relative to the domain root.
const Path = "/.well-known/agent"

// maxResponseSize caps how much of a well-known response is read. Bodies
// larger than this are rejected outright.
const maxResponseSize = 64 * 1024

// Fetcher retrieves and parses well-known AID records.
type Fetcher struct {
	log   blog.Logger
	stats metrics.Scope
	// scheme is "https" outside of tests.
	scheme string
}

// NewFetcher constructs a Fetcher.
func NewFetcher(logger blog.Logger, stats metrics.Scope) *Fetcher {
	return &Fetcher{
		log:    logger,
		stats:  stats,
		scheme: "https",
	}
}

// Fetch requests https://<domain>/.well-known/agent and returns the parsed
// record. Every guard failure maps to ERR_FALLBACK_FAILED; parse failures
// keep their own codes.
func (f *Fetcher) Fetch(ctx context.Context, domain string, timeout time.Duration) (*core.Record, error) {
	f.stats.Inc("WellKnown.Fetches", 1)
	record, err := f.fetch(ctx, domain, timeout)
	if err != nil {
		f.stats.Inc("WellKnown.Failures", 1)
		return nil, err
	}
	return record, nil
}

func (f *Fetcher) fetch(ctx context.Context, domain string, timeout time.Duration) (*core.Record, error) {
	fetchURL := fmt.Sprintf("%s://%s%s", f.scheme, domain, Path)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, aiderrors.FallbackError("Invalid well-known URL for %q: %s", domain, err)
	}
	req.Header.Set("Accept", "application/json")

	f.log.Debugf("fetching well-known record from %q", fetchURL)
	resp, err := newWellKnownClient().Do(req)
	if err != nil {
		return nil, aiderrors.FallbackError("Well-known fetch failed: %s", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, aiderrors.FallbackError("Well-known HTTP %d", resp.StatusCode)
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(contentType, "application/json") {
		return nil, aiderrors.FallbackError("Invalid content-type for well-known (expected application/json, got %q)", contentType)
	}

	body, err := io.ReadAll(&io.LimitedReader{R: resp.Body, N: maxResponseSize + 1})
	if err != nil {
		return nil, aiderrors.FallbackError("Error reading well-known response body: %s", err)
	}
	if len(body) > maxResponseSize {
		return nil, aiderrors.FallbackError("Well-known response too large (>%d bytes)", maxResponseSize)
	}

	var parsed interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, aiderrors.FallbackError("Invalid JSON in well-known response")
	}
	obj, ok := parsed.(map[string]interface{})
	if !ok {
		return nil, aiderrors.FallbackError("Well-known JSON must be an object")
	}
	fields := make(map[string]string)
	for key, value := range obj {
		// Non-string members are ignored, like unknown TXT keys.
		if s, ok := value.(string); ok {
			fields[key] = s
		}
	}

	return core.ParseRecord(core.CanonicalizeRecord(fields))
}

// newWellKnownClient builds the client for one fallback fetch: no
// redirects, no connection reuse.
func newWellKnownClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DisableKeepAlives:   true,
			MaxIdleConns:        1,
			IdleConnTimeout:     time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
