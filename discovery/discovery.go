// Package discovery composes the DNS lookup, the well-known fallback, the
// record parser, and the PKA gate into the single operation callers use to
// locate an agent endpoint for a domain.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmhodges/clock"
	"golang.org/x/net/idna"

	"github.com/agentcommunity/aid-go/adns"
	"github.com/agentcommunity/aid-go/core"
	aiderrors "github.com/agentcommunity/aid-go/errors"
	blog "github.com/agentcommunity/aid-go/log"
	"github.com/agentcommunity/aid-go/metrics"
)

// Default per-phase timeouts.
const (
	DefaultDNSTimeout       = 5 * time.Second
	DefaultWellKnownTimeout = 2 * time.Second
)

// recordPrefix is the lowercase prefix a TXT string must carry to be
// considered an AID record candidate.
const recordPrefix = "v=" + core.SpecVersion

// Verifier is the PKA handshake gate. It reports nil only when the
// endpoint proved possession of the record's advertised key.
type Verifier interface {
	Verify(ctx context.Context, uri, pka, kid string, timeout time.Duration) error
}

// WellKnownFetcher retrieves the HTTPS fallback form of a record.
type WellKnownFetcher interface {
	Fetch(ctx context.Context, domain string, timeout time.Duration) (*core.Record, error)
}

// Options control a single discovery call.
type Options struct {
	// Protocol, when non-empty, is probed via protocol-specific DNS names
	// before the plain _agent name.
	Protocol string
	// DNSTimeout bounds each TXT query. It also bounds the PKA handshake
	// for records found over DNS.
	DNSTimeout time.Duration
	// WellKnownFallback enables the HTTPS fallback when DNS yields no
	// parseable record.
	WellKnownFallback bool
	// WellKnownTimeout bounds the fallback fetch and its PKA handshake.
	WellKnownTimeout time.Duration
}

// DefaultOptions are the options Discover uses.
func DefaultOptions() Options {
	return Options{
		DNSTimeout:        DefaultDNSTimeout,
		WellKnownFallback: true,
		WellKnownTimeout:  DefaultWellKnownTimeout,
	}
}

// DiscovererImpl resolves AID records for domains.
type DiscovererImpl struct {
	dnsClient adns.Client
	// wellKnown may be nil, which disables the fallback regardless of
	// per-call options.
	wellKnown WellKnownFetcher
	verifier  Verifier
	clk       clock.Clock
	log       blog.Logger
	stats     metrics.Scope
}

// NewDiscoverer constructs a DiscovererImpl from its collaborators.
func NewDiscoverer(
	dnsClient adns.Client,
	wellKnown WellKnownFetcher,
	verifier Verifier,
	clk clock.Clock,
	logger blog.Logger,
	stats metrics.Scope,
) *DiscovererImpl {
	return &DiscovererImpl{
		dnsClient: dnsClient,
		wellKnown: wellKnown,
		verifier:  verifier,
		clk:       clk,
		log:       logger,
		stats:     stats,
	}
}

// Discover resolves the AID record for domain with DefaultOptions.
func (d *DiscovererImpl) Discover(ctx context.Context, domain string) (*core.Record, error) {
	return d.DiscoverWithOptions(ctx, domain, DefaultOptions())
}

// DiscoverWithOptions resolves the AID record for domain. The DNS phase
// probes candidate names strictly in order so that protocol-specific names
// take precedence; the fallback runs only after the whole DNS phase yields
// no parseable record. A record advertising a key is returned only after
// the PKA handshake succeeds.
func (d *DiscovererImpl) DiscoverWithOptions(ctx context.Context, domain string, opts Options) (*core.Record, error) {
	d.stats.Inc("Discovery.Attempts", 1)
	begin := d.clk.Now()
	record, err := d.discover(ctx, domain, opts)
	d.stats.TimingDuration("Discovery.Latency", d.clk.Now().Sub(begin))
	if err != nil {
		d.stats.Inc("Discovery.Failures", 1)
		return nil, err
	}
	return record, nil
}

func (d *DiscovererImpl) discover(ctx context.Context, domain string, opts Options) (*core.Record, error) {
	if opts.DNSTimeout <= 0 {
		opts.DNSTimeout = DefaultDNSTimeout
	}
	if opts.WellKnownTimeout <= 0 {
		opts.WellKnownTimeout = DefaultWellKnownTimeout
	}

	alabel, err := idna.ToASCII(domain)
	if err != nil {
		alabel = domain
	}

	var lastErr error
dnsPhase:
	for _, name := range candidateNames(alabel, opts.Protocol) {
		txts, err := d.lookupTXT(ctx, name, opts.DNSTimeout)
		if err != nil {
			if dnsErr, ok := err.(adns.Error); ok {
				switch {
				case dnsErr.Timeout():
					lastErr = aiderrors.DNSLookupError("DNS query timeout for %s", name)
					break dnsPhase
				case dnsErr.NotFound():
					lastErr = aiderrors.NoRecordError("%s", dnsErr)
					continue
				}
			}
			// A transport failure or unexpected rcode stops the candidate
			// walk, but the well-known fallback may still run.
			lastErr = aiderrors.DNSLookupError("%s", err)
			break dnsPhase
		}

		for _, txt := range txts {
			raw := strings.TrimSpace(txt)
			if !strings.HasPrefix(strings.ToLower(raw), recordPrefix) {
				continue
			}
			record, parseErr := core.ParseRecord(raw)
			if parseErr != nil {
				d.log.Debugf("skipping unparseable record at %s: %s", name, parseErr)
				continue
			}
			d.log.Infof("found AID record for %s at %s (proto=%s)", domain, name, record.Proto)
			return d.pkaGate(ctx, record, opts.DNSTimeout)
		}
		lastErr = aiderrors.NoRecordError("No valid AID record found for %s", name)
	}

	if opts.WellKnownFallback && d.wellKnown != nil {
		d.stats.Inc("Discovery.Fallbacks", 1)
		d.log.Infof("falling back to well-known lookup for %s", alabel)
		record, err := d.wellKnown.Fetch(ctx, alabel, opts.WellKnownTimeout)
		if err != nil {
			return nil, err
		}
		return d.pkaGate(ctx, record, opts.WellKnownTimeout)
	}

	if lastErr == nil {
		lastErr = aiderrors.DNSLookupError("DNS query failed for %s", alabel)
	}
	return nil, lastErr
}

// lookupTXT bounds one TXT query with its own deadline.
func (d *DiscovererImpl) lookupTXT(ctx context.Context, name string, timeout time.Duration) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.dnsClient.LookupTXT(ctx, name)
}

// pkaGate runs the handshake for records that advertise a key. Handshake
// failure is terminal: the record is withheld from the caller.
func (d *DiscovererImpl) pkaGate(ctx context.Context, record *core.Record, timeout time.Duration) (*core.Record, error) {
	if !record.HasPKA() {
		return record, nil
	}
	if err := d.verifier.Verify(ctx, record.URI, record.PKA, record.KID, timeout); err != nil {
		return nil, err
	}
	return record, nil
}

// candidateNames builds the DNS names to probe, most specific first.
func candidateNames(alabel, protocol string) []string {
	var names []string
	if protocol != "" {
		names = append(names,
			fmt.Sprintf("%s._%s.%s", core.DNSSubdomain, protocol, alabel),
			fmt.Sprintf("%s.%s.%s", core.DNSSubdomain, protocol, alabel),
		)
	}
	return append(names, fmt.Sprintf("%s.%s", core.DNSSubdomain, alabel))
}
