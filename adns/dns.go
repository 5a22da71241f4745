// Package adns implements the TXT lookups AID discovery is built on. It
// talks to a configured recursive resolver directly over the wire so that
// response codes can be classified precisely rather than inferred from
// resolver library error strings.
package adns

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/miekg/dns"

	blog "github.com/agentcommunity/aid-go/log"
	"github.com/agentcommunity/aid-go/metrics"
)

// Client queries DNS for the records AID discovery needs.
type Client interface {
	// LookupTXT returns all TXT records at hostname, each with its
	// character-strings concatenated without separator. A present but
	// empty answer section yields an empty slice and a nil error.
	LookupTXT(ctx context.Context, hostname string) ([]string, error)
}

// exchanger is the subset of dns.Client the implementation uses.
type exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error)
}

type impl struct {
	dnsClient exchanger
	servers   []string
	stats     metrics.Scope
	log       blog.Logger
}

var _ Client = &impl{}

// New constructs a Client that resolves through the provided server
// addresses ("host:port"). One server is chosen at random per query.
func New(readTimeout time.Duration, servers []string, stats metrics.Scope, logger blog.Logger) Client {
	dnsClient := new(dns.Client)
	dnsClient.ReadTimeout = readTimeout
	dnsClient.Net = "udp"

	return &impl{
		dnsClient: dnsClient,
		servers:   servers,
		stats:     stats,
		log:       logger,
	}
}

// exchangeOne performs a single DNS exchange with a randomly chosen server
// out of the server list. The DNSSEC OK bit is set in case validation is not
// the resolver's default behaviour.
func (c *impl) exchangeOne(ctx context.Context, hostname string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(hostname), qtype)
	m.SetEdns0(4096, true)

	if len(c.servers) < 1 {
		return nil, fmt.Errorf("not configured with at least one DNS server")
	}

	chosenServer := c.servers[rand.Intn(len(c.servers))]

	c.stats.Inc("DNS.Rate", 1)
	start := time.Now()
	rsp, _, err := c.dnsClient.ExchangeContext(ctx, m, chosenServer)
	c.stats.TimingDuration(fmt.Sprintf("DNS.RTT.%s", dns.TypeToString[qtype]), time.Since(start))
	return rsp, err
}

// LookupTXT sends a DNS query to find all TXT records associated with the
// provided hostname.
func (c *impl) LookupTXT(ctx context.Context, hostname string) ([]string, error) {
	r, err := c.exchangeOne(ctx, hostname, dns.TypeTXT)
	if err != nil {
		return nil, Error{dns.TypeTXT, hostname, err, -1}
	}
	if r.Rcode != dns.RcodeSuccess {
		return nil, Error{dns.TypeTXT, hostname, nil, r.Rcode}
	}

	var txt []string
	for _, answer := range r.Answer {
		if answer.Header().Rrtype == dns.TypeTXT {
			if txtRec, ok := answer.(*dns.TXT); ok {
				txt = append(txt, strings.Join(txtRec.Txt, ""))
			}
		}
	}

	return txt, nil
}
