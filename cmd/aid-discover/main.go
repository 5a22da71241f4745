// aid-discover resolves the AID record for a domain and prints it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/jmhodges/clock"
	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentcommunity/aid-go/adns"
	"github.com/agentcommunity/aid-go/cmd"
	"github.com/agentcommunity/aid-go/discovery"
	aiderrors "github.com/agentcommunity/aid-go/errors"
	blog "github.com/agentcommunity/aid-go/log"
	"github.com/agentcommunity/aid-go/metrics"
	"github.com/agentcommunity/aid-go/pka"
	"github.com/agentcommunity/aid-go/wellknown"
)

func main() {
	protocol := flag.String("protocol", "", "preferred protocol token, probed before the plain _agent name")
	dnsTimeout := flag.Duration("dns-timeout", discovery.DefaultDNSTimeout, "timeout for each DNS query")
	wellKnownTimeout := flag.Duration("well-known-timeout", discovery.DefaultWellKnownTimeout, "timeout for the well-known fallback")
	noFallback := flag.Bool("no-fallback", false, "disable the well-known HTTPS fallback")
	dnsServer := flag.String("dns-server", "", "resolver address as host:port (default: the servers in /etc/resolv.conf, one picked at random per query)")
	jsonOut := flag.Bool("json", false, "print the record as JSON")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println(cmd.VersionString("aid-discover"))
		return
	}

	domain := flag.Arg(0)
	if domain == "" {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <domain>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	logger := blog.New(os.Stderr, 6)
	_ = blog.Set(logger)
	clk := clock.New()
	stats := metrics.NewPromScope(prometheus.NewRegistry(), "AID")

	servers := []string{*dnsServer}
	if *dnsServer == "" {
		conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		cmd.FailOnError(err, "Couldn't load resolver configuration")
		servers = servers[:0]
		for _, server := range conf.Servers {
			servers = append(servers, net.JoinHostPort(server, conf.Port))
		}
	}

	dnsClient := adns.New(2*time.Second, servers, stats.NewScope("DNS"), logger)
	verifier := pka.New(clk, logger, stats.NewScope("PKA"))
	fetcher := wellknown.NewFetcher(logger, stats.NewScope("WellKnown"))
	discoverer := discovery.NewDiscoverer(dnsClient, fetcher, verifier, clk, logger, stats)

	record, err := discoverer.DiscoverWithOptions(context.Background(), domain, discovery.Options{
		Protocol:          *protocol,
		DNSTimeout:        *dnsTimeout,
		WellKnownFallback: !*noFallback,
		WellKnownTimeout:  *wellKnownTimeout,
	})
	if err != nil {
		if aidErr, ok := err.(*aiderrors.AIDError); ok {
			fmt.Fprintf(os.Stderr, "%s (%d): %s\n", aidErr.Code, aidErr.NumericCode(), aidErr.Detail)
			os.Exit(1)
		}
		cmd.FailOnError(err, "Discovery failed")
	}

	if *jsonOut {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		cmd.FailOnError(encoder.Encode(record), "Couldn't encode record")
		return
	}

	fmt.Printf("uri:   %s\n", record.URI)
	fmt.Printf("proto: %s\n", record.Proto)
	if record.Auth != "" {
		fmt.Printf("auth:  %s\n", record.Auth)
	}
	if record.Desc != "" {
		fmt.Printf("desc:  %s\n", record.Desc)
	}
	if record.Docs != "" {
		fmt.Printf("docs:  %s\n", record.Docs)
	}
	if record.Dep != "" {
		fmt.Printf("dep:   %s\n", record.Dep)
	}
	if record.HasPKA() {
		fmt.Printf("pka:   %s (kid %s, verified)\n", record.PKA, record.KID)
	}
}
