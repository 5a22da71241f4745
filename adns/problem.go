package adns

import (
	"fmt"
	"net"

	"github.com/miekg/dns"
)

// Error wraps a DNS lookup failure with enough structure for callers to
// classify it without sniffing message strings.
type Error struct {
	recordType uint16
	hostname   string
	// underlying is the transport-level cause, if any.
	underlying error
	// rCode is the response code from the resolver, or -1 when the
	// exchange itself failed.
	rCode int
}

func (e Error) Error() string {
	recordType := dns.TypeToString[e.recordType]
	if e.underlying != nil {
		if netErr, ok := e.underlying.(net.Error); ok && netErr.Timeout() {
			return fmt.Sprintf("DNS problem: query timed out looking up %s for %s", recordType, e.hostname)
		}
		return fmt.Sprintf("DNS problem: networking error looking up %s for %s: %s", recordType, e.hostname, e.underlying)
	}
	return fmt.Sprintf("DNS problem: %s looking up %s for %s", dns.RcodeToString[e.rCode], recordType, e.hostname)
}

func (e Error) Unwrap() error {
	return e.underlying
}

// NotFound reports whether the resolver answered authoritatively that the
// name does not exist.
func (e Error) NotFound() bool {
	return e.rCode == dns.RcodeNameError
}

// Timeout reports whether the lookup failed because the exchange timed out.
func (e Error) Timeout() bool {
	if netErr, ok := e.underlying.(net.Error); ok {
		return netErr.Timeout()
	}
	return false
}

// IsNotFound reports whether err is a lookup Error for a nonexistent name.
func IsNotFound(err error) bool {
	dnsErr, ok := err.(Error)
	return ok && dnsErr.NotFound()
}
