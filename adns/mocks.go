package adns

import (
	"context"

	"github.com/miekg/dns"

	blog "github.com/agentcommunity/aid-go/log"
)

// MockClient is a Client backed by in-memory maps, for tests.
type MockClient struct {
	Log blog.Logger
	// TXT maps hostname to the records returned for it. A hostname with a
	// nil entry behaves like an empty answer section.
	TXT map[string][]string
	// Errs maps hostname to a forced lookup error.
	Errs map[string]error
	// Queried records every hostname looked up, in order.
	Queried []string
}

var _ Client = &MockClient{}

// timeoutError satisfies net.Error the way an expired exchange does.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// MockTimeoutError returns the lookup error a timed-out TXT exchange for
// hostname produces.
func MockTimeoutError(hostname string) error {
	return Error{dns.TypeTXT, hostname, timeoutError{}, -1}
}

// MockServfailError returns the lookup error a SERVFAIL answer for
// hostname produces.
func MockServfailError(hostname string) error {
	return Error{dns.TypeTXT, hostname, nil, dns.RcodeServerFailure}
}

// LookupTXT returns the configured records for hostname. Unconfigured
// hostnames answer NXDOMAIN, the way a resolver would for a name nobody
// published.
func (m *MockClient) LookupTXT(_ context.Context, hostname string) ([]string, error) {
	m.Queried = append(m.Queried, hostname)
	if m.Log != nil {
		m.Log.Debugf("MockClient: LookupTXT(%q)", hostname)
	}
	if err, ok := m.Errs[hostname]; ok {
		return nil, err
	}
	if txts, ok := m.TXT[hostname]; ok {
		return txts, nil
	}
	return nil, Error{dns.TypeTXT, hostname, nil, dns.RcodeNameError}
}
