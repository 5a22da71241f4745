// Package metrics wraps prometheus behind a Scope that prefixes and
// auto-registers the stats the discovery pipeline emits.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Scope is a stats collector that will prefix the name of the stats it
// collects.
type Scope interface {
	NewScope(scopes ...string) Scope

	Inc(stat string, value int64) error
	Gauge(stat string, value int64) error
	GaugeDelta(stat string, value int64) error
	Timing(stat string, delta int64) error
	TimingDuration(stat string, delta time.Duration) error
	SetInt(stat string, value int64) error

	MustRegister(...prometheus.Collector)
}

// promScope is a Scope that sends data to Prometheus
type promScope struct {
	prometheus.Registerer
	*autoRegisterer
	prefix string
}

var _ Scope = &promScope{}

// NewPromScope returns a Scope that sends data to Prometheus
func NewPromScope(registerer prometheus.Registerer, scopes ...string) Scope {
	return &promScope{
		Registerer:     registerer,
		prefix:         strings.Join(scopes, ".") + ".",
		autoRegisterer: newAutoRegisterer(registerer),
	}
}

// NewScope generates a new Scope prefixed by this Scope's prefix plus the
// prefixes given joined by periods
func (s *promScope) NewScope(scopes ...string) Scope {
	scope := strings.Join(scopes, ".")
	return NewPromScope(s.Registerer, s.prefix+scope)
}

// Inc increments the given stat and adds the Scope's prefix to the name
func (s *promScope) Inc(stat string, value int64) error {
	s.autoCounter(s.prefix + stat).Add(float64(value))
	return nil
}

// Gauge sends a gauge stat and adds the Scope's prefix to the name
func (s *promScope) Gauge(stat string, value int64) error {
	s.autoGauge(s.prefix + stat).Set(float64(value))
	return nil
}

// GaugeDelta sends the change in a gauge stat and adds the Scope's prefix to the name
func (s *promScope) GaugeDelta(stat string, value int64) error {
	s.autoGauge(s.prefix + stat).Add(float64(value))
	return nil
}

// Timing sends a latency stat and adds the Scope's prefix to the name
func (s *promScope) Timing(stat string, delta int64) error {
	s.autoSummary(s.prefix + stat + "_seconds").Observe(float64(delta))
	return nil
}

// TimingDuration sends a latency stat as a time.Duration and adds the
// Scope's prefix to the name
func (s *promScope) TimingDuration(stat string, delta time.Duration) error {
	s.autoSummary(s.prefix + stat + "_seconds").Observe(delta.Seconds())
	return nil
}

// SetInt sets a stat's integer value and adds the Scope's prefix to the name
func (s *promScope) SetInt(stat string, value int64) error {
	s.autoGauge(s.prefix + stat).Set(float64(value))
	return nil
}

// promAdjust adjusts a name for use by Prometheus: dots become underscores
// and remaining disallowed characters are dropped.
func promAdjust(stat string) string {
	stat = strings.Replace(stat, ".", "_", -1)
	var out []rune
	for _, r := range stat {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == ':':
			out = append(out, r)
		}
	}
	return string(out)
}

// autoRegisterer lazily creates and registers collectors the first time a
// stat name is used.
type autoRegisterer struct {
	registry prometheus.Registerer

	mu        sync.Mutex
	counters  map[string]prometheus.Counter
	gauges    map[string]prometheus.Gauge
	summaries map[string]prometheus.Summary
}

func newAutoRegisterer(registry prometheus.Registerer) *autoRegisterer {
	return &autoRegisterer{
		registry:  registry,
		counters:  make(map[string]prometheus.Counter),
		gauges:    make(map[string]prometheus.Gauge),
		summaries: make(map[string]prometheus.Summary),
	}
}

func (ar *autoRegisterer) autoCounter(stat string) prometheus.Counter {
	name := promAdjust(stat)
	ar.mu.Lock()
	defer ar.mu.Unlock()
	if c, ok := ar.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: name,
		Help: "auto",
	})
	ar.registry.MustRegister(c)
	ar.counters[name] = c
	return c
}

func (ar *autoRegisterer) autoGauge(stat string) prometheus.Gauge {
	name := promAdjust(stat)
	ar.mu.Lock()
	defer ar.mu.Unlock()
	if g, ok := ar.gauges[name]; ok {
		return g
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: name,
		Help: "auto",
	})
	ar.registry.MustRegister(g)
	ar.gauges[name] = g
	return g
}

func (ar *autoRegisterer) autoSummary(stat string) prometheus.Summary {
	name := promAdjust(stat)
	ar.mu.Lock()
	defer ar.mu.Unlock()
	if s, ok := ar.summaries[name]; ok {
		return s
	}
	s := prometheus.NewSummary(prometheus.SummaryOpts{
		Name: name,
		Help: "auto",
	})
	ar.registry.MustRegister(s)
	ar.summaries[name] = s
	return s
}

type noopScope struct{}

// NewNoopScope returns a Scope that won't collect anything
func NewNoopScope() Scope {
	return noopScope{}
}
func (ns noopScope) NewScope(scopes ...string) Scope {
	return ns
}
func (noopScope) Inc(stat string, value int64) error {
	return nil
}
func (noopScope) Gauge(stat string, value int64) error {
	return nil
}
func (noopScope) GaugeDelta(stat string, value int64) error {
	return nil
}
func (noopScope) Timing(stat string, delta int64) error {
	return nil
}
func (noopScope) TimingDuration(stat string, delta time.Duration) error {
	return nil
}
func (noopScope) SetInt(stat string, value int64) error {
	return nil
}
func (noopScope) MustRegister(...prometheus.Collector) {
}
