package log

import (
	"fmt"
	"regexp"
	"sync"
)

// Mock is a Logger that records every message for later inspection.
type Mock struct {
	mu       sync.Mutex
	messages []string
}

// NewMock creates a Mock suitable for handing to components under test.
func NewMock() *Mock {
	return &Mock{}
}

var _ Logger = (*Mock)(nil)

func (m *Mock) record(prefix, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, prefix+": "+msg)
}

// GetAll returns all messages logged since creation or the last Clear, in
// order, each prefixed with its severity.
func (m *Mock) GetAll() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.messages))
	copy(out, m.messages)
	return out
}

// GetAllMatching returns all logged messages matching the given regex.
func (m *Mock) GetAllMatching(reString string) []string {
	re := regexp.MustCompile(reString)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, msg := range m.messages {
		if re.MatchString(msg) {
			out = append(out, msg)
		}
	}
	return out
}

// Clear discards all recorded messages.
func (m *Mock) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}

func (m *Mock) Err(msg string)     { m.record("ERR", msg) }
func (m *Mock) Warning(msg string) { m.record("WARNING", msg) }
func (m *Mock) Info(msg string)    { m.record("INFO", msg) }
func (m *Mock) Debug(msg string)   { m.record("DEBUG", msg) }

func (m *Mock) AuditInfo(msg string) { m.record("INFO", "[AUDIT] "+msg) }
func (m *Mock) AuditErr(msg string)  { m.record("ERR", "[AUDIT] "+msg) }

func (m *Mock) Errf(format string, a ...interface{}) {
	m.Err(fmt.Sprintf(format, a...))
}

func (m *Mock) Warningf(format string, a ...interface{}) {
	m.Warning(fmt.Sprintf(format, a...))
}

func (m *Mock) Infof(format string, a ...interface{}) {
	m.Info(fmt.Sprintf(format, a...))
}

func (m *Mock) Debugf(format string, a ...interface{}) {
	m.Debug(fmt.Sprintf(format, a...))
}

func (m *Mock) AuditInfof(format string, a ...interface{}) {
	m.AuditInfo(fmt.Sprintf(format, a...))
}

func (m *Mock) AuditErrf(format string, a ...interface{}) {
	m.AuditErr(fmt.Sprintf(format, a...))
}
