package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestStdoutLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, levelInfo)

	logger.Err("boom")
	logger.Info("hello")
	logger.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "ERR: boom") {
		t.Errorf("missing error line in %q", out)
	}
	if !strings.Contains(out, "INFO: hello") {
		t.Errorf("missing info line in %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line should be filtered at info level: %q", out)
	}
}

func TestStdoutLoggerAudit(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, levelDebug)
	logger.AuditErrf("handshake for %q failed", "example.com")
	if !strings.Contains(buf.String(), `[AUDIT] handshake for "example.com" failed`) {
		t.Errorf("missing audit marker in %q", buf.String())
	}
}

func TestMockCaptures(t *testing.T) {
	mock := NewMock()
	mock.Infof("checked %d candidates", 3)
	mock.AuditErr("bad signature")

	all := mock.GetAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 messages, got %d: %v", len(all), all)
	}
	matching := mock.GetAllMatching(`AUDIT`)
	if len(matching) != 1 || !strings.Contains(matching[0], "bad signature") {
		t.Fatalf("unexpected audit matches: %v", matching)
	}

	mock.Clear()
	if len(mock.GetAll()) != 0 {
		t.Fatal("Clear should discard messages")
	}
}
