package observability

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
)

func TestStdLoggerFormatsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLogger(log.New(&buf, "", 0), false)

	logger.Info("dispatch complete",
		F("email", "a@b.com"),
		F("status", 200),
		F("err", errors.New("boom boom")),
	)

	out := buf.String()
	if !strings.Contains(out, "INFO dispatch complete") {
		t.Fatalf("expected level and message in output: %s", out)
	}
	if !strings.Contains(out, "email=a@b.com") {
		t.Fatalf("expected email field in output: %s", out)
	}
	if !strings.Contains(out, "status=200") {
		t.Fatalf("expected status field in output: %s", out)
	}
	if !strings.Contains(out, `err="boom boom"`) {
		t.Fatalf("expected quoted error field in output: %s", out)
	}
}

func TestStdLoggerSuppressesDebugByDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLogger(log.New(&buf, "", 0), false)
	logger.Debug("noise")
	if buf.Len() != 0 {
		t.Fatalf("expected debug record to be suppressed, got %q", buf.String())
	}
}

func TestSetLoggerNilRestoresNoop(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewStdLogger(log.New(&buf, "", 0), false))
	SetLogger(nil)
	Log().Error("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected noop logger after reset, got %q", buf.String())
	}
}
