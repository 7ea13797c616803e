package telemetry

import (
	"testing"

	"github.com/github/go-log"
)

func TestNewSessionLoggerFallsBackToNullLogger(t *testing.T) {
	l := NewSessionLogger(nil, "/repo", "abc123")
	if l == nil {
		t.Fatalf("expected a non-nil logger")
	}
}

func TestNewSessionLoggerWrapsProvidedLogger(t *testing.T) {
	l := NewSessionLogger(log.NullLogger, "/repo", "")
	if l == nil {
		t.Fatalf("expected a non-nil logger")
	}
}
