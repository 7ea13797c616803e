// Package telemetry is the thin layer over go-log/go-kvp/go-trace
// every session-scoped component logs and traces through:
// log.FieldLogger as the logger type everything accepts,
// logger.With(kvp.Field...) to attach structured context, and
// trace.ChildSpan/span.Finish/span.WithError to bracket a unit of work.
package telemetry

import (
	"context"

	"github.com/github/go-kvp"
	"github.com/github/go-log"
	"github.com/github/go-trace"
)

// Logger is the field logger type components accept, matching the
// teacher's pipe.MemoryLimit(stage, limit, logger log.FieldLogger)
// convention.
type Logger = log.FieldLogger

// NewSessionLogger tags base with the session's identifying fields.
// base may be nil, in which case log.NullLogger is used -- the same
// default the teacher's pipe.Pipeline falls back to when no logger is
// configured.
func NewSessionLogger(base Logger, repoPath, sessionID string) Logger {
	if base == nil {
		base = log.NullLogger
	}
	fields := []kvp.Field{kvp.String("repo", repoPath)}
	if sessionID != "" {
		fields = append(fields, kvp.String("session_id", sessionID))
	}
	return base.With(fields...)
}

// Phase opens a span for one session phase (reference discovery, pack
// ingest, connectivity check, ref transaction, ...), mirroring
// pipe.Pipeline's per-stage trace.ChildSpan use. name is for the
// caller's own logging; go-trace's ChildSpan takes no label argument.
func Phase(ctx context.Context, name string) (context.Context, trace.Span) {
	return trace.ChildSpan(ctx)
}

// Finish closes span, recording err if non-nil -- the same
// Finish/WithError shape pipe.Pipeline.Run uses around a stage.
func Finish(span trace.Span, err error) {
	if err != nil {
		span = span.WithError(err)
	}
	span.Finish()
}
