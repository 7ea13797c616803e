// Package progress defines the narrow interface the core uses to
// report human-readable progress over the sideband's band-2 channel.
// internal/pktline.SidebandWriter already satisfies Sink; a NullSink
// is provided for callers (tests, non-sideband transports) that have
// nowhere to send it.
package progress

// Sink accepts progress messages. Implementations must be safe to
// call throughout the lifetime of a session and must never block
// indefinitely.
type Sink interface {
	Progress(msg string) error
}

// NullSink discards every message. Used when the client didn't
// negotiate side-band-64k, or in tests that don't care about
// progress output.
type NullSink struct{}

func (NullSink) Progress(string) error { return nil }
