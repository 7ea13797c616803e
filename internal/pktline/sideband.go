package pktline

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Band identifies a sideband channel.
type Band byte

const (
	// BandData carries protocol packets (the report).
	BandData Band = 0x01
	// BandProgress carries human-readable progress.
	BandProgress Band = 0x02
	// BandFatal carries fatal errors and terminates the stream.
	BandFatal Band = 0x03
)

// BufSize returns the maximum length of one sideband packet, counting
// its 4-byte length header and band byte, depending on whether
// 64k-banding is negotiated.
// Mirrors the teacher's sideBandBufSize.
func BufSize(sideband64k bool) int {
	if sideband64k {
		return 65519
	}
	return 999
}

// SidebandWriter serializes writes to bands 1/2/3 onto an underlying
// packet stream, enforcing a channel discipline invariant: a band-1
// sequence (the report) is written as one locked run of packets, and
// no band-2 write may land inside it.
type SidebandWriter struct {
	w          io.Writer
	bufSize    int
	mu         sync.Mutex
	lastWrite  time.Time
	keepalive  time.Duration
	writingPkt bool // true while a locked band-1 sequence is in flight
}

// NewSidebandWriter constructs a writer multiplexing onto w. bufSize
// should come from BufSize.
func NewSidebandWriter(w io.Writer, bufSize int, keepalive time.Duration) *SidebandWriter {
	return &SidebandWriter{w: w, bufSize: bufSize, keepalive: keepalive}
}

// Progress writes a band-2 packet, unless a band-1 sequence is
// currently locked (in which case it is dropped rather than violating
// channel discipline -- callers should not be emitting progress while
// holding the report lock anyway).
func (s *SidebandWriter) Progress(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writingPkt {
		return fmt.Errorf("pktline: refusing to interleave progress inside a locked report sequence")
	}
	s.lastWrite = time.Now()
	return s.writeBand(BandProgress, []byte(msg))
}

// Keepalive emits a zero-length band-2 packet if at least the
// configured interval has elapsed since the last write, and no
// band-1 sequence is locked. It is a no-op if keepalive is zero.
func (s *SidebandWriter) Keepalive() error {
	if s.keepalive <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writingPkt {
		return nil
	}
	if time.Since(s.lastWrite) < s.keepalive {
		return nil
	}
	s.lastWrite = time.Now()
	return s.writeBand(BandProgress, nil)
}

// Fatal writes a band-3 packet. The stream is expected to terminate
// after this call.
func (s *SidebandWriter) Fatal(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeBand(BandFatal, []byte(msg))
}

// WriteReport writes data (already-assembled report bytes) as a
// locked sequence of band-1 packets, chunked to the negotiated buffer
// size. No other sideband writer may interleave while this runs.
func (s *SidebandWriter) WriteReport(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writingPkt = true
	defer func() { s.writingPkt = false }()

	for len(data) > 0 {
		n := len(data)
		if max := s.bufSize - 5; n > max {
			n = max
		}
		if err := s.writeBand(BandData, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (s *SidebandWriter) writeBand(b Band, payload []byte) error {
	buf := make([]byte, 0, 1+len(payload))
	buf = append(buf, byte(b))
	buf = append(buf, payload...)
	return WriteLine(s.w, buf)
}
