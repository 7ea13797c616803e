package pktline

import (
	"bytes"
	"io"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteLine(&buf, []byte("hello\n")); err != nil {
		t.Fatal(err)
	}
	if err := WriteFlush(&buf); err != nil {
		t.Fatal(err)
	}

	pl := New()
	if err := pl.Read(&buf); err != nil {
		t.Fatal(err)
	}
	if string(pl.Payload) != "hello\n" {
		t.Fatalf("Payload = %q", pl.Payload)
	}
	if err := pl.Read(&buf); err != nil {
		t.Fatal(err)
	}
	if !pl.IsFlush() {
		t.Fatalf("expected flush packet")
	}
}

func TestDelimAndResponseEnd(t *testing.T) {
	var buf bytes.Buffer
	WriteDelim(&buf)
	WriteResponseEnd(&buf)

	pl := New()
	if err := pl.Read(&buf); err != nil {
		t.Fatal(err)
	}
	if !pl.IsDelim() {
		t.Fatalf("expected delim packet, got kind %v", pl.Kind)
	}
	if err := pl.Read(&buf); err != nil {
		t.Fatal(err)
	}
	if pl.Kind != ResponseEnd {
		t.Fatalf("expected response-end, got kind %v", pl.Kind)
	}
}

func TestReadEOF(t *testing.T) {
	pl := New()
	err := pl.Read(bytes.NewReader(nil))
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if pl.Kind != EOF {
		t.Fatalf("expected Kind == EOF")
	}
}

func TestReadUnexpectedEOF(t *testing.T) {
	pl := New()
	err := pl.Read(bytes.NewReader([]byte("0010ab")))
	if err == nil {
		t.Fatalf("expected error for truncated payload")
	}
}

func TestCapabilitiesSplit(t *testing.T) {
	var buf bytes.Buffer
	payload := "0000000000000000000000000000000000000000 1111111111111111111111111111111111111111 refs/heads/main\x00report-status side-band-64k\n"
	WriteLine(&buf, []byte(payload))

	pl := New()
	if err := pl.Read(&buf); err != nil {
		t.Fatal(err)
	}
	if string(pl.CapabilitiesPayload) != "report-status side-band-64k\n" {
		t.Fatalf("CapabilitiesPayload = %q", pl.CapabilitiesPayload)
	}
}

func TestInvalidLength(t *testing.T) {
	pl := New()
	err := pl.Read(bytes.NewReader([]byte("zzzz")))
	if err == nil {
		t.Fatalf("expected error for non-hex length")
	}
}

func TestSidebandWriterChunking(t *testing.T) {
	var buf bytes.Buffer
	sw := NewSidebandWriter(&buf, 999, 0)

	data := bytes.Repeat([]byte("x"), 2000)
	if err := sw.WriteReport(data); err != nil {
		t.Fatal(err)
	}

	var got []byte
	pl := New()
	for {
		if err := pl.Read(&buf); err != nil {
			break
		}
		if pl.IsFlush() {
			break
		}
		if pl.Payload[0] != byte(BandData) {
			t.Fatalf("expected band-1 byte, got %x", pl.Payload[0])
		}
		got = append(got, pl.Payload[1:]...)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("reassembled report does not match original")
	}
}

func TestSidebandWriterRefusesInterleave(t *testing.T) {
	var buf bytes.Buffer
	sw := NewSidebandWriter(&buf, 999, 0)
	sw.writingPkt = true
	if err := sw.Progress("hi"); err == nil {
		t.Fatalf("expected progress write to be refused while report is locked")
	}
}
