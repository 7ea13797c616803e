package connectivity

import (
	"strings"
	"testing"

	"github.com/ossgit/receive-pack/internal/command"
	"github.com/ossgit/receive-pack/internal/objectid"
)

func TestCandidatesExcludesDeletes(t *testing.T) {
	zero := objectid.Zero(objectid.SHA1)
	a, _ := objectid.Parse(objectid.SHA1, strings.Repeat("1", 40))
	b, _ := objectid.Parse(objectid.SHA1, strings.Repeat("2", 40))

	cmds := []command.Update{
		{Kind: command.Delete, Old: a, New: zero},
		{Kind: command.Create, Old: zero, New: b},
	}

	got := candidates(cmds)
	if len(got) != 1 || !got[0].New.Equal(b) {
		t.Fatalf("candidates = %+v, want only the create command", got)
	}
}

func TestBytesBufferWriteAndString(t *testing.T) {
	var b bytesBuffer
	b.Write([]byte("hello"))
	b.Write([]byte(" world"))
	if b.String() != "hello world" {
		t.Fatalf("String() = %q", b.String())
	}
}
