package report

import (
	"strings"
	"testing"
)

func TestRenderV1Basic(t *testing.T) {
	r := Report{
		UnpackOK: true,
		Refs: []RefOutcome{
			{Ref: "refs/heads/main", OK: true},
			{Ref: "refs/heads/feature", OK: false, Message: "non-fast-forward"},
		},
	}

	out, err := r.Render()
	if err != nil {
		t.Fatal(err)
	}
	s := string(out)
	if !strings.Contains(s, "unpack ok\n") {
		t.Fatalf("missing unpack ok line: %q", s)
	}
	if !strings.Contains(s, "ok refs/heads/main\n") {
		t.Fatalf("missing ok line: %q", s)
	}
	if !strings.Contains(s, "ng refs/heads/feature non-fast-forward\n") {
		t.Fatalf("missing ng line: %q", s)
	}
	if !strings.HasSuffix(s, "0000") {
		t.Fatalf("report must end with a flush packet: %q", s)
	}
}

func TestRenderUnpackFailure(t *testing.T) {
	r := Report{UnpackOK: false, UnpackError: "index-pack failed"}
	out, err := r.Render()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "unpack index-pack failed\n") {
		t.Fatalf("missing unpack failure line: %q", out)
	}
}

func TestRenderV2Options(t *testing.T) {
	r := Report{
		UnpackOK: true,
		Refs: []RefOutcome{
			{Ref: "refs/heads/main", OK: true, OldOID: strings.Repeat("1", 40), NewOID: strings.Repeat("2", 40), ForcedUpdate: true},
		},
	}
	out, err := r.RenderV2()
	if err != nil {
		t.Fatal(err)
	}
	s := string(out)
	for _, want := range []string{"option refname refs/heads/main", "option old-oid", "option new-oid", "option forced-update"} {
		if !strings.Contains(s, want) {
			t.Fatalf("v2 report missing %q: %q", want, s)
		}
	}
}

func TestRenderV1OmitsOptions(t *testing.T) {
	r := Report{
		UnpackOK: true,
		Refs:     []RefOutcome{{Ref: "refs/heads/main", OK: true, ForcedUpdate: true}},
	}
	out, err := r.Render()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(out), "option") {
		t.Fatalf("v1 report must not include option lines: %q", out)
	}
}
