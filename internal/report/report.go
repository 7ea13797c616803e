// Package report renders the report-status / report-status-v2 reply
// sent to the push client after a session runs to completion. It
// assembles the reply as a flat pkt-line stream and leaves delivery --
// raw or multiplexed onto sideband 1 -- to the caller, since that
// decision depends on capability negotiation the session orchestrator
// already owns.
package report

import (
	"bytes"
	"fmt"

	"github.com/ossgit/receive-pack/internal/pktline"
)

// RefOutcome is the per-ref result line of a report.
type RefOutcome struct {
	Ref     string
	OK      bool
	Message string // populated only when OK is false

	// V2 option fields, emitted only when the caller asks for the v2
	// format and the update was accepted.
	ForcedUpdate bool
	OldOID       string
	NewOID       string
}

// Report is everything needed to render a reply to a push.
type Report struct {
	// UnpackOK is false when the pack itself could not be ingested,
	// independent of any individual ref's outcome.
	UnpackOK    bool
	UnpackError string // used when UnpackOK is false

	Refs []RefOutcome
}

// Render writes the v1 report-status reply: "unpack ok\n" or "unpack
// <reason>\n", followed by one "ok <ref>\n"/"ng <ref> <reason>\n" line
// per ref, followed by a flush packet.
func (r Report) Render() ([]byte, error) {
	return r.render(false)
}

// RenderV2 writes the report-status-v2 reply: identical to Render,
// except accepted non-delete refs may carry trailing "option" lines
// describing the applied update.
func (r Report) RenderV2() ([]byte, error) {
	return r.render(true)
}

func (r Report) render(v2 bool) ([]byte, error) {
	var buf bytes.Buffer

	unpackLine := "unpack ok\n"
	if !r.UnpackOK {
		reason := r.UnpackError
		if reason == "" {
			reason = "unknown error"
		}
		unpackLine = fmt.Sprintf("unpack %s\n", reason)
	}
	if err := pktline.WriteLine(&buf, []byte(unpackLine)); err != nil {
		return nil, err
	}

	for _, ref := range r.Refs {
		if !ref.OK {
			if err := pktline.WriteLinef(&buf, "ng %s %s\n", ref.Ref, ref.Message); err != nil {
				return nil, err
			}
			continue
		}
		if err := pktline.WriteLinef(&buf, "ok %s\n", ref.Ref); err != nil {
			return nil, err
		}
		if !v2 {
			continue
		}
		for _, opt := range ref.options() {
			if err := pktline.WriteLinef(&buf, "option %s\n", opt); err != nil {
				return nil, err
			}
		}
	}

	if err := pktline.WriteFlush(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// options renders a v2 ref's trailing "option" lines, in a fixed
// order: refname, old-oid, new-oid, forced-update (only when true).
func (ref RefOutcome) options() []string {
	var opts []string
	if ref.Ref != "" {
		opts = append(opts, "refname "+ref.Ref)
	}
	if ref.OldOID != "" {
		opts = append(opts, "old-oid "+ref.OldOID)
	}
	if ref.NewOID != "" {
		opts = append(opts, "new-oid "+ref.NewOID)
	}
	if ref.ForcedUpdate {
		opts = append(opts, "forced-update")
	}
	return opts
}
