// Package command parses and models the per-ref update commands sent
// by a push client, validated against a negotiated objectid.Format and
// tagged with their Create/Modify/Delete Kind up front.
package command

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ossgit/receive-pack/internal/objectid"
	"github.com/ossgit/receive-pack/internal/refname"
)

// Kind tags the three ref-update variants a command line can carry.
type Kind int

const (
	Create Kind = iota
	Modify
	Delete
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "create"
	case Modify:
		return "update"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Update is an immutable, parsed ref update command.
type Update struct {
	Kind   Kind
	Old    objectid.ID
	New    objectid.ID
	Ref    refname.Name
	RawRef string
}

// Parse validates and classifies one "<old> SP <new> SP <refname>"
// line under the given format. Invariants enforced: each id matches
// the negotiated width; the refname is valid; old==new==zero is
// rejected (a no-op command is a protocol error, matching upstream).
func Parse(f objectid.Format, line string) (Update, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return Update{}, fmt.Errorf("command: malformed command line %q", line)
	}

	oldOID, err := objectid.Parse(f, parts[0])
	if err != nil {
		return Update{}, fmt.Errorf("command: old-id: %w", err)
	}
	newOID, err := objectid.Parse(f, parts[1])
	if err != nil {
		return Update{}, fmt.Errorf("command: new-id: %w", err)
	}

	ref, err := refname.Parse(parts[2])
	if err != nil {
		return Update{}, fmt.Errorf("command: %w", err)
	}

	u := Update{Old: oldOID, New: newOID, Ref: ref, RawRef: parts[2]}

	switch {
	case oldOID.IsZero() && newOID.IsZero():
		return Update{}, fmt.Errorf("command: refusing a no-op command for %q", parts[2])
	case oldOID.IsZero():
		u.Kind = Create
	case newOID.IsZero():
		u.Kind = Delete
	default:
		u.Kind = Modify
	}

	return u, nil
}

// IsDelete reports whether u removes the ref.
func (u Update) IsDelete() bool { return u.Kind == Delete }

// IsCreate reports whether u creates the ref.
func (u Update) IsCreate() bool { return u.Kind == Create }

// IsUpdate reports whether u updates an existing ref (neither a pure
// create nor a pure delete).
func (u Update) IsUpdate() bool { return u.Kind == Modify }

// Shallow is a client-declared shallow boundary, sent as its own
// "shallow <oid>" line ahead of any command line.
type Shallow struct {
	ID objectid.ID
}

const shallowPrefix = "shallow "

// IsShallowLine reports whether line is a "shallow <oid>" line.
func IsShallowLine(line string) bool {
	return strings.HasPrefix(line, shallowPrefix)
}

// ParseShallow validates a "shallow <oid>" line under the given
// format. Callers should check IsShallowLine first.
func ParseShallow(f objectid.Format, line string) (Shallow, error) {
	id, err := objectid.Parse(f, strings.TrimPrefix(line, shallowPrefix))
	if err != nil {
		return Shallow{}, fmt.Errorf("command: shallow: %w", err)
	}
	return Shallow{ID: id}, nil
}

// PushCert holds the envelope fields of a signed-push certificate
// along with every raw line between its header and "push-cert-end",
// for an external "git verify" style check; this package only parses
// the envelope, it never verifies the signature itself.
type PushCert struct {
	Nonce  string
	Pusher string
	Pushee string
	Raw    []string
}

// pushCertLine is the first line of a push certificate block, exactly
// like the first command line, it may carry a NUL-separated
// capability list that the pkt-line reader splits off before this
// package ever sees it.
const pushCertLine = "push-cert"

// IsPushCertStart reports whether line opens a push certificate block.
func IsPushCertStart(line string) bool {
	return line == pushCertLine
}

// pushCertEnd is the line that terminates a push certificate block.
const pushCertEnd = "push-cert-end"

// IsPushCertEnd reports whether line closes a push certificate block.
func IsPushCertEnd(line string) bool {
	return line == pushCertEnd
}

// ParsePushCertLine folds one line from inside a push certificate
// block into cert, recognizing the nonce/pusher/pushee header fields
// and returning any embedded command line so the caller can append it
// to the normal command list. Every line, recognized or not, is kept
// verbatim in cert.Raw.
func ParsePushCertLine(f objectid.Format, cert *PushCert, line string) (Update, bool, error) {
	cert.Raw = append(cert.Raw, line)

	switch {
	case strings.HasPrefix(line, "nonce "):
		cert.Nonce = strings.TrimPrefix(line, "nonce ")
		return Update{}, false, nil
	case strings.HasPrefix(line, "pusher "):
		cert.Pusher = strings.TrimPrefix(line, "pusher ")
		return Update{}, false, nil
	case strings.HasPrefix(line, "pushee "):
		cert.Pushee = strings.TrimPrefix(line, "pushee ")
		return Update{}, false, nil
	case line == "":
		return Update{}, false, nil
	}

	u, err := Parse(f, line)
	if err != nil {
		// Not every remaining line is a command: certificate-version,
		// push-option, and the trailing gpg signature block also live
		// here. Only a line that looks like a command but fails to
		// parse as one is a real error; anything else is silently kept
		// in cert.Raw only.
		if strings.HasPrefix(line, "certificate version ") || strings.HasPrefix(line, "push-option ") {
			return Update{}, false, nil
		}
		fields := strings.SplitN(line, " ", 3)
		if len(fields) < 3 {
			return Update{}, false, nil
		}
		if _, hexErr := hex.DecodeString(fields[0]); hexErr != nil {
			return Update{}, false, nil
		}
		return Update{}, false, err
	}
	return u, true, nil
}
