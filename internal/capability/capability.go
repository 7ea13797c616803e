// Package capability models the capability tokens negotiated between
// client and server during advertisement and command parsing. A
// capability is in effect only if the server advertised it AND the
// client echoed it.
package capability

import (
	"sort"
	"strings"
)

// Recognized capability token names.
const (
	ReportStatus   = "report-status"
	ReportStatusV2 = "report-status-v2"
	DeleteRefs     = "delete-refs"
	OfsDelta       = "ofs-delta"
	SideBand64k    = "side-band-64k"
	Quiet          = "quiet"
	Atomic         = "atomic"
	PushOptions    = "push-options"
	ProcReceive    = "proc-receive"
	Agent          = "agent"
	ObjectFormat   = "object-format"
	SessionID      = "session-id"
)

// advertiseOrder is the fixed emission order for advertised capabilities.
var advertiseOrder = []string{
	ReportStatus, ReportStatusV2, DeleteRefs, SideBand64k,
	Quiet, Atomic, OfsDelta, PushOptions,
}

// Token is a single parsed capability, optionally carrying a value
// (e.g. "agent=X").
type Token struct {
	Name  string
	Value string
}

func (t Token) String() string {
	if t.Value == "" {
		return t.Name
	}
	return t.Name + "=" + t.Value
}

func parseToken(raw string) Token {
	name, value, _ := strings.Cut(raw, "=")
	return Token{Name: name, Value: value}
}

// Set is an immutable set of negotiated tokens.
type Set struct {
	tokens map[string]Token
	// Unknown holds tokens not in the recognized set, preserved for
	// diagnostic output.
	Unknown []Token
}

var recognized = map[string]bool{
	ReportStatus: true, ReportStatusV2: true, DeleteRefs: true,
	OfsDelta: true, SideBand64k: true, Quiet: true, Atomic: true,
	PushOptions: true, ProcReceive: true, Agent: true,
	ObjectFormat: true, SessionID: true,
}

// Parse splits a NUL-delimited capability payload (space-separated
// tokens) into a Set.
func Parse(payload string) Set {
	payload = strings.TrimRight(payload, "\n")
	set := Set{tokens: make(map[string]Token)}
	if payload == "" {
		return set
	}
	for _, raw := range strings.Split(payload, " ") {
		if raw == "" {
			continue
		}
		tok := parseToken(raw)
		if recognized[tok.Name] {
			set.tokens[tok.Name] = tok
		} else {
			set.Unknown = append(set.Unknown, tok)
		}
	}
	return set
}

// Has reports whether name is present in the set.
func (s Set) Has(name string) bool {
	_, ok := s.tokens[name]
	return ok
}

// Get returns the token for name, if present.
func (s Set) Get(name string) (Token, bool) {
	t, ok := s.tokens[name]
	return t, ok
}

// Names returns the recognized token names present, sorted.
func (s Set) Names() []string {
	res := make([]string, 0, len(s.tokens))
	for k := range s.tokens {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

// Advertisement builds the fixed-order advertised capability set.
// agent and sessionID are appended last, in that order, when
// non-empty. disabled names are omitted even if otherwise eligible
// (config-gated features).
func Advertisement(objectFormat string, agent string, sessionID string, disabled map[string]bool) Set {
	set := Set{tokens: make(map[string]Token)}
	for _, name := range advertiseOrder {
		if disabled[name] {
			continue
		}
		set.tokens[name] = Token{Name: name}
	}
	if objectFormat != "" {
		set.tokens[ObjectFormat] = Token{Name: ObjectFormat, Value: objectFormat}
	}
	if agent != "" {
		set.tokens[Agent] = Token{Name: Agent, Value: agent}
	}
	if sessionID != "" {
		set.tokens[SessionID] = Token{Name: SessionID, Value: sessionID}
	}
	return set
}

// Line renders the set as the space-joined capability string in the
// fixed advertisement order, followed by any out-of-order recognized
// tokens (agent, object-format, session-id).
func (s Set) Line() string {
	var parts []string
	seen := make(map[string]bool)
	for _, name := range advertiseOrder {
		if t, ok := s.tokens[name]; ok {
			parts = append(parts, t.String())
			seen[name] = true
		}
	}
	for _, name := range []string{ObjectFormat, Agent, SessionID} {
		if t, ok := s.tokens[name]; ok && !seen[name] {
			parts = append(parts, t.String())
		}
	}
	return strings.Join(parts, " ")
}

// InEffect reports whether name is in effect: present in both the
// advertised set and the client's echoed set.
func InEffect(advertised, client Set, name string) bool {
	return advertised.Has(name) && client.Has(name)
}

// IsSafeValue reports whether val is safe to embed in a capability
// line: no CR, LF, TAB, or space.
func IsSafeValue(val string) bool {
	for _, b := range []byte(val) {
		switch b {
		case ' ', '\r', '\n', '\t':
			return false
		}
	}
	return true
}
