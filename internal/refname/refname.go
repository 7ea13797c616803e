// Package refname validates and normalizes reference names accepted
// from a push client.
package refname

import (
	"fmt"
	"strings"
)

// Name is a validated, normalized reference path.
type Name struct {
	s string
}

// String returns the canonical stored form.
func (n Name) String() string { return n.s }

// HasPrefix reports whether n starts with prefix at a path-component
// boundary: "refs/heads/main" matches "refs/heads" and "refs/heads/",
// but "refs/heads/mainline" does not match "refs/heads/main".
func (n Name) HasPrefix(prefix string) bool {
	if !strings.HasPrefix(n.s, prefix) {
		return false
	}
	return len(n.s) == len(prefix) || strings.HasSuffix(prefix, "/") || n.s[len(prefix)] == '/'
}

var controlBytes = func() [256]bool {
	var t [256]bool
	for i := 0; i < 0x20; i++ {
		t[i] = true
	}
	t[0x7f] = true
	return t
}()

var forbiddenRunes = map[rune]bool{
	' ': true, '~': true, '^': true, ':': true,
	'?': true, '*': true, '[': true, '\\': true,
}

// Parse validates raw against git's own refname rules and returns its
// canonical form.
//
// Invariants: non-empty; components separated by '/'; no component
// equals "." or ".." or ends in ".lock"; no ASCII control characters,
// space, '~', '^', ':', '?', '*', '[', '\\'; no "@{"; no consecutive
// '/'; does not start or end with '/'; not a single "@".
func Parse(raw string) (Name, error) {
	if raw == "" {
		return Name{}, fmt.Errorf("refname: empty")
	}
	if raw == "@" {
		return Name{}, fmt.Errorf("refname: bare %q is not a valid reference", raw)
	}
	if strings.Contains(raw, "@{") {
		return Name{}, fmt.Errorf("refname: %q contains reflog syntax \"@{\"", raw)
	}
	if strings.HasPrefix(raw, "/") || strings.HasSuffix(raw, "/") {
		return Name{}, fmt.Errorf("refname: %q starts or ends with '/'", raw)
	}
	if strings.Contains(raw, "//") {
		return Name{}, fmt.Errorf("refname: %q contains consecutive '/'", raw)
	}

	for _, r := range raw {
		if r < 0x80 && controlBytes[byte(r)] {
			return Name{}, fmt.Errorf("refname: %q contains a control character", raw)
		}
		if forbiddenRunes[r] {
			return Name{}, fmt.Errorf("refname: %q contains forbidden character %q", raw, r)
		}
	}

	for _, component := range strings.Split(raw, "/") {
		if component == "" {
			return Name{}, fmt.Errorf("refname: %q has an empty path component", raw)
		}
		if component == "." || component == ".." {
			return Name{}, fmt.Errorf("refname: %q has a %q path component", raw, component)
		}
		if strings.HasSuffix(component, ".lock") {
			return Name{}, fmt.Errorf("refname: %q has a component ending in \".lock\"", raw)
		}
		if strings.HasPrefix(component, ".") {
			return Name{}, fmt.Errorf("refname: %q has a component starting with '.'", raw)
		}
		if strings.HasSuffix(component, ".") {
			return Name{}, fmt.Errorf("refname: %q has a component ending with '.'", raw)
		}
	}

	return Name{s: raw}, nil
}
