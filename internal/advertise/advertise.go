// Package advertise renders the initial ref advertisement: visible
// refs in lexicographic order, the first line carrying the negotiated
// capability set, or a single "capabilities^{}" line when the
// repository is empty.
package advertise

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ossgit/receive-pack/internal/capability"
	"github.com/ossgit/receive-pack/internal/gitconfig"
	"github.com/ossgit/receive-pack/internal/objectid"
	"github.com/ossgit/receive-pack/internal/pktline"
	"github.com/ossgit/receive-pack/internal/storeapi"
)

// HiddenRefRules splits a transfer.hideRefs/receive.hideRefs
// configuration into hide and un-hide (the "!prefix" form) prefixes.
// Only one level of unhiding is honored: an unhide rule cannot itself
// be re-hidden by a more specific hide rule.
type HiddenRefRules struct {
	Hide   []string
	Unhide []string
}

// RulesFromConfig reads transfer.hideRefs and receive.hideRefs
// (receive.hideRefs entries are appended after transfer's, matching
// git's own precedence).
func RulesFromConfig(cfg *gitconfig.Config) HiddenRefRules {
	var rules HiddenRefRules
	for _, rule := range append(cfg.GetAll("transfer.hiderefs"), cfg.GetAll("receive.hiderefs")...) {
		if rule == "" {
			continue
		}
		if rule[0] == '!' {
			rules.Unhide = append(rules.Unhide, rule[1:])
		} else {
			rules.Hide = append(rules.Hide, rule)
		}
	}
	return rules
}

// Hidden reports whether name should be omitted from the
// advertisement, per the hide/unhide rule set.
func (r HiddenRefRules) Hidden(name string) bool {
	for _, u := range r.Unhide {
		if strings.HasPrefix(name, u) {
			return false
		}
	}
	for _, h := range r.Hide {
		if strings.HasPrefix(name, h) {
			return true
		}
	}
	return false
}

// Advertiser renders the advertisement for one session.
type Advertiser struct {
	Store        storeapi.RefStore
	Rules        HiddenRefRules
	Capabilities capability.Set
	Format       objectid.Format
}

// Advertise writes the full advertisement to w.
func (a *Advertiser) Advertise(ctx context.Context, w io.Writer) error {
	type entry struct {
		name string
		id   objectid.ID
	}
	var entries []entry

	err := a.Store.IterVisible(ctx, a.Rules.Hidden, func(name string, id objectid.ID) error {
		entries = append(entries, entry{name: name, id: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("advertise: enumerating refs: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	capLine := a.Capabilities.Line()

	if len(entries) == 0 {
		zero := objectid.Zero(a.Format)
		if err := pktline.WriteLinef(w, "%s capabilities^{}\x00%s\n", zero, capLine); err != nil {
			return err
		}
		return pktline.WriteFlush(w)
	}

	for i, e := range entries {
		var err error
		if i == 0 {
			err = pktline.WriteLinef(w, "%s %s\x00%s\n", e.id, e.name, capLine)
		} else {
			err = pktline.WriteLinef(w, "%s %s\n", e.id, e.name)
		}
		if err != nil {
			return fmt.Errorf("advertise: writing ref %s: %w", e.name, err)
		}
	}

	return pktline.WriteFlush(w)
}
