// Package policy evaluates the per-ref acceptance rules that gate a
// push: denyDeletes, denyNonFastForwards, denyCurrentBranch, and
// denyDeleteCurrent, mirroring git's own receive.* configuration
// semantics. Fast-forward checks shell out to `git merge-base
// --is-ancestor`.
package policy

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/ossgit/receive-pack/internal/command"
	"github.com/ossgit/receive-pack/internal/gitconfig"
	"github.com/ossgit/receive-pack/internal/rpcerr"
)

// CurrentBranchMode controls how denyCurrentBranch behaves, mirroring
// receive.denyCurrentBranch's four-way git config.
type CurrentBranchMode int

const (
	CurrentBranchRefuse CurrentBranchMode = iota
	CurrentBranchWarn
	CurrentBranchIgnore
	CurrentBranchUpdateInstead
)

// Policy holds the evaluated configuration for one session. Build it
// once via FromConfig and reuse it across every command in the push.
type Policy struct {
	DenyDeletes           bool
	DenyNonFastForwards   bool
	DenyCurrentBranch     CurrentBranchMode
	DenyDeleteCurrent     bool
	AlternateObjectDirEnv []string // passed through to merge-base subprocesses
}

// FromConfig derives a Policy from repository configuration, mirroring
// git's own receive.denyDeletes/denyNonFastforwards/denyCurrentBranch/
// denyDeleteCurrent keys.
func FromConfig(cfg *gitconfig.Config, alternateEnv []string) Policy {
	return Policy{
		DenyDeletes:           cfg.GetBool("receive.denydeletes", false),
		DenyNonFastForwards:   cfg.GetBool("receive.denynonfastforwards", false),
		DenyCurrentBranch:     parseCurrentBranchMode(cfg.Get("receive.denycurrentbranch")),
		DenyDeleteCurrent:     cfg.GetBool("receive.denydeletecurrent", false),
		AlternateObjectDirEnv: alternateEnv,
	}
}

func parseCurrentBranchMode(v string) CurrentBranchMode {
	switch v {
	case "warn":
		return CurrentBranchWarn
	case "ignore":
		return CurrentBranchIgnore
	case "updateInstead":
		return CurrentBranchUpdateInstead
	case "", "refuse", "true":
		return CurrentBranchRefuse
	default:
		return CurrentBranchRefuse
	}
}

// Evaluate checks u against p, given whether u's ref is the
// repository's current (HEAD-pointed-to) branch. It returns nil when
// the update is allowed, or a KindPolicy rpcerr otherwise. A
// CurrentBranchWarn violation is reported via warn rather than
// returned as an error.
func (p Policy) Evaluate(ctx context.Context, u command.Update, isCurrentBranch bool, warn func(string)) error {
	if u.IsDelete() {
		if p.DenyDeletes {
			return rpcerr.New(rpcerr.KindPolicy, "deletion of "+u.RawRef+" is not allowed")
		}
		if isCurrentBranch && p.DenyDeleteCurrent {
			return rpcerr.New(rpcerr.KindPolicy, "deletion of the current branch "+u.RawRef+" is not allowed")
		}
		return nil
	}

	if isCurrentBranch && u.IsUpdate() {
		switch p.DenyCurrentBranch {
		case CurrentBranchRefuse:
			return rpcerr.New(rpcerr.KindPolicy, "updating "+u.RawRef+", the current branch, is not allowed")
		case CurrentBranchWarn:
			if warn != nil {
				warn(fmt.Sprintf("updating the current branch %s", u.RawRef))
			}
		case CurrentBranchIgnore, CurrentBranchUpdateInstead:
			// CurrentBranchUpdateInstead is accepted the same way as
			// CurrentBranchIgnore: no working-tree update is
			// performed, here or by the session orchestrator.
		}
	}

	if p.DenyNonFastForwards && u.IsUpdate() {
		ff, err := p.isFastForward(ctx, u)
		if err != nil {
			return rpcerr.Wrap(rpcerr.KindPolicy, "checking fast-forward status of "+u.RawRef, err)
		}
		if !ff {
			return rpcerr.New(rpcerr.KindPolicy, u.RawRef+" requires a fast-forward but the push is not one")
		}
	}

	return nil
}

// isFastForward reports whether new is a descendant of old, via `git
// merge-base --is-ancestor`.
func (p Policy) isFastForward(ctx context.Context, u command.Update) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "merge-base", "--is-ancestor", u.Old.String(), u.New.String())
	cmd.Env = append(cmd.Env, p.AlternateObjectDirEnv...)

	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		// exit code 1 means "not an ancestor", a negative result, not
		// a tool failure.
		return false, nil
	}
	return false, err
}
