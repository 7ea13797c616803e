// Package reftx plans and executes the ref-transaction phase of a
// push: classify commands (delete / update-create / proc-receive-
// handled), choose atomic vs. staged execution, and drive the
// Planned -> Prepared -> Committed (-> Aborted) typestate. The State
// enum also defines Reported, but nothing in this package sets it.
// Atomic mode locks refs in lexicographic order; staged mode runs each
// command as its own single-ref CAS so one failure doesn't block the
// rest.
package reftx

import (
	"context"
	"fmt"
	"sort"

	"github.com/ossgit/receive-pack/internal/command"
	"github.com/ossgit/receive-pack/internal/rpcerr"
	"github.com/ossgit/receive-pack/internal/storeapi"
)

// State is the transaction's lifecycle stage.
type State int

const (
	Planned State = iota
	Prepared
	Committed
	Reported
	Aborted
)

func (s State) String() string {
	switch s {
	case Planned:
		return "planned"
	case Prepared:
		return "prepared"
	case Committed:
		return "committed"
	case Reported:
		return "reported"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Outcome is one command's result once the transaction is resolved.
type Outcome struct {
	Command command.Update
	OK      bool
	Reason  string // set when !OK
}

// Plan classifies commands into delete / update-create / skipped
// (proc-receive-handled, identified by matching one of procReceiveRefs)
// and decides atomic vs. staged execution.
type Plan struct {
	Atomic   bool
	Deletes  []command.Update
	Updates  []command.Update
	Skipped  []command.Update
	state    State
}

// NewPlan classifies commands. atomicRequested is honored only if
// store reports it supports atomic multi-ref commits; otherwise the
// plan silently falls back to staged mode, matching upstream's own
// graceful degradation.
func NewPlan(commands []command.Update, procReceiveRefs func(ref string) bool, atomicRequested, storeSupportsAtomic bool) *Plan {
	p := &Plan{Atomic: atomicRequested && storeSupportsAtomic, state: Planned}
	for _, c := range commands {
		if procReceiveRefs != nil && procReceiveRefs(c.RawRef) {
			p.Skipped = append(p.Skipped, c)
			continue
		}
		if c.IsDelete() {
			p.Deletes = append(p.Deletes, c)
		} else {
			p.Updates = append(p.Updates, c)
		}
	}
	return p
}

// State reports the plan's current lifecycle stage.
func (p *Plan) State() State { return p.state }

// Execute runs the plan against store: atomic mode opens one
// transaction covering every non-skipped command, locking refs in
// lexicographic order; staged mode runs deletes first, then updates,
// each as an independent single-ref transaction so one failure
// doesn't block the rest.
func (p *Plan) Execute(ctx context.Context, store storeapi.RefStore) ([]Outcome, error) {
	if p.state != Planned {
		return nil, rpcerr.New(rpcerr.KindInternal, fmt.Sprintf("reftx: Execute called from state %s", p.state))
	}

	var outcomes []Outcome
	var err error
	if p.Atomic {
		outcomes, err = p.executeAtomic(ctx, store)
	} else {
		outcomes, err = p.executeStaged(ctx, store)
	}
	if err != nil {
		p.state = Aborted
		return outcomes, err
	}
	p.state = Committed
	return outcomes, nil
}

// executeAtomic commits every non-skipped command as one transaction.
// Refs are locked in lexicographic order to make concurrent atomic
// pushes touching overlapping ref sets deadlock-free.
func (p *Plan) executeAtomic(ctx context.Context, store storeapi.RefStore) ([]Outcome, error) {
	all := append(append([]command.Update{}, p.Deletes...), p.Updates...)
	sort.Slice(all, func(i, j int) bool { return all[i].RawRef < all[j].RawRef })

	handle, err := store.BeginTransaction(ctx, true)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.KindStore, "beginning atomic transaction", err)
	}
	if !handle.SupportsAtomic() {
		_ = handle.Abort(ctx)
		return nil, rpcerr.New(rpcerr.KindInternal, "reftx: store claimed atomic support but handle disagrees")
	}

	p.state = Prepared

	for _, c := range all {
		var stageErr error
		if c.IsDelete() {
			stageErr = handle.Delete(ctx, c.Ref, c.Old)
		} else {
			stageErr = handle.Update(ctx, c.Ref, c.Old, c.New)
		}
		if stageErr != nil {
			_ = handle.Abort(ctx)
			return allRejected(all, p.Skipped, c, stageErr.Error()),
				rpcerr.Wrap(rpcerr.KindStore, "staging "+c.RawRef, stageErr)
		}
	}

	if err := handle.Commit(ctx); err != nil {
		return allRejected(all, p.Skipped, command.Update{}, err.Error()),
			rpcerr.Wrap(rpcerr.KindStore, "committing atomic transaction", err)
	}

	return allAccepted(all, p.Skipped), nil
}

// executeStaged runs deletes, then updates, each as its own
// single-ref CAS. One failure does not prevent the remaining commands
// from being attempted, matching upstream git's own staged behavior.
func (p *Plan) executeStaged(ctx context.Context, store storeapi.RefStore) ([]Outcome, error) {
	p.state = Prepared

	var outcomes []Outcome
	for _, c := range p.Skipped {
		outcomes = append(outcomes, Outcome{Command: c, OK: true})
	}

	for _, c := range append(append([]command.Update{}, p.Deletes...), p.Updates...) {
		handle, err := store.BeginTransaction(ctx, false)
		if err != nil {
			outcomes = append(outcomes, Outcome{Command: c, Reason: "beginning transaction: " + err.Error()})
			continue
		}

		var stageErr error
		if c.IsDelete() {
			stageErr = handle.Delete(ctx, c.Ref, c.Old)
		} else {
			stageErr = handle.Update(ctx, c.Ref, c.Old, c.New)
		}
		if stageErr != nil {
			_ = handle.Abort(ctx)
			outcomes = append(outcomes, Outcome{Command: c, Reason: stageErr.Error()})
			continue
		}

		if err := handle.Commit(ctx); err != nil {
			outcomes = append(outcomes, Outcome{Command: c, Reason: "committing: " + err.Error()})
			continue
		}
		outcomes = append(outcomes, Outcome{Command: c, OK: true})
	}

	return outcomes, nil
}

func allAccepted(applied, skipped []command.Update) []Outcome {
	var out []Outcome
	for _, c := range skipped {
		out = append(out, Outcome{Command: c, OK: true})
	}
	for _, c := range applied {
		out = append(out, Outcome{Command: c, OK: true})
	}
	return out
}

// atomicAbortReason is the stable reason token every command but the
// one that actually triggered an atomic abort is reported with: one
// command carries its specific failure, everything else in the same
// transaction carries this literal.
const atomicAbortReason = "atomic transaction failed"

// allRejected reports every applied command as failed after an atomic
// abort. failing identifies the one command whose own error caused
// the abort (its RawRef is empty when no single command is to blame,
// e.g. a failure during commit itself) -- it carries failingReason
// verbatim, while every other command gets atomicAbortReason.
func allRejected(applied, skipped []command.Update, failing command.Update, failingReason string) []Outcome {
	var out []Outcome
	for _, c := range skipped {
		out = append(out, Outcome{Command: c, OK: true})
	}
	for _, c := range applied {
		if failing.RawRef != "" && c.RawRef == failing.RawRef {
			out = append(out, Outcome{Command: c, Reason: failingReason})
			continue
		}
		out = append(out, Outcome{Command: c, Reason: atomicAbortReason})
	}
	return out
}
