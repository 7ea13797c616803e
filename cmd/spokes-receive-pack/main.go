// Command spokes-receive-pack is the server-side entrypoint for the
// receive-pack protocol. It mirrors git-receive-pack's own argument
// convention (a single positional repository path, plus
// --stateless-rpc/--http-backend-info-refs for the HTTP
// smart-transport variants) and toggles between this package's own
// implementation and a plain passthrough to the system
// git-receive-pack via the GIT_SOCKSTAT_VAR_spokes_quarantine switch.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ossgit/receive-pack/internal/governor"
	"github.com/ossgit/receive-pack/internal/receivepack"
	"github.com/ossgit/receive-pack/internal/session"
	"github.com/ossgit/receive-pack/internal/sockstat"
)

// version is stamped at release time via -ldflags; the zero value
// still produces a well-formed agent string.
var version = "0.1.0"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "spokes-receive-pack: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin *os.File, stdout *os.File) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	fs := flag.NewFlagSet("spokes-receive-pack", flag.ContinueOnError)
	statelessRPC := fs.Bool("stateless-rpc", false, "speak the HTTP smart-transport variant of the protocol")
	httpBackendInfoRefs := fs.Bool("http-backend-info-refs", false, "only announce references, then exit")
	fs.BoolVar(httpBackendInfoRefs, "advertise-refs", false, "alias of --http-backend-info-refs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one repository argument, got %d (%v)", fs.NArg(), fs.Args())
	}

	if err := os.Chdir(fs.Arg(0)); err != nil {
		return fmt.Errorf("entering repository: %w", err)
	}
	repoPath, err := os.Getwd()
	if err != nil {
		return err
	}

	g, err := governor.Start(ctx, repoPath)
	if err != nil {
		return fmt.Errorf("governor refused to schedule this request: %w", err)
	}
	defer g.Finish(ctx)

	// GIT_SOCKSTAT_VAR_spokes_quarantine is the same switch the teacher
	// used to decide between this implementation and a bare passthrough
	// to the system git-receive-pack, during the rollout of the
	// quarantine-aware rewrite.
	if sockstat.GetString("spokes_quarantine") != "true" {
		rp := receivepack.NewReceivePack(stdin, stdout, os.Stderr, []string{filepath.Clean(repoPath)})
		if err := rp.Execute(ctx); err != nil {
			g.SetError(1, err.Error())
			return fmt.Errorf("running git-receive-pack: %w", err)
		}
		return nil
	}

	quarantineID := sockstat.GetString("quarantine_id")
	if quarantineID == "" {
		err := fmt.Errorf("missing required sockstat var quarantine_id")
		g.SetError(1, err.Error())
		return err
	}
	requestID := sockstat.GetString("request_id")

	sess, err := session.New(ctx, stdin, stdout, repoPath, quarantineID, requestID, "ossgit/receive-pack-"+version)
	if err != nil {
		g.SetError(1, err.Error())
		return err
	}
	sess.StatelessRPC = *statelessRPC
	sess.AdvertiseRefs = *httpBackendInfoRefs

	if err := sess.Run(ctx); err != nil {
		g.SetError(1, err.Error())
		return fmt.Errorf("running receive-pack: %w", err)
	}
	return nil
}
