// Package session is the orchestrator tying every subsystem together
// into one receive-pack exchange: advertise -> read commands/options
// -> receive pack into quarantine -> pre-receive -> connectivity ->
// ref transaction -> promote quarantine -> report -> post-receive. A
// quarantine that was not promoted is discarded when the exchange
// ends. Each phase is delegated to its own package
// (internal/advertise, internal/pack, internal/connectivity,
// internal/policy, internal/hooks, internal/reftx, internal/report)
// behind the storeapi seam.
package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ossgit/receive-pack/internal/advertise"
	"github.com/ossgit/receive-pack/internal/capability"
	"github.com/ossgit/receive-pack/internal/command"
	"github.com/ossgit/receive-pack/internal/connectivity"
	"github.com/ossgit/receive-pack/internal/gitconfig"
	"github.com/ossgit/receive-pack/internal/gitstore"
	"github.com/ossgit/receive-pack/internal/hooks"
	"github.com/ossgit/receive-pack/internal/objectformat"
	"github.com/ossgit/receive-pack/internal/objectid"
	"github.com/ossgit/receive-pack/internal/pack"
	"github.com/ossgit/receive-pack/internal/pktline"
	"github.com/ossgit/receive-pack/internal/policy"
	"github.com/ossgit/receive-pack/internal/progress"
	"github.com/ossgit/receive-pack/internal/quarantine"
	"github.com/ossgit/receive-pack/internal/refname"
	"github.com/ossgit/receive-pack/internal/reftx"
	"github.com/ossgit/receive-pack/internal/report"
	"github.com/ossgit/receive-pack/internal/rpcerr"
	"github.com/ossgit/receive-pack/internal/storeapi"
	"github.com/ossgit/receive-pack/internal/telemetry"
)

// Session is one client connection's worth of state: the collaborators
// an execute() call needs, plus the repository-level configuration
// every phase reads.
type Session struct {
	Input  io.Reader
	Output io.Writer

	RepoDir       string // the bare repository's GIT_DIR
	QuarantineRoot string
	Format        objectid.Format
	Agent         string
	RequestID     string // advertised as session-id, when safe to echo

	Config *gitconfig.Config
	Store  storeapi.RefStore // advertisement/ref-transaction target; the default is gitstore.Store

	// StatelessRPC/AdvertiseRefs mirror the teacher's --stateless-rpc
	// and --http-backend-info-refs/--advertise-refs flags.
	StatelessRPC  bool
	AdvertiseRefs bool

	// Shallow/PushCert are populated by readCommands when the client
	// sends "shallow"/"push-cert" lines ahead of its command list.
	// Neither gates ref-transaction execution here: shallow-boundary
	// enforcement and push-certificate signature verification are both
	// left to the surrounding git installation, the same as upstream
	// leaves the latter to an external gpg invocation.
	Shallow  []command.Shallow
	PushCert *command.PushCert

	Logger telemetry.Logger
}

// New assembles a Session for repoDir: loads configuration, detects
// the object format, and wires the default gitstore.Store as both
// advertisement source and ref-transaction target. quarantineID and
// requestID come from the caller's sockstat-derived environment, kept
// out of this package so it stays testable without environment
// variables.
func New(ctx context.Context, input io.Reader, output io.Writer, repoDir, quarantineID, requestID, agent string) (*Session, error) {
	cfg, err := gitconfig.Load(ctx, repoDir)
	if err != nil {
		return nil, fmt.Errorf("session: loading configuration: %w", err)
	}
	format, err := objectformat.Detect(ctx, repoDir)
	if err != nil {
		return nil, fmt.Errorf("session: detecting object format: %w", err)
	}

	return &Session{
		Input:          input,
		Output:         output,
		RepoDir:        repoDir,
		QuarantineRoot: repoDir + "/objects/" + quarantineID,
		Format:         format,
		Agent:          agent,
		RequestID:      requestID,
		Config:         cfg,
		Store:          &gitstore.Store{RepoDir: repoDir, Format: format},
		Logger:         telemetry.NewSessionLogger(nil, repoDir, requestID),
	}, nil
}

// Run drives one full receive-pack exchange, logging and tracing it
// as a single session-scoped span.
func (s *Session) Run(ctx context.Context) error {
	ctx, span := telemetry.Phase(ctx, "session")
	var err error
	defer func() { telemetry.Finish(span, err) }()

	if s.AdvertiseRefs || !s.StatelessRPC {
		if err = s.advertise(ctx); err != nil {
			return err
		}
	}
	if s.AdvertiseRefs {
		return nil
	}

	commands, caps, pushOptions, err := s.readCommands(ctx)
	if err != nil {
		return err
	}
	if len(commands) == 0 {
		return nil
	}

	err = s.executeCommands(ctx, commands, caps, pushOptions)
	return err
}

func (s *Session) capabilities() capability.Set {
	disabled := map[string]bool{}
	if !s.Config.GetBool("receive.advertisepushoptions", false) {
		disabled[capability.PushOptions] = true
	}
	sessionID := ""
	if s.RequestID != "" && capability.IsSafeValue(s.RequestID) {
		sessionID = s.RequestID
	}
	return capability.Advertisement(s.Format.String(), s.Agent, sessionID, disabled)
}

func (s *Session) advertise(ctx context.Context) error {
	a := &advertise.Advertiser{
		Store:        s.Store,
		Rules:        advertise.RulesFromConfig(s.Config),
		Capabilities: s.capabilities(),
		Format:       s.Format,
	}
	if err := a.Advertise(ctx, s.Output); err != nil {
		return rpcerr.Wrap(rpcerr.KindProtocol, "advertising references", err)
	}
	return nil
}

// readCommands reads the command list and any push options the client
// sends, routing "shallow"/"push-cert" lines to their own handling
// instead of feeding them to command.Parse, where they would fail as
// malformed commands.
func (s *Session) readCommands(ctx context.Context) ([]command.Update, capability.Set, []string, error) {
	pl := pktline.New()
	var commands []command.Update
	var shallows []command.Shallow
	var caps capability.Set
	first := true

	limit := s.Config.GetInt("receive.maxcommands", 0)

	for {
		if err := pl.Read(s.Input); err != nil {
			return nil, caps, nil, rpcerr.Wrap(rpcerr.KindProtocol, "reading commands", err)
		}
		if pl.IsFlush() {
			break
		}

		line := strings.TrimRight(string(pl.Payload), "\n")
		if first {
			caps = capability.Parse(string(pl.CapabilitiesPayload))
			first = false
		}

		if command.IsShallowLine(line) {
			sh, err := command.ParseShallow(s.Format, line)
			if err != nil {
				return nil, caps, nil, rpcerr.Wrap(rpcerr.KindProtocol, "parsing shallow line", err)
			}
			shallows = append(shallows, sh)
			continue
		}

		if command.IsPushCertStart(line) {
			certCommands, err := s.readPushCert(pl)
			if err != nil {
				return nil, caps, nil, err
			}
			commands = append(commands, certCommands...)
			continue
		}

		u, err := command.Parse(s.Format, line)
		if err != nil {
			return nil, caps, nil, rpcerr.Wrap(rpcerr.KindProtocol, "parsing command", err)
		}
		commands = append(commands, u)
	}
	s.Shallow = shallows

	if limit > 0 && len(commands) > limit {
		return nil, caps, nil, rpcerr.New(rpcerr.KindProtocol,
			fmt.Sprintf("maximum ref updates exceeded: %d commands sent but max allowed is %d", len(commands), limit))
	}

	pushOptionsLimit := s.Config.GetInt("receive.maxpushoptioncount", 0)
	var pushOptions []string
	if caps.Has(capability.PushOptions) {
		var err error
		pushOptions, err = s.readPushOptions(ctx, pl)
		if err != nil {
			return nil, caps, nil, err
		}
	}
	if pushOptionsLimit > 0 && len(pushOptions) > pushOptionsLimit {
		return nil, caps, nil, rpcerr.New(rpcerr.KindProtocol, "push options count exceeds maximum")
	}

	return commands, caps, pushOptions, nil
}

// readPushCert consumes the lines of a push certificate block up to
// and including "push-cert-end", folding its envelope fields into
// s.PushCert and returning any command lines found embedded inside it.
func (s *Session) readPushCert(pl *pktline.Pktline) ([]command.Update, error) {
	cert := &command.PushCert{}
	var commands []command.Update
	for {
		if err := pl.Read(s.Input); err != nil {
			return nil, rpcerr.Wrap(rpcerr.KindProtocol, "reading push certificate", err)
		}
		if pl.IsFlush() {
			return nil, rpcerr.New(rpcerr.KindProtocol, "push certificate missing push-cert-end")
		}
		line := strings.TrimRight(string(pl.Payload), "\n")
		if command.IsPushCertEnd(line) {
			break
		}
		u, ok, err := command.ParsePushCertLine(s.Format, cert, line)
		if err != nil {
			return nil, rpcerr.Wrap(rpcerr.KindProtocol, "parsing push certificate", err)
		}
		if ok {
			commands = append(commands, u)
		}
	}
	s.PushCert = cert
	return commands, nil
}

func (s *Session) readPushOptions(ctx context.Context, pl *pktline.Pktline) ([]string, error) {
	var opts []string
	for {
		if err := pl.Read(s.Input); err != nil {
			return nil, rpcerr.Wrap(rpcerr.KindProtocol, "reading push options", err)
		}
		if pl.IsFlush() {
			break
		}
		opts = append(opts, strings.TrimRight(string(pl.Payload), "\n"))
	}
	return opts, nil
}

// executeCommands runs ingest -> pre-receive -> connectivity ->
// policy -> ref transaction -> quarantine promotion -> report ->
// post-receive.
func (s *Session) executeCommands(ctx context.Context, commands []command.Update, caps capability.Set, pushOptions []string) error {
	q, err := quarantine.New(s.QuarantineRoot, s.RepoDir+"/objects", "incoming")
	if err != nil {
		return rpcerr.Wrap(rpcerr.KindStore, "creating quarantine", err)
	}
	defer func() {
		if q.State() == quarantine.Active {
			q.Discard()
		}
	}()

	sink := progress.Sink(progress.NullSink{})
	sideband := caps.Has(capability.SideBand64k)
	var sbw *pktline.SidebandWriter
	if sideband {
		sbw = pktline.NewSidebandWriter(s.Output, pktline.BufSize(true), 0)
		sink = sbw
	}

	limits, err := pack.LimitsFromConfig(s.Config)
	if err != nil {
		return rpcerr.Wrap(rpcerr.KindIngest, "reading ingest limits", err)
	}
	ingestor := &pack.Ingestor{
		Config:        s.Config,
		QuarantineDir: q.Dir(),
		MainStoreDir:  s.RepoDir + "/objects",
		Logger:        s.Logger,
	}

	var unpackErr error
	_, unpackErr = ingestor.Ingest(ctx, bufio.NewReader(s.Input), commands, caps, sink, limits)

	outcomes := make(map[string]reftx.Outcome, len(commands))
	unpackOK := unpackErr == nil
	postReceive := false

	if unpackOK {
		if err := s.runPreReceive(ctx, commands, q, pushOptions); err != nil {
			for _, c := range commands {
				outcomes[c.RawRef] = reftx.Outcome{Command: c, Reason: err.Error()}
			}
		} else {
			checker := &connectivity.Checker{MainStoreDir: s.RepoDir + "/objects", QuarantineDir: q.Dir()}
			connErr := checker.CheckBatch(ctx, commands)

			pol := policy.FromConfig(s.Config, []string{
				"GIT_ALTERNATE_OBJECT_DIRECTORIES=" + s.RepoDir + "/objects",
				"GIT_OBJECT_DIRECTORY=" + q.Dir(),
			})

			plan := reftx.NewPlan(filterAccepted(commands, outcomes), nil,
				caps.Has(capability.Atomic), s.storeSupportsAtomic(ctx))

			for _, c := range plan.Updates {
				if connErr != nil {
					if err := checker.CheckObject(ctx, c.New.String()); err != nil {
						outcomes[c.RawRef] = reftx.Outcome{Command: c, Reason: "missing necessary objects"}
						continue
					}
				}
				if err := pol.Evaluate(ctx, c, s.isCurrentBranch(ctx, c.Ref), nil); err != nil {
					outcomes[c.RawRef] = reftx.Outcome{Command: c, Reason: err.Error()}
				}
			}
			for _, c := range plan.Deletes {
				if err := pol.Evaluate(ctx, c, s.isCurrentBranch(ctx, c.Ref), nil); err != nil {
					outcomes[c.RawRef] = reftx.Outcome{Command: c, Reason: err.Error()}
				}
			}

			plan = reftx.NewPlan(filterAccepted(commands, outcomes), nil,
				caps.Has(capability.Atomic), s.storeSupportsAtomic(ctx))
			results, _ := plan.Execute(ctx, s.Store)
			for _, r := range results {
				if _, rejected := outcomes[r.Command.RawRef]; !rejected {
					outcomes[r.Command.RawRef] = r
				}
			}

			if err := q.Promote(); err != nil {
				for _, c := range commands {
					if o, ok := outcomes[c.RawRef]; !ok || o.OK {
						outcomes[c.RawRef] = reftx.Outcome{Command: c, Reason: "promoting quarantine: " + err.Error()}
					}
				}
			}

			postReceive = true
		}
	} else {
		for _, c := range commands {
			outcomes[c.RawRef] = reftx.Outcome{Command: c, Reason: "error processing packfiles: " + unpackErr.Error()}
		}
	}

	if caps.Has(capability.ReportStatus) || caps.Has(capability.ReportStatusV2) {
		rep := buildReport(commands, outcomes, unpackOK, unpackErr)
		if err := s.writeReport(rep, caps, sbw); err != nil {
			return rpcerr.Wrap(rpcerr.KindProtocol, "writing report", err)
		}
	}
	if postReceive {
		s.runPostReceive(ctx, commands, q, pushOptions)
	}

	if unpackErr != nil {
		return rpcerr.Wrap(rpcerr.KindIngest, "index-pack", unpackErr)
	}
	return nil
}

func (s *Session) storeSupportsAtomic(ctx context.Context) bool {
	h, err := s.Store.BeginTransaction(ctx, true)
	if err != nil || h == nil {
		return false
	}
	defer h.Abort(ctx)
	return h.SupportsAtomic()
}

func (s *Session) isCurrentBranch(ctx context.Context, ref refname.Name) bool {
	_, symref, err := s.Store.Resolve(ctx, mustParse("HEAD"))
	if err != nil {
		return false
	}
	return symref == ref.String()
}

func mustParse(raw string) refname.Name {
	n, _ := refname.Parse(raw)
	return n
}

func filterAccepted(commands []command.Update, rejected map[string]reftx.Outcome) []command.Update {
	var out []command.Update
	for _, c := range commands {
		if o, ok := rejected[c.RawRef]; ok && !o.OK {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (s *Session) runPreReceive(ctx context.Context, commands []command.Update, q *quarantine.Quarantine, pushOptions []string) error {
	runner := &hooks.Runner{Dir: s.RepoDir}
	env := s.hookEnv(q, pushOptions)
	result, err := runner.RunPreReceive(ctx, commands, env)
	if err != nil {
		return rpcerr.Wrap(rpcerr.KindHook, "running pre-receive", err)
	}
	if !result.OK() {
		return rpcerr.New(rpcerr.KindHook, "pre-receive hook declined the push")
	}
	return nil
}

func (s *Session) runPostReceive(ctx context.Context, commands []command.Update, q *quarantine.Quarantine, pushOptions []string) {
	runner := &hooks.Runner{Dir: s.RepoDir}
	_, _ = runner.RunPostReceive(ctx, commands, s.hookEnv(q, pushOptions))
}

func (s *Session) hookEnv(q *quarantine.Quarantine, pushOptions []string) hooks.Env {
	return hooks.Env{
		Dir:               s.RepoDir,
		GitObjectDir:      q.Dir(),
		GitAlternateDirs:  s.RepoDir + "/objects",
		GitQuarantinePath: q.Dir(),
		SessionID:         s.RequestID,
		PushOptions:       pushOptions,
	}
}

func buildReport(commands []command.Update, outcomes map[string]reftx.Outcome, unpackOK bool, unpackErr error) report.Report {
	rep := report.Report{UnpackOK: unpackOK}
	if !unpackOK {
		rep.UnpackError = unpackErr.Error()
	}
	for _, c := range commands {
		o, ok := outcomes[c.RawRef]
		if !ok {
			rep.Refs = append(rep.Refs, report.RefOutcome{Ref: c.RawRef, OK: true})
			continue
		}
		rep.Refs = append(rep.Refs, report.RefOutcome{
			Ref: c.RawRef, OK: o.OK, Message: o.Reason,
			OldOID: c.Old.String(), NewOID: c.New.String(),
		})
	}
	return rep
}

func (s *Session) writeReport(rep report.Report, caps capability.Set, sbw *pktline.SidebandWriter) error {
	var (
		data []byte
		err  error
	)
	if caps.Has(capability.ReportStatusV2) {
		data, err = rep.RenderV2()
	} else {
		data, err = rep.Render()
	}
	if err != nil {
		return err
	}
	if sbw != nil {
		return sbw.WriteReport(data)
	}
	_, err = s.Output.Write(data)
	return err
}
