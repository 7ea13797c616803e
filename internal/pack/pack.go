// Package pack implements the pack-ingest subsystem: read a packfile
// (or nothing, for delete-only pushes) from the client, route it
// through git's own pack-ingesting plumbing into the active
// quarantine, and report what was written back to the session for
// connectivity checking and reporting. The index-pack/unpack-objects
// choice is made by peeking the pack header's declared object count;
// internal/pipe's MemoryLimit bounds the child process's RSS.
package pack

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/github/go-kvp"
	"github.com/github/go-log"
	"golang.org/x/sync/errgroup"

	"github.com/ossgit/receive-pack/internal/capability"
	"github.com/ossgit/receive-pack/internal/command"
	"github.com/ossgit/receive-pack/internal/gitconfig"
	"github.com/ossgit/receive-pack/internal/pipe"
	"github.com/ossgit/receive-pack/internal/progress"
)

// Strategy is the git plumbing command used to materialize a pushed
// pack into the object store.
type Strategy int

const (
	// StrategyUnpackObjects explodes the pack into loose objects,
	// appropriate for small pushes.
	StrategyUnpackObjects Strategy = iota
	// StrategyIndexPack keeps the pack intact and writes an index,
	// appropriate once the object count crosses the configured limit.
	StrategyIndexPack
)

func (s Strategy) String() string {
	if s == StrategyIndexPack {
		return "index-pack"
	}
	return "unpack-objects"
}

// unpackLimitDefault mirrors git's own transfer.unpackLimit default:
// packs with no more objects than this are exploded into loose
// objects rather than kept packed.
const unpackLimitDefault = 100

// chooseStrategy decides ingestion strategy from the pack header's
// declared object count and the repository's configured limit.
func chooseStrategy(cfg *gitconfig.Config, objectCount uint32) Strategy {
	limit := cfg.GetInt("transfer.unpackLimit", unpackLimitDefault)
	if v := cfg.Get("receive.unpackLimit"); v != "" {
		limit = cfg.GetInt("receive.unpackLimit", limit)
	}
	if int(objectCount) > limit {
		return StrategyIndexPack
	}
	return StrategyUnpackObjects
}

// Limits bounds a single pack ingestion's size, warning threshold,
// deadline, and memory footprint.
type Limits struct {
	MaxInputSize   int           // bytes; 0 means unbounded
	WarnObjectSize int           // bytes; 0 means no warning threshold
	Timeout        time.Duration // 0 means no explicit deadline beyond ctx
	MemoryCeiling  uint64        // bytes of RSS; 0 disables the watchdog
}

// LimitsFromConfig derives Limits from receive.maxsize,
// receive.warnobjectsize, and receive.maxIngestMemory.
func LimitsFromConfig(cfg *gitconfig.Config) (Limits, error) {
	var l Limits
	if v := cfg.Get("receive.maxsize"); v != "" {
		n, err := gitconfig.ParseSigned(v)
		if err != nil {
			return l, fmt.Errorf("pack: parsing receive.maxsize: %w", err)
		}
		l.MaxInputSize = n
	}
	if v := cfg.Get("receive.warnobjectsize"); v != "" {
		n, err := gitconfig.ParseSigned(v)
		if err != nil {
			return l, fmt.Errorf("pack: parsing receive.warnobjectsize: %w", err)
		}
		l.WarnObjectSize = n
	}
	if v := cfg.Get("receive.maxIngestMemory"); v != "" {
		n, err := gitconfig.ParseSigned(v)
		if err != nil {
			return l, fmt.Errorf("pack: parsing receive.maxIngestMemory: %w", err)
		}
		l.MemoryCeiling = uint64(n)
	}
	return l, nil
}

// Result reports what ingestion produced.
type Result struct {
	Strategy    Strategy
	PackID      string // set only for StrategyIndexPack
	PackSize    int64  // set only for StrategyIndexPack
	ObjectCount uint32
}

// Ingestor drives the pack-receiving subprocess: stdin -> git
// index-pack|unpack-objects -> the active quarantine object
// directory, with stderr multiplexed onto a progress.Sink.
type Ingestor struct {
	Config        *gitconfig.Config
	QuarantineDir string
	MainStoreDir  string
	Logger        log.FieldLogger
}

// includeNonDeletes reports whether any command creates or updates a
// ref, meaning a pack is expected on the wire. Delete-only pushes send
// no pack at all.
func includeNonDeletes(commands []command.Update) bool {
	for _, c := range commands {
		if !c.IsDelete() {
			return true
		}
	}
	return false
}

// Ingest consumes a packfile from stdin, unless commands contains only
// deletes, in which case it is a no-op. sink receives index-pack's
// stderr as progress messages; it may be progress.NullSink{}.
func (in *Ingestor) Ingest(ctx context.Context, stdin io.Reader, commands []command.Update, caps capability.Set, sink progress.Sink, limits Limits) (*Result, error) {
	if !includeNonDeletes(commands) {
		return &Result{}, nil
	}

	if limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limits.Timeout)
		defer cancel()
	}

	br := bufio.NewReaderSize(stdin, 4096)
	objectCount := peekObjectCount(br)
	strategy := chooseStrategy(in.Config, objectCount)

	args := in.buildArgs(strategy, caps, limits)

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(),
		"GIT_OBJECT_DIRECTORY="+in.QuarantineDir,
		"GIT_ALTERNATE_OBJECT_DIRECTORIES="+in.MainStoreDir,
		"GIT_QUARANTINE_PATH="+in.QuarantineDir,
	)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("pack: creating %s stderr pipe: %w", strategy, err)
	}

	var stage pipe.Stage = pipe.CommandStage(strategy.String(), cmd)
	if limits.MemoryCeiling > 0 {
		stage = pipe.MemoryLimit(stage, limits.MemoryCeiling, in.Logger)
	}

	stdout, err := stage.Start(ctx, pipe.Env{}, io.NopCloser(br))
	if err != nil {
		return nil, fmt.Errorf("pack: starting %s: %w", strategy, err)
	}

	// Drain stdout and stderr concurrently via an errgroup.Group so
	// either side's error surfaces, joined before stage.Wait() so we
	// never call Wait() while output is still unread.
	var eg errgroup.Group
	var stdoutBuf []byte
	eg.Go(func() error {
		out, err := io.ReadAll(stdout)
		stdoutBuf = out
		return err
	})
	eg.Go(func() error {
		defer stderr.Close()
		s := bufio.NewScanner(stderr)
		s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for s.Scan() {
			if line := strings.TrimRight(s.Text(), "\r\n"); line != "" {
				_ = sink.Progress(line)
			}
		}
		return s.Err()
	})

	if err := eg.Wait(); err != nil {
		in.Logger.Error(fmt.Sprintf("reading %s output", strategy), kvp.Err(err))
	}

	if err := stage.Wait(); err != nil {
		in.Logger.Error(fmt.Sprintf("%s failed", strategy), kvp.Err(err))
		return nil, fmt.Errorf("pack: %s: %w", strategy, err)
	}

	result := &Result{Strategy: strategy, ObjectCount: objectCount}

	if strategy == StrategyIndexPack {
		result.PackID, result.PackSize = in.parseIndexPackOutput(stdoutBuf)
	}

	return result, nil
}

// peekObjectCount inspects (without consuming) the 12-byte pack
// header -- "PACK", a version, and a big-endian object count -- so
// chooseStrategy can run before the child process is spawned. A
// malformed or absent header yields 0, which simply selects
// unpack-objects; git itself will reject the bad input.
func peekObjectCount(br *bufio.Reader) uint32 {
	header, err := br.Peek(12)
	if err != nil || len(header) != 12 || !bytes.Equal(header[:4], []byte("PACK")) {
		return 0
	}
	return binary.BigEndian.Uint32(header[8:12])
}

func (in *Ingestor) buildArgs(strategy Strategy, caps capability.Set, limits Limits) []string {
	sideband := caps.Has(capability.SideBand64k)
	quiet := caps.Has(capability.Quiet)

	var args []string
	switch strategy {
	case StrategyIndexPack:
		args = append(args, "index-pack", "--stdin")
		if sideband {
			args = append(args, "--report-end-of-input")
			if !quiet {
				args = append(args, "--show-resolving-progress")
			}
		}
		args = append(args, "--fix-thin")
	case StrategyUnpackObjects:
		args = append(args, "unpack-objects")
		if quiet {
			args = append(args, "-q")
		}
	}

	if in.isFsckEnabled() {
		args = append(args, in.fsckArg()...)
	}

	if limits.MaxInputSize > 0 {
		args = append(args, fmt.Sprintf("--max-input-size=%d", limits.MaxInputSize))
	}
	if strategy == StrategyIndexPack && limits.WarnObjectSize > 0 {
		args = append(args, fmt.Sprintf("--warn-object-size=%d", limits.WarnObjectSize))
	}

	return args
}

// isFsckEnabled reports whether fsck validation is configured for
// incoming objects.
func (in *Ingestor) isFsckEnabled() bool {
	return in.Config.Get("receive.fsckObjects") == "true" || in.Config.Get("transfer.fsckObjects") == "true"
}

// fsckArg assembles the --strict flag, honoring any per-category
// receive.fsck.<key> overrides.
func (in *Ingestor) fsckArg() []string {
	prefix := in.Config.GetPrefix("receive.fsck.")
	if len(prefix) == 0 {
		return []string{"--strict"}
	}
	var b strings.Builder
	for key, values := range prefix {
		for _, value := range values {
			b.WriteString(key)
			b.WriteByte('=')
			b.WriteString(value)
			b.WriteByte(',')
		}
	}
	return []string{"--strict=" + strings.TrimSuffix(b.String(), ",")}
}

// parseIndexPackOutput reads index-pack's one-line "pack\t<id>\n" or
// "keep\t<id>\n" stdout report.
func (in *Ingestor) parseIndexPackOutput(out []byte) (id string, size int64) {
	out = bytes.TrimSpace(out)
	if !bytes.HasPrefix(out, []byte("pack\t")) && !bytes.HasPrefix(out, []byte("keep\t")) {
		return "", 0
	}
	id = string(bytes.TrimSpace(out[5:]))
	packPath := in.QuarantineDir + "/pack/pack-" + id + ".pack"
	if fi, err := os.Stat(packPath); err == nil {
		size = fi.Size()
	}
	return id, size
}
