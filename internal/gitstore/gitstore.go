// Package gitstore is the default, process-backed implementation of
// storeapi.ObjectStore/storeapi.RefStore: one purpose-built git
// subprocess per operation, with stdout scanned line-by-line, behind
// the storeapi boundary internal/reftx, internal/advertise, and
// internal/pack depend on.
package gitstore

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ossgit/receive-pack/internal/objectid"
	"github.com/ossgit/receive-pack/internal/quarantine"
	"github.com/ossgit/receive-pack/internal/refname"
	"github.com/ossgit/receive-pack/internal/storeapi"
)

var kindNames = map[storeapi.ObjectKind]string{
	storeapi.KindCommit: "commit",
	storeapi.KindTree:   "tree",
	storeapi.KindBlob:   "blob",
	storeapi.KindTag:    "tag",
}

func kindFromName(name string) (storeapi.ObjectKind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// Store is a git-process-backed ObjectStore and RefStore, scoped to
// one repository and (for writes) one active quarantine.
type Store struct {
	RepoDir string
	Format  objectid.Format
	Q       *quarantine.Quarantine // nil means no quarantine is active
}

func (s *Store) env() []string {
	env := os.Environ()
	if s.Q != nil {
		env = append(env, s.Q.Env()...)
	}
	return env
}

func (s *Store) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.RepoDir
	cmd.Env = s.env()
	return cmd
}

// Contains reports whether id is present, via `git cat-file -e`, which
// respects GIT_ALTERNATE_OBJECT_DIRECTORIES and so sees quarantine
// objects without promoting them.
func (s *Store) Contains(ctx context.Context, id objectid.ID) (bool, error) {
	cmd := s.command(ctx, "cat-file", "-e", id.String())
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return false, nil
		}
		return false, fmt.Errorf("gitstore: cat-file -e %s: %w", id, err)
	}
	return true, nil
}

// Read returns an object's kind and inflated bytes via
// `git cat-file <type> <id>` preceded by a `cat-file -t` probe.
func (s *Store) Read(ctx context.Context, id objectid.ID) (storeapi.ObjectKind, []byte, error) {
	typeOut, err := s.command(ctx, "cat-file", "-t", id.String()).Output()
	if err != nil {
		return 0, nil, fmt.Errorf("gitstore: cat-file -t %s: %w", id, err)
	}
	kind, ok := kindFromName(strings.TrimSpace(string(typeOut)))
	if !ok {
		return 0, nil, fmt.Errorf("gitstore: unrecognized object type %q for %s", typeOut, id)
	}

	data, err := s.command(ctx, "cat-file", kindNames[kind], id.String()).Output()
	if err != nil {
		return 0, nil, fmt.Errorf("gitstore: cat-file %s %s: %w", kindNames[kind], id, err)
	}
	return kind, data, nil
}

// WritePack hands a packfile to `git index-pack --stdin`, scoped to
// the active quarantine by s.env(), and returns the quarantine's pack
// directory the pack was written into.
func (s *Store) WritePack(ctx context.Context, stream []byte) (string, error) {
	if s.Q == nil {
		return "", fmt.Errorf("gitstore: WritePack requires an active quarantine")
	}
	packDir := filepath.Join(s.Q.Dir(), "pack")
	cmd := s.command(ctx, "index-pack", "--stdin", "-o", filepath.Join(packDir, "pack-incoming.idx"))
	cmd.Dir = s.RepoDir
	cmd.Stdin = strings.NewReader(string(stream))
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("gitstore: index-pack --stdin: %w", err)
	}
	return packDir, nil
}

// WriteLoose writes a single loose object via `git hash-object -w --stdin -t <kind>`.
func (s *Store) WriteLoose(ctx context.Context, kind storeapi.ObjectKind, data []byte) (objectid.ID, error) {
	name, ok := kindNames[kind]
	if !ok {
		return objectid.ID{}, fmt.Errorf("gitstore: unknown object kind %d", kind)
	}
	cmd := s.command(ctx, "hash-object", "-w", "--stdin", "-t", name)
	cmd.Stdin = strings.NewReader(string(data))
	out, err := cmd.Output()
	if err != nil {
		return objectid.ID{}, fmt.Errorf("gitstore: hash-object -w --stdin: %w", err)
	}
	id, err := objectid.Parse(s.Format, strings.TrimSpace(string(out)))
	if err != nil {
		return objectid.ID{}, fmt.Errorf("gitstore: parsing hash-object output: %w", err)
	}
	return id, nil
}

// SetAlternates overwrites <RepoDir>/objects/info/alternates with
// paths, one per line, creating objects/info if needed. A quarantine's
// own alternates file is written separately by internal/quarantine at
// creation; this method is for callers that manage alternates directly
// against the repository's object store.
func (s *Store) SetAlternates(ctx context.Context, paths []string) error {
	infoDir := filepath.Join(s.RepoDir, "objects", "info")
	if err := os.MkdirAll(infoDir, 0o777); err != nil {
		return fmt.Errorf("gitstore: creating %s: %w", infoDir, err)
	}
	return os.WriteFile(filepath.Join(infoDir, "alternates"), []byte(strings.Join(paths, "\n")+"\n"), 0o666)
}

// Promote delegates to the active quarantine's own Promote, which
// performs the rename-with-rollback migration into the repository's
// permanent object store.
func (s *Store) Promote(ctx context.Context, fromDir string) error {
	if s.Q == nil {
		return fmt.Errorf("gitstore: Promote requires an active quarantine")
	}
	return s.Q.Promote()
}

// Resolve looks up name via `git for-each-ref`, since that single
// invocation reports both the object id and, for a symbolic ref, its
// target -- the information storeapi.RefStore.Resolve needs in one
// shot.
func (s *Store) Resolve(ctx context.Context, name refname.Name) (objectid.ID, string, error) {
	cmd := s.command(ctx, "for-each-ref",
		"--format=%(objectname) %(symref)", "--count=1", name.String())
	out, err := cmd.Output()
	if err != nil {
		return objectid.ID{}, "", fmt.Errorf("gitstore: resolving %s: %w", name, err)
	}
	line := strings.TrimSpace(string(out))
	if line == "" {
		return objectid.ID{}, "", storeapi.ErrRefNotFound
	}
	fields := strings.SplitN(line, " ", 2)
	id, err := objectid.Parse(s.Format, fields[0])
	if err != nil {
		return objectid.ID{}, "", fmt.Errorf("gitstore: parsing object id for %s: %w", name, err)
	}
	symref := ""
	if len(fields) > 1 {
		symref = fields[1]
	}
	return id, symref, nil
}

// IterVisible enumerates every ref via `git for-each-ref`, skipping
// anything hidden reports true for.
func (s *Store) IterVisible(ctx context.Context, hidden func(name string) bool, fn func(name string, id objectid.ID) error) error {
	cmd := s.command(ctx, "for-each-ref", "--format=%(objectname) %(refname)")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("gitstore: creating for-each-ref stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("gitstore: starting for-each-ref: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var iterErr error
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), " ", 2)
		if len(fields) != 2 {
			continue
		}
		if hidden != nil && hidden(fields[1]) {
			continue
		}
		id, err := objectid.Parse(s.Format, fields[0])
		if err != nil {
			iterErr = fmt.Errorf("gitstore: parsing object id for %s: %w", fields[1], err)
			break
		}
		if err := fn(fields[1], id); err != nil {
			iterErr = err
			break
		}
	}
	if err := scanner.Err(); err != nil && iterErr == nil {
		iterErr = err
	}

	waitErr := cmd.Wait()
	if iterErr != nil {
		return iterErr
	}
	if waitErr != nil {
		return fmt.Errorf("gitstore: for-each-ref: %w", waitErr)
	}
	return nil
}

// BeginTransaction starts a ref update scoped to a single
// `git update-ref --stdin -z` invocation: one real invocation per
// staged command in non-atomic mode, one batched invocation (wrapped
// in start/prepare/commit) in atomic mode.
func (s *Store) BeginTransaction(ctx context.Context, atomic bool) (storeapi.Handle, error) {
	return &txHandle{store: s, ctx: ctx, atomic: atomic}, nil
}

type txHandle struct {
	store  *Store
	ctx    context.Context
	atomic bool
	lines  []string
}

func (h *txHandle) SupportsAtomic() bool { return true }

func (h *txHandle) Update(ctx context.Context, name refname.Name, old, new objectid.ID) error {
	h.lines = append(h.lines, fmt.Sprintf("update %s\x00%s\x00%s\x00", name, new, old))
	return nil
}

func (h *txHandle) Delete(ctx context.Context, name refname.Name, old objectid.ID) error {
	h.lines = append(h.lines, fmt.Sprintf("delete %s\x00%s\x00", name, old))
	return nil
}

func (h *txHandle) Commit(ctx context.Context) error {
	if len(h.lines) == 0 {
		return nil
	}

	var body strings.Builder
	if h.atomic {
		body.WriteString("start\x00")
	}
	for _, line := range h.lines {
		body.WriteString(line)
	}
	if h.atomic {
		body.WriteString("prepare\x00commit\x00")
	}

	cmd := h.store.command(ctx, "update-ref", "--stdin", "-z")
	cmd.Stdin = strings.NewReader(body.String())
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("gitstore: update-ref --stdin: %w: %s", err, out)
	}
	return nil
}

func (h *txHandle) Abort(ctx context.Context) error {
	h.lines = nil
	return nil
}

var _ storeapi.RefStore = (*Store)(nil)
var _ storeapi.ObjectStore = (*Store)(nil)
var _ storeapi.Handle = (*txHandle)(nil)
