// Package connectivity checks that every newly introduced object is
// reachable from either the pushed refs or the repository's existing
// history: the server must never accept a ref update whose new value
// points into a disconnected object graph. Checker can run the check
// either batched (one `git rev-list --stdin` covering every command)
// or per-object, for isolating which specific update failed after a
// batch failure.
package connectivity

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/ossgit/receive-pack/internal/command"
)

// Checker runs git's own reachability traversal against a set of
// candidate object ids, scoped to one quarantine's alternates.
type Checker struct {
	MainStoreDir  string
	QuarantineDir string
}

func (c *Checker) env() []string {
	return append(os.Environ(),
		"GIT_ALTERNATE_OBJECT_DIRECTORIES="+c.MainStoreDir,
		"GIT_OBJECT_DIRECTORY="+c.QuarantineDir,
	)
}

// candidates returns the "new" object id of every command that is not
// a deletion. Deletions introduce no new objects and need no check.
func candidates(commands []command.Update) []command.Update {
	var res []command.Update
	for _, c := range commands {
		if !c.IsDelete() {
			res = append(res, c)
		}
	}
	return res
}

// CheckBatch runs a single `git rev-list --objects --stdin --not
// --exclude-hidden=receive --all --alternate-refs` over every
// non-delete command's new id at once, the default mode: one process
// covers the whole push. Returns nil if every new id is reachable
// through a path that bottoms out at the pushed set or the existing
// repository, i.e. introduces no object the receiving side can't
// already explain.
func (c *Checker) CheckBatch(ctx context.Context, commands []command.Update) error {
	pending := candidates(commands)
	if len(pending) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, "git",
		"rev-list", "--objects", "--no-object-names", "--stdin",
		"--not", "--exclude-hidden=receive", "--all", "--alternate-refs",
	)
	cmd.Env = c.env()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("connectivity: creating stdin pipe: %w", err)
	}
	var stderr bytesBuffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("connectivity: starting rev-list: %w", err)
	}

	w := bufio.NewWriter(stdin)
	for _, u := range pending {
		if _, err := fmt.Fprintln(w, u.New.String()); err != nil {
			stdin.Close()
			return fmt.Errorf("connectivity: writing rev-list input: %w", err)
		}
	}
	writeErr := w.Flush()
	stdin.Close()
	if writeErr != nil {
		return fmt.Errorf("connectivity: flushing rev-list input: %w", writeErr)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("connectivity: rev-list reported unreachable objects: %w (%s)", err, stderr.String())
	}
	return nil
}

// CheckObject runs the single-oid fallback, used when batched checking
// is disabled via configuration or when isolating which specific
// update failed after a batch failure.
func (c *Checker) CheckObject(ctx context.Context, oid string) error {
	cmd := exec.CommandContext(ctx, "git",
		"rev-list", "--objects", "--no-object-names", oid,
		"--not", "--all", "--alternate-refs",
	)
	cmd.Env = c.env()

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("connectivity: %s is not connected: %w: %s", oid, err, out)
	}
	return nil
}

// bytesBuffer is a tiny io.Writer+String() adapter, avoiding a
// dependency on bytes.Buffer's larger surface for what is just
// diagnostic stderr capture.
type bytesBuffer struct {
	data []byte
}

func (b *bytesBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *bytesBuffer) String() string { return string(b.data) }

var _ io.Writer = (*bytesBuffer)(nil)
