// Package hooks implements the pre-receive/update/post-receive
// dispatch contracts and the proc-receive helper co-protocol: shell
// out to a child process, forward its stderr onto the progress
// sideband, and judge success purely by exit code.
package hooks

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ossgit/receive-pack/internal/command"
	"github.com/ossgit/receive-pack/internal/progress"
)

// Result is the outcome of running one hook.
type Result struct {
	ExitCode int
	Ran      bool // false when the hook file doesn't exist
}

// OK reports whether the hook succeeded (or didn't exist -- a missing
// hook is not a failure).
func (r Result) OK() bool { return !r.Ran || r.ExitCode == 0 }

// Env is the environment every hook invocation receives, per spec.md
// §4.8: quarantine path(s), push-option count/values, and session id.
type Env struct {
	Dir               string
	GitObjectDir      string
	GitAlternateDirs  string
	GitQuarantinePath string
	SessionID         string
	PushOptions       []string
}

func (e Env) vars() []string {
	vars := []string{
		"GIT_DIR=" + e.Dir,
		"GIT_OBJECT_DIRECTORY=" + e.GitObjectDir,
		"GIT_ALTERNATE_OBJECT_DIRECTORIES=" + e.GitAlternateDirs,
		"GIT_QUARANTINE_PATH=" + e.GitQuarantinePath,
		"GIT_PUSH_OPTION_COUNT=" + strconv.Itoa(len(e.PushOptions)),
	}
	for i, opt := range e.PushOptions {
		vars = append(vars, fmt.Sprintf("GIT_PUSH_OPTION_%d=%s", i, opt))
	}
	if e.SessionID != "" {
		vars = append(vars, "GIT_TR2_PARENT_SID="+e.SessionID)
	}
	return vars
}

// Runner runs the three lifecycle hooks. Hooks live under
// <Dir>/hooks/<name>, the same layout `git receive-pack` itself uses.
type Runner struct {
	Dir  string // repository's .git directory
	Sink progress.Sink
}

func (r *Runner) path(name string) string {
	return filepath.Join(r.Dir, "hooks", name)
}

// run invokes hookPath, if present, streaming in to its stdin and
// forwarding its stderr to r.Sink. args are passed as argv.
func (r *Runner) run(ctx context.Context, hookPath string, args []string, env Env, in io.Reader) (Result, error) {
	cmd := exec.CommandContext(ctx, hookPath, args...)
	cmd.Dir = env.Dir
	cmd.Env = append(cmd.Env, env.vars()...)
	cmd.Stdin = in

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("hooks: creating stderr pipe for %s: %w", hookPath, err)
	}

	if err := cmd.Start(); err != nil {
		if isNotExist(err) {
			return Result{Ran: false}, nil
		}
		return Result{}, fmt.Errorf("hooks: starting %s: %w", hookPath, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s := bufio.NewScanner(stderr)
		for s.Scan() {
			if r.Sink != nil {
				_ = r.Sink.Progress(s.Text())
			}
		}
	}()
	<-done

	err = cmd.Wait()
	exitCode := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return Result{}, fmt.Errorf("hooks: running %s: %w", hookPath, err)
		}
		exitCode = exitErr.ExitCode()
	}
	return Result{Ran: true, ExitCode: exitCode}, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// commandLines renders commands as "<old> SP <new> SP <refname> LF",
// the stdin shape pre-receive and post-receive share.
func commandLines(commands []command.Update) string {
	var out []byte
	for _, c := range commands {
		out = append(out, c.Old.String()...)
		out = append(out, ' ')
		out = append(out, c.New.String()...)
		out = append(out, ' ')
		out = append(out, c.RawRef...)
		out = append(out, '\n')
	}
	return string(out)
}

// RunPreReceive runs the pre-receive hook once for the whole batch. A
// non-zero exit rejects every command -- the caller is responsible for
// turning that into an rpcerr and marking every command "ng pre-receive
// hook declined".
func (r *Runner) RunPreReceive(ctx context.Context, commands []command.Update, env Env) (Result, error) {
	return r.run(ctx, r.path("pre-receive"), nil, env, strings.NewReader(commandLines(commands)))
}

// RunUpdate runs the update hook for a single command. Its failure
// rejects only that command.
func (r *Runner) RunUpdate(ctx context.Context, c command.Update, env Env) (Result, error) {
	return r.run(ctx, r.path("update"), []string{c.RawRef, c.Old.String(), c.New.String()}, env, nil)
}

// RunPostReceive runs the post-receive hook for the commands that were
// actually applied. Its failure does not affect the reported result.
func (r *Runner) RunPostReceive(ctx context.Context, commands []command.Update, env Env) (Result, error) {
	return r.run(ctx, r.path("post-receive"), nil, env, strings.NewReader(commandLines(commands)))
}
