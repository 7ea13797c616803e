// Package objectformat detects a repository's negotiated hash
// algorithm by shelling out to `git rev-parse --show-object-format`.
package objectformat

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ossgit/receive-pack/internal/objectid"
)

// Detect returns the object format in effect for the repo at dir.
func Detect(ctx context.Context, dir string) (objectid.Format, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-object-format")
	cmd.Dir = dir

	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("objectformat: reading object format: %w", err)
	}

	value := strings.TrimSpace(string(out))
	f, err := objectid.ParseFormat(value)
	if err != nil {
		return 0, fmt.Errorf("objectformat: %w", err)
	}
	return f, nil
}

// NullOIDHex returns the all-zero object id, in hex, for f.
func NullOIDHex(f objectid.Format) string {
	return objectid.Zero(f).String()
}
