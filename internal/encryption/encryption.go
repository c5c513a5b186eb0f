// Package encryption hands copied files to an external encryption command.
package encryption

import (
	"context"
	"os/exec"
	"path"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/juju/errors"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("multisave.encryption")

// Helper runs Command with Args plus the target path for every file whose
// base name matches one of Patterns.
type Helper struct {
	Command  string
	Args     []string
	Patterns []string
}

// New builds a helper from a command line and the configured extensions.
// Extensions may be given as ".pdf" or as glob patterns like "*.pdf".
func New(commandLine string, extensions []string) (*Helper, error) {
	fields := strings.Fields(commandLine)

	patterns := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		pattern := strings.ToLower(strings.TrimSpace(ext))
		if pattern == "" {
			continue
		}

		if strings.HasPrefix(pattern, ".") {
			pattern = "*" + pattern
		}

		if !doublestar.ValidatePattern(pattern) {
			return nil, errors.NotValidf("encryption pattern %q", ext)
		}

		patterns = append(patterns, pattern)
	}

	helper := &Helper{Patterns: patterns}
	if len(fields) > 0 {
		helper.Command = fields[0]
		helper.Args = fields[1:]
	}

	return helper, nil
}

// ShouldEncrypt reports whether path is configured for encryption. A helper
// without a command never encrypts.
func (h *Helper) ShouldEncrypt(p string) bool {
	if h == nil || h.Command == "" {
		return false
	}

	name := strings.ToLower(path.Base(strings.ReplaceAll(p, "\\", "/")))

	for _, pattern := range h.Patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}

	return false
}

// Encrypt runs the command on path and reports how long it took.
func (h *Helper) Encrypt(ctx context.Context, p string) (time.Duration, error) {
	args := append(append([]string(nil), h.Args...), p)
	start := time.Now()

	//nolint:gosec // the command comes from the operator's own settings
	out, err := exec.CommandContext(ctx, h.Command, args...).CombinedOutput()
	elapsed := time.Since(start)

	if err != nil {
		logger.Debugf("encryption output for %s: %s", p, out)
		return elapsed, errors.Annotatef(err, "encrypting %s", p)
	}

	logger.Tracef("encrypted %s in %s", p, elapsed)

	return elapsed, nil
}
