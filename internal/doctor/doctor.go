// Package doctor verifies that a host is set up to run conversions.
package doctor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/hashicorp/go-version"
)

// Status is the outcome of a single check.
type Status int

const (
	OK Status = iota
	Warn
	Fail
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case Warn:
		return "warn"
	default:
		return "fail"
	}
}

// Result is what a check found.
type Result struct {
	Name    string
	Status  Status
	Message string
	Hint    string
}

// Check inspects one aspect of the setup.
type Check func(ctx context.Context) Result

// MinRcloneVersion is the oldest rclone the upload script is known to work with.
const MinRcloneVersion = "1.60.0"

// commandTimeout bounds each external command a check runs.
const commandTimeout = 5 * time.Second

var rcloneVersionPattern = regexp.MustCompile(`rclone v?(\d+\.\d+(?:\.\d+)?)`)

// Env reads configuration values; config.GetEnv in production.
type Env func(key string) string

// Runner runs an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands on the host.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// EnvCheck requires each key to be set to something other than a template placeholder.
func EnvCheck(env Env, keys ...string) Check {
	return func(context.Context) Result {
		r := Result{Name: "Environment configuration"}
		var missing []string
		for _, k := range keys {
			v := env(k)
			if v == "" || strings.HasPrefix(v, "your_") {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			r.Status = Fail
			r.Message = "missing: " + strings.Join(missing, ", ")
			r.Hint = "set them in the environment or in the file named by CONFIG_FILE"
			return r
		}
		r.Message = "configured"
		return r
	}
}

// OptionalEnvCheck warns when keys that enable optional features are unset.
func OptionalEnvCheck(env Env, feature string, keys ...string) Check {
	return func(context.Context) Result {
		r := Result{Name: feature}
		for _, k := range keys {
			if env(k) == "" && env(k+"_FILE") == "" {
				r.Status = Warn
				r.Message = k + " not set, " + strings.ToLower(feature) + " disabled"
				return r
			}
		}
		r.Message = "enabled"
		return r
	}
}

// FileCheck requires each path under root to exist.
func FileCheck(name, root string, paths ...string) Check {
	return func(context.Context) Result {
		r := Result{Name: name}
		var missing []string
		for _, p := range paths {
			if _, err := os.Stat(filepath.Join(root, p)); err != nil {
				missing = append(missing, p)
			}
		}
		if len(missing) > 0 {
			r.Status = Fail
			r.Message = "missing: " + strings.Join(missing, ", ")
			return r
		}
		r.Message = fmt.Sprintf("%d present", len(paths))
		return r
	}
}

// RcloneCheck requires a recent rclone with the named remote configured.
// rclone only runs inside the conversion workflow, so problems are warnings.
func RcloneCheck(run Runner, remote string) Check {
	return func(ctx context.Context) Result {
		r := Result{Name: "rclone", Status: Warn}

		out, err := run(ctx, "rclone", "version")
		if err != nil {
			r.Message = "rclone not installed"
			r.Hint = "rclone is needed by the conversion workflow, not by this service"
			return r
		}

		m := rcloneVersionPattern.FindStringSubmatch(string(out))
		if m == nil {
			r.Message = "could not parse rclone version"
			return r
		}
		current, err := version.NewVersion(m[1])
		if err != nil {
			r.Message = fmt.Sprintf("invalid rclone version %s: %v", m[1], err)
			return r
		}
		minimum := version.Must(version.NewVersion(MinRcloneVersion))
		if current.LessThan(minimum) {
			r.Message = fmt.Sprintf("rclone %s is older than %s", current, minimum)
			r.Hint = "upgrade with: rclone selfupdate"
			return r
		}

		out, err = run(ctx, "rclone", "listremotes")
		if err != nil {
			r.Message = "rclone listremotes failed"
			return r
		}
		remotes := strings.Fields(string(out))
		if len(remotes) == 0 {
			r.Message = "no rclone remotes configured"
			r.Hint = "run: rclone config"
			return r
		}
		if remote != "" && !containsRemote(remotes, remote) {
			r.Message = fmt.Sprintf("remote %q not configured (have %s)", remote, strings.Join(remotes, " "))
			r.Hint = "run: rclone config"
			return r
		}

		r.Status = OK
		r.Message = fmt.Sprintf("rclone %s, remotes: %s", current, strings.Join(remotes, " "))
		return r
	}
}

func containsRemote(remotes []string, name string) bool {
	name = strings.TrimSuffix(name, ":")
	for _, r := range remotes {
		if strings.TrimSuffix(r, ":") == name {
			return true
		}
	}
	return false
}

// ReadyCheck reports whether the configured runner backend answers.
func ReadyCheck(name string, ready func(ctx context.Context) error) Check {
	return func(ctx context.Context) Result {
		r := Result{Name: name}
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := ready(ctx); err != nil {
			r.Status = Fail
			r.Message = err.Error()
			return r
		}
		r.Message = "reachable"
		return r
	}
}

// Run executes checks in order.
func Run(ctx context.Context, checks ...Check) []Result {
	results := make([]Result, 0, len(checks))
	for _, c := range checks {
		results = append(results, c(ctx))
	}
	return results
}

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	failColor   = color.New(color.FgRed)
)

// Report prints results and returns true when nothing failed.
func Report(w io.Writer, results []Result) bool {
	headerColor.Fprintln(w, "ROM Builder - Setup Verification")
	fmt.Fprintln(w)

	var passed, failed int
	for _, r := range results {
		switch r.Status {
		case OK:
			okColor.Fprint(w, "✓ ")
			passed++
		case Warn:
			warnColor.Fprint(w, "⚠ ")
		default:
			failColor.Fprint(w, "✗ ")
			failed++
		}
		fmt.Fprintf(w, "%s: %s\n", r.Name, r.Message)
		if r.Hint != "" {
			fmt.Fprintf(w, "  %s\n", r.Hint)
		}
	}

	fmt.Fprintln(w)
	summary := fmt.Sprintf("%d/%d checks passed", passed, len(results))
	if failed > 0 {
		failColor.Fprintln(w, summary+", fix the failures above before serving")
		return false
	}
	okColor.Fprintln(w, summary)
	return true
}
