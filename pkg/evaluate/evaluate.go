// Package evaluate invokes the external SCAP evaluation tool against a
// validated session and interprets its exit code.
package evaluate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scapworks/scapfetch/pkg/constant"
	"github.com/scapworks/scapfetch/pkg/scap"
	"github.com/scapworks/scapfetch/pkg/xccdf"
)

// Exit codes of `oscap xccdf eval`. Exit code 2 means the evaluation ran to
// completion and some rules failed; it is a normal outcome, not a tool
// failure. Conflating it either way would report every non-compliant system
// as "evaluation broken" or hide failed rules entirely, so the mapping is
// kept explicit and tested.
const (
	exitCompliant    = 0
	exitNonCompliant = 2
)

// Runner invokes the evaluation tool as a subprocess. The zero value uses
// the oscap binary from PATH with the default timeout.
type Runner struct {
	// OscapPath overrides the evaluation tool binary.
	OscapPath string
	// Timeout bounds a single evaluation run.
	Timeout time.Duration

	// execCmdFn can be set by tests to mock the subprocess execution. If
	// nil, execCmd is used.
	execCmdFn func(ctx context.Context, name string, args []string) (stdout, stderr []byte, exitCode int, err error)
}

// Evaluate runs the tool against the session's content with its selected
// profile, writing the results artifact to resultsPath. The session must be
// validated.
//
// The returned outcome is always populated; a tool failure is reported as
// EvalToolError with the captured stderr, never as a bare Go error, so the
// operator sees the tool's own diagnostics verbatim.
func (r *Runner) Evaluate(ctx context.Context, session *xccdf.Session, resultsPath string) (*scap.EvaluationOutcome, error) {
	if session.State() != xccdf.StateValidated {
		return nil, fmt.Errorf("evaluate: session is %s, want %s", session.State(), xccdf.StateValidated)
	}
	profile, ok := session.SelectedProfile()
	if !ok {
		return nil, fmt.Errorf("evaluate: session has no selected profile")
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = constant.DefaultEvalTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name := r.OscapPath
	if name == "" {
		name = constant.OscapBinary
	}
	args := buildArgs(session, profile.ID, resultsPath)

	execCmdFn := r.execCmdFn
	if execCmdFn == nil {
		execCmdFn = execCmd
	}
	log.Debug().Str("tool", name).Strs("args", args).Msg("starting evaluation")
	start := time.Now()
	stdout, stderr, exitCode, execErr := execCmdFn(ctx, name, args)
	log.Debug().Dur("took", time.Since(start)).Int("exit_code", exitCode).Msg("evaluation finished")

	outcome := &scap.EvaluationOutcome{
		ExitCode:    exitCode,
		Stdout:      string(stdout),
		Stderr:      string(stderr),
		ResultsPath: resultsPath,
	}
	switch {
	case execErr == nil && exitCode == exitCompliant:
		outcome.Result = scap.EvalCompliant
	case exitCode == exitNonCompliant:
		outcome.Result = scap.EvalNonCompliant
	default:
		outcome.Result = scap.EvalToolError
		if execErr != nil && outcome.Stderr == "" {
			outcome.Stderr = execErr.Error()
		}
	}
	return outcome, nil
}

// buildArgs assembles the oscap command line from the session.
func buildArgs(session *xccdf.Session, profileID, resultsPath string) []string {
	paths := session.Paths()
	args := []string{"xccdf", "eval", "--profile", profileID, "--results", resultsPath}
	if paths.DatastreamID != "" {
		args = append(args, "--datastream-id", paths.DatastreamID)
	}
	if paths.BenchmarkID != "" {
		args = append(args, "--xccdf-id", paths.BenchmarkID)
	}
	if paths.TailoringPath != "" {
		args = append(args, "--tailoring-file", paths.TailoringPath)
	}
	if paths.CPEPath != "" {
		args = append(args, "--cpe", paths.CPEPath)
	}
	return append(args, paths.ContentFile)
}
