package evaluate

import (
	"bytes"
	"context"
	"os/exec"
)

// execCmd runs the evaluation tool and captures its streams separately;
// stderr carries the tool's operator-actionable diagnostics and must not be
// mixed into the report output.
func execCmd(ctx context.Context, name string, args []string) (stdout, stderr []byte, exitCode int, err error) {
	// initialize to -1 in case the process never starts
	exitCode = -1

	cmd := exec.CommandContext(ctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err = cmd.Run()
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	return outBuf.Bytes(), errBuf.Bytes(), exitCode, err
}
