// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Fatal writes "error: err" to stderr and exits with code 1.
func Fatal(err error) {
	Exit(err, 1)
}

// Exit writes "error: err" to stderr and exits with code. An
// *exec.ExitError from a child the binary ran is passed through as the
// child's own exit status, without a message: the child has already
// reported its failure.
func Exit(err error, code int) {
	os.Exit(report(os.Stderr, err, code))
}

// report writes the message for err and returns the exit status.
func report(w io.Writer, err error, code int) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		return exitErr.ExitCode()
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return code
}
