//go:build !linux

package executor

import "os/exec"

// awaitExit is a no-op where waitid without reaping is unavailable; the
// exited flag is then set right after cmd.Wait.
func awaitExit(*exec.Cmd) error { return nil }
