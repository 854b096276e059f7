//go:build !windows

package supervisor

import (
	"os/exec"
	"strings"
	"syscall"
)

// buildCommand chooses the invocation mode for a spec command string.
// Anything containing whitespace runs through an explicit shell so
// pipelines, quoting and multi-token commands behave; a single bare token
// is exec'd directly.
func buildCommand(cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if strings.ContainsAny(cmdStr, " \t") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	// #nosec G204
	return exec.Command(cmdStr)
}

// setProcessGroup places the child in its own process group so one signal
// reaches its entire subtree.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup sends sig to the whole process group rooted at pid.
func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

// tryReap performs a non-blocking wait on pid to detect an immediate exit
// right after spawn, before the wait goroutine is attached.
func tryReap(pid int) (bool, error) {
	var ws syscall.WaitStatus
	reaped, err := syscall.Wait4(pid, &ws, syscall.WNOHANG, nil)
	if err != nil {
		return false, err
	}
	return reaped == pid, nil
}
