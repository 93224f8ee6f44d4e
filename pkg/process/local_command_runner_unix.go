//go:build unix

package process

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

var invalidArgumentErrs = [...]error{exec.ErrNotFound, os.ErrPermission, unix.ENOENT, unix.ENOEXEC}

// configureProcessTermination places the process in its own process
// group, so that any subprocesses it spawns are terminated as well when
// the process is cancelled.
func configureProcessTermination(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
}
