//go:build windows

package process

import (
	"os"
	"os/exec"

	"golang.org/x/sys/windows"
)

var invalidArgumentErrs = [...]error{exec.ErrNotFound, os.ErrPermission, os.ErrNotExist, windows.ERROR_BAD_EXE_FORMAT}

func configureProcessTermination(cmd *exec.Cmd) {}
