//go:build unix

package isolation

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the worker in its own process group so that everything
// it spawns can be killed together.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	return syscall.Kill(-p.Pid, syscall.SIGKILL)
}
