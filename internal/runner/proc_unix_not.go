//go:build !unix

package runner

import (
	"os"
	"os/exec"
)

func setProcAttr(_ *exec.Cmd) {}

// terminate has no graceful variant without unix signals
func terminate(p *os.Process) error {
	return p.Kill()
}

func kill(p *os.Process) error {
	return p.Kill()
}
