//go:build !windows

package update

import (
	"os/exec"
	"runtime"
)

// startElevated opens the installer package on macOS and runs it through
// pkexec elsewhere when available.
func startElevated(path string) error {
	cmd := exec.Command(path)

	if runtime.GOOS == "darwin" {
		cmd = exec.Command("open", path)
	} else if pkexec, err := exec.LookPath("pkexec"); err == nil {
		cmd = exec.Command(pkexec, path)
	}

	_, err := startDetached(cmd)

	return err
}
