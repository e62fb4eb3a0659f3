//go:build windows

package update

import (
	"os/exec"
	"strings"
)

// startElevated asks the shell to run the installer through UAC.
func startElevated(path string) error {
	quoted := "'" + strings.ReplaceAll(path, "'", "''") + "'"

	_, err := startDetached(exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command",
		"Start-Process -FilePath "+quoted+" -Verb RunAs"))

	return err
}
