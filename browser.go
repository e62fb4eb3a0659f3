package main

import (
	"errors"
	"os/exec"
	"runtime"
)

// openBrowser opens url with the platform's default handler. It only starts
// the handler; whether a browser actually appears is not observable.
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		if _, err := exec.LookPath("xdg-open"); err != nil {
			return errors.New("xdg-open not found")
		}

		cmd = exec.Command("xdg-open", url)
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	// Reap the handler so a long-running daemon keeps no zombies.
	go func() { _ = cmd.Wait() }()

	return nil
}
