package update

import "os/exec"

// startDetached starts cmd and reaps it in the background so a long-running
// daemon does not accumulate zombie children. The returned channel yields
// the exit status once the process ends.
func startDetached(cmd *exec.Cmd) (<-chan error, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	done := make(chan error, 1)

	go func() {
		done <- cmd.Wait()
	}()

	return done, nil
}
