package host

import (
	"context"
	"fmt"

	"github.com/ledgerhost/ledgerhost/internal/backup"
	"github.com/ledgerhost/ledgerhost/internal/fault"
)

// Settings returns the host backup settings. A corrupt document yields the
// defaults together with a failed Result.
func (s *Service) Settings(ctx context.Context) (backup.Settings, Result) {
	settings, err := s.deps.Settings.Load()
	if err != nil {
		return settings, s.fail(ctx, "settings.load", err)
	}

	return settings, Result{OK: true}
}

// UpdateSettings applies fn to the stored settings and saves them. A
// schedule outside 1, 3 or 7 days is rejected without saving.
func (s *Service) UpdateSettings(ctx context.Context, fn func(*backup.Settings)) (backup.Settings, Result) {
	const op = "settings.update"

	var invalid error

	settings, err := s.deps.Settings.Update(func(st *backup.Settings) {
		next := *st
		fn(&next)

		if !backup.ValidScheduleDays(next.ScheduleDays) {
			invalid = fmt.Errorf("schedule must be 1, 3 or 7 days, got %d", next.ScheduleDays)
			return
		}

		*st = next
	})

	if invalid != nil {
		return settings, Result{Message: invalid.Error(), Kind: fault.Unknown}
	}

	if err != nil {
		return settings, s.fail(ctx, op, err)
	}

	return settings, s.succeed(ctx, op, "settings saved")
}
