// Package host is the boundary between the components and their callers
// (the CLI and the desktop shell). It wires authorization, token storage,
// identity verification, federation, Drive backups, updates, and the backup
// scheduler together, and converts every component error into a Result.
// Failures are logged, recorded in the diagnostic journal, and reported as
// data; nothing here returns a process-fatal error.
package host

import (
	"context"
	"log/slog"
	"time"

	"github.com/ledgerhost/ledgerhost/internal/auth"
	"github.com/ledgerhost/ledgerhost/internal/backup"
	"github.com/ledgerhost/ledgerhost/internal/drive"
	"github.com/ledgerhost/ledgerhost/internal/federation"
	"github.com/ledgerhost/ledgerhost/internal/fault"
	"github.com/ledgerhost/ledgerhost/internal/idtoken"
	"github.com/ledgerhost/ledgerhost/internal/journal"
	"github.com/ledgerhost/ledgerhost/internal/tokenfile"
	"github.com/ledgerhost/ledgerhost/internal/update"
)

// Result is what callers see of an operation: success, a message suitable
// for display, and the failure category when OK is false.
type Result struct {
	OK      bool
	Message string
	Kind    fault.Kind
}

// Authorizer runs interactive loopback authorization. *auth.Authorizer
// satisfies it.
type Authorizer interface {
	BeginAuthorization(ctx context.Context, onURLReady func(string)) (auth.Attempt, error)
	LastAuthorizationURL() string
}

// TokenManager owns the persisted token set. *auth.Manager satisfies it.
type TokenManager interface {
	AccessToken(ctx context.Context) (string, error)
	Tokens() *tokenfile.TokenSet
	ClientID() string
	Logout() error
}

// IDVerifier checks identity tokens. *idtoken.Verifier satisfies it.
type IDVerifier interface {
	Verify(ctx context.Context, raw, audience string) (*idtoken.Claims, error)
}

// Federator performs the backend sign-in. *federation.Client satisfies it.
type Federator interface {
	SignIn(ctx context.Context, idToken string) (*federation.Session, error)
}

// DriveClient is the cloud backup target. *drive.Client satisfies it.
type DriveClient interface {
	List(ctx context.Context) ([]drive.File, error)
	Upload(ctx context.Context, localPath string) (string, error)
	UploadTagged(ctx context.Context, localPath, tag string, keep int) (string, error)
	Delete(ctx context.Context, fileID string) error
	Download(ctx context.Context, fileID, dir string) (string, error)
}

// Updater is the update channel. *update.Channel satisfies it.
type Updater interface {
	CurrentVersion() string
	LatestManifest(ctx context.Context) (*update.Manifest, string)
	IsNewer(latest string) bool
	Supported(m *update.Manifest) bool
	DownloadToTemp(ctx context.Context, rawURL string, opts update.DownloadOptions) (string, error)
	CleanupOldTempInstallers(retentionDays, keepLatest int) int
	LaunchInstaller(installerPath string) error
}

// Scheduler runs backup cycles. *backup.Driver satisfies it.
type Scheduler interface {
	Run(ctx context.Context) error
	RunOnce(ctx context.Context, force bool) (backup.RunResult, error)
	OnResult(fn func(backup.RunResult, error))
}

// Journal is the diagnostic sink. *journal.Journal satisfies it.
type Journal interface {
	Record(ctx context.Context, ev journal.Event) error
	Recent(ctx context.Context, limit int) ([]journal.Event, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Deps are the collaborators of a Service. Federation, Journal and OpenURL
// may be nil.
type Deps struct {
	Authorizer Authorizer
	Tokens     TokenManager
	Verifier   IDVerifier
	Federation Federator
	Drive      DriveClient
	Updates    Updater
	Settings   *backup.SettingsStore
	Scheduler  Scheduler
	Journal    Journal
	// BackupsDir receives downloaded backups and holds local snapshots.
	BackupsDir string
	// UploadKeep is the retention count for tagged uploads.
	UploadKeep int
	// OpenURL opens a page in the system browser.
	OpenURL func(string) error
}

// Service exposes every host-facing operation.
type Service struct {
	deps   Deps
	logger *slog.Logger

	// nowFunc is injectable for tests.
	nowFunc func() time.Time
}

// New returns a Service over deps.
func New(deps Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	if deps.UploadKeep <= 0 {
		deps.UploadKeep = drive.DefaultKeep
	}

	return &Service{deps: deps, logger: logger, nowFunc: time.Now}
}

// messages maps failure kinds to text shown to users. Diagnostic detail goes
// to the log and the journal instead.
var messages = map[fault.Kind]string{
	fault.ListenerBindFailure:  "could not start the local sign-in listener",
	fault.AuthorizationTimeout: "sign-in was not completed in time; try again or open the sign-in link manually",
	fault.AuthorizationFailure: "sign-in was cancelled or refused",
	fault.StateMismatch:        "sign-in response did not match this request; try again",
	fault.TokenExchangeFailure: "could not complete sign-in with the identity provider",
	fault.RefreshFailure:       "your session has expired; sign in again",
	fault.NotAuthenticated:     "not signed in",
	fault.VerificationFailure:  "the identity token could not be verified",
	fault.NetworkFailure:       "the service could not be reached; check your connection",
	fault.ChecksumMismatch:     "the downloaded file failed its integrity check",
	fault.StorageFailure:       "local data could not be read or written",
}

func messageFor(kind fault.Kind) string {
	if msg, ok := messages[kind]; ok {
		return msg
	}

	return "the operation failed"
}

// succeed records a successful operation and returns its Result.
func (s *Service) succeed(ctx context.Context, op, msg string) Result {
	s.logger.Info(msg, slog.String("op", op))
	s.record(ctx, journal.Event{Op: op, OK: true, Message: msg})

	return Result{OK: true, Message: msg}
}

// fail logs err, records it, and returns the user-facing Result.
func (s *Service) fail(ctx context.Context, op string, err error) Result {
	kind := fault.KindOf(err)

	s.logger.Warn("operation failed",
		slog.String("op", op),
		slog.String("kind", kind.String()),
		slog.String("error", err.Error()),
	)

	s.record(ctx, journal.Event{Op: op, Kind: kind.String(), Message: err.Error()})

	return Result{Kind: kind, Message: messageFor(kind)}
}

// record forwards ev to the journal. The event is written even when ctx has
// been cancelled, since cancellation is often what is being recorded.
func (s *Service) record(ctx context.Context, ev journal.Event) {
	if s.deps.Journal == nil {
		return
	}

	if err := s.deps.Journal.Record(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Debug("journal write failed", slog.String("op", ev.Op), slog.String("error", err.Error()))
	}
}

// History returns up to limit recent journal events, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]journal.Event, Result) {
	if s.deps.Journal == nil {
		return nil, Result{Kind: fault.StorageFailure, Message: "no diagnostic journal is configured"}
	}

	events, err := s.deps.Journal.Recent(ctx, limit)
	if err != nil {
		kind := fault.StorageFailure
		s.logger.Warn("reading journal failed", slog.String("error", err.Error()))

		return nil, Result{Kind: kind, Message: messageFor(kind)}
	}

	return events, Result{OK: true}
}

// PruneHistory drops journal events older than maxAge.
func (s *Service) PruneHistory(ctx context.Context, maxAge time.Duration) (int64, Result) {
	if s.deps.Journal == nil {
		return 0, Result{OK: true}
	}

	n, err := s.deps.Journal.PruneBefore(ctx, s.nowFunc().Add(-maxAge))
	if err != nil {
		s.logger.Warn("pruning journal failed", slog.String("error", err.Error()))
		return 0, Result{Kind: fault.StorageFailure, Message: messageFor(fault.StorageFailure)}
	}

	return n, Result{OK: true}
}
