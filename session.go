package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ledgerhost/ledgerhost/internal/auth"
	"github.com/ledgerhost/ledgerhost/internal/backup"
	"github.com/ledgerhost/ledgerhost/internal/config"
	"github.com/ledgerhost/ledgerhost/internal/drive"
	"github.com/ledgerhost/ledgerhost/internal/federation"
	"github.com/ledgerhost/ledgerhost/internal/host"
	"github.com/ledgerhost/ledgerhost/internal/idtoken"
	"github.com/ledgerhost/ledgerhost/internal/journal"
	"github.com/ledgerhost/ledgerhost/internal/tokenfile"
	"github.com/ledgerhost/ledgerhost/internal/update"
)

// keyringService names the OS credential store entry holding the token
// encryption identity.
const keyringService = "ledgerhost"

// metadataTimeout bounds token, JWKS and federation calls. Transfers use a
// client without an overall timeout and rely on the transport timeouts.
const metadataTimeout = 30 * time.Second

// dataDirPermissions keeps tokens, settings and the journal private.
const dataDirPermissions = 0o700

// Session holds the wired host service for one command invocation.
type Session struct {
	Service *host.Service
	Config  *config.Config

	journal *journal.Journal
}

// NewSession wires every component from the resolved config. A journal that
// cannot be opened is logged and skipped; the other components do not
// depend on it.
func NewSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Session, error) {
	if err := os.MkdirAll(cfg.DataDir, dataDirPermissions); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	meta := newMetadataHTTPClient(cfg)
	transfer := newTransferHTTPClient(cfg)

	store := tokenfile.NewStore(cfg.TokenPath(),
		tokenfile.NewKeyringSealer(keyringService, cfg.TokenPath()), logger)

	manager := auth.NewManager(auth.Config{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		AuthURL:      cfg.OAuth.AuthEndpoint,
		TokenURL:     cfg.OAuth.TokenEndpoint,
		Scopes:       cfg.OAuth.Scopes,
	}, store, meta, logger)

	authorizer := auth.NewAuthorizer(manager, auth.AuthorizerOptions{
		Timeout: cfg.AuthorizationTimeout(),
		OpenURL: openBrowser,
	}, logger)

	verifier := idtoken.NewVerifier(idtoken.NewKeySet(cfg.OAuth.JWKSEndpoint, meta, logger), cfg.OAuth.Issuers, logger)

	driveClient := drive.NewClient(drive.Config{
		APIURL:         cfg.Drive.APIURL,
		UploadURL:      cfg.Drive.UploadURL,
		Space:          cfg.Drive.Space,
		FilePrefix:     cfg.Drive.FilePrefix,
		DownloadPrefix: cfg.Drive.DownloadPrefix,
		UserAgent:      cfg.Network.UserAgent,
	}, transfer, manager, logger)

	channel := update.NewChannel(update.Config{
		ManifestURL:     cfg.Update.ManifestURL,
		LocalManifests:  cfg.Update.LocalManifests,
		CurrentVersion:  cfg.Update.CurrentVersion,
		ManifestTimeout: cfg.ManifestTimeout(),
		DownloadTimeout: cfg.DownloadTimeout(),
		TempDir:         cfg.Update.TempDir,
		Prefix:          cfg.Update.InstallerPrefix,
	}, transfer, logger)

	settings := backup.NewSettingsStore(cfg.SettingsPath(), logger)

	var requester backup.SnapshotRequester
	if cfg.Backup.SnapshotSource != "" {
		requester = backup.NewFileSnapshotProvider(cfg.Backup.SnapshotSource, cfg.BackupsDir(), logger)
	}

	driver := backup.NewDriver(backup.DriverConfig{
		Dir:          cfg.BackupsDir(),
		TickInterval: cfg.TickInterval(),
		GracePeriod:  cfg.GracePeriod(),
		UploadKeep:   cfg.Drive.Keep,
	}, settings, requester, backup.NewArchiver(cfg.BackupsDir(), cfg.Backup.ArchiveRetentionDays, logger),
		driveClient, logger)

	deps := host.Deps{
		Authorizer: authorizer,
		Tokens:     manager,
		Verifier:   verifier,
		Drive:      driveClient,
		Updates:    channel,
		Settings:   settings,
		Scheduler:  driver,
		BackupsDir: cfg.BackupsDir(),
		UploadKeep: cfg.Drive.Keep,
		OpenURL:    openBrowser,
	}

	if cfg.Federation.Enabled {
		deps.Federation = federation.NewClient(federation.Config{
			Endpoint:   cfg.Federation.Endpoint,
			APIKey:     cfg.Federation.APIKey,
			ProviderID: cfg.Federation.ProviderID,
			RequestURI: cfg.Federation.RequestURI,
		}, meta, logger)
	}

	s := &Session{Config: cfg}

	j, err := journal.Open(ctx, cfg.JournalPath(), logger)
	if err != nil {
		logger.Warn("diagnostic journal unavailable", slog.String("error", err.Error()))
	} else {
		s.journal = j
		deps.Journal = j
	}

	s.Service = host.New(deps, logger)

	return s, nil
}

// Close releases the journal.
func (s *Session) Close() {
	if s.journal != nil {
		s.journal.Close()
	}
}

func newTransport(cfg *config.Config) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{
		Timeout:   cfg.ConnectTimeout(),
		KeepAlive: 30 * time.Second,
	}).DialContext
	t.ResponseHeaderTimeout = cfg.DataTimeout()

	return t
}

// newMetadataHTTPClient is used for small request/response calls.
func newMetadataHTTPClient(cfg *config.Config) *http.Client {
	return &http.Client{Transport: newTransport(cfg), Timeout: metadataTimeout}
}

// newTransferHTTPClient has no overall timeout so large backups and
// installers are bounded only by their own deadlines.
func newTransferHTTPClient(cfg *config.Config) *http.Client {
	return &http.Client{Transport: newTransport(cfg)}
}

// openSession builds the logger and session for a command. The returned
// cleanup must be deferred.
func openSession(ctx context.Context) (*Session, *slog.Logger, error) {
	if resolvedCfg == nil {
		return nil, nil, fmt.Errorf("no configuration loaded")
	}

	logger := buildLogger(resolvedCfg)

	s, err := NewSession(ctx, resolvedCfg, logger)
	if err != nil {
		return nil, nil, err
	}

	return s, logger, nil
}
