package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in with Google in the system browser",
		RunE:  runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored tokens and their encryption key",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the signed-in user",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	if resolvedCfg.OAuth.ClientID == "" {
		return fmt.Errorf("oauth.client_id is not configured (see 'ledgerhost config init')")
	}

	s, logger, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := shutdownContext(cmd.Context(), logger)
	defer stop()

	id, res := s.Service.SignIn(ctx, func(authURL string) {
		// The link must always be visible, not suppressed by --quiet.
		fmt.Fprintf(os.Stderr, "Opening your browser to sign in. If it does not open, visit:\n  %s\n", authURL)
	})
	if !res.OK {
		return resultErr(res)
	}

	if flagJSON {
		return printJSON(os.Stdout, id)
	}

	statusf("%s\n", res.Message)

	if s.Config.Federation.Enabled && !id.Federated {
		statusf("Backend sign-in did not complete; see 'ledgerhost history'.\n")
	}

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	s, _, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	return resultErr(s.Service.SignOut(cmd.Context()))
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Subject       string    `json:"subject"`
	Email         string    `json:"email,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	Name          string    `json:"name,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	s, _, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	id, res := s.Service.Identity(cmd.Context())
	if !res.OK {
		return resultErr(res)
	}

	if flagJSON {
		return printJSON(os.Stdout, whoamiOutput{
			Subject:       id.Subject,
			Email:         id.Email,
			EmailVerified: id.EmailVerified,
			Name:          id.Name,
			ExpiresAt:     id.ExpiresAt,
		})
	}

	if id.Name != "" {
		fmt.Printf("Name:    %s\n", id.Name)
	}

	fmt.Printf("Email:   %s\n", id.Email)
	fmt.Printf("Subject: %s\n", id.Subject)

	return nil
}
