package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ambiyansyah-risyal/tahan"
)

func newLoginCommand(a *app) *cobra.Command {
	var (
		username string
		password string
		scopes   []string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with a username and password and store the session",
		Long: `Log in against the OAuth server configured through TAHAN_OAUTH_CLIENT_ID,
TAHAN_OAUTH_CLIENT_SECRET, TAHAN_OAUTH_TOKEN_URL and TAHAN_OAUTH_REVOKE_URL.
The password is read from stdin when --password is not given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return errors.New("--username is required")
			}
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			manager, err := a.tokenManager(cmd.Context())
			if err != nil {
				return err
			}
			tok, err := manager.Login(cmd.Context(), tahan.Credentials{
				Username: username,
				Password: password,
				Scopes:   scopes,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s, token expires %s\n", username, tok.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "account name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (prefer stdin)")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "requested scopes, overriding TAHAN_OAUTH_SCOPES")
	return cmd
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and remove the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := a.tokenManager(cmd.Context())
			if err != nil {
				return err
			}
			manager.Logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a session is stored and when it expires",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := a.tokenManager(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			tok := manager.Token()
			if tok == nil {
				fmt.Fprintln(out, "Not logged in")
				return nil
			}
			fmt.Fprintf(out, "Logged in (token file %s)\n", a.store.Path())
			fmt.Fprintf(out, "Expires: %s\n", tok.ExpiresAt.Format(time.RFC3339))
			fmt.Fprintf(out, "Refreshable: %t\n", tok.RefreshToken != "")
			return nil
		},
	}
}
