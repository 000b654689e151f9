package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ambiyansyah-risyal/tahan"
	"github.com/ambiyansyah-risyal/tahan/oauth"
	"github.com/ambiyansyah-risyal/tahan/tokenstore/filestore"
)

// app holds state shared by every subcommand once PersistentPreRunE ran.
type app struct {
	configPath string
	tokenFile  string
	logLevel   string
	verbose    bool

	cfg    tahan.Config
	logger zerolog.Logger
	store  *filestore.FileStore

	// newAuthenticator is replaced in tests.
	newAuthenticator func() (tahan.Authenticator, error)
}

func newRootCommand() *cobra.Command {
	a := &app{}
	a.newAuthenticator = a.oauthAuthenticator
	return a.rootCommand()
}

func (a *app) rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tahan",
		Short:         "Resilient HTTP requests with retries, caching and token refresh",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&a.tokenFile, "token-file", "", "session token file (default: <user config dir>/tahan/token.json)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "print full error details")

	rootCmd.AddCommand(
		newFetchCommand(a),
		newLoginCommand(a),
		newLogoutCommand(a),
		newStatusCommand(a),
		newVersionCommand(),
	)
	return rootCmd
}

func verboseErrors(rootCmd *cobra.Command) bool {
	v, err := rootCmd.PersistentFlags().GetBool("verbose")
	return err == nil && v
}

func (a *app) setup(cmd *cobra.Command) error {
	var (
		cfg tahan.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = tahan.LoadConfigFile(a.configPath)
	} else {
		cfg, err = tahan.LoadConfig("")
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg
	a.logger = cfg.Logger(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}).
		With().Str("component", "cli").Logger()

	path := a.tokenFile
	if path == "" {
		if path, err = filestore.DefaultPath(); err != nil {
			return err
		}
	}
	a.store = filestore.New(path)
	a.logger.Debug().Str("command", cmd.Name()).Str("token_file", path).Msg("cli started")
	return nil
}

// oauthAuthenticator returns nil when no OAuth server is configured, which
// leaves the session usable until its token expires.
func (a *app) oauthAuthenticator() (tahan.Authenticator, error) {
	cfg, err := oauth.LoadConfig("")
	if err != nil {
		return nil, err
	}
	if cfg.Validate() != nil {
		return nil, nil
	}
	return oauth.New(cfg), nil
}

// tokenManager builds a manager over the token file and restores any saved
// session.
func (a *app) tokenManager(ctx context.Context) (*tahan.TokenManager, error) {
	auth, err := a.newAuthenticator()
	if err != nil {
		return nil, err
	}
	cfg := a.cfg.TokenManagerConfig()
	cfg.Logger = &a.logger

	manager := tahan.NewTokenManager(auth, a.store, cfg)
	if err := manager.Restore(ctx); err != nil {
		return nil, err
	}
	return manager, nil
}

func newVersionCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Version does not need config or a token store.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			info := tahan.GetVersionInfo()
			if !asJSON {
				fmt.Fprintln(cmd.OutOrStdout(), info)
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print build metadata as JSON")
	return cmd
}
