// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command privia is a terminal client for the privia document assistant.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/privia/internal/api"
	"github.com/jeranaias/privia/internal/cli"
	"github.com/jeranaias/privia/internal/config"
	"github.com/jeranaias/privia/internal/logging"
	"github.com/jeranaias/privia/internal/session"
)

var (
	// Global flags
	verbose       bool
	configPath    string
	apiURL        string
	transportName string
	timeout       time.Duration
	jsonOutput    bool

	// Signup flags
	fullName string

	// Initialized in PersistentPreRunE
	logger *zap.Logger
	app    *cli.App
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "privia",
	Short: "privia - chat with your organisation's documents",
	Long: `privia is a terminal client for the privia document assistant.

Answers are streamed from the backend and grounded in the documents your
organisation has indexed. Conversations are stored server-side and shared
with the web client.

Run without arguments to start the interactive chat.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runChat,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Starts the interactive chat. Type a question and press Enter; the
answer streams in as it is generated. Type /help for commands.

Ctrl+C stops the current answer, Ctrl+D exits.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

var loginCmd = &cobra.Command{
	Use:   "login [email]",
	Short: "Sign in with email and password",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogin,
}

var signupCmd = &cobra.Command{
	Use:   "signup [email]",
	Short: "Create an account and sign in",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSignup,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.Logout(); err != nil {
			return err
		}
		fmt.Fprintln(app.Out, cli.SuccessStyle.Render("Signed out."))
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		return cli.OutputJSON(app.Out, jsonOutput, "whoami",
			func() (interface{}, error) { return app.Whoami(ctx) },
			func(v interface{}) { app.PrintProfile(v.(*api.UserProfile)) })
	},
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List your conversations",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		return cli.OutputJSON(app.Out, jsonOutput, "conversations",
			func() (interface{}, error) { return app.Conversations(ctx) },
			func(v interface{}) { app.PrintConversations(v.(*cli.ConversationsData)) })
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprint(app.Out, app.Config.String())
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the effective configuration to ~/.privia/config.toml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.ConfigPathTOML()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.SaveTOML(app.Config, path); err != nil {
			return err
		}
		fmt.Fprintf(app.Out, "%s wrote %s\n", cli.SuccessStyle.Render("[OK]"), path)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ~/.privia/config.toml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Backend URL (or set PRIVIA_API_URL)")
	rootCmd.PersistentFlags().StringVarP(&transportName, "transport", "t", "", "Streaming transport: sse or ws (or set PRIVIA_TRANSPORT)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Timeout for one-shot commands")

	whoamiCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	conversationsCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	signupCmd.Flags().StringVar(&fullName, "name", "", "Full name for the new account")

	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(signupCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", cli.ErrorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}

// =============================================================================
// SETUP
// =============================================================================

// setup loads configuration, builds the logger and opens the credentials.
func setup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	logger, err = logging.New(level, cfg.Log.File)
	if err != nil {
		return err
	}

	sess, err := session.Open(session.DefaultPath(), session.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to open credentials: %w", err)
	}

	app = cli.NewApp(cfg, logger, sess)
	return nil
}

// loadConfig applies flags over the file and environment configuration.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg, err = config.Load()
		if cfg == nil {
			return nil, err
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v (using defaults)\n", cli.WarningStyle.Render("Warning:"), err)
		}
	}

	if apiURL != "" {
		cfg.API.BaseURL = strings.TrimRight(apiURL, "/")
	}
	if transportName != "" {
		cfg.Chat.Transport = strings.ToLower(transportName)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// COMMANDS
// =============================================================================

func runChat(cmd *cobra.Command, args []string) error {
	return app.RunChat(cmd.Context())
}

func runLogin(cmd *cobra.Command, args []string) error {
	email, password, err := promptCredentials(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	profile, err := app.Login(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "%s signed in as %s\n", cli.SuccessStyle.Render("[OK]"), profile.DisplayName())
	return nil
}

func runSignup(cmd *cobra.Command, args []string) error {
	email, password, err := promptCredentials(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	profile, err := app.Signup(ctx, api.SignupRequest{Email: email, Password: password, FullName: fullName})
	if errors.Is(err, api.ErrRateLimited) {
		return errors.New("too many sign-up attempts, try again later")
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "%s account created, signed in as %s\n", cli.SuccessStyle.Render("[OK]"), profile.DisplayName())
	return nil
}

func promptCredentials(args []string) (email, password string, err error) {
	if len(args) > 0 {
		email = args[0]
	} else if email, err = app.PromptLine("Email: "); err != nil {
		return "", "", err
	}
	if password, err = app.PromptPassword("Password: "); err != nil {
		return "", "", err
	}
	return email, password, nil
}
