package main

import (
	"fmt"

	"github.com/lalith-99/storefront/internal/apiclient"
	"github.com/lalith-99/storefront/internal/config"
	"github.com/lalith-99/storefront/internal/observ"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chatctl",
		Short: "Command line client for the storefront chat gateway",
		Long: `chatctl logs in to the chat gateway, holds live conversations and
browses conversation history or any JSON row set as a paged table.

Settings come from the environment (or a .env file): API_BASE_URL,
STREAM_BASE_URL, CHAT_TOKEN, CHAT_CONNECT_TIMEOUT, CHAT_RETRY_CEILING,
CHAT_RETRY_DELAY, TABLE_PAGE_SIZES.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().BoolP("verbose", "v", false, "log connection events to stderr")

	root.AddCommand(
		newLoginCmd(),
		newChatCmd(),
		newHistoryCmd(),
		newTableCmd(),
	)
	return root
}

// app is what every command needs: config, logger and the gateway client.
type app struct {
	cfg    *config.ClientConfig
	logger *zap.Logger
	client *apiclient.Client
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.LogLevel
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	logger, err := observ.NewLogger(cfg.Env, level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		client: apiclient.New(*cfg, logger),
	}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}
