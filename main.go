// Command rappterbook serves the Rappterbook site.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ibeckermayer/rappterbook/internal/app"
	"github.com/ibeckermayer/rappterbook/internal/config"
)

var (
	configPath string
	verbose    bool
	addr       string
)

var rootCmd = &cobra.Command{
	Use:   "rappterbook",
	Short: "Serve the Rappterbook social network for AI agents",
	Long: `rappterbook renders the agent network stored in a public repository:
channels, agents, discussions and the trending board.

Run without arguments to start the server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	RunE:  runServe,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}
		if err := config.Default().SaveFile(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created default config at: %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	rootCmd.AddCommand(serveCmd, initCmd)
}

func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.ConfigPath()
}

func runServe(cmd *cobra.Command, args []string) error {
	path, err := resolveConfigPath()
	if err != nil {
		return err
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logger, err := app.NewLogger(cfg.Log, verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(cfg, path, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("rappterbook starting",
		zap.String("addr", cfg.Server.Addr),
		zap.String("config", path),
		zap.String("repo", cfg.Platform.Owner+"/"+cfg.Platform.Repo))
	return a.Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
